package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmptyInput(t *testing.T) {
	c := New(2000, 200)
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   "))
	assert.Empty(t, c.Chunk("\n\t  \n"))
}

func TestChunkShortTranscriptSingleChunk(t *testing.T) {
	c := New(2000, 200)
	text := "Agent: Hello, thanks for taking the call. Customer: Sure, what is this about?"
	chunks := c.Chunk(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunkForcedSliceRunOn(t *testing.T) {
	// 5000 chars with no speaker, paragraph, or sentence boundaries.
	text := strings.Repeat("abcdefghij", 500)
	c := New(2000, 200)

	chunks := c.Chunk(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, text[0:2000], chunks[0])
	assert.Equal(t, text[1800:3800], chunks[1])
	assert.Equal(t, text[3600:5000], chunks[2])
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 2000)
	}
}

func TestChunkOverlapProperty(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "Agent: This is utterance number %d with some filler about pricing tiers and onboarding steps that runs on for a while.\n", i)
		fmt.Fprintf(&b, "Customer: Reply number %d, asking about contract terms, renewal dates and the discount schedule.\n", i)
	}
	c := New(2000, 200)

	chunks := c.Chunk(b.String())
	require.Greater(t, len(chunks), 2)

	for i := 0; i+1 < len(chunks); i++ {
		if len(chunks[i]) <= 200 {
			continue
		}
		suffix := chunks[i][len(chunks[i])-200:]
		require.GreaterOrEqual(t, len(chunks[i+1]), 200)
		assert.Equal(t, suffix, chunks[i+1][:200],
			"chunk %d should start with the trailing overlap of chunk %d", i+1, i)
	}
}

func TestChunkPreservesSpeakerLabels(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Maria Lopez: Point number %d about the demo environment and the rollout plan we discussed last week.\n", i)
	}
	c := New(800, 80)

	chunks := c.Chunk(b.String())
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 800)
		assert.Contains(t, ch, "Maria Lopez:")
	}
}

func TestChunkParagraphAndSentenceFallback(t *testing.T) {
	// One speaker turn far above the working limit, split by paragraphs
	// and then sentences.
	para := strings.Repeat("The rep explained the pricing model in detail. ", 20)
	text := "Agent: " + para + "\n\n" + para + "\n\n" + para

	c := New(1000, 100)
	chunks := c.Chunk(text)
	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch), 1000)
	}
	assert.True(t, strings.HasPrefix(chunks[0], "Agent:"))
}

func TestChunkNoSeedWhenFirstChunkShorterThanOverlap(t *testing.T) {
	// First section flushes at a length below the overlap; the next
	// chunk must start fresh rather than duplicate the whole thing.
	c := New(100, 60)
	sections := []string{"short", strings.Repeat("x", 96)}
	chunks := c.merge(sections)
	require.Len(t, chunks, 2)
	assert.Equal(t, "short", chunks[0])
	assert.Equal(t, strings.Repeat("x", 96), chunks[1])
}

func TestChunkDefaultsApplied(t *testing.T) {
	c := New(0, 0)
	assert.Equal(t, DefaultChunkSize, c.chunkSize)
	assert.Equal(t, DefaultChunkOverlap, c.overlap)

	c = New(100, 500)
	assert.Less(t, c.overlap, c.chunkSize)
}
