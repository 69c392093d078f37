package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coaching-insights-go/internal/config"
	"coaching-insights-go/internal/gateway"
	"coaching-insights-go/internal/logger"
	"coaching-insights-go/internal/store"
	"coaching-insights-go/internal/types"
)

type fakeEmbedder struct {
	calls   atomic.Int32
	failOn  string
	onEmbed func(text string)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.onEmbed != nil {
		f.onEmbed(text)
	}
	if f.failOn != "" && text == f.failOn {
		return nil, errors.New("embed failed")
	}
	return []float32{1, 0.5, 0.25}, nil
}

type fakeExtractor struct {
	calls  atomic.Int32
	errFor map[string]error
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) ([]types.Entity, error) {
	f.calls.Add(1)
	if err, ok := f.errFor[text]; ok {
		return nil, err
	}
	return []types.Entity{{Name: "Acme", Kind: "org"}}, nil
}

func testConfig() config.Config {
	return config.Config{
		IndexBatchSize: 2,
		Concurrency:    2,
		StallTimeout:   time.Minute,
	}
}

func setup(t *testing.T, texts []string) (*store.Store, []types.Chunk) {
	t.Helper()
	s, err := store.New(logger.New())
	require.NoError(t, err)
	_, err = s.PutTranscript(types.Transcript{ID: "t1", RepID: "rep-1", Text: "Agent: hello."})
	require.NoError(t, err)
	chunks, err := s.ReplaceChunks(context.Background(), "t1", texts)
	require.NoError(t, err)
	return s, chunks
}

func TestEmbeddingBackfill(t *testing.T) {
	s, _ := setup(t, []string{"one", "two", "three", "four", "five"})
	emb := &fakeEmbedder{}
	ix := New(s, emb, &fakeExtractor{}, testConfig(), logger.New())

	job, err := ix.Backfill(context.Background(), types.JobEmbedding, Selector{TranscriptIDs: []string{"t1"}})
	require.NoError(t, err)
	assert.Equal(t, 5, job.Total)
	assert.Equal(t, 5, job.Completed)
	assert.Equal(t, 0, job.Failed)
	assert.Equal(t, job.Total, job.Completed+job.Failed)
	assert.True(t, job.Done())

	h := s.Health([]string{"t1"})
	assert.Equal(t, 5, h.WithEmbeddings)
}

func TestBackfillCountsUnitFailures(t *testing.T) {
	s, _ := setup(t, []string{"one", "two", "three"})
	emb := &fakeEmbedder{failOn: "two"}
	ix := New(s, emb, &fakeExtractor{}, testConfig(), logger.New())

	job, err := ix.Backfill(context.Background(), types.JobEmbedding, Selector{TranscriptIDs: []string{"t1"}})
	require.NoError(t, err, "unit failures never abort the job")
	assert.Equal(t, 2, job.Completed)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, job.Total, job.Completed+job.Failed)
}

func TestExtractionBackfillAndRetry(t *testing.T) {
	s, _ := setup(t, []string{"one", "two", "three"})
	ext := &fakeExtractor{errFor: map[string]error{"two": errors.New("ner down")}}
	ix := New(s, &fakeEmbedder{}, ext, testConfig(), logger.New())

	job, err := ix.Backfill(context.Background(), types.JobEntityExtraction, Selector{TranscriptIDs: []string{"t1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, job.Completed)
	assert.Equal(t, 1, job.Failed)

	h := s.Health([]string{"t1"})
	assert.Equal(t, 2, h.ExtractionCompleted)
	assert.Equal(t, 1, h.ExtractionFailed)

	// Retry run resets Failed -> Pending and touches only that chunk.
	ext.errFor = nil
	before := ext.calls.Load()
	job, err = ix.Backfill(context.Background(), types.JobEntityExtraction, Selector{TranscriptIDs: []string{"t1"}, RetryFailed: true})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Total, "completed chunks are skipped on restart")
	assert.Equal(t, 1, job.Completed)
	assert.Equal(t, int32(1), ext.calls.Load()-before)

	h = s.Health([]string{"t1"})
	assert.Equal(t, 3, h.ExtractionCompleted)
}

func TestBackfillCancellationAndResume(t *testing.T) {
	s, _ := setup(t, []string{"one", "two", "three", "four", "five"})
	cfg := testConfig()
	cfg.IndexBatchSize = 1
	cfg.Concurrency = 1

	var jobID atomic.Value
	emb := &fakeEmbedder{}
	emb.onEmbed = func(string) {
		// Slow units down and request cancel mid-run; the loop honors
		// the flag between batches, never mid-batch.
		time.Sleep(25 * time.Millisecond)
		if id, ok := jobID.Load().(string); ok {
			s.RequestCancel(id)
		}
	}
	ix := New(s, emb, &fakeExtractor{}, cfg, logger.New())

	started := ix.StartBackfill(context.Background(), types.JobEmbedding, Selector{TranscriptIDs: []string{"t1"}})
	jobID.Store(started.ID)

	require.Eventually(t, func() bool {
		snap, _, ok := ix.Progress(started.ID)
		return ok && snap.CancelRequested && snap.Completed >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// Give the worker loop a moment to observe the flag and stop.
	time.Sleep(50 * time.Millisecond)
	snap, _, _ := ix.Progress(started.ID)
	assert.Less(t, snap.Completed, 5, "cancelled before finishing everything")

	// Restart: only the chunks still missing embeddings are picked up.
	emb.onEmbed = nil
	resumed, err := ix.Backfill(context.Background(), types.JobEmbedding, Selector{TranscriptIDs: []string{"t1"}})
	require.NoError(t, err)
	assert.Equal(t, 5-snap.Completed, resumed.Total)
	assert.Equal(t, resumed.Total, resumed.Completed)

	h := s.Health([]string{"t1"})
	assert.Equal(t, 5, h.WithEmbeddings)
}

func TestQuotaAbortsEarlyAndCleanly(t *testing.T) {
	s, chunks := setup(t, []string{"one", "two", "three", "four"})
	cfg := testConfig()
	cfg.IndexBatchSize = 4
	cfg.Concurrency = 1

	ext := &fakeExtractor{errFor: map[string]error{
		"two": fmt.Errorf("extract: %w", gateway.ErrQuotaExceeded),
	}}
	ix := New(s, &fakeEmbedder{}, ext, cfg, logger.New())

	job, err := ix.Backfill(context.Background(), types.JobEntityExtraction, Selector{TranscriptIDs: []string{"t1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrQuotaExceeded)
	assert.Equal(t, 1, job.Completed)
	assert.Equal(t, 0, job.Failed, "quota is not a unit failure")

	// The unit that hit the quota wall is released back to Pending.
	c, ok := s.GetChunk(chunks[1].ID)
	require.True(t, ok)
	assert.Equal(t, types.ExtractionPending, c.ExtractionStatus)
}

func TestBlankChunkTextNeverCollectedForEmbedding(t *testing.T) {
	s, _ := setup(t, []string{"   ", "ok"})
	emb := &fakeEmbedder{}
	ix := New(s, emb, &fakeExtractor{}, testConfig(), logger.New())

	job, err := ix.Backfill(context.Background(), types.JobEmbedding, Selector{TranscriptIDs: []string{"t1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, job.Total, "blank text cannot be embedded")
	assert.Equal(t, 1, job.Completed)
	assert.Equal(t, int32(1), emb.calls.Load(), "no service call for blank text")

	// A restarted backfill must not re-collect the blank unit.
	job, err = ix.Backfill(context.Background(), types.JobEmbedding, Selector{TranscriptIDs: []string{"t1"}})
	require.NoError(t, err)
	assert.Zero(t, job.Total)
	assert.Equal(t, int32(1), emb.calls.Load())
}

func TestBlankChunkTextFailsExtractionWithoutServiceCall(t *testing.T) {
	s, chunks := setup(t, []string{"   ", "ok"})
	ext := &fakeExtractor{}
	ix := New(s, &fakeEmbedder{}, ext, testConfig(), logger.New())

	job, err := ix.Backfill(context.Background(), types.JobEntityExtraction, Selector{TranscriptIDs: []string{"t1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, job.Total)
	assert.Equal(t, 1, job.Completed)
	assert.Equal(t, 1, job.Failed)
	assert.Equal(t, int32(1), ext.calls.Load(), "no service call for blank text")

	c, ok := s.GetChunk(chunks[0].ID)
	require.True(t, ok)
	assert.Equal(t, types.ExtractionFailed, c.ExtractionStatus)

	// Failed is sticky: a plain restart skips it, only RetryFailed
	// would reset it.
	job, err = ix.Backfill(context.Background(), types.JobEntityExtraction, Selector{TranscriptIDs: []string{"t1"}})
	require.NoError(t, err)
	assert.Zero(t, job.Total)
}

func TestConcurrentQuotaFailuresOfMixedErrorTypes(t *testing.T) {
	s, _ := setup(t, []string{"one", "two"})
	cfg := testConfig()
	cfg.IndexBatchSize = 2
	cfg.Concurrency = 2

	// The two units fail with differently-constructed quota errors; both
	// workers may record theirs at the same time.
	ext := &fakeExtractor{errFor: map[string]error{
		"one": fmt.Errorf("extract: %w", gateway.ErrQuotaExceeded),
		"two": errors.Join(gateway.ErrQuotaExceeded, errors.New("billing hard stop")),
	}}
	ix := New(s, &fakeEmbedder{}, ext, cfg, logger.New())

	job, err := ix.Backfill(context.Background(), types.JobEntityExtraction, Selector{TranscriptIDs: []string{"t1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrQuotaExceeded)
	assert.Zero(t, job.Failed, "quota is not a unit failure")
}

func TestProgressNotStalledWhenDone(t *testing.T) {
	s, _ := setup(t, []string{"one"})
	cfg := testConfig()
	cfg.StallTimeout = time.Nanosecond
	ix := New(s, &fakeEmbedder{}, &fakeExtractor{}, cfg, logger.New())

	job, err := ix.Backfill(context.Background(), types.JobEmbedding, Selector{TranscriptIDs: []string{"t1"}})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	snap, stalled, ok := ix.Progress(job.ID)
	require.True(t, ok)
	assert.True(t, snap.Done())
	assert.False(t, stalled, "a finished job never reads as stalled")
	assert.Empty(t, ix.StalledJobs())
}
