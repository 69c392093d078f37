package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"coaching-insights-go/internal/types"
)

// VectorIndex mirrors embedded chunks into a chromem-go collection so
// retrieval can rank them by cosine similarity. Embeddings are always
// supplied externally; chromem never computes them itself.
type VectorIndex struct {
	collection *chromem.Collection
}

// Match is one similarity hit from the index.
type Match struct {
	ChunkID      string
	TranscriptID string
	Similarity   float32
}

func newVectorIndex() (*VectorIndex, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection("chunks", nil, noLocalEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("create vector collection: %w", err)
	}
	return &VectorIndex{collection: col}, nil
}

func noLocalEmbeddings(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embeddings are computed by the external embedding service")
}

// Upsert adds or replaces the chunk's vector entry.
func (v *VectorIndex) Upsert(ctx context.Context, chunk types.Chunk) error {
	if !chunk.HasEmbedding() {
		return errors.New("chunk has no embedding")
	}
	return v.collection.AddDocument(ctx, chromem.Document{
		ID:      chunk.ID,
		Content: chunk.Text,
		Metadata: map[string]string{
			"transcript_id": chunk.TranscriptID,
			"chunk_index":   strconv.Itoa(chunk.ChunkIndex),
		},
		Embedding: chunk.Embedding,
	})
}

// Remove drops vector entries for the given chunk ids. Unknown ids are
// ignored so wholesale re-chunking can clear blindly.
func (v *VectorIndex) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 || v.collection.Count() == 0 {
		return nil
	}
	return v.collection.Delete(ctx, nil, nil, ids...)
}

// Query returns up to k matches ranked by similarity to the query
// embedding. k is capped at the number of indexed chunks.
func (v *VectorIndex) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	count := v.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	results, err := v.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query vector index: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			ChunkID:      r.ID,
			TranscriptID: r.Metadata["transcript_id"],
			Similarity:   r.Similarity,
		})
	}
	return matches, nil
}

// Size reports how many chunks are currently indexed.
func (v *VectorIndex) Size() int { return v.collection.Count() }
