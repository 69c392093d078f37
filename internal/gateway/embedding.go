package gateway

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
)

const mockEmbeddingDim = 16

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Data      []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns a fixed-length vector for the text. Set
// USE_MOCK_EMBEDDINGS=true for a deterministic offline vector.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if os.Getenv("USE_MOCK_EMBEDDINGS") == "true" {
		return mockEmbedding(text), nil
	}

	payload := map[string]any{
		"model": c.Model,
		"input": text,
	}
	var resp embedResponse
	if err := c.postJSON(ctx, c.EmbedURL, payload, &resp); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	// Flat and OpenAI-style response shapes both occur in the wild.
	switch {
	case len(resp.Embedding) > 0:
		return resp.Embedding, nil
	case len(resp.Data) > 0 && len(resp.Data[0].Embedding) > 0:
		return resp.Data[0].Embedding, nil
	}
	return nil, errors.New("embed: empty embedding in response")
}

// mockEmbedding hashes the text into a stable pseudo-vector so offline
// runs still get consistent similarity behavior for identical inputs.
func mockEmbedding(text string) []float32 {
	out := make([]float32, mockEmbeddingDim)
	h := fnv.New32a()
	for i := range out {
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		out[i] = float32(h.Sum32()%1000)/1000.0 + 0.001
	}
	return out
}
