package gateway

import (
	"context"
	"fmt"
	"os"

	"coaching-insights-go/internal/types"
)

type extractResponse struct {
	Entities []types.Entity `json:"entities"`
}

// Extract runs entity extraction on the text. Set USE_MOCK_NER=true for
// a deterministic offline result.
func (c *Client) Extract(ctx context.Context, text string) ([]types.Entity, error) {
	if os.Getenv("USE_MOCK_NER") == "true" {
		return []types.Entity{
			{Name: "Acme Corp", Kind: "org"},
			{Name: "annual contract", Kind: "product"},
			{Name: "Q3 renewal", Kind: "event"},
		}, nil
	}

	payload := map[string]any{
		"model": c.Model,
		"text":  text,
	}
	var resp extractResponse
	if err := c.postJSON(ctx, c.ExtractURL, payload, &resp); err != nil {
		return nil, fmt.Errorf("extract entities: %w", err)
	}
	return resp.Entities, nil
}
