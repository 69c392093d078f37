package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
)

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const mockSummaryJSON = `{
  "call_count": 0,
  "key_findings": ["Reps rush discovery", "Pricing objections dominate"],
  "scores": {"discovery": 0.55, "objection_handling": 0.4},
  "notable_quotes": ["Can we circle back on price?"],
  "summary": "Across the reviewed calls, discovery is consistently cut short and pricing objections are deflected rather than explored.",
  "strengths": ["Friendly rapport building"],
  "improvements": ["Slow down discovery", "Address pricing head-on"],
  "coaching_actions": ["Run a discovery role-play session"]
}`

// Summarize sends one prompt to the LLM gateway and returns the raw
// model output. Set USE_MOCK_SUMMARIZER=true for a deterministic
// offline digest.
func (c *Client) Summarize(ctx context.Context, prompt string) (string, error) {
	if os.Getenv("USE_MOCK_SUMMARIZER") == "true" {
		return mockSummaryJSON, nil
	}

	payload := map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	var resp chatResponse
	if err := c.postJSON(ctx, c.SummarizeURL, payload, &resp); err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("summarize: no content in response")
	}
	return resp.Choices[0].Message.Content, nil
}
