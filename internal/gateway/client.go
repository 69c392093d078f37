// Package gateway holds the HTTP clients for the three external
// services the core depends on: embedding, entity extraction, and
// summarization. Each call is retried with exponential backoff;
// non-retryable failures are classified so callers can tell a quota
// problem from a flaky network.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"coaching-insights-go/internal/config"
	"coaching-insights-go/internal/logger"
)

type Client struct {
	EmbedURL     string
	ExtractURL   string
	SummarizeURL string
	APIKey       string
	Model        string

	RetryBudget time.Duration

	httpClient *http.Client
	log        *logger.Logger
}

// New builds a client from env, the way the rest of the service is
// configured. Zero values are tolerated until the relevant method is
// actually called.
func New(cfg config.Config, log *logger.Logger) *Client {
	return &Client{
		EmbedURL:     os.Getenv("EMBEDDING_API_URL"),
		ExtractURL:   os.Getenv("NER_API_URL"),
		SummarizeURL: os.Getenv("LLM_GATEWAY_URL"),
		APIKey:       os.Getenv("LLM_API_KEY"),
		Model:        config.EnvOr("LLM_MODEL", "gpt-4o-mini"),
		RetryBudget:  cfg.MaxRetryElapsed,
		httpClient:   &http.Client{Timeout: cfg.PerCallTimeout},
		log:          log,
	}
}

// postJSON issues one POST with retry/backoff. 5xx and transport errors
// retry; 429 retries and surfaces as ErrRateLimited if the budget runs
// out; quota-style responses and other 4xx stop immediately.
func (c *Client) postJSON(ctx context.Context, url string, payload any, target any) error {
	if url == "" {
		return errors.New("service url not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
				lastErr = fmt.Errorf("%w: %v", ErrTimeout, err)
				return lastErr
			}
			lastErr = err
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(string(body)))
			return lastErr
		case resp.StatusCode == http.StatusPaymentRequired || quotaBody(body):
			lastErr = fmt.Errorf("%w: %s", ErrQuotaExceeded, strings.TrimSpace(string(body)))
			return backoff.Permanent(lastErr)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			return lastErr
		case resp.StatusCode >= 400:
			lastErr = fmt.Errorf("client error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			return backoff.Permanent(lastErr)
		}

		if err := json.Unmarshal(body, target); err != nil {
			lastErr = fmt.Errorf("decode response: %w body=%s", err, truncate(string(body), 400))
			return lastErr
		}
		lastErr = nil
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.RetryBudget
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func quotaBody(body []byte) bool {
	l := strings.ToLower(string(body))
	return strings.Contains(l, "insufficient_quota") || strings.Contains(l, "quota exceeded")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
