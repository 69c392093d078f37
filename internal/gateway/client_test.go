package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coaching-insights-go/internal/logger"
)

func testClient(url string) *Client {
	return &Client{
		EmbedURL:     url,
		ExtractURL:   url,
		SummarizeURL: url,
		Model:        "test-model",
		RetryBudget:  300 * time.Millisecond,
		httpClient:   &http.Client{Timeout: 2 * time.Second},
		log:          logger.New(),
	}
}

func TestEmbedFlatResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer srv.Close()

	vec, err := testClient(srv.URL).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedOpenAIStyleResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"embedding": [1, 0]}]}`))
	}))
	defer srv.Close()

	vec, err := testClient(srv.URL).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
}

func TestPostJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"embedding": [1]}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.RetryBudget = 2 * time.Second
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vec)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestPostJSONRateLimitKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, IsTransient(err))
}

func TestPostJSONQuotaStopsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": "insufficient_quota"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), calls.Load(), "quota failures are not retried")
}

func TestPostJSONClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSummarizeParsesChoiceContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [{"message": {"content": "the digest"}}]}`))
	}))
	defer srv.Close()

	out, err := testClient(srv.URL).Summarize(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "the digest", out)
}

func TestExtractEntities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"entities": [{"name": "Acme", "kind": "org"}]}`))
	}))
	defer srv.Close()

	ents, err := testClient(srv.URL).Extract(context.Background(), "Acme called")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "Acme", ents[0].Name)
}

func TestMockEmbeddingDeterministic(t *testing.T) {
	a := mockEmbedding("same text")
	b := mockEmbedding("same text")
	c := mockEmbedding("other text")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, mockEmbeddingDim)
}

func TestExtractJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\": 1}\n```":         `{"a": 1}`,
		"prefix text {\"a\": {\"b\": 2}}!": `{"a": {"b": 2}}`,
		"no json here":                     "",
		"":                                 "",
		`{"s": "brace } in string"}`:       `{"s": "brace } in string"}`,
		"```json\n{\"cmd\": \"run `ls` now\"}\n```": "{\"cmd\": \"run `ls` now\"}",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractJSON(in), "input: %q", in)
	}
}
