// Package retriever assembles a token-budgeted context window of the
// most relevant indexed chunks for ad-hoc queries over an existing
// corpus. It is separate from the trend-report orchestrator.
package retriever

import (
	"context"

	"coaching-insights-go/internal/config"
	"coaching-insights-go/internal/logger"
	"coaching-insights-go/internal/store"
	"coaching-insights-go/internal/types"
)

// Result is a ranked, budgeted selection of chunks. LowConfidence
// marks degraded retrieval (embedding coverage below the configured
// minimum); it is a signal, not an error.
type Result struct {
	Chunks        []types.Chunk `json:"chunks"`
	Scores        []float32     `json:"scores"`
	TokensUsed    int           `json:"tokens_used"`
	Coverage      float64       `json:"embedding_coverage"`
	LowConfidence bool          `json:"low_confidence"`
}

type Retriever struct {
	store *store.Store
	cfg   config.Config
	log   *logger.Logger
}

func New(s *store.Store, cfg config.Config, log *logger.Logger) *Retriever {
	return &Retriever{store: s, cfg: cfg, log: log}
}

// Retrieve ranks embedded chunks from the candidate transcripts by
// similarity to the query embedding and greedily packs them into the
// token budget, capping any single transcript's share so one long call
// cannot crowd out the rest.
func (r *Retriever) Retrieve(ctx context.Context, queryEmbedding []float32, candidateIDs []string, tokenBudget int) (Result, error) {
	if tokenBudget <= 0 {
		tokenBudget = r.cfg.TokenBudget
	}

	health := r.store.Health(candidateIDs)
	res := Result{}
	if health.TotalChunks > 0 {
		res.Coverage = float64(health.WithEmbeddings) / float64(health.TotalChunks)
	}
	if health.TotalChunks == 0 || res.Coverage < r.cfg.MinEmbedCoverage {
		r.log.WithField("coverage", res.Coverage).Warn("embedding coverage too low; degraded retrieval")
		res.LowConfidence = true
		return res, nil
	}

	ranked, scores, err := r.store.Search(ctx, queryEmbedding, candidateIDs, health.WithEmbeddings)
	if err != nil {
		return Result{}, err
	}

	perTranscriptCap := tokenBudget
	if r.cfg.PerTranscriptShare > 0 && r.cfg.PerTranscriptShare < 1 {
		perTranscriptCap = int(r.cfg.PerTranscriptShare * float64(tokenBudget))
	}

	perTranscript := map[string]int{}
	for i, c := range ranked {
		tok := estimateTokens(c.Text)
		if res.TokensUsed+tok > tokenBudget {
			break
		}
		// Diversify: skip (not stop) when one transcript has had its
		// share, so lower-ranked chunks from other calls still get in.
		if perTranscript[c.TranscriptID]+tok > perTranscriptCap {
			continue
		}
		perTranscript[c.TranscriptID] += tok
		res.TokensUsed += tok
		res.Chunks = append(res.Chunks, c)
		res.Scores = append(res.Scores, scores[i])
	}
	return res, nil
}

// estimateTokens approximates tokens from characters; good enough for
// budget packing.
func estimateTokens(s string) int {
	return len(s)/4 + 1
}
