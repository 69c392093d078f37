// Package analysis executes the chosen tier: direct (full text),
// sampled (stratified subset), or hierarchical (map-reduce over batch
// digests). Partial, clearly-labeled results beat hard failures.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"coaching-insights-go/internal/config"
	"coaching-insights-go/internal/gateway"
	"coaching-insights-go/internal/logger"
	"coaching-insights-go/internal/store"
	"coaching-insights-go/internal/tier"
	"coaching-insights-go/internal/types"
)

// Summarizer is the external LLM call. Retries live inside the client;
// an error here is already final for the attempt.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Request identifies the analysis scope: an explicit transcript set or
// a rep + date range, resolved to the former before tier selection.
type Request struct {
	TranscriptIDs []string
	RepID         string
	From, To      time.Time

	// PreviewTier is what the caller was shown beforehand. A mismatch
	// with the freshly computed tier is not an error; the fresh one
	// executes.
	PreviewTier types.AnalysisTier
}

type Orchestrator struct {
	store      *store.Store
	summarizer Summarizer
	cfg        config.Config
	log        *logger.Logger
}

func NewOrchestrator(s *store.Store, sum Summarizer, cfg config.Config, log *logger.Logger) *Orchestrator {
	return &Orchestrator{store: s, summarizer: sum, cfg: cfg, log: log}
}

// Run resolves the scope, re-validates the tier, and executes it.
func (o *Orchestrator) Run(ctx context.Context, req Request) (types.TrendReport, error) {
	start := time.Now()

	var scope types.AnalysisScope
	if len(req.TranscriptIDs) > 0 {
		scope = o.store.ScopeFromIDs(req.TranscriptIDs)
	} else {
		scope = o.store.ResolveScope(req.RepID, req.From, req.To)
	}
	n := len(scope.TranscriptIDs)
	if n == 0 {
		return types.TrendReport{}, errors.New("analysis scope resolved to zero transcripts")
	}

	actual := tier.Select(n, o.cfg.DirectMax, o.cfg.SamplingMax)
	if req.PreviewTier != "" && req.PreviewTier != actual {
		o.log.WithField("preview_tier", string(req.PreviewTier)).
			WithField("actual_tier", string(actual)).
			Info("tier preview went stale; running fresh tier")
	}

	transcripts := o.store.TranscriptsChronological(scope.TranscriptIDs)
	evidence := BuildEvidence(o.store, transcripts)

	var report types.TrendReport
	var err error
	switch actual {
	case types.TierDirect:
		report, err = o.direct(ctx, transcripts, evidence)
	case types.TierSampled:
		report, err = o.sampled(ctx, transcripts, evidence)
	case types.TierHierarchical:
		report, err = o.hierarchical(ctx, transcripts, evidence)
	}
	if err != nil {
		return types.TrendReport{}, err
	}

	report.Tier = actual
	report.CallCount = n
	report.DurationMs = time.Since(start).Milliseconds()
	return report, nil
}

type reportPayload struct {
	Summary         string   `json:"summary"`
	Strengths       []string `json:"strengths"`
	Improvements    []string `json:"improvements"`
	CoachingActions []string `json:"coaching_actions"`
}

func (o *Orchestrator) direct(ctx context.Context, transcripts []types.Transcript, ev Evidence) (types.TrendReport, error) {
	out, err := o.summarizer.Summarize(ctx, buildTrendPrompt(transcripts, ev))
	if err != nil {
		return types.TrendReport{}, fmt.Errorf("trend summarization: %w", err)
	}
	return reportFromOutput(out), nil
}

func (o *Orchestrator) sampled(ctx context.Context, transcripts []types.Transcript, ev Evidence) (types.TrendReport, error) {
	subset := StratifiedSample(transcripts, o.cfg.SampleSize, o.cfg.SampleSeed)
	o.log.WithField("scope", len(transcripts)).WithField("sampled", len(subset)).Info("running sampled analysis")

	report, err := o.direct(ctx, subset, ev)
	if err != nil {
		return types.TrendReport{}, err
	}
	report.SampledCallCount = len(subset)
	return report, nil
}

func (o *Orchestrator) hierarchical(ctx context.Context, transcripts []types.Transcript, ev Evidence) (types.TrendReport, error) {
	batches := partition(transcripts, o.cfg.AnalysisBatchSize)
	digests := make([]types.BatchDigest, len(batches))

	// Map stage: concurrent, bounded. Per-batch failures become
	// explicit placeholders; only quota or cancellation aborts.
	var quotaHit atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(max(1, o.cfg.Concurrency))
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if quotaHit.Load() {
				return nil
			}
			d, err := o.mapBatch(ctx, i, batch)
			switch {
			case err == nil:
				digests[i] = d
			case errors.Is(err, gateway.ErrQuotaExceeded):
				quotaHit.Store(true)
				return err
			default:
				o.log.WithField("batch", i).WithError(err).Warn("batch analysis unavailable")
				digests[i] = types.BatchDigest{BatchIndex: i, CallCount: len(batch), Unavailable: true}
			}
			return nil
		})
	}
	// Reduce must not start until every batch has resolved.
	if err := g.Wait(); err != nil {
		return types.TrendReport{}, fmt.Errorf("hierarchical map stage: %w", err)
	}

	excluded := 0
	for _, d := range digests {
		if d.Unavailable {
			excluded += d.CallCount
		}
	}
	if excluded == len(transcripts) {
		return types.TrendReport{}, errors.New("every batch failed; nothing to synthesize")
	}

	out, err := o.summarizer.Summarize(ctx, buildSynthesisPrompt(digests, ev))
	if err != nil {
		return types.TrendReport{}, fmt.Errorf("synthesis: %w", err)
	}
	report := reportFromOutput(out)
	report.ExcludedCallCount = excluded
	return report, nil
}

type digestPayload struct {
	KeyFindings   []string           `json:"key_findings"`
	Scores        map[string]float64 `json:"scores"`
	NotableQuotes []string           `json:"notable_quotes"`
}

func (o *Orchestrator) mapBatch(ctx context.Context, index int, batch []types.Transcript) (types.BatchDigest, error) {
	out, err := o.summarizer.Summarize(ctx, buildBatchPrompt(index, batch))
	if err != nil {
		return types.BatchDigest{}, err
	}
	d := types.BatchDigest{BatchIndex: index, CallCount: len(batch)}
	var p digestPayload
	if raw := gateway.ExtractJSON(out); raw != "" && json.Unmarshal([]byte(raw), &p) == nil {
		d.KeyFindings = p.KeyFindings
		d.Scores = p.Scores
		d.NotableQuotes = p.NotableQuotes
	} else {
		// Unstructured output still carries signal; keep it whole.
		d.KeyFindings = []string{out}
	}
	return d, nil
}

// reportFromOutput parses model output, falling back to the raw text
// as the summary when the JSON contract was not honored.
func reportFromOutput(out string) types.TrendReport {
	var p reportPayload
	if raw := gateway.ExtractJSON(out); raw != "" && json.Unmarshal([]byte(raw), &p) == nil && p.Summary != "" {
		return types.TrendReport{
			Summary:         p.Summary,
			Strengths:       p.Strengths,
			Improvements:    p.Improvements,
			CoachingActions: p.CoachingActions,
		}
	}
	return types.TrendReport{Summary: out}
}

func partition(transcripts []types.Transcript, size int) [][]types.Transcript {
	if size <= 0 {
		size = 1
	}
	var out [][]types.Transcript
	for start := 0; start < len(transcripts); start += size {
		out = append(out, transcripts[start:min(start+size, len(transcripts))])
	}
	return out
}
