// Package tier picks the analysis strategy for a dataset size. The
// thresholds trade completeness against cost, latency, and model
// context limits, so they are configuration, not constants.
package tier

import (
	"time"

	"coaching-insights-go/internal/config"
	"coaching-insights-go/internal/store"
	"coaching-insights-go/internal/types"
)

// Select is a pure function of the call count against the two
// configured thresholds.
func Select(callCount, directMax, samplingMax int) types.AnalysisTier {
	switch {
	case callCount <= directMax:
		return types.TierDirect
	case callCount <= samplingMax:
		return types.TierSampled
	default:
		return types.TierHierarchical
	}
}

// Preview is the non-committal answer shown before the user commits to
// running analysis. The count can go stale (new calls arrive); the
// orchestrator re-validates against the actual resolved scope at run
// time, and a mismatch only changes which tier executes.
type Preview struct {
	CallCount int                `json:"call_count"`
	Tier      types.AnalysisTier `json:"tier"`
	Health    types.IndexHealth  `json:"indexing_health"`
}

type Selector struct {
	store *store.Store
	cfg   config.Config
}

func NewSelector(s *store.Store, cfg config.Config) *Selector {
	return &Selector{store: s, cfg: cfg}
}

// PreviewScope resolves a rep + date range to a scope and reports the
// tier that would run right now, plus indexing health over the scope.
func (s *Selector) PreviewScope(repID string, from, to time.Time) Preview {
	scope := s.store.ResolveScope(repID, from, to)
	return s.previewFor(scope)
}

// PreviewIDs does the same for an explicit transcript selection.
func (s *Selector) PreviewIDs(ids []string) Preview {
	return s.previewFor(s.store.ScopeFromIDs(ids))
}

func (s *Selector) previewFor(scope types.AnalysisScope) Preview {
	n := len(scope.TranscriptIDs)
	return Preview{
		CallCount: n,
		Tier:      Select(n, s.cfg.DirectMax, s.cfg.SamplingMax),
		Health:    s.store.Health(scope.TranscriptIDs),
	}
}
