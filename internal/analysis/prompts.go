package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"coaching-insights-go/internal/types"
)

const trendSchema = `{
  "summary": "",
  "strengths": [],
  "improvements": [],
  "coaching_actions": []
}`

const digestSchema = `{
  "key_findings": [],
  "scores": {"discovery": 0.0, "objection_handling": 0.0, "closing": 0.0},
  "notable_quotes": []
}`

// buildTrendPrompt covers the direct and sampled tiers: full transcript
// text plus dataset evidence, one call.
func buildTrendPrompt(transcripts []types.Transcript, ev Evidence) string {
	evJSON, _ := json.MarshalIndent(ev, "", "  ")

	var b strings.Builder
	b.WriteString(`You are an expert sales-coaching analyst. Analyze the sales-call transcripts below and produce a coaching-trend report for the rep.

Ground every claim in the transcripts and the dataset evidence. Do NOT invent numbers or facts. If information is missing, leave fields empty.

Return ONLY valid JSON matching this schema exactly (no commentary, no markdown fences):
`)
	b.WriteString(trendSchema)
	b.WriteString("\n\nDATASET EVIDENCE:\n")
	b.Write(evJSON)
	b.WriteString("\n\nTRANSCRIPTS (chronological):\n")
	for i, t := range transcripts {
		fmt.Fprintf(&b, "\n--- Call %d | %s | type: %s ---\n%s\n",
			i+1, t.CallDate.Format("2006-01-02"), orUnknown(t.CallType), t.Text)
	}
	return b.String()
}

// buildBatchPrompt is the hierarchical map stage: one digest per batch.
func buildBatchPrompt(batchIndex int, transcripts []types.Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are an expert sales-coaching analyst. This is batch %d of a larger analysis. Summarize ONLY the calls below into a compact digest.

Return ONLY valid JSON matching this schema exactly:
`, batchIndex+1)
	b.WriteString(digestSchema)
	b.WriteString("\n\nCALLS (chronological):\n")
	for i, t := range transcripts {
		fmt.Fprintf(&b, "\n--- Call %d | %s | type: %s ---\n%s\n",
			i+1, t.CallDate.Format("2006-01-02"), orUnknown(t.CallType), t.Text)
	}
	return b.String()
}

// buildSynthesisPrompt is the hierarchical reduce stage: one report
// over every batch digest, presented in chronological batch order.
func buildSynthesisPrompt(digests []types.BatchDigest, ev Evidence) string {
	evJSON, _ := json.MarshalIndent(ev, "", "  ")

	var b strings.Builder
	b.WriteString(`You are an expert sales-coaching analyst. Below are per-batch digests of a large set of sales calls, in chronological order. Synthesize them into one coaching-trend report.

Some batches may be marked unavailable; acknowledge the gap in the summary (state how many calls could not be analyzed) but do not speculate about their content.

Return ONLY valid JSON matching this schema exactly:
`)
	b.WriteString(trendSchema)
	b.WriteString("\n\nDATASET EVIDENCE:\n")
	b.Write(evJSON)
	b.WriteString("\n\nBATCH DIGESTS:\n")
	for _, d := range digests {
		if d.Unavailable {
			fmt.Fprintf(&b, "\n--- Batch %d: ANALYSIS UNAVAILABLE for %d calls ---\n", d.BatchIndex+1, d.CallCount)
			continue
		}
		dJSON, _ := json.MarshalIndent(d, "", "  ")
		fmt.Fprintf(&b, "\n--- Batch %d (%d calls) ---\n%s\n", d.BatchIndex+1, d.CallCount, dJSON)
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
