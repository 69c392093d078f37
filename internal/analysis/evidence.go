package analysis

import (
	"fmt"
	"sort"

	"coaching-insights-go/internal/store"
	"coaching-insights-go/internal/types"
)

// Evidence is the dataset grounding injected into analysis prompts so
// the model works from real aggregates instead of inventing them.
type Evidence struct {
	CallCount          int            `json:"call_count"`
	DateRange          string         `json:"date_range"`
	CallTypeCounts     map[string]int `json:"call_type_counts"`
	TopEntities        []string       `json:"top_entities"`
	ExtractionCoverage float64        `json:"extraction_coverage"`
}

// BuildEvidence aggregates call metadata and extracted entities over
// the in-scope transcripts.
func BuildEvidence(s *store.Store, transcripts []types.Transcript) Evidence {
	ev := Evidence{
		CallCount:      len(transcripts),
		CallTypeCounts: map[string]int{},
	}
	if len(transcripts) == 0 {
		return ev
	}

	first, last := transcripts[0].CallDate, transcripts[0].CallDate
	entityCounts := map[string]int{}
	totalChunks, completedChunks := 0, 0
	for _, t := range transcripts {
		if t.CallDate.Before(first) {
			first = t.CallDate
		}
		if t.CallDate.After(last) {
			last = t.CallDate
		}
		key := t.CallType
		if key == "" {
			key = "unknown"
		}
		ev.CallTypeCounts[key]++

		for _, c := range s.Chunks(t.ID) {
			totalChunks++
			if c.ExtractionStatus == types.ExtractionCompleted {
				completedChunks++
			}
			for _, e := range c.Entities {
				entityCounts[fmt.Sprintf("%s (%s)", e.Name, e.Kind)]++
			}
		}
	}
	ev.DateRange = fmt.Sprintf("%s to %s", first.Format("2006-01-02"), last.Format("2006-01-02"))
	if totalChunks > 0 {
		ev.ExtractionCoverage = float64(completedChunks) / float64(totalChunks)
	}
	ev.TopEntities = topEntities(entityCounts, 10)
	return ev
}

func topEntities(counts map[string]int, n int) []string {
	type ec struct {
		label string
		count int
	}
	arr := make([]ec, 0, len(counts))
	for k, v := range counts {
		arr = append(arr, ec{k, v})
	}
	sort.Slice(arr, func(i, j int) bool {
		if arr[i].count != arr[j].count {
			return arr[i].count > arr[j].count
		}
		return arr[i].label < arr[j].label
	})
	out := []string{}
	for i := 0; i < len(arr) && i < n; i++ {
		out = append(out, fmt.Sprintf("%s x%d", arr[i].label, arr[i].count))
	}
	return out
}
