package dataset

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"coaching-insights-go/internal/types"
)

var dateLayouts = []string{
	"2006-01-02",
	"01-02-06",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Load reads transcripts from the first sheet of an xlsx export,
// auto-detecting columns by header heuristics.
func Load(path string) ([]types.Transcript, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	header := rows[0]
	idIdx := -1
	repIdx := -1
	dateIdx := -1
	typeIdx := -1
	textIdx := -1
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "transcript") && !strings.Contains(l, "id") || strings.Contains(l, "text"):
			if textIdx == -1 {
				textIdx = i
			}
		case strings.Contains(l, "rep") || strings.Contains(l, "agent"):
			if repIdx == -1 {
				repIdx = i
			}
		case strings.Contains(l, "date") || strings.Contains(l, "time"):
			if dateIdx == -1 {
				dateIdx = i
			}
		case strings.Contains(l, "type"):
			if typeIdx == -1 {
				typeIdx = i
			}
		case strings.Contains(l, "id"):
			if idIdx == -1 {
				idIdx = i
			}
		}
	}
	if textIdx == -1 {
		// transcript text is usually the last column in these exports
		textIdx = len(header) - 1
	}

	cell := func(r []string, idx int) string {
		if idx >= 0 && idx < len(r) {
			return strings.TrimSpace(r[idx])
		}
		return ""
	}

	var out []types.Transcript
	for i, r := range rows {
		if i == 0 {
			continue
		}
		tr := types.Transcript{
			ID:       cell(r, idIdx),
			RepID:    cell(r, repIdx),
			CallType: cell(r, typeIdx),
			Text:     cell(r, textIdx),
		}
		if tr.Text == "" {
			// skip empty rows quietly
			continue
		}
		if raw := cell(r, dateIdx); raw != "" {
			tr.CallDate = parseDate(raw)
		}
		out = append(out, tr)
	}
	return out, nil
}

func parseDate(raw string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
