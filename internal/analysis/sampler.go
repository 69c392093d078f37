package analysis

import (
	"math/rand"
	"sort"

	"coaching-insights-go/internal/types"
)

// StratifiedSample picks a representative subset of transcripts:
// proportional across call types, spread evenly over each type's date
// range, and deterministic for a given input and seed.
func StratifiedSample(transcripts []types.Transcript, size int, seed int64) []types.Transcript {
	if size <= 0 || len(transcripts) <= size {
		out := make([]types.Transcript, len(transcripts))
		copy(out, transcripts)
		sortChronological(out)
		return out
	}

	groups := map[string][]types.Transcript{}
	for _, t := range transcripts {
		key := t.CallType
		if key == "" {
			key = "unknown"
		}
		groups[key] = append(groups[key], t)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	alloc := allocate(groups, keys, len(transcripts), size)

	rng := rand.New(rand.NewSource(seed))
	var out []types.Transcript
	for _, k := range keys {
		g := groups[k]
		n := alloc[k]
		if n == 0 {
			continue
		}
		sortChronological(g)
		if n >= len(g) {
			out = append(out, g...)
			continue
		}
		// Evenly spaced picks cover the group's full date range; the
		// seeded offset is the only randomness, so repeated runs agree.
		step := float64(len(g)) / float64(n)
		offset := rng.Float64() * step
		for i := 0; i < n; i++ {
			idx := int(offset + float64(i)*step)
			if idx >= len(g) {
				idx = len(g) - 1
			}
			out = append(out, g[idx])
		}
	}
	sortChronological(out)
	return out
}

// allocate distributes the sample size proportionally over call-type
// groups using largest remainders.
func allocate(groups map[string][]types.Transcript, keys []string, total, size int) map[string]int {
	type remainder struct {
		key  string
		frac float64
	}
	alloc := map[string]int{}
	var rems []remainder
	assigned := 0
	for _, k := range keys {
		exact := float64(size) * float64(len(groups[k])) / float64(total)
		base := int(exact)
		alloc[k] = base
		assigned += base
		rems = append(rems, remainder{key: k, frac: exact - float64(base)})
	}
	sort.Slice(rems, func(i, j int) bool {
		if rems[i].frac != rems[j].frac {
			return rems[i].frac > rems[j].frac
		}
		return rems[i].key < rems[j].key
	})
	for _, r := range rems {
		if assigned >= size {
			break
		}
		if alloc[r.key] < len(groups[r.key]) {
			alloc[r.key]++
			assigned++
		}
	}
	return alloc
}

func sortChronological(ts []types.Transcript) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CallDate.Equal(ts[j].CallDate) {
			return ts[i].CallDate.Before(ts[j].CallDate)
		}
		return ts[i].ID < ts[j].ID
	})
}
