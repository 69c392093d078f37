package tier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coaching-insights-go/internal/config"
	"coaching-insights-go/internal/logger"
	"coaching-insights-go/internal/store"
	"coaching-insights-go/internal/types"
)

func TestSelectThresholdExact(t *testing.T) {
	const directMax, samplingMax = 20, 100

	assert.Equal(t, types.TierDirect, Select(0, directMax, samplingMax))
	assert.Equal(t, types.TierDirect, Select(1, directMax, samplingMax))
	assert.Equal(t, types.TierDirect, Select(directMax, directMax, samplingMax))
	assert.Equal(t, types.TierSampled, Select(directMax+1, directMax, samplingMax))
	assert.Equal(t, types.TierSampled, Select(samplingMax, directMax, samplingMax))
	assert.Equal(t, types.TierHierarchical, Select(samplingMax+1, directMax, samplingMax))
	assert.Equal(t, types.TierHierarchical, Select(5000, directMax, samplingMax))
}

func TestSelectMonotonic(t *testing.T) {
	rank := map[types.AnalysisTier]int{
		types.TierDirect:       0,
		types.TierSampled:      1,
		types.TierHierarchical: 2,
	}
	prev := types.TierDirect
	for n := 0; n <= 150; n++ {
		cur := Select(n, 20, 100)
		assert.GreaterOrEqual(t, rank[cur], rank[prev], "tier must never step down as count grows (n=%d)", n)
		prev = cur
	}
}

func TestPreviewScope(t *testing.T) {
	s, err := store.New(logger.New())
	require.NoError(t, err)
	day := func(d int) time.Time { return time.Date(2026, 4, d, 0, 0, 0, 0, time.UTC) }
	for i := 0; i < 25; i++ {
		_, err := s.PutTranscript(types.Transcript{
			RepID: "rep-1", CallDate: day(1 + i%28), Text: "Agent: hi.",
		})
		require.NoError(t, err)
	}

	sel := NewSelector(s, config.Config{DirectMax: 20, SamplingMax: 100})
	p := sel.PreviewScope("rep-1", time.Time{}, time.Time{})
	assert.Equal(t, 25, p.CallCount)
	assert.Equal(t, types.TierSampled, p.Tier)

	p = sel.PreviewScope("rep-2", time.Time{}, time.Time{})
	assert.Equal(t, 0, p.CallCount)
	assert.Equal(t, types.TierDirect, p.Tier)
}
