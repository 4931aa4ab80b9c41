package monitor

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLookup(t *testing.T) {
	s := NewTierStats()
	assert.Equal(t, 0.0, s.HotHitRatio())

	s.RecordLookup(0)
	s.RecordLookup(0)
	s.RecordLookup(1)
	s.RecordLookup(-1)

	snap := s.Snapshot()
	assert.Equal(t, uint64(4), snap["reads"])
	assert.Equal(t, uint64(2), snap["hot_hits"])
	assert.Equal(t, uint64(1), snap["cold_hits"])
	assert.Equal(t, uint64(1), snap["misses"])
	assert.InDelta(t, 0.5, s.HotHitRatio(), 1e-9)
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	s := NewTierStats()
	s.Promotions.Add(3)
	m := NewMetrics(s, Gauges{
		HotKeys:  func() float64 { return 7 },
		ColdKeys: func() float64 { return 11 },
	})

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tierkv_promotions_total"])
	assert.True(t, names["tierkv_hot_keys"])
	assert.False(t, names["tierkv_live_handles"], "unset gauges are not registered")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tierkv_promotions_total 3")
	assert.Contains(t, rec.Body.String(), "tierkv_cold_keys 11")
}
