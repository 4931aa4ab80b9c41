package monitor

import (
	"sync/atomic"
)

// TierStats counts orchestrator traffic by outcome.
type TierStats struct {
	Reads          atomic.Uint64
	HotHits        atomic.Uint64
	ColdHits       atomic.Uint64
	Misses         atomic.Uint64
	Creates        atomic.Uint64
	Promotions     atomic.Uint64
	PromotionRaces atomic.Uint64
	Evictions      atomic.Uint64
	Removes        atomic.Uint64
}

func NewTierStats() *TierStats {
	return &TierStats{}
}

// RecordLookup classifies one read by the tier that served it (0 hot, 1 cold,
// anything else a miss).
func (s *TierStats) RecordLookup(tier int) {
	s.Reads.Add(1)
	switch tier {
	case 0:
		s.HotHits.Add(1)
	case 1:
		s.ColdHits.Add(1)
	default:
		s.Misses.Add(1)
	}
}

// HotHitRatio is hot hits over all reads.
func (s *TierStats) HotHitRatio() float64 {
	reads := s.Reads.Load()
	if reads == 0 {
		return 0.0
	}
	return float64(s.HotHits.Load()) / float64(reads)
}

// Snapshot returns the counters as a flat map for JSON stats endpoints.
func (s *TierStats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"reads":           s.Reads.Load(),
		"hot_hits":        s.HotHits.Load(),
		"cold_hits":       s.ColdHits.Load(),
		"misses":          s.Misses.Load(),
		"creates":         s.Creates.Load(),
		"promotions":      s.Promotions.Load(),
		"promotion_races": s.PromotionRaces.Load(),
		"evictions":       s.Evictions.Load(),
		"removes":         s.Removes.Load(),
	}
}
