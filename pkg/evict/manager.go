package evict

import (
	"context"
	"sync/atomic"
	"time"

	"tierkv/pkg/common"
	"tierkv/pkg/config"
	"tierkv/pkg/core"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Manager keeps the hot tier at or below its capacity by demoting batches of
// keys chosen by a Policy.
type Manager struct {
	store   core.MultiTier
	cfg     config.EvictionConfig
	policy  Policy
	limiter *rate.Limiter // nil if unthrottled
	logger  *zap.Logger

	runs    atomic.Uint64
	evicted atomic.Uint64
}

func NewManager(store core.MultiTier, cfg config.EvictionConfig, logger *zap.Logger) (*Manager, error) {
	policy, err := NewPolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	m := &Manager{
		store:  store,
		cfg:    cfg,
		policy: policy,
		logger: logger,
	}
	if cfg.KeysPerSec > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.KeysPerSec), cfg.KeysPerSec)
	}
	return m, nil
}

// Overflow is how many keys the hot tier holds beyond its capacity.
func (m *Manager) Overflow() int64 {
	if m.cfg.HotCapacity <= 0 {
		return 0
	}
	over := m.store.SizeAt(common.TierHot) - m.cfg.HotCapacity
	if over < 0 {
		return 0
	}
	return over
}

// RunOnce demotes batches until the hot tier is back under capacity and
// returns the number of keys evicted.
func (m *Manager) RunOnce(ctx context.Context) (int, error) {
	m.runs.Add(1)
	total := 0
	for {
		over := m.Overflow()
		if over == 0 {
			break
		}
		n := m.cfg.BatchSize
		if over < int64(n) {
			n = int(over)
		}
		keys := m.policy.Select(m.store, n)
		if len(keys) == 0 {
			break
		}
		before := m.store.SizeAt(common.TierHot)
		n, err := m.evict(ctx, keys)
		total += n
		if err != nil {
			m.evicted.Add(uint64(total))
			return total, err
		}
		if m.store.SizeAt(common.TierHot) >= before {
			// writers are refilling faster than we drain; retry next tick
			break
		}
	}

	if total > 0 {
		m.evicted.Add(uint64(total))
		m.logger.Debug("eviction cycle",
			zap.String("policy", m.policy.Name()),
			zap.Int("evicted", total),
			zap.Int64("hot_size", m.store.SizeAt(common.TierHot)))
	}
	return total, nil
}

// evict demotes keys in limiter-sized chunks and returns how many actually
// moved; keys removed or already demoted since selection are not counted.
func (m *Manager) evict(ctx context.Context, keys []common.KeyType) (int, error) {
	moved := 0
	for len(keys) > 0 {
		chunk := keys
		if m.limiter != nil {
			if burst := m.limiter.Burst(); len(chunk) > burst {
				chunk = chunk[:burst]
			}
			if err := m.limiter.WaitN(ctx, len(chunk)); err != nil {
				return moved, err
			}
		}
		n, err := m.store.Demote(chunk)
		moved += n
		if err != nil {
			return moved, err
		}
		keys = keys[len(chunk):]
	}
	return moved, nil
}

// Run calls RunOnce every cfg.Interval until ctx is done. Cycle errors are
// logged and do not stop the loop.
func (m *Manager) Run(ctx context.Context) {
	interval := m.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("eviction manager started",
		zap.String("policy", m.policy.Name()),
		zap.Int64("hot_capacity", m.cfg.HotCapacity),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("eviction manager stopped", zap.Uint64("evicted", m.evicted.Load()))
			return
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("eviction cycle failed", zap.Error(err))
			}
		}
	}
}

// Stats reports cycle and key counts for diagnostics.
func (m *Manager) Stats() map[string]uint64 {
	return map[string]uint64{
		"runs":    m.runs.Load(),
		"evicted": m.evicted.Load(),
	}
}
