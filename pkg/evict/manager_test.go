package evict

import (
	"context"
	"testing"
	"time"

	"tierkv/pkg/common"
	"tierkv/pkg/config"
	"tierkv/pkg/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *core.TieredStore {
	t.Helper()
	cfg := config.Default().Storage
	cfg.Path = t.TempDir()
	cfg.ShardCount = 4
	cfg.BloomSize = 1024
	ts, err := core.NewTieredStore(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ts.Close() })
	return ts
}

// fill creates keys 0..n-1 where key k has been accessed k+1 times and
// carries version n-k.
func fill(t *testing.T, ts *core.TieredStore, n int) {
	t.Helper()
	for k := 0; k < n; k++ {
		for i := 0; i <= k; i++ {
			h, err := ts.GetOrCreate(common.KeyType(k), 4)
			require.NoError(t, err)
			h.SetVersion(int64(n - k))
		}
	}
}

func TestRunOnceEvictsLeastFrequent(t *testing.T) {
	ts := newStore(t)
	fill(t, ts, 20)

	m, err := NewManager(ts, config.EvictionConfig{HotCapacity: 12, BatchSize: 3}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), m.Overflow())

	n, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, int64(0), m.Overflow())
	assert.Equal(t, int64(12), ts.SizeAt(common.TierHot))
	assert.Equal(t, int64(8), ts.SizeAt(common.TierCold))

	for k := 0; k < 20; k++ {
		want := common.TierHot
		if k < 8 {
			want = common.TierCold
		}
		assert.Equal(t, want, ts.LookupTier(common.KeyType(k)), "key %d", k)
	}
	assert.Equal(t, uint64(8), m.Stats()["evicted"])
}

func TestRunOnceOldestVersion(t *testing.T) {
	ts := newStore(t)
	fill(t, ts, 10)

	m, err := NewManager(ts, config.EvictionConfig{HotCapacity: 7, Policy: "version"}, nil)
	require.NoError(t, err)

	_, err = m.RunOnce(context.Background())
	require.NoError(t, err)
	for _, k := range []common.KeyType{7, 8, 9} {
		assert.Equal(t, common.TierCold, ts.LookupTier(k), "key %d", k)
	}
	assert.Equal(t, common.TierHot, ts.LookupTier(0))
}

func TestRunOnceUnderCapacity(t *testing.T) {
	ts := newStore(t)
	fill(t, ts, 5)

	for _, capacity := range []int64{0, 5, 100} {
		m, err := NewManager(ts, config.EvictionConfig{HotCapacity: capacity}, nil)
		require.NoError(t, err)
		n, err := m.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Equal(t, int64(5), ts.SizeAt(common.TierHot))
}

func TestRunOnceRateLimited(t *testing.T) {
	ts := newStore(t)
	fill(t, ts, 10)

	m, err := NewManager(ts, config.EvictionConfig{HotCapacity: 4, KeysPerSec: 2}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n, err := m.RunOnce(ctx)
	assert.Error(t, err, "six keys at two per second cannot finish in 50ms")
	assert.Less(t, ts.SizeAt(common.TierHot), int64(10), "the first burst went through")
	assert.Equal(t, 10-ts.SizeAt(common.TierHot), int64(n), "keys moved before the deadline are reported")
}

func TestRunStopsOnCancel(t *testing.T) {
	ts := newStore(t)
	fill(t, ts, 6)

	m, err := NewManager(ts, config.EvictionConfig{HotCapacity: 3, Interval: 5 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return ts.SizeAt(common.TierHot) == 3
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestUnknownPolicy(t *testing.T) {
	_, err := NewPolicy("random")
	assert.Error(t, err)
}

// vanishingPolicy selects like LFU but removes its first pick from the store
// before handing the batch back, as a concurrent delete would.
type vanishingPolicy struct{}

func (vanishingPolicy) Name() string { return "vanishing" }

func (vanishingPolicy) Select(store core.MultiTier, n int) []common.KeyType {
	keys := LFU{}.Select(store, n)
	if len(keys) > 0 {
		_ = store.Remove(keys[0])
	}
	return keys
}

func TestRunOnceCountsOnlyDemotedKeys(t *testing.T) {
	ts := newStore(t)
	fill(t, ts, 10)

	m, err := NewManager(ts, config.EvictionConfig{HotCapacity: 7}, nil)
	require.NoError(t, err)
	m.policy = vanishingPolicy{}

	n, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(2), m.Stats()["evicted"])
	assert.Equal(t, int64(7), ts.SizeAt(common.TierHot))
	assert.Equal(t, int64(2), ts.SizeAt(common.TierCold))
	assert.Equal(t, common.TierNone, ts.LookupTier(0))
}
