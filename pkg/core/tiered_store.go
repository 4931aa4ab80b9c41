package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tierkv/pkg/common"
	"tierkv/pkg/config"
	"tierkv/pkg/core/memory"
	"tierkv/pkg/monitor"
	"tierkv/pkg/storage"
	"tierkv/pkg/value"

	"go.uber.org/zap"
)

// TieredStore composes an in-memory hot tier and a SQLite cold tier behind
// one key/value contract. Data moves hot -> cold only through eviction and
// cold -> hot only through GetOrCreate.
type TieredStore struct {
	hot     *memory.MemTable
	cold    *storage.ColdStore
	locks   tierLocks
	keys    keyLocks
	invalid *invalidList
	alloc   *value.Allocator
	stats   *monitor.TierStats
	logger  *zap.Logger
}

func NewTieredStore(cfg config.StorageConfig, logger *zap.Logger) (*TieredStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	alloc := value.NewAllocator(cfg.MemoryLimitBytes)
	cold, err := storage.OpenColdStore(storage.Options{
		Path:           filepath.Join(cfg.Path, cfg.ColdFile),
		BloomSize:      cfg.BloomSize,
		BloomFalseProb: cfg.BloomFalseProb,
		Logger:         logger.Named("cold"),
	}, alloc)
	if err != nil {
		return nil, err
	}
	cold.SetTotalDims(cfg.TotalDims)

	hot := memory.NewMemTable(cfg.ShardCount, cfg.BTreeDegree, alloc)
	return &TieredStore{
		hot:     hot,
		cold:    cold,
		locks:   tierLocks{hot: hot.Mutex(), cold: cold.Mutex()},
		invalid: newInvalidList(cfg.DestroyDelayCycles),
		alloc:   alloc,
		stats:   monitor.NewTierStats(),
		logger:  logger,
	}, nil
}

// Get probes the hot tier, then the cold tier. A cold hit returns a detached
// copy the caller owns and must Destroy.
func (ts *TieredStore) Get(key common.KeyType) (*value.Handle, error) {
	if h, err := ts.hot.Get(key); err == nil {
		ts.stats.RecordLookup(int(common.TierHot))
		return h, nil
	}
	h, err := ts.cold.Get(key)
	if errors.Is(err, common.ErrNotFound) {
		// promoted between the two probes
		if h, herr := ts.hot.Get(key); herr == nil {
			ts.stats.RecordLookup(int(common.TierHot))
			return h, nil
		}
	}
	if err != nil {
		ts.stats.RecordLookup(int(common.TierNone))
		return nil, err
	}
	ts.stats.RecordLookup(int(common.TierCold))
	return h, nil
}

// Insert creates key in the hot tier only. It does not check the cold tier;
// use GetOrCreate when the key may have been evicted.
func (ts *TieredStore) Insert(key common.KeyType, allocLen int) (*value.Handle, error) {
	h, err := ts.hot.Create(key, allocLen)
	if err != nil {
		return nil, err
	}
	ts.stats.Creates.Add(1)
	return h, nil
}

// GetOrCreate returns the slot for key, promoting it from the cold tier or
// creating it in the hot tier. Concurrent callers on the same key all get the
// same hot handle.
func (ts *TieredStore) GetOrCreate(key common.KeyType, size int) (*value.Handle, error) {
	h, err := ts.getOrCreate(key, size)
	if err != nil {
		return nil, err
	}
	h.AddFreq(1)
	return h, nil
}

func (ts *TieredStore) getOrCreate(key common.KeyType, size int) (*value.Handle, error) {
	if h, err := ts.hot.Get(key); err == nil {
		ts.stats.RecordLookup(int(common.TierHot))
		return h, nil
	}

	mu := ts.keys.of(key)
	mu.Lock()
	defer mu.Unlock()
	return ts.resolveLocked(key, size)
}

// resolveLocked returns key's hot handle, promoting it from the cold tier or
// creating it. The caller holds key's lock, so no eviction of the same key can
// land between the cold probe and the create. On promotion the hot insert
// lands before the cold delete and a concurrent Get always finds the key.
func (ts *TieredStore) resolveLocked(key common.KeyType, size int) (*value.Handle, error) {
	// another caller may have promoted or created it while we waited
	if h, err := ts.hot.Get(key); err == nil {
		ts.stats.RecordLookup(int(common.TierHot))
		return h, nil
	}

	h, err := ts.cold.Get(key)
	switch {
	case errors.Is(err, common.ErrNotFound):
		ts.stats.RecordLookup(int(common.TierNone))
		h, err := ts.hot.Create(key, size)
		if err != nil {
			return nil, err
		}
		ts.stats.Creates.Add(1)
		return h, nil
	case err != nil:
		return nil, err
	}

	ts.stats.RecordLookup(int(common.TierCold))
	if err := ts.hot.TryInsert(key, h); err != nil {
		// an Insert published first; h was never visible
		h.Destroy()
		ts.stats.PromotionRaces.Add(1)
		return ts.hot.Get(key)
	}
	ts.stats.Promotions.Add(1)
	if err := ts.cold.Remove(key); err != nil && !errors.Is(err, common.ErrNotFound) {
		ts.logger.Warn("promoted key left in cold tier",
			zap.Int64("key", int64(key)),
			zap.Error(err))
	}
	return h, nil
}

// Put writes payload into key's slot, promoting or creating it first. The
// write happens under key's lock, so an eviction of the key either commits
// the new bytes or runs after they are visible in the hot tier.
func (ts *TieredStore) Put(key common.KeyType, payload []byte) error {
	mu := ts.keys.of(key)
	mu.Lock()
	defer mu.Unlock()

	h, err := ts.resolveLocked(key, len(payload))
	if err != nil {
		return err
	}
	h.AddFreq(1)
	return writeSlot(key, h, payload)
}

// Remove deletes key from both tiers. Absence is not an error.
func (ts *TieredStore) Remove(key common.KeyType) error {
	mu := ts.keys.of(key)
	mu.Lock()
	defer mu.Unlock()

	ts.stats.Removes.Add(1)
	if h, err := ts.hot.Remove(key); err == nil {
		h.Destroy()
	}
	if err := ts.cold.Remove(key); err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return nil
}

// LookupTier reports which tier holds key. Diagnostics only.
func (ts *TieredStore) LookupTier(key common.KeyType) common.Tier {
	if ts.hot.Contains(key) == nil {
		return common.TierHot
	}
	if ts.cold.Contains(key) == nil {
		return common.TierCold
	}
	return common.TierNone
}

func (ts *TieredStore) Size() int64 {
	return ts.hot.Size() + ts.cold.Size()
}

// SizeAt returns the cardinality of one tier, or -1 for an unknown tier.
func (ts *TieredStore) SizeAt(tier common.Tier) int64 {
	switch tier {
	case common.TierHot:
		return ts.hot.Size()
	case common.TierCold:
		return ts.cold.Size()
	default:
		return -1
	}
}

// Eviction demotes every hot-resident key in keys: commit to cold, remove from
// hot, destroy. Keys not in the hot tier are skipped. A failed commit stops
// the batch and leaves that key hot.
func (ts *TieredStore) Eviction(keys []common.KeyType) error {
	_, err := ts.evict(keys, func(h *value.Handle) { h.Destroy() })
	return err
}

// EvictionWithDelayedDestroy is Eviction under both guarding locks, with the
// evicted handles parked on the invalidation list instead of destroyed. Handles
// parked in earlier cycles are destroyed first.
func (ts *TieredStore) EvictionWithDelayedDestroy(keys []common.KeyType) error {
	_, err := ts.Demote(keys)
	return err
}

// Demote is EvictionWithDelayedDestroy that also reports how many keys were
// actually moved; keys already gone from the hot tier are not counted.
func (ts *TieredStore) Demote(keys []common.KeyType) (int, error) {
	unlock := ts.locks.lock()
	defer unlock()

	if n := ts.invalid.rotate(); n > 0 {
		ts.logger.Debug("released invalidated handles", zap.Int("count", n))
	}
	return ts.evict(keys, ts.invalid.keep)
}

func (ts *TieredStore) evict(keys []common.KeyType, retire func(*value.Handle)) (int, error) {
	evicted := 0
	defer func() { ts.stats.Evictions.Add(uint64(evicted)) }()

	for _, k := range keys {
		ok, err := ts.evictOne(k, retire)
		if err != nil {
			ts.logger.Error("eviction commit failed",
				zap.Int64("key", int64(k)),
				zap.Int("evicted", evicted),
				zap.Error(err))
			return evicted, fmt.Errorf("evict %d: %w", k, err)
		}
		if ok {
			evicted++
		}
	}
	return evicted, nil
}

// evictOne commits key to the cold tier before unpublishing it from the hot
// tier, so a concurrent Get always finds it in one of them. Writers take the
// same key lock, so the committed bytes are the last ones written.
func (ts *TieredStore) evictOne(key common.KeyType, retire func(*value.Handle)) (bool, error) {
	mu := ts.keys.of(key)
	mu.Lock()
	defer mu.Unlock()

	h, err := ts.hot.Get(key)
	if err != nil {
		return false, nil
	}
	if !h.Pin() {
		// already released; nothing left to save
		return false, nil
	}
	defer h.Unpin()

	if err := ts.cold.Commit(key, h); err != nil {
		return false, err
	}
	if !ts.hot.CompareAndRemove(key, h) {
		return false, nil
	}
	retire(h)
	return true, nil
}

// Snapshot copies the hot tier under its guarding lock, then the cold tier
// under its own. The result must be released.
func (ts *TieredStore) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{}

	ts.hot.Mutex().Lock()
	ts.hot.Snapshot(&snap.Keys, &snap.Handles)
	snap.Keys, snap.Handles = pinHot(snap.Keys, snap.Handles)
	ts.hot.Mutex().Unlock()
	snap.hotCount = len(snap.Handles)

	ts.cold.Mutex().Lock()
	err := ts.cold.Snapshot(&snap.Keys, &snap.Handles)
	ts.cold.Mutex().Unlock()
	if err != nil {
		snap.Release()
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

// CheckpointSnapshot materializes the hot tier through filter and opens a lazy
// iterator over the cold tier. Take IteratorLock after it returns and hold it
// while draining Cold; taking it before would invert the hot-then-cold order.
func (ts *TieredStore) CheckpointSnapshot(cfg config.CheckpointConfig, filter FilterPolicy) (*Checkpoint, error) {
	var keys []common.KeyType
	var handles []*value.Handle

	ts.hot.Mutex().Lock()
	ts.hot.Snapshot(&keys, &handles)
	keys, handles = pinHot(keys, handles)
	entries := materializeAll(keys, handles, cfg, filter)
	ts.hot.Mutex().Unlock()
	for _, h := range handles {
		h.Unpin()
	}

	it, err := ts.cold.Iterator()
	if err != nil {
		return nil, fmt.Errorf("checkpoint snapshot: %w", err)
	}
	return &Checkpoint{Entries: entries, Cold: it}, nil
}

// IteratorLock takes the cold tier's guarding lock.
func (ts *TieredStore) IteratorLock() {
	ts.cold.Mutex().Lock()
}

func (ts *TieredStore) IteratorUnlock() {
	ts.cold.Mutex().Unlock()
}

// Shrink drops stale slots from both tiers.
func (ts *TieredStore) Shrink(args common.ShrinkArgs) error {
	hotRemoved := ts.hot.Shrink(args, ts.keys.of)
	coldRemoved, err := ts.cold.Shrink(args)
	if err != nil {
		return err
	}
	ts.logger.Info("shrink complete",
		zap.Int64("global_step", args.GlobalStep),
		zap.Int("hot_removed", hotRemoved),
		zap.Int64("cold_removed", coldRemoved))
	return nil
}

// SetTotalDims forwards the fixed-width layout hint to the cold tier.
func (ts *TieredStore) SetTotalDims(n int64) {
	ts.cold.SetTotalDims(n)
}

// HotCandidates visits hot-tier entries for eviction policies. fn must not
// call back into the store.
func (ts *TieredStore) HotCandidates(fn func(key common.KeyType, h *value.Handle) bool) {
	ts.hot.Ascend(fn)
}

func (ts *TieredStore) Kind() Kind {
	return KindTiered
}

func (ts *TieredStore) UsesPersistentStorage() bool {
	return true
}

func (ts *TieredStore) Stats() *monitor.TierStats {
	return ts.stats
}

func (ts *TieredStore) Allocator() *value.Allocator {
	return ts.alloc
}

// PendingFrees is the number of evicted handles awaiting destruction.
func (ts *TieredStore) PendingFrees() int {
	return ts.invalid.pending()
}

// FlushHot evicts every hot-resident key into the cold tier.
func (ts *TieredStore) FlushHot() error {
	var keys []common.KeyType
	ts.hot.Ascend(func(key common.KeyType, _ *value.Handle) bool {
		keys = append(keys, key)
		return true
	})
	if err := ts.Eviction(keys); err != nil {
		return err
	}
	ts.logger.Info("hot tier flushed", zap.Int("keys", len(keys)))
	return nil
}

// Close destroys parked and resident handles and closes the cold tier. The
// hot tier is volatile: anything not evicted is lost.
func (ts *TieredStore) Close() error {
	unlock := ts.locks.lock()
	defer unlock()

	ts.invalid.drain()
	ts.hot.Clear()
	return ts.cold.Close()
}
