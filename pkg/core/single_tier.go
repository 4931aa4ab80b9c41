package core

import (
	"errors"

	"tierkv/pkg/common"
	"tierkv/pkg/config"
	"tierkv/pkg/core/memory"
	"tierkv/pkg/monitor"
	"tierkv/pkg/value"

	"go.uber.org/zap"
)

// CopyBack tells a GetOrCreateCopyBack caller whether the slot was re-laid out.
type CopyBack int

const (
	// NotCopyBack: the returned handle is the resident one, untouched.
	NotCopyBack CopyBack = iota
	// CopyBackRequired: the slot was re-allocated larger. The old payload sits
	// in the prefix; the caller initializes the remainder.
	CopyBackRequired
)

// SingleTierStore keeps every slot in memory. It is the composition that
// supports raw-handle inserts and copy-back creation.
type SingleTierStore struct {
	hot     *memory.MemTable
	invalid *invalidList
	keys    keyLocks
	alloc   *value.Allocator
	stats   *monitor.TierStats
	logger  *zap.Logger
}

func NewSingleTierStore(cfg config.StorageConfig, logger *zap.Logger) *SingleTierStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	alloc := value.NewAllocator(cfg.MemoryLimitBytes)
	return &SingleTierStore{
		hot:     memory.NewMemTable(cfg.ShardCount, cfg.BTreeDegree, alloc),
		invalid: newInvalidList(cfg.DestroyDelayCycles),
		alloc:   alloc,
		stats:   monitor.NewTierStats(),
		logger:  logger,
	}
}

func (ss *SingleTierStore) Get(key common.KeyType) (*value.Handle, error) {
	h, err := ss.hot.Get(key)
	if err != nil {
		ss.stats.RecordLookup(int(common.TierNone))
		return nil, err
	}
	ss.stats.RecordLookup(int(common.TierHot))
	return h, nil
}

func (ss *SingleTierStore) Insert(key common.KeyType, allocLen int) (*value.Handle, error) {
	h, err := ss.hot.Create(key, allocLen)
	if err != nil {
		return nil, err
	}
	ss.stats.Creates.Add(1)
	return h, nil
}

// InsertHandle publishes a caller-built handle, replacing any resident one.
func (ss *SingleTierStore) InsertHandle(key common.KeyType, h *value.Handle) {
	mu := ss.keys.of(key)
	mu.Lock()
	defer mu.Unlock()

	ss.hot.Insert(key, h)
	ss.stats.Creates.Add(1)
}

func (ss *SingleTierStore) GetOrCreate(key common.KeyType, size int) (*value.Handle, error) {
	h, err := ss.hot.Create(key, size)
	if err != nil {
		return nil, err
	}
	h.AddFreq(1)
	return h, nil
}

// Put writes payload into key's slot, creating it with len(payload) bytes if
// absent.
func (ss *SingleTierStore) Put(key common.KeyType, payload []byte) error {
	mu := ss.keys.of(key)
	mu.Lock()
	defer mu.Unlock()

	h, err := ss.GetOrCreate(key, len(payload))
	if err != nil {
		return err
	}
	return writeSlot(key, h, payload)
}

// GetOrCreateCopyBack is GetOrCreate for layout upgrades: a resident slot
// shorter than size is re-allocated, its payload and counters copied over, and
// CopyBackRequired returned. The new slot's logical size is size. The replaced
// handle is parked for one cycle.
func (ss *SingleTierStore) GetOrCreateCopyBack(key common.KeyType, size int) (*value.Handle, CopyBack, error) {
	mu := ss.keys.of(key)
	mu.Lock()
	defer mu.Unlock()

	for {
		old, err := ss.hot.Get(key)
		if errors.Is(err, common.ErrNotFound) {
			h, err := ss.GetOrCreate(key, size)
			return h, NotCopyBack, err
		}
		if old.Len() >= size {
			old.AddFreq(1)
			return old, NotCopyBack, nil
		}

		h, err := value.Materialize(ss.alloc, old.Version(), old.Freq(), old.Bytes(), size)
		if err != nil {
			return nil, NotCopyBack, err
		}
		h.Resize(size)
		if !ss.hot.CompareAndSwap(key, old, h) {
			// the key changed under us; start over against the new state
			h.Destroy()
			continue
		}
		ss.invalid.rotate()
		ss.invalid.keep(old)
		h.AddFreq(1)
		return h, CopyBackRequired, nil
	}
}

func (ss *SingleTierStore) Remove(key common.KeyType) error {
	mu := ss.keys.of(key)
	mu.Lock()
	defer mu.Unlock()

	ss.stats.Removes.Add(1)
	if h, err := ss.hot.Remove(key); err == nil {
		h.Destroy()
	}
	return nil
}

func (ss *SingleTierStore) LookupTier(key common.KeyType) common.Tier {
	if ss.hot.Contains(key) == nil {
		return common.TierHot
	}
	return common.TierNone
}

func (ss *SingleTierStore) Size() int64 {
	return ss.hot.Size()
}

// SizeAt answers for the only tier; any other tier is unknown (-1).
func (ss *SingleTierStore) SizeAt(tier common.Tier) int64 {
	if tier == common.TierHot {
		return ss.hot.Size()
	}
	return -1
}

func (ss *SingleTierStore) Snapshot() (*Snapshot, error) {
	snap := &Snapshot{}
	ss.hot.Mutex().Lock()
	ss.hot.Snapshot(&snap.Keys, &snap.Handles)
	snap.Keys, snap.Handles = pinHot(snap.Keys, snap.Handles)
	ss.hot.Mutex().Unlock()
	snap.hotCount = len(snap.Handles)
	return snap, nil
}

// CheckpointSnapshot materializes every slot; Cold is nil.
func (ss *SingleTierStore) CheckpointSnapshot(cfg config.CheckpointConfig, filter FilterPolicy) (*Checkpoint, error) {
	var keys []common.KeyType
	var handles []*value.Handle

	ss.hot.Mutex().Lock()
	ss.hot.Snapshot(&keys, &handles)
	keys, handles = pinHot(keys, handles)
	entries := materializeAll(keys, handles, cfg, filter)
	ss.hot.Mutex().Unlock()
	for _, h := range handles {
		h.Unpin()
	}
	return &Checkpoint{Entries: entries}, nil
}

// IteratorLock takes the only guarding lock there is. Snapshot and
// CheckpointSnapshot take it themselves.
func (ss *SingleTierStore) IteratorLock() {
	ss.hot.Mutex().Lock()
}

func (ss *SingleTierStore) IteratorUnlock() {
	ss.hot.Mutex().Unlock()
}

func (ss *SingleTierStore) Shrink(args common.ShrinkArgs) error {
	n := ss.hot.Shrink(args, ss.keys.of)
	ss.logger.Info("shrink complete",
		zap.Int64("global_step", args.GlobalStep),
		zap.Int("hot_removed", n))
	return nil
}

// SetTotalDims has no effect: nothing is ever decoded from a serialized form.
func (ss *SingleTierStore) SetTotalDims(int64) {}

func (ss *SingleTierStore) Kind() Kind {
	return KindSingleTier
}

func (ss *SingleTierStore) UsesPersistentStorage() bool {
	return false
}

func (ss *SingleTierStore) Stats() *monitor.TierStats {
	return ss.stats
}

func (ss *SingleTierStore) Allocator() *value.Allocator {
	return ss.alloc
}

// PendingFrees is the number of replaced handles awaiting destruction.
func (ss *SingleTierStore) PendingFrees() int {
	return ss.invalid.pending()
}

func (ss *SingleTierStore) Close() error {
	ss.invalid.drain()
	ss.hot.Clear()
	return nil
}
