package memory

import (
	"sync"

	"tierkv/pkg/common"
	"tierkv/pkg/value"

	"github.com/google/btree"
)

type item struct {
	key    common.KeyType
	handle *value.Handle
}

func itemLess(a, b item) bool {
	return a.key < b.key
}

type shard struct {
	lock sync.RWMutex
	tree *btree.BTreeG[item]
}

// MemTable is the hot tier: key -> handle, held entirely in memory. Keys are
// spread over shards, each an ordered btree behind its own lock, so single-key
// operations on different shards never contend.
type MemTable struct {
	shards []*shard
	alloc  *value.Allocator

	// guard is the tier's guarding lock. Single-key operations never take it;
	// it brackets snapshots and batch evictions.
	guard sync.Mutex
}

func NewMemTable(shardCount, degree int, alloc *value.Allocator) *MemTable {
	if shardCount <= 0 {
		shardCount = 1
	}
	if degree < 2 {
		degree = 32
	}
	mt := &MemTable{
		shards: make([]*shard, shardCount),
		alloc:  alloc,
	}
	for i := range mt.shards {
		mt.shards[i] = &shard{tree: btree.NewG[item](degree, itemLess)}
	}
	return mt
}

func (mt *MemTable) shardFor(key common.KeyType) *shard {
	idx := uint64(key) % uint64(len(mt.shards))
	return mt.shards[idx]
}

// Get returns the handle for key or common.ErrNotFound.
func (mt *MemTable) Get(key common.KeyType) (*value.Handle, error) {
	s := mt.shardFor(key)
	s.lock.RLock()
	defer s.lock.RUnlock()

	it, ok := s.tree.Get(item{key: key})
	if !ok {
		return nil, common.ErrNotFound
	}
	return it.handle, nil
}

// Contains reports presence as nil or common.ErrNotFound.
func (mt *MemTable) Contains(key common.KeyType) error {
	s := mt.shardFor(key)
	s.lock.RLock()
	defer s.lock.RUnlock()

	if !s.tree.Has(item{key: key}) {
		return common.ErrNotFound
	}
	return nil
}

// Insert publishes h under key, replacing and destroying any previous handle.
func (mt *MemTable) Insert(key common.KeyType, h *value.Handle) {
	s := mt.shardFor(key)
	s.lock.Lock()
	old, replaced := s.tree.ReplaceOrInsert(item{key: key, handle: h})
	s.lock.Unlock()

	if replaced && old.handle != h {
		old.handle.Destroy()
	}
}

// Create returns the handle for key, allocating one of allocLen bytes if the
// key is absent. Allocation happens under the shard lock so concurrent
// creators of the same key converge on one handle.
func (mt *MemTable) Create(key common.KeyType, allocLen int) (*value.Handle, error) {
	s := mt.shardFor(key)
	s.lock.Lock()
	defer s.lock.Unlock()

	if it, ok := s.tree.Get(item{key: key}); ok {
		return it.handle, nil
	}
	h, err := mt.alloc.Allocate(allocLen)
	if err != nil {
		return nil, err
	}
	s.tree.ReplaceOrInsert(item{key: key, handle: h})
	return h, nil
}

// TryInsert publishes h only if key is absent. It returns
// common.ErrAlreadyExists when another caller got there first.
func (mt *MemTable) TryInsert(key common.KeyType, h *value.Handle) error {
	s := mt.shardFor(key)
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.tree.Has(item{key: key}) {
		return common.ErrAlreadyExists
	}
	s.tree.ReplaceOrInsert(item{key: key, handle: h})
	return nil
}

// Remove unpublishes key without destroying its handle; ownership passes to
// the caller. It returns common.ErrNotFound if the key was absent.
func (mt *MemTable) Remove(key common.KeyType) (*value.Handle, error) {
	s := mt.shardFor(key)
	s.lock.Lock()
	defer s.lock.Unlock()

	old, ok := s.tree.Delete(item{key: key})
	if !ok {
		return nil, common.ErrNotFound
	}
	return old.handle, nil
}

// CompareAndRemove unpublishes key only while it still maps to h.
func (mt *MemTable) CompareAndRemove(key common.KeyType, h *value.Handle) bool {
	s := mt.shardFor(key)
	s.lock.Lock()
	defer s.lock.Unlock()

	it, ok := s.tree.Get(item{key: key})
	if !ok || it.handle != h {
		return false
	}
	s.tree.Delete(it)
	return true
}

// CompareAndSwap replaces old with h under key only while key still maps to
// old. The old handle is not destroyed.
func (mt *MemTable) CompareAndSwap(key common.KeyType, old, h *value.Handle) bool {
	s := mt.shardFor(key)
	s.lock.Lock()
	defer s.lock.Unlock()

	it, ok := s.tree.Get(item{key: key})
	if !ok || it.handle != old {
		return false
	}
	s.tree.ReplaceOrInsert(item{key: key, handle: h})
	return true
}

// Snapshot appends every (key, handle) pair. Callers hold Mutex() for a
// consistent view.
func (mt *MemTable) Snapshot(keys *[]common.KeyType, handles *[]*value.Handle) {
	for _, s := range mt.shards {
		s.lock.RLock()
		s.tree.Ascend(func(it item) bool {
			*keys = append(*keys, it.key)
			*handles = append(*handles, it.handle)
			return true
		})
		s.lock.RUnlock()
	}
}

// Ascend visits entries shard by shard, in key order within a shard. fn must
// not call back into the table.
func (mt *MemTable) Ascend(fn func(key common.KeyType, h *value.Handle) bool) {
	for _, s := range mt.shards {
		cont := true
		s.lock.RLock()
		s.tree.Ascend(func(it item) bool {
			cont = fn(it.key, it.handle)
			return cont
		})
		s.lock.RUnlock()
		if !cont {
			return
		}
	}
}

// Shrink drops and destroys entries older than the args' threshold and
// returns how many were removed. Each removal runs under keyLock(key) when
// keyLock is non-nil, and only if the key still maps to the stale handle.
func (mt *MemTable) Shrink(args common.ShrinkArgs, keyLock func(common.KeyType) *sync.Mutex) int {
	threshold, ok := args.Threshold()
	if !ok {
		return 0
	}

	removed := 0
	for _, s := range mt.shards {
		var stale []item
		s.lock.RLock()
		s.tree.Ascend(func(it item) bool {
			if it.handle.Version() < threshold {
				stale = append(stale, it)
			}
			return true
		})
		s.lock.RUnlock()

		for _, it := range stale {
			if mt.shrinkOne(it, threshold, keyLock) {
				removed++
			}
		}
	}
	return removed
}

func (mt *MemTable) shrinkOne(it item, threshold int64, keyLock func(common.KeyType) *sync.Mutex) bool {
	if keyLock != nil {
		mu := keyLock(it.key)
		mu.Lock()
		defer mu.Unlock()
	}
	// a writer may have refreshed it since the scan
	if it.handle.Version() >= threshold || !mt.CompareAndRemove(it.key, it.handle) {
		return false
	}
	it.handle.Destroy()
	return true
}

// Size is the number of resident keys.
func (mt *MemTable) Size() int64 {
	var n int64
	for _, s := range mt.shards {
		s.lock.RLock()
		n += int64(s.tree.Len())
		s.lock.RUnlock()
	}
	return n
}

// Mutex exposes the guarding lock.
func (mt *MemTable) Mutex() *sync.Mutex {
	return &mt.guard
}

// Clear destroys every resident handle.
func (mt *MemTable) Clear() {
	for _, s := range mt.shards {
		var all []item
		s.lock.Lock()
		s.tree.Ascend(func(it item) bool {
			all = append(all, it)
			return true
		})
		s.tree.Clear(false)
		s.lock.Unlock()

		for _, it := range all {
			it.handle.Destroy()
		}
	}
}
