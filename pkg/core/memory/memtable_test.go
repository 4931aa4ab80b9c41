package memory

import (
	"sync"
	"testing"

	"tierkv/pkg/common"
	"tierkv/pkg/value"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable() (*MemTable, *value.Allocator) {
	alloc := value.NewAllocator(0)
	return NewMemTable(4, 8, alloc), alloc
}

func TestMemTableCreateAndGet(t *testing.T) {
	mt, _ := newTestTable()

	_, err := mt.Get(1)
	assert.ErrorIs(t, err, common.ErrNotFound)

	h, err := mt.Create(1, 16)
	require.NoError(t, err)
	assert.Equal(t, 16, h.Len())

	again, err := mt.Create(1, 32)
	require.NoError(t, err)
	assert.Same(t, h, again, "create on a resident key returns the existing handle")

	got, err := mt.Get(1)
	require.NoError(t, err)
	assert.Same(t, h, got)
	assert.NoError(t, mt.Contains(1))
	assert.Equal(t, int64(1), mt.Size())
}

func TestMemTableTryInsert(t *testing.T) {
	mt, alloc := newTestTable()

	a, err := alloc.Allocate(4)
	require.NoError(t, err)
	b, err := alloc.Allocate(4)
	require.NoError(t, err)

	require.NoError(t, mt.TryInsert(7, a))
	assert.ErrorIs(t, mt.TryInsert(7, b), common.ErrAlreadyExists)

	got, err := mt.Get(7)
	require.NoError(t, err)
	assert.Same(t, a, got)
	b.Destroy()
}

func TestMemTableRemoveTransfersOwnership(t *testing.T) {
	mt, alloc := newTestTable()

	h, err := mt.Create(3, 8)
	require.NoError(t, err)

	removed, err := mt.Remove(3)
	require.NoError(t, err)
	assert.Same(t, h, removed)
	assert.False(t, h.Destroyed())
	assert.ErrorIs(t, mt.Contains(3), common.ErrNotFound)

	_, err = mt.Remove(3)
	assert.ErrorIs(t, err, common.ErrNotFound)

	removed.Destroy()
	assert.Equal(t, int64(0), alloc.Live())
}

func TestMemTableCompareAndRemove(t *testing.T) {
	mt, alloc := newTestTable()

	h, err := mt.Create(5, 8)
	require.NoError(t, err)
	other, err := alloc.Allocate(8)
	require.NoError(t, err)
	defer other.Destroy()

	assert.False(t, mt.CompareAndRemove(5, other))
	assert.NoError(t, mt.Contains(5))
	assert.True(t, mt.CompareAndRemove(5, h))
	assert.ErrorIs(t, mt.Contains(5), common.ErrNotFound)
	h.Destroy()
}

func TestMemTableCompareAndSwap(t *testing.T) {
	mt, alloc := newTestTable()

	old, err := mt.Create(9, 4)
	require.NoError(t, err)
	next, err := alloc.Allocate(8)
	require.NoError(t, err)
	stray, err := alloc.Allocate(8)
	require.NoError(t, err)

	assert.False(t, mt.CompareAndSwap(9, stray, next))
	assert.True(t, mt.CompareAndSwap(9, old, next))
	assert.False(t, old.Released(), "swapped-out handle stays with the caller")
	assert.False(t, mt.CompareAndSwap(10, nil, stray), "absent keys are never swapped")

	got, err := mt.Get(9)
	require.NoError(t, err)
	assert.Same(t, next, got)
	old.Destroy()
	stray.Destroy()
}

func TestMemTableInsertReplacesAndDestroysOld(t *testing.T) {
	mt, alloc := newTestTable()

	old, err := mt.Create(9, 4)
	require.NoError(t, err)
	fresh, err := alloc.Allocate(4)
	require.NoError(t, err)

	mt.Insert(9, fresh)
	assert.True(t, old.Destroyed())

	got, err := mt.Get(9)
	require.NoError(t, err)
	assert.Same(t, fresh, got)
}

func TestMemTableSnapshotAndSize(t *testing.T) {
	mt, _ := newTestTable()
	for k := common.KeyType(1); k <= 20; k++ {
		_, err := mt.Create(k, 4)
		require.NoError(t, err)
	}

	var keys []common.KeyType
	var handles []*value.Handle
	mt.Mutex().Lock()
	mt.Snapshot(&keys, &handles)
	mt.Mutex().Unlock()

	assert.Len(t, keys, 20)
	assert.Len(t, handles, 20)
	assert.ElementsMatch(t, keysRange(1, 20), keys)
	assert.Equal(t, int64(20), mt.Size())
}

func TestMemTableShrink(t *testing.T) {
	mt, alloc := newTestTable()
	for k := common.KeyType(0); k < 10; k++ {
		h, err := mt.Create(k, 4)
		require.NoError(t, err)
		h.SetVersion(int64(k))
	}

	assert.Equal(t, 0, mt.Shrink(common.ShrinkArgs{GlobalStep: 10}, nil))

	var locked []common.KeyType
	var mu sync.Mutex
	removed := mt.Shrink(common.ShrinkArgs{GlobalStep: 10, StepsToLive: 5}, func(k common.KeyType) *sync.Mutex {
		locked = append(locked, k)
		return &mu
	})
	assert.Equal(t, 5, removed)
	assert.Equal(t, int64(5), mt.Size())
	assert.Equal(t, int64(5), alloc.Live())

	assert.ElementsMatch(t, keysRange(0, 4), locked, "each removal runs under its key lock")

	_, err := mt.Get(4)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = mt.Get(5)
	assert.NoError(t, err)
}

func TestMemTableConcurrentCreateConverges(t *testing.T) {
	mt, alloc := newTestTable()

	const workers = 16
	results := make([]*value.Handle, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := mt.Create(42, 8)
			if err == nil {
				results[i] = h
			}
		}(i)
	}
	wg.Wait()

	for _, h := range results {
		assert.Same(t, results[0], h)
	}
	assert.Equal(t, int64(1), alloc.Live())
}

func TestMemTableClear(t *testing.T) {
	mt, alloc := newTestTable()
	for k := common.KeyType(0); k < 8; k++ {
		_, err := mt.Create(k, 4)
		require.NoError(t, err)
	}
	mt.Clear()
	assert.Equal(t, int64(0), mt.Size())
	assert.Equal(t, int64(0), alloc.Live())
}

func keysRange(lo, hi common.KeyType) []common.KeyType {
	var out []common.KeyType
	for k := lo; k <= hi; k++ {
		out = append(out, k)
	}
	return out
}
