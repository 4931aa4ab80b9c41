package storage

import (
	"path/filepath"
	"testing"

	"tierkv/pkg/common"
	"tierkv/pkg/value"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) (*ColdStore, *value.Allocator) {
	t.Helper()
	alloc := value.NewAllocator(0)
	cs, err := OpenColdStore(Options{Path: path, BloomSize: 1024, BloomFalseProb: 0.01}, alloc)
	require.NoError(t, err)
	t.Cleanup(func() { cs.Close() })
	return cs, alloc
}

func handleWith(t *testing.T, alloc *value.Allocator, payload string, version, freq int64) *value.Handle {
	t.Helper()
	h, err := alloc.Allocate(len(payload))
	require.NoError(t, err)
	h.Write([]byte(payload))
	h.SetVersion(version)
	h.SetFreq(freq)
	return h
}

func TestColdCommitGetRemove(t *testing.T) {
	cs, alloc := openTestStore(t, filepath.Join(t.TempDir(), "cold.db"))

	_, err := cs.Get(1)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, cs.Contains(1), common.ErrNotFound)

	src := handleWith(t, alloc, "alpha", 3, 9)
	require.NoError(t, cs.Commit(1, src))
	src.Destroy()

	h, err := cs.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), h.Bytes())
	assert.Equal(t, int64(3), h.Version())
	assert.Equal(t, int64(9), h.Freq())
	h.Destroy()

	assert.NoError(t, cs.Contains(1))
	assert.Equal(t, int64(1), cs.Size())

	require.NoError(t, cs.Remove(1))
	assert.ErrorIs(t, cs.Remove(1), common.ErrNotFound)
	assert.ErrorIs(t, cs.Contains(1), common.ErrNotFound)
	assert.Equal(t, int64(0), cs.Size())
	assert.Equal(t, int64(0), alloc.Live())
}

func TestColdCommitOverwriteKeepsCount(t *testing.T) {
	cs, alloc := openTestStore(t, filepath.Join(t.TempDir(), "cold.db"))

	a := handleWith(t, alloc, "v1", 1, 0)
	b := handleWith(t, alloc, "v2", 2, 0)
	defer a.Destroy()
	defer b.Destroy()

	require.NoError(t, cs.Commit(5, a))
	require.NoError(t, cs.Commit(5, b))
	assert.Equal(t, int64(1), cs.Size())

	h, err := cs.Get(5)
	require.NoError(t, err)
	defer h.Destroy()
	assert.Equal(t, []byte("v2"), h.Bytes())
}

func TestColdIteratorIsOrdered(t *testing.T) {
	cs, alloc := openTestStore(t, filepath.Join(t.TempDir(), "cold.db"))

	for _, k := range []common.KeyType{30, -4, 12, 7} {
		h := handleWith(t, alloc, "x", int64(k), 1)
		require.NoError(t, cs.Commit(k, h))
		h.Destroy()
	}

	cs.Mutex().Lock()
	it, err := cs.Iterator()
	require.NoError(t, err)
	var keys []common.KeyType
	for it.Next() {
		keys = append(keys, it.Key())
		version, _, payload, err := value.DecodeParts(it.Value())
		require.NoError(t, err)
		assert.Equal(t, int64(it.Key()), version)
		assert.Equal(t, []byte("x"), payload)
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
	cs.Mutex().Unlock()

	assert.Equal(t, []common.KeyType{-4, 7, 12, 30}, keys)
	assert.False(t, it.Next(), "a closed iterator stays exhausted")
}

func TestColdKeepsLogicalSizeAndCapacity(t *testing.T) {
	cs, alloc := openTestStore(t, filepath.Join(t.TempDir(), "cold.db"))

	h, err := alloc.Allocate(8)
	require.NoError(t, err)
	h.Write([]byte("longer!!"))
	h.Write([]byte("hi"))
	require.NoError(t, cs.Commit(1, h))
	h.Destroy()

	got, err := cs.Get(1)
	require.NoError(t, err)
	defer got.Destroy()
	assert.Equal(t, []byte("hi"), got.Bytes())
	assert.Equal(t, 8, got.Len())

	it, err := cs.Iterator()
	require.NoError(t, err)
	defer it.Close()
	require.True(t, it.Next())
	_, _, payload, err := value.DecodeParts(it.Value())
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), payload)
}

func TestColdSnapshotAndTotalDims(t *testing.T) {
	cs, alloc := openTestStore(t, filepath.Join(t.TempDir(), "cold.db"))
	cs.SetTotalDims(4)

	for k := common.KeyType(1); k <= 3; k++ {
		h := handleWith(t, alloc, "ab", 0, 0)
		require.NoError(t, cs.Commit(k, h))
		h.Destroy()
	}

	var keys []common.KeyType
	var handles []*value.Handle
	cs.Mutex().Lock()
	require.NoError(t, cs.Snapshot(&keys, &handles))
	cs.Mutex().Unlock()

	assert.Equal(t, []common.KeyType{1, 2, 3}, keys)
	for _, h := range handles {
		assert.Equal(t, 4*ElemSize, h.Len())
		assert.Equal(t, []byte("ab"), h.Bytes()[:2])
		h.Destroy()
	}
	assert.Equal(t, int64(0), alloc.Live())
}

func TestColdShrink(t *testing.T) {
	cs, alloc := openTestStore(t, filepath.Join(t.TempDir(), "cold.db"))
	for k := common.KeyType(0); k < 10; k++ {
		h := handleWith(t, alloc, "p", int64(k), 0)
		require.NoError(t, cs.Commit(k, h))
		h.Destroy()
	}

	n, err := cs.Shrink(common.ShrinkArgs{GlobalStep: 10, StepsToLive: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, int64(3), cs.Size())
	assert.ErrorIs(t, cs.Contains(6), common.ErrNotFound)
	assert.NoError(t, cs.Contains(7))
}

func TestColdReopenRestoresCountAndFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cold.db")
	alloc := value.NewAllocator(0)

	cs, err := OpenColdStore(Options{Path: path, BloomSize: 64}, alloc)
	require.NoError(t, err)
	h := handleWith(t, alloc, "persisted", 1, 1)
	require.NoError(t, cs.Commit(99, h))
	h.Destroy()
	require.NoError(t, cs.Close())

	cs2, err := OpenColdStore(Options{Path: path, BloomSize: 64}, alloc)
	require.NoError(t, err)
	defer cs2.Close()

	assert.Equal(t, int64(1), cs2.Size())
	got, err := cs2.Get(99)
	require.NoError(t, err)
	defer got.Destroy()
	assert.Equal(t, []byte("persisted"), got.Bytes())
}

func TestColdTruncate(t *testing.T) {
	cs, alloc := openTestStore(t, filepath.Join(t.TempDir(), "cold.db"))
	h := handleWith(t, alloc, "gone", 0, 0)
	require.NoError(t, cs.Commit(1, h))
	h.Destroy()

	require.NoError(t, cs.Truncate())
	assert.Equal(t, int64(0), cs.Size())
	assert.ErrorIs(t, cs.Contains(1), common.ErrNotFound)
}
