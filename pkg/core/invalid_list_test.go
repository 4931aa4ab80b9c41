package core

import (
	"sync"
	"testing"
	"time"

	"tierkv/pkg/value"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parked(t *testing.T, alloc *value.Allocator, n int) []*value.Handle {
	t.Helper()
	out := make([]*value.Handle, n)
	for i := range out {
		h, err := alloc.Allocate(4)
		require.NoError(t, err)
		out[i] = h
	}
	return out
}

func TestInvalidListSingleCycleDelay(t *testing.T) {
	alloc := value.NewAllocator(0)
	l := newInvalidList(0)
	hs := parked(t, alloc, 3)

	assert.Equal(t, 0, l.rotate())
	l.keep(hs[0])
	l.keep(hs[1])
	assert.Equal(t, 2, l.pending())
	assert.False(t, hs[0].Released())

	assert.Equal(t, 2, l.rotate())
	assert.True(t, hs[0].Released())
	assert.True(t, hs[1].Released())
	l.keep(hs[2])

	assert.Equal(t, 1, l.drain())
	assert.Equal(t, 0, l.pending())
	assert.Equal(t, int64(0), alloc.Live())
}

func TestInvalidListKeepWithoutRotate(t *testing.T) {
	alloc := value.NewAllocator(0)
	l := newInvalidList(1)
	h := parked(t, alloc, 1)[0]

	l.keep(h)
	assert.Equal(t, 1, l.pending())
	assert.Equal(t, 1, l.rotate(), "an implicit first cycle expires on the next rotation")
	assert.True(t, h.Released())
	assert.Equal(t, 0, l.pending())
}

func TestTierLocksOrder(t *testing.T) {
	var hot, cold sync.Mutex
	locks := tierLocks{hot: &hot, cold: &cold}

	unlock := locks.lock()
	assert.False(t, hot.TryLock())
	assert.False(t, cold.TryLock())
	unlock()

	require.True(t, hot.TryLock())
	hot.Unlock()
	require.True(t, cold.TryLock())
	cold.Unlock()

	// a holder of the cold lock alone blocks the pair without deadlocking it
	cold.Lock()
	acquired := make(chan struct{})
	go func() {
		unlock := locks.lock()
		close(acquired)
		unlock()
	}()
	select {
	case <-acquired:
		t.Fatal("pair acquired while cold lock was held")
	case <-time.After(20 * time.Millisecond):
	}
	cold.Unlock()
	<-acquired
}
