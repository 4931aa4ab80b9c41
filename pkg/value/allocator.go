package value

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrMemoryLimitExceeded is returned when an allocation would exceed the limit.
var ErrMemoryLimitExceeded = errors.New("value memory limit exceeded")

// Allocator hands out handles and accounts for the bytes they hold.
type Allocator struct {
	limit int64
	sem   *semaphore.Weighted // nil if unlimited

	inUse atomic.Int64
	live  atomic.Int64
}

// NewAllocator creates an allocator. A non-positive limit disables the cap and
// keeps tracking only.
func NewAllocator(limitBytes int64) *Allocator {
	a := &Allocator{limit: limitBytes}
	if limitBytes > 0 {
		a.sem = semaphore.NewWeighted(limitBytes)
	}
	return a
}

// Allocate creates a zeroed handle of n bytes. Non-blocking: it fails with
// ErrMemoryLimitExceeded rather than waiting for memory to be released.
func (a *Allocator) Allocate(n int) (*Handle, error) {
	if n < 0 {
		n = 0
	}
	if a.sem != nil && n > 0 {
		if !a.sem.TryAcquire(int64(n)) {
			return nil, ErrMemoryLimitExceeded
		}
	}
	a.inUse.Add(int64(n))
	a.live.Add(1)
	return newHandle(a, make([]byte, n)), nil
}

func (a *Allocator) free(n int) {
	if a.sem != nil && n > 0 {
		a.sem.Release(int64(n))
	}
	a.inUse.Add(-int64(n))
	a.live.Add(-1)
}

// InUse is the number of payload bytes held by unreleased handles.
func (a *Allocator) InUse() int64 {
	return a.inUse.Load()
}

// Live is the number of unreleased handles.
func (a *Allocator) Live() int64 {
	return a.live.Load()
}

// Limit returns the configured cap in bytes (0 if unlimited).
func (a *Allocator) Limit() int64 {
	if a.sem == nil {
		return 0
	}
	return a.limit
}
