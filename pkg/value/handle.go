package value

import (
	"sync/atomic"
)

// Handle owns one slot buffer plus its version and access-frequency counters.
// The buffer's length is fixed at allocation; the logical size is how much of
// it the last Write filled.
//
// A handle starts with a single owner reference. Destroy drops that reference;
// readers that must survive a concurrent eviction take extra references with
// Pin. The buffer goes back to the allocator when the last reference is gone,
// so a pinned handle keeps valid bytes even after it was destroyed.
type Handle struct {
	buf       []byte
	size      atomic.Int64
	version   atomic.Int64
	freq      atomic.Int64
	refs      atomic.Int32
	destroyed atomic.Bool
	alloc     *Allocator
}

func newHandle(alloc *Allocator, buf []byte) *Handle {
	h := &Handle{buf: buf, alloc: alloc}
	h.size.Store(int64(len(buf)))
	h.refs.Store(1)
	return h
}

// Bytes returns the slot payload up to its logical size. The slice aliases
// the handle's buffer.
func (h *Handle) Bytes() []byte {
	return h.buf[:h.size.Load()]
}

// Size is the logical payload length.
func (h *Handle) Size() int {
	return int(h.size.Load())
}

// Len is the allocation length requested when the handle was created.
func (h *Handle) Len() int {
	return len(h.buf)
}

// Write copies p into the payload, sets the logical size to the number of
// bytes copied and returns it.
func (h *Handle) Write(p []byte) int {
	n := copy(h.buf, p)
	h.size.Store(int64(n))
	return n
}

// Resize sets the logical size without touching the bytes. It reports false
// if n does not fit the allocation.
func (h *Handle) Resize(n int) bool {
	if n < 0 || n > len(h.buf) {
		return false
	}
	h.size.Store(int64(n))
	return true
}

func (h *Handle) Version() int64 {
	return h.version.Load()
}

func (h *Handle) SetVersion(v int64) {
	h.version.Store(v)
}

// BumpVersion increments the version and returns the new value.
func (h *Handle) BumpVersion() int64 {
	return h.version.Add(1)
}

func (h *Handle) Freq() int64 {
	return h.freq.Load()
}

func (h *Handle) SetFreq(f int64) {
	h.freq.Store(f)
}

// AddFreq records n accesses.
func (h *Handle) AddFreq(n int64) int64 {
	return h.freq.Add(n)
}

// Pin takes a reader reference. It fails once the buffer has been released.
func (h *Handle) Pin() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Unpin drops a reference taken by Pin.
func (h *Handle) Unpin() {
	if h.refs.Add(-1) == 0 {
		h.release()
	}
}

// Destroy drops the owner reference. It is safe to call more than once; only
// the first call has an effect.
func (h *Handle) Destroy() {
	if !h.destroyed.CompareAndSwap(false, true) {
		return
	}
	h.Unpin()
}

// Destroyed reports whether Destroy has been called.
func (h *Handle) Destroyed() bool {
	return h.destroyed.Load()
}

// Released reports whether the buffer has been returned to the allocator.
func (h *Handle) Released() bool {
	return h.refs.Load() <= 0
}

// release returns the accounting to the allocator. buf is left in place:
// unpinned readers may still hold the handle.
func (h *Handle) release() {
	if h.alloc != nil {
		h.alloc.free(len(h.buf))
	}
}
