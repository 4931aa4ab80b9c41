package core

import (
	"sync"

	"tierkv/pkg/value"
)

// invalidList parks evicted handles for a number of eviction cycles before
// destroying them, so readers that fetched a handle just before its eviction
// keep a valid buffer. Handles are also reference counted; a reader that needs
// a longer window pins the handle.
type invalidList struct {
	mu      sync.Mutex
	delay   int
	batches [][]*value.Handle
}

func newInvalidList(delay int) *invalidList {
	if delay < 1 {
		delay = 1
	}
	return &invalidList{delay: delay}
}

// rotate starts a new cycle: batches that have waited delay cycles are
// destroyed. It returns how many handles were destroyed.
func (l *invalidList) rotate() int {
	l.mu.Lock()
	var expired [][]*value.Handle
	for len(l.batches) >= l.delay {
		expired = append(expired, l.batches[0])
		l.batches = l.batches[1:]
	}
	l.batches = append(l.batches, nil)
	l.mu.Unlock()

	n := 0
	for _, batch := range expired {
		for _, h := range batch {
			h.Destroy()
		}
		n += len(batch)
	}
	return n
}

// keep parks h in the current cycle.
func (l *invalidList) keep(h *value.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.batches) == 0 {
		l.batches = append(l.batches, nil)
	}
	last := len(l.batches) - 1
	l.batches[last] = append(l.batches[last], h)
}

// drain destroys everything still parked.
func (l *invalidList) drain() int {
	l.mu.Lock()
	batches := l.batches
	l.batches = nil
	l.mu.Unlock()

	n := 0
	for _, batch := range batches {
		for _, h := range batch {
			h.Destroy()
		}
		n += len(batch)
	}
	return n
}

func (l *invalidList) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, batch := range l.batches {
		n += len(batch)
	}
	return n
}
