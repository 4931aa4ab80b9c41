package core

import (
	"tierkv/pkg/common"
	"tierkv/pkg/config"
	"tierkv/pkg/value"
)

// Snapshot holds the hot contents followed by the cold contents. The two
// parts are each consistent but taken under different locks, so a key that
// migrated in between may appear twice or not at all.
type Snapshot struct {
	Keys    []common.KeyType
	Handles []*value.Handle

	// Handles[:hotCount] are live hot-tier handles pinned by the snapshot;
	// the rest are detached cold copies owned by the snapshot.
	hotCount int
}

// HotCount is the number of leading entries that came from the hot tier.
func (s *Snapshot) HotCount() int {
	return s.hotCount
}

// Release unpins the hot handles and destroys the cold copies.
func (s *Snapshot) Release() {
	for i, h := range s.Handles {
		if i < s.hotCount {
			h.Unpin()
		} else {
			h.Destroy()
		}
	}
	s.Handles = nil
	s.Keys = nil
}

// pinHot pins every handle, dropping entries that were released before the
// pin landed.
func pinHot(keys []common.KeyType, handles []*value.Handle) ([]common.KeyType, []*value.Handle) {
	n := 0
	for i, h := range handles {
		if h.Pin() {
			keys[n] = keys[i]
			handles[n] = h
			n++
		}
	}
	return keys[:n], handles[:n]
}

// CheckpointEntry is a materialized hot-tier slot.
type CheckpointEntry struct {
	Key     common.KeyType
	Value   []byte
	Version int64
	Freq    int64
}

// ColdIterator streams serialized cold-tier slots in key order.
type ColdIterator interface {
	Next() bool
	Key() common.KeyType
	Value() []byte
	Err() error
	Close() error
}

// Checkpoint is the result of CheckpointSnapshot: hot entries materialized
// eagerly, cold entries left to a lazy iterator (nil for single-tier stores).
type Checkpoint struct {
	Entries []CheckpointEntry
	Cold    ColdIterator
}

// HotCount is the number of hot-tier entries materialized.
func (c *Checkpoint) HotCount() int64 {
	return int64(len(c.Entries))
}

// Close releases the cold iterator.
func (c *Checkpoint) Close() error {
	if c.Cold == nil {
		return nil
	}
	return c.Cold.Close()
}

// FilterPolicy decides whether and how a slot enters a checkpoint.
type FilterPolicy interface {
	Filter(key common.KeyType, h *value.Handle, cfg config.CheckpointConfig) (CheckpointEntry, bool)
}

// FilterFunc adapts a function to FilterPolicy.
type FilterFunc func(key common.KeyType, h *value.Handle, cfg config.CheckpointConfig) (CheckpointEntry, bool)

func (f FilterFunc) Filter(key common.KeyType, h *value.Handle, cfg config.CheckpointConfig) (CheckpointEntry, bool) {
	return f(key, h, cfg)
}

// PassThrough admits every slot.
type PassThrough struct{}

func (PassThrough) Filter(key common.KeyType, h *value.Handle, cfg config.CheckpointConfig) (CheckpointEntry, bool) {
	return materialize(key, h, cfg), true
}

// FrequencyFilter admits slots accessed at least cfg.MinFrequency times.
type FrequencyFilter struct{}

func (FrequencyFilter) Filter(key common.KeyType, h *value.Handle, cfg config.CheckpointConfig) (CheckpointEntry, bool) {
	if h.Freq() < cfg.MinFrequency {
		return CheckpointEntry{}, false
	}
	return materialize(key, h, cfg), true
}

func materialize(key common.KeyType, h *value.Handle, cfg config.CheckpointConfig) CheckpointEntry {
	e := CheckpointEntry{
		Key:     key,
		Value:   append([]byte(nil), h.Bytes()...),
		Version: -1,
	}
	if cfg.SaveVersion {
		e.Version = h.Version()
	}
	if cfg.SaveFrequency {
		e.Freq = h.Freq()
	}
	return e
}

func materializeAll(keys []common.KeyType, handles []*value.Handle, cfg config.CheckpointConfig, filter FilterPolicy) []CheckpointEntry {
	if filter == nil {
		filter = PassThrough{}
	}
	out := make([]CheckpointEntry, 0, len(keys))
	for i, k := range keys {
		if e, ok := filter.Filter(k, handles[i], cfg); ok {
			out = append(out, e)
		}
	}
	return out
}
