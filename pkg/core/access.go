package core

import (
	"errors"
	"fmt"
	"sort"

	"tierkv/pkg/common"
	"tierkv/pkg/value"
)

// View runs fn against key's slot. A hot handle stays pinned for the duration
// of fn; a cold hit is a private copy released afterwards. fn must not retain
// the handle.
func (ts *TieredStore) View(key common.KeyType, fn func(h *value.Handle) error) error {
	for attempt := 0; ; attempt++ {
		for {
			h, err := ts.hot.Get(key)
			if err != nil {
				break
			}
			if h.Pin() {
				ts.stats.RecordLookup(int(common.TierHot))
				defer h.Unpin()
				return fn(h)
			}
			// released under us: the key has moved to the cold tier
		}

		h, err := ts.cold.Get(key)
		if errors.Is(err, common.ErrNotFound) && attempt == 0 && ts.hot.Contains(key) == nil {
			// promoted between the two probes
			continue
		}
		if err != nil {
			ts.stats.RecordLookup(int(common.TierNone))
			return err
		}
		ts.stats.RecordLookup(int(common.TierCold))
		defer h.Destroy()
		return fn(h)
	}
}

func (ss *SingleTierStore) View(key common.KeyType, fn func(h *value.Handle) error) error {
	for {
		h, err := ss.Get(key)
		if err != nil {
			return err
		}
		if h.Pin() {
			defer h.Unpin()
			return fn(h)
		}
	}
}

// writeSlot copies payload into h and bumps its version. The caller holds
// key's lock. A slot keeps its allocation; a longer payload is rejected.
func writeSlot(key common.KeyType, h *value.Handle, payload []byte) error {
	if h.Len() < len(payload) {
		return fmt.Errorf("put %d: %w (%d > %d)", key, common.ErrSlotTooSmall, len(payload), h.Len())
	}
	h.Write(payload)
	h.BumpVersion()
	return nil
}

// Read copies key's payload out of the store.
func Read(s Storage, key common.KeyType) ([]byte, error) {
	var out []byte
	err := s.View(key, func(h *value.Handle) error {
		out = append([]byte(nil), h.Bytes()...)
		return nil
	})
	return out, err
}

// Scan returns copies of every record with start <= key <= end in key order.
// It is built on Snapshot and carries its cross-tier caveats; a key seen in
// both tiers is reported once, from the hot side.
func Scan(s Storage, start, end common.KeyType) ([]common.Record, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	seen := make(map[common.KeyType]bool)
	var out []common.Record
	for i, k := range snap.Keys {
		if k < start || k > end || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, common.Record{
			Key:   k,
			Value: append([]byte(nil), snap.Handles[i].Bytes()...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
