package evict

import (
	"fmt"
	"sort"

	"tierkv/pkg/common"
	"tierkv/pkg/core"
	"tierkv/pkg/value"
)

// Policy picks up to n hot-resident keys to demote.
type Policy interface {
	Name() string
	Select(store core.MultiTier, n int) []common.KeyType
}

// NewPolicy resolves a policy by its config name.
func NewPolicy(name string) (Policy, error) {
	switch name {
	case "", "lfu":
		return LFU{}, nil
	case "version":
		return OldestVersion{}, nil
	default:
		return nil, fmt.Errorf("evict: unknown policy %q", name)
	}
}

type candidate struct {
	key   common.KeyType
	score int64
}

// lowest returns the n keys with the smallest score, ties broken by key.
func lowest(store core.MultiTier, n int, score func(*value.Handle) int64) []common.KeyType {
	if n <= 0 {
		return nil
	}
	var all []candidate
	store.HotCandidates(func(key common.KeyType, h *value.Handle) bool {
		all = append(all, candidate{key: key, score: score(h)})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score < all[j].score
		}
		return all[i].key < all[j].key
	})
	if len(all) > n {
		all = all[:n]
	}
	keys := make([]common.KeyType, len(all))
	for i, c := range all {
		keys[i] = c.key
	}
	return keys
}

// LFU demotes the least frequently accessed keys.
type LFU struct{}

func (LFU) Name() string { return "lfu" }

func (LFU) Select(store core.MultiTier, n int) []common.KeyType {
	return lowest(store, n, (*value.Handle).Freq)
}

// OldestVersion demotes the keys last updated at the earliest global step.
type OldestVersion struct{}

func (OldestVersion) Name() string { return "version" }

func (OldestVersion) Select(store core.MultiTier, n int) []common.KeyType {
	return lowest(store, n, (*value.Handle).Version)
}
