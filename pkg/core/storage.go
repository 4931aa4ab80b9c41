package core

import (
	"tierkv/pkg/common"
	"tierkv/pkg/config"
	"tierkv/pkg/monitor"
	"tierkv/pkg/value"
)

// Kind names a storage composition.
type Kind int

const (
	KindSingleTier Kind = iota
	KindTiered
)

func (k Kind) String() string {
	switch k {
	case KindSingleTier:
		return "single-tier"
	case KindTiered:
		return "tiered"
	default:
		return "unknown"
	}
}

// Storage is the surface every composition honours. Operations a composition
// cannot support are not part of it: the raw-handle insert and the copy-back
// create exist only on SingleTierStore, so calling them on a tiered store does
// not compile.
type Storage interface {
	Get(key common.KeyType) (*value.Handle, error)
	View(key common.KeyType, fn func(h *value.Handle) error) error
	Insert(key common.KeyType, allocLen int) (*value.Handle, error)
	GetOrCreate(key common.KeyType, size int) (*value.Handle, error)
	Put(key common.KeyType, payload []byte) error
	Remove(key common.KeyType) error

	LookupTier(key common.KeyType) common.Tier
	Size() int64
	SizeAt(tier common.Tier) int64

	Snapshot() (*Snapshot, error)
	CheckpointSnapshot(cfg config.CheckpointConfig, filter FilterPolicy) (*Checkpoint, error)
	IteratorLock()
	IteratorUnlock()

	Shrink(args common.ShrinkArgs) error
	SetTotalDims(n int64)

	Kind() Kind
	UsesPersistentStorage() bool
	Stats() *monitor.TierStats
	Allocator() *value.Allocator
	PendingFrees() int
	Close() error
}

// MultiTier is implemented by compositions with a lower tier to demote into.
type MultiTier interface {
	Storage
	Eviction(keys []common.KeyType) error
	EvictionWithDelayedDestroy(keys []common.KeyType) error
	Demote(keys []common.KeyType) (int, error)
	HotCandidates(fn func(key common.KeyType, h *value.Handle) bool)
}

var (
	_ MultiTier = (*TieredStore)(nil)
	_ Storage   = (*SingleTierStore)(nil)
)
