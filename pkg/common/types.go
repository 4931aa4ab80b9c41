package common

import "fmt"

// KeyType is the slot identifier shared by both tiers. Keys are totally ordered.
type KeyType int64

// ValueType is a raw slot payload.
type ValueType []byte

// Record is a key paired with a payload, used on the wire and in scans.
type Record struct {
	Key   KeyType
	Value ValueType
}

// String is for debug output.
func (r *Record) String() string {
	return fmt.Sprintf("Record{Key: %d, ValLen: %d}", r.Key, len(r.Value))
}

// Tier identifies where a key currently lives.
type Tier int

const (
	// TierNone means the key is absent from every tier.
	TierNone Tier = -1

	// TierHot is the bounded in-memory tier.
	TierHot Tier = 0

	// TierCold is the persistent, ordered tier.
	TierCold Tier = 1
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierHot:
		return "hot"
	case TierCold:
		return "cold"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ShrinkArgs drives time-to-live shrinking. Entries whose version is older than
// GlobalStep-StepsToLive are dropped. A non-positive StepsToLive disables shrinking.
type ShrinkArgs struct {
	GlobalStep  int64
	StepsToLive int64
}

// Threshold returns the minimum surviving version and whether shrinking applies.
func (a ShrinkArgs) Threshold() (int64, bool) {
	if a.StepsToLive <= 0 {
		return 0, false
	}
	return a.GlobalStep - a.StepsToLive, true
}
