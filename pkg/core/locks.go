package core

import (
	"sync"

	"tierkv/pkg/common"
)

// tierLocks owns both guarding locks. lock is the only way to take them
// together and always goes hot before cold.
type tierLocks struct {
	hot  *sync.Mutex
	cold *sync.Mutex
}

func (l tierLocks) lock() (unlock func()) {
	l.hot.Lock()
	l.cold.Lock()
	return func() {
		l.cold.Unlock()
		l.hot.Unlock()
	}
}

// keyStripes is the number of per-key locks in a keyLocks.
const keyStripes = 64

// keyLocks serializes every operation that publishes, replaces, moves or
// unpublishes one key's handle, and every write into it. They are taken after
// the guarding locks, never before.
type keyLocks [keyStripes]sync.Mutex

func (l *keyLocks) of(key common.KeyType) *sync.Mutex {
	return &l[uint64(key)%keyStripes]
}
