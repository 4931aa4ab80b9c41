package structure

import (
	"encoding/binary"
	"math"
	"sync"

	"tierkv/pkg/common"

	"github.com/cespare/xxhash/v2"
)

// BloomFilter answers "definitely absent" for keys never added. It cannot
// forget a key, so removals only cost a wasted probe.
type BloomFilter struct {
	bitset []uint64
	k      uint
	m      uint
	count  uint
	lock   sync.RWMutex
}

func NewBloomFilter(n uint, p float64) *BloomFilter {
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	// m = -(n * ln(p)) / (ln(2)^2), k = (m / n) * ln(2)
	m := uint(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := uint(math.Ceil((float64(m) / float64(n)) * math.Ln2))
	if k == 0 {
		k = 1
	}

	return &BloomFilter{
		bitset: make([]uint64, (m+63)/64),
		k:      k,
		m:      m,
	}
}

func (bf *BloomFilter) Add(key common.KeyType) {
	h1, h2 := hashes(key)

	bf.lock.Lock()
	defer bf.lock.Unlock()
	for i := uint(0); i < bf.k; i++ {
		pos := (h1 + uint64(i)*h2) % uint64(bf.m)
		bf.bitset[pos/64] |= 1 << (pos % 64)
	}
	bf.count++
}

func (bf *BloomFilter) Contains(key common.KeyType) bool {
	h1, h2 := hashes(key)

	bf.lock.RLock()
	defer bf.lock.RUnlock()
	for i := uint(0); i < bf.k; i++ {
		pos := (h1 + uint64(i)*h2) % uint64(bf.m)
		if bf.bitset[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Reset forgets every key.
func (bf *BloomFilter) Reset() {
	bf.lock.Lock()
	defer bf.lock.Unlock()
	clear(bf.bitset)
	bf.count = 0
}

// double hashing over one xxhash digest
func hashes(key common.KeyType) (uint64, uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	sum := xxhash.Sum64(buf[:])
	h1 := sum & 0xffffffff
	h2 := sum>>32 | 1
	return h1, h2
}

func (bf *BloomFilter) Stats() map[string]interface{} {
	bf.lock.RLock()
	defer bf.lock.RUnlock()
	return map[string]interface{}{
		"bloom_bits_size": bf.m,
		"bloom_hashes":    bf.k,
		"bloom_count":     bf.count,
	}
}
