package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"tierkv/pkg/common"
	"tierkv/pkg/core/structure"
	"tierkv/pkg/value"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ElemSize is the width in bytes of one element of a fixed-width slot.
const ElemSize = 4

const schema = `
CREATE TABLE IF NOT EXISTS slots (
	key      INTEGER PRIMARY KEY,
	version  INTEGER NOT NULL,
	freq     INTEGER NOT NULL,
	capacity INTEGER NOT NULL,
	value    BLOB
);`

type Options struct {
	Path           string
	BloomSize      uint
	BloomFalseProb float64
	Logger         *zap.Logger
}

// ColdStore is the cold tier: an ordered, persistent key -> slot mapping in
// SQLite. Reads run concurrently; writers are serialized by mu. The guarding
// lock returned by Mutex is independent of mu and brackets scan windows.
type ColdStore struct {
	db     *sql.DB
	mu     sync.Mutex
	guard  sync.Mutex
	alloc  *value.Allocator
	bloom  *structure.BloomFilter
	logger *zap.Logger

	totalDims atomic.Int64
	count     atomic.Int64
}

func OpenColdStore(opts Options, alloc *value.Allocator) (*ColdStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := opts.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	cs := &ColdStore{
		db:     db,
		alloc:  alloc,
		bloom:  structure.NewBloomFilter(opts.BloomSize, opts.BloomFalseProb),
		logger: logger,
	}
	if err := cs.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("cold tier opened",
		zap.String("path", opts.Path),
		zap.Int64("keys", cs.count.Load()))
	return cs, nil
}

func (cs *ColdStore) rebuildIndex() error {
	rows, err := cs.db.Query("SELECT key FROM slots")
	if err != nil {
		return fmt.Errorf("scan keys: %w", err)
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		var k int64
		if err := rows.Scan(&k); err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}
		cs.bloom.Add(common.KeyType(k))
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan keys: %w", err)
	}
	cs.count.Store(n)
	return nil
}

// SetTotalDims sets the fixed-width layout hint: decoded handles are allocated
// with at least n elements.
func (cs *ColdStore) SetTotalDims(n int64) {
	cs.totalDims.Store(n)
}

// allocLen is the allocation for a decoded slot: its stored capacity, padded
// to the fixed-width layout.
func (cs *ColdStore) allocLen(capacity int64) int {
	n := int(cs.totalDims.Load()) * ElemSize
	if int(capacity) > n {
		n = int(capacity)
	}
	return n
}

// Get decodes the slot for key into a fresh handle owned by the caller.
func (cs *ColdStore) Get(key common.KeyType) (*value.Handle, error) {
	if !cs.bloom.Contains(key) {
		return nil, common.ErrNotFound
	}

	var version, freq, capacity int64
	var payload []byte
	err := cs.db.QueryRow("SELECT version, freq, capacity, value FROM slots WHERE key = ?", int64(key)).
		Scan(&version, &freq, &capacity, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cold get %d: %w", key, err)
	}
	return value.Materialize(cs.alloc, version, freq, payload, cs.allocLen(capacity))
}

// Contains reports presence as nil or common.ErrNotFound.
func (cs *ColdStore) Contains(key common.KeyType) error {
	if !cs.bloom.Contains(key) {
		return common.ErrNotFound
	}
	var one int
	err := cs.db.QueryRow("SELECT 1 FROM slots WHERE key = ?", int64(key)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("cold contains %d: %w", key, err)
	}
	return nil
}

// Commit serializes h and upserts it under key. The logical payload and the
// allocation length are both kept. The handle stays owned by the caller.
func (cs *ColdStore) Commit(key common.KeyType, h *value.Handle) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	tx, err := cs.db.Begin()
	if err != nil {
		return fmt.Errorf("cold commit %d: %w", key, err)
	}

	var exists bool
	if err := tx.QueryRow("SELECT EXISTS(SELECT 1 FROM slots WHERE key = ?)", int64(key)).Scan(&exists); err != nil {
		tx.Rollback()
		return fmt.Errorf("cold commit %d: %w", key, err)
	}
	_, err = tx.Exec("INSERT OR REPLACE INTO slots (key, version, freq, capacity, value) VALUES (?, ?, ?, ?, ?)",
		int64(key), h.Version(), h.Freq(), h.Len(), h.Bytes())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("cold commit %d: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cold commit %d: %w", key, err)
	}

	cs.bloom.Add(key)
	if !exists {
		cs.count.Add(1)
	}
	return nil
}

// Remove deletes key. It returns common.ErrNotFound if the key was absent.
func (cs *ColdStore) Remove(key common.KeyType) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	res, err := cs.db.Exec("DELETE FROM slots WHERE key = ?", int64(key))
	if err != nil {
		return fmt.Errorf("cold remove %d: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cold remove %d: %w", key, err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	cs.count.Add(-n)
	return nil
}

// Snapshot appends every slot in key order, decoded into fresh handles owned
// by the caller. Callers hold Mutex() for the scan window.
func (cs *ColdStore) Snapshot(keys *[]common.KeyType, handles *[]*value.Handle) error {
	it, err := cs.Iterator()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		h, err := value.Materialize(cs.alloc, it.version, it.freq, it.payload, cs.allocLen(it.capacity))
		if err != nil {
			return fmt.Errorf("cold snapshot: %w", err)
		}
		*keys = append(*keys, it.Key())
		*handles = append(*handles, h)
	}
	return it.Err()
}

// Shrink deletes slots older than the args' threshold.
func (cs *ColdStore) Shrink(args common.ShrinkArgs) (int64, error) {
	threshold, ok := args.Threshold()
	if !ok {
		return 0, nil
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	res, err := cs.db.Exec("DELETE FROM slots WHERE version < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cold shrink: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cold shrink: %w", err)
	}
	cs.count.Add(-n)
	return n, nil
}

// Size is the number of persisted keys.
func (cs *ColdStore) Size() int64 {
	return cs.count.Load()
}

// Mutex exposes the guarding lock.
func (cs *ColdStore) Mutex() *sync.Mutex {
	return &cs.guard
}

// Truncate deletes every slot.
func (cs *ColdStore) Truncate() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, err := cs.db.Exec("DELETE FROM slots"); err != nil {
		return fmt.Errorf("cold truncate: %w", err)
	}
	cs.count.Store(0)
	cs.bloom.Reset()
	return nil
}

func (cs *ColdStore) Stats() map[string]interface{} {
	stats := cs.bloom.Stats()
	stats["cold_keys"] = cs.count.Load()
	stats["total_dims"] = cs.totalDims.Load()
	return stats
}

func (cs *ColdStore) Close() error {
	return cs.db.Close()
}
