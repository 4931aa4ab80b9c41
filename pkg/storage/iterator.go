package storage

import (
	"database/sql"
	"fmt"

	"tierkv/pkg/common"
	"tierkv/pkg/value"
)

// Iterator streams the cold tier in key order. It is forward-only and not
// restartable. It is only guaranteed consistent while the caller holds the
// cold tier's guarding lock.
type Iterator struct {
	rows *sql.Rows
	err  error

	key      common.KeyType
	version  int64
	freq     int64
	capacity int64
	payload  []byte
}

// Iterator opens a lazy scan over every slot.
func (cs *ColdStore) Iterator() (*Iterator, error) {
	rows, err := cs.db.Query("SELECT key, version, freq, capacity, value FROM slots ORDER BY key ASC")
	if err != nil {
		return nil, fmt.Errorf("cold iterator: %w", err)
	}
	return &Iterator{rows: rows}, nil
}

func (it *Iterator) Next() bool {
	if it.err != nil || it.rows == nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	var k int64
	if err := it.rows.Scan(&k, &it.version, &it.freq, &it.capacity, &it.payload); err != nil {
		it.err = err
		return false
	}
	it.key = common.KeyType(k)
	return true
}

func (it *Iterator) Key() common.KeyType {
	return it.key
}

// Value returns the serialized slot (see value.EncodeParts).
func (it *Iterator) Value() []byte {
	return value.EncodeParts(it.version, it.freq, it.payload)
}

func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) Close() error {
	if it.rows == nil {
		return nil
	}
	err := it.rows.Close()
	it.rows = nil
	return err
}
