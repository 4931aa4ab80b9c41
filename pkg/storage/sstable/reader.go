package sstable

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"tierkv/pkg/common"
	"tierkv/pkg/model"
)

var (
	ErrTooSmall = errors.New("sstable: file too small")
	ErrBadMagic = errors.New("sstable: invalid magic number")
)

type SSTable struct {
	file         *os.File
	dataSize     int64
	count        int64
	indexKeys    []common.KeyType
	indexOffsets []int64
	index        model.Model
}

func Open(filename string) (*SSTable, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	t, err := load(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func load(f *os.File) (*SSTable, error) {
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < footerSize+4 {
		return nil, ErrTooSmall
	}

	var footer [3]int64
	if err := binary.Read(io.NewSectionReader(f, size-footerSize, footerSize), binary.LittleEndian, &footer); err != nil {
		return nil, err
	}
	indexOffset, count, magic := footer[0], footer[1], footer[2]
	if magic != MagicNumber {
		return nil, ErrBadMagic
	}
	if indexOffset < 0 || indexOffset > size-footerSize-4 {
		return nil, ErrTooSmall
	}

	r := bufio.NewReader(io.NewSectionReader(f, indexOffset, size-footerSize-indexOffset))
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}

	keys := make([]common.KeyType, n)
	offsets := make([]int64, n)
	for i := 0; i < int(n); i++ {
		var pair [2]int64
		if err := binary.Read(r, binary.LittleEndian, &pair); err != nil {
			return nil, err
		}
		keys[i] = common.KeyType(pair[0])
		offsets[i] = pair[1]
	}

	// one linear segment per ~16 index points
	rmi := model.NewRMIModel(len(keys)/16 + 1)
	rmi.Train(keys)

	return &SSTable{
		file:         f,
		dataSize:     indexOffset,
		count:        count,
		indexKeys:    keys,
		indexOffsets: offsets,
		index:        rmi,
	}, nil
}

// Count is the number of entries in the table.
func (t *SSTable) Count() int64 {
	return t.count
}

// Get finds key by jumping to the nearest sparse index point and scanning.
// The index point is located through the learned model over the index keys.
func (t *SSTable) Get(key common.KeyType) (Entry, bool, error) {
	start := model.Floor(t.index, t.indexKeys, key)
	if start < 0 {
		return Entry{}, false, nil
	}

	it := t.iteratorFrom(t.indexOffsets[start])
	for it.Next() {
		e := it.Entry()
		if e.Key == key {
			return e, true, nil
		}
		if e.Key > key {
			break
		}
	}
	return Entry{}, false, it.Err()
}

// NewIterator scans every entry in key order.
func (t *SSTable) NewIterator() *Iterator {
	return t.iteratorFrom(0)
}

func (t *SSTable) iteratorFrom(offset int64) *Iterator {
	return &Iterator{
		r: bufio.NewReader(io.NewSectionReader(t.file, offset, t.dataSize-offset)),
	}
}

func (t *SSTable) Close() error {
	return t.file.Close()
}

// Iterator reads entries sequentially. It is not safe for concurrent use, but
// several iterators may share one table.
type Iterator struct {
	r   *bufio.Reader
	cur Entry
	err error
}

func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	var hdr [entryHeaderSize]byte
	if _, err := io.ReadFull(it.r, hdr[:]); err != nil {
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		return false
	}
	val := make([]byte, binary.LittleEndian.Uint32(hdr[24:28]))
	if _, err := io.ReadFull(it.r, val); err != nil {
		it.err = err
		return false
	}
	it.cur = Entry{
		Key:     common.KeyType(binary.LittleEndian.Uint64(hdr[0:8])),
		Version: int64(binary.LittleEndian.Uint64(hdr[8:16])),
		Freq:    int64(binary.LittleEndian.Uint64(hdr[16:24])),
		Value:   val,
	}
	return true
}

func (it *Iterator) Entry() Entry {
	return it.cur
}

func (it *Iterator) Key() common.KeyType {
	return it.cur.Key
}

func (it *Iterator) Value() []byte {
	return it.cur.Value
}

func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) Close() error {
	return nil
}
