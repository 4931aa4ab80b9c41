package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"tierkv/pkg/common"
)

// File layout, little endian:
//
//	entries: [Key 8][Version 8][Freq 8][Len 4][Payload]  (ascending keys)
//	index:   [Count 4] then Count x [Key 8][Offset 8]    (every IndexRate-th entry)
//	footer:  [IndexOffset 8][Entries 8][Magic 8]
const (
	MagicNumber = 0x54494552434B5031 // "TIERCKP1"
	IndexRate   = 100

	entryHeaderSize = 8 + 8 + 8 + 4
	footerSize      = 24
)

// Entry is one checkpointed slot.
type Entry struct {
	Key     common.KeyType
	Version int64
	Freq    int64
	Value   []byte
}

type Builder struct {
	file         *os.File
	writer       *bufio.Writer
	offset       int64
	count        int64
	lastKey      common.KeyType
	indexKeys    []common.KeyType
	indexOffsets []int64
}

func NewBuilder(filename string) (*Builder, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &Builder{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Add appends e. Keys must be strictly ascending.
func (b *Builder) Add(e Entry) error {
	if b.count > 0 && e.Key <= b.lastKey {
		return fmt.Errorf("sstable: key %d added after %d", e.Key, b.lastKey)
	}
	if b.count%IndexRate == 0 {
		b.indexKeys = append(b.indexKeys, e.Key)
		b.indexOffsets = append(b.indexOffsets, b.offset)
	}

	var hdr [entryHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(e.Key))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(e.Version))
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(e.Freq))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(len(e.Value)))
	if _, err := b.writer.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := b.writer.Write(e.Value); err != nil {
		return err
	}

	b.offset += entryHeaderSize + int64(len(e.Value))
	b.lastKey = e.Key
	b.count++
	return nil
}

// Count is the number of entries added so far.
func (b *Builder) Count() int64 {
	return b.count
}

// Close writes the index and footer, syncs and closes the file.
func (b *Builder) Close() error {
	indexStart := b.offset

	if err := binary.Write(b.writer, binary.LittleEndian, int32(len(b.indexKeys))); err != nil {
		return err
	}
	for i := range b.indexKeys {
		if err := binary.Write(b.writer, binary.LittleEndian, int64(b.indexKeys[i])); err != nil {
			return err
		}
		if err := binary.Write(b.writer, binary.LittleEndian, b.indexOffsets[i]); err != nil {
			return err
		}
	}

	footer := [3]int64{indexStart, b.count, MagicNumber}
	if err := binary.Write(b.writer, binary.LittleEndian, footer); err != nil {
		return err
	}

	if err := b.writer.Flush(); err != nil {
		return err
	}
	if err := b.file.Sync(); err != nil {
		return err
	}
	return b.file.Close()
}

// Abort closes and removes a partially written file.
func (b *Builder) Abort() error {
	b.file.Close()
	return os.Remove(b.file.Name())
}
