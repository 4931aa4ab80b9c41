package protocol

import (
	"bytes"
	"encoding/binary"

	"tierkv/pkg/common"
)

func KeyBytes(k common.KeyType) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k))
	return b
}

func KeyFromBytes(b []byte) (common.KeyType, error) {
	if len(b) != 8 {
		return 0, ErrMalformed
	}
	return common.KeyType(binary.BigEndian.Uint64(b)), nil
}

// EncodeKeys: [Count 4] + [Key 8] * Count
func EncodeKeys(keys []common.KeyType) []byte {
	b := make([]byte, 4+8*len(keys))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(keys)))
	for i, k := range keys {
		binary.BigEndian.PutUint64(b[4+8*i:], uint64(k))
	}
	return b
}

func DecodeKeys(b []byte) ([]common.KeyType, error) {
	if len(b) < 4 {
		return nil, ErrMalformed
	}
	n := binary.BigEndian.Uint32(b[0:4])
	if uint64(len(b)-4) != uint64(n)*8 {
		return nil, ErrMalformed
	}
	keys := make([]common.KeyType, n)
	for i := range keys {
		keys[i] = common.KeyType(binary.BigEndian.Uint64(b[4+8*i:]))
	}
	return keys, nil
}

// EncodeRecords: [Count 4] + ([Key 8] + [ValLen 4] + [Val]) * Count
func EncodeRecords(records []common.Record) []byte {
	buf := new(bytes.Buffer)

	binary.Write(buf, binary.BigEndian, uint32(len(records)))
	for _, r := range records {
		binary.Write(buf, binary.BigEndian, int64(r.Key))
		binary.Write(buf, binary.BigEndian, uint32(len(r.Value)))
		buf.Write(r.Value)
	}
	return buf.Bytes()
}

func DecodeRecords(b []byte) ([]common.Record, error) {
	if len(b) < 4 {
		return nil, ErrMalformed
	}
	n := binary.BigEndian.Uint32(b[0:4])
	off := 4
	var out []common.Record
	for i := uint32(0); i < n; i++ {
		if len(b)-off < 12 {
			return nil, ErrMalformed
		}
		k := common.KeyType(binary.BigEndian.Uint64(b[off:]))
		vLen := int(binary.BigEndian.Uint32(b[off+8:]))
		off += 12
		if len(b)-off < vLen {
			return nil, ErrMalformed
		}
		out = append(out, common.Record{Key: k, Value: append([]byte(nil), b[off:off+vLen]...)})
		off += vLen
	}
	return out, nil
}

// Sizes is the OpSize response: total, hot and cold key counts.
type Sizes struct {
	Total int64
	Hot   int64
	Cold  int64
}

func (s Sizes) Encode() []byte {
	b := make([]byte, 24)
	binary.BigEndian.PutUint64(b[0:8], uint64(s.Total))
	binary.BigEndian.PutUint64(b[8:16], uint64(s.Hot))
	binary.BigEndian.PutUint64(b[16:24], uint64(s.Cold))
	return b
}

func DecodeSizes(b []byte) (Sizes, error) {
	if len(b) != 24 {
		return Sizes{}, ErrMalformed
	}
	return Sizes{
		Total: int64(binary.BigEndian.Uint64(b[0:8])),
		Hot:   int64(binary.BigEndian.Uint64(b[8:16])),
		Cold:  int64(binary.BigEndian.Uint64(b[16:24])),
	}, nil
}
