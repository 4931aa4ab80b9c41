package value

import (
	"encoding/binary"
	"errors"
)

// Serialized slot layout, little endian:
// [Version 8B] [Freq 8B] [PayloadLen 4B] [Payload NB]
const HeaderSize = 8 + 8 + 4

var errShortSlot = errors.New("value: serialized slot too short")

// Encode serializes a handle's counters and payload.
func Encode(h *Handle) []byte {
	return EncodeParts(h.Version(), h.Freq(), h.Bytes())
}

// EncodeParts serializes a slot from its parts.
func EncodeParts(version, freq int64, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint64(out[0:8], uint64(version))
	binary.LittleEndian.PutUint64(out[8:16], uint64(freq))
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// DecodeParts splits a serialized slot. The payload aliases data.
func DecodeParts(data []byte) (version, freq int64, payload []byte, err error) {
	if len(data) < HeaderSize {
		return 0, 0, nil, errShortSlot
	}
	version = int64(binary.LittleEndian.Uint64(data[0:8]))
	freq = int64(binary.LittleEndian.Uint64(data[8:16]))
	n := binary.LittleEndian.Uint32(data[16:20])
	if uint64(len(data)-HeaderSize) < uint64(n) {
		return 0, 0, nil, errShortSlot
	}
	return version, freq, data[HeaderSize : HeaderSize+int(n)], nil
}

// Decode materializes a serialized slot into a fresh handle owned by the
// caller. minLen pads the allocation for fixed-width layouts.
func Decode(alloc *Allocator, data []byte, minLen int) (*Handle, error) {
	version, freq, payload, err := DecodeParts(data)
	if err != nil {
		return nil, err
	}
	return Materialize(alloc, version, freq, payload, minLen)
}

// Materialize builds a handle from already decoded parts. The allocation is
// at least minLen bytes; the logical size is len(payload).
func Materialize(alloc *Allocator, version, freq int64, payload []byte, minLen int) (*Handle, error) {
	n := len(payload)
	if minLen > n {
		n = minLen
	}
	h, err := alloc.Allocate(n)
	if err != nil {
		return nil, err
	}
	h.Write(payload)
	h.SetVersion(version)
	h.SetFreq(freq)
	return h, nil
}
