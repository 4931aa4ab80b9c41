package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	MagicNumber = 0x54

	OpPut   = 0x01
	OpGet   = 0x02
	OpDel   = 0x03
	OpScan  = 0x04
	OpEvict = 0x05
	OpTier  = 0x06
	OpSize  = 0x07

	RespOK  = 0x00
	RespErr = 0xFF
	RespVal = 0x01

	// RespNotFound carries no payload; clients map it to common.ErrNotFound.
	RespNotFound = 0x02
)

var (
	ErrInvalidMagic = errors.New("invalid magic number")
	ErrMalformed    = errors.New("malformed payload")
)

// Frame: [Magic 1][Op 1][KeyLen 2][ValLen 4][Key][Value], big endian.
type Packet struct {
	Op    byte
	Key   []byte
	Value []byte
}

func Encode(w io.Writer, op byte, key []byte, value []byte) error {
	buf := make([]byte, 8+len(key)+len(value))
	buf[0] = MagicNumber
	buf[1] = op
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[8:], key)
	copy(buf[8+len(key):], value)

	_, err := w.Write(buf)
	return err
}

func Decode(r io.Reader) (*Packet, error) {
	header := make([]byte, 8)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != MagicNumber {
		return nil, ErrInvalidMagic
	}

	op := header[1]
	kLen := binary.BigEndian.Uint16(header[2:4])
	vLen := binary.BigEndian.Uint32(header[4:8])

	key := make([]byte, kLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	val := make([]byte, vLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return nil, err
	}

	return &Packet{Op: op, Key: key, Value: val}, nil
}
