package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"tierkv/pkg/common"
	"tierkv/pkg/protocol"
)

// ServerError is an error reported by the server.
type ServerError struct {
	Msg string
}

func (e *ServerError) Error() string {
	return "server: " + e.Msg
}

type Client struct {
	conn    net.Conn
	addr    string
	timeout time.Duration
}

func Dial(addr string) (*Client, error) {
	c := &Client{addr: addr, timeout: 5 * time.Second}
	conn, err := net.DialTimeout("tcp", addr, c.timeout)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Put(key int64, value []byte) error {
	_, err := c.call(protocol.OpPut, protocol.KeyBytes(common.KeyType(key)), value)
	return err
}

// Get returns the slot payload; common.ErrNotFound if the key is in no tier.
func (c *Client) Get(key int64) ([]byte, error) {
	return c.call(protocol.OpGet, protocol.KeyBytes(common.KeyType(key)), nil)
}

func (c *Client) Delete(key int64) error {
	_, err := c.call(protocol.OpDel, protocol.KeyBytes(common.KeyType(key)), nil)
	return err
}

func (c *Client) Scan(start, end int64) ([]common.Record, error) {
	data, err := c.call(protocol.OpScan, protocol.KeyBytes(common.KeyType(start)), protocol.KeyBytes(common.KeyType(end)))
	if err != nil {
		return nil, err
	}
	return protocol.DecodeRecords(data)
}

// Evict demotes keys to the cold tier.
func (c *Client) Evict(keys ...int64) error {
	ks := make([]common.KeyType, len(keys))
	for i, k := range keys {
		ks[i] = common.KeyType(k)
	}
	_, err := c.call(protocol.OpEvict, nil, protocol.EncodeKeys(ks))
	return err
}

// Tier reports which tier holds key.
func (c *Client) Tier(key int64) (common.Tier, error) {
	data, err := c.call(protocol.OpTier, protocol.KeyBytes(common.KeyType(key)), nil)
	if err != nil {
		return common.TierNone, err
	}
	if len(data) != 1 {
		return common.TierNone, protocol.ErrMalformed
	}
	return common.Tier(int8(data[0])), nil
}

func (c *Client) Size() (protocol.Sizes, error) {
	data, err := c.call(protocol.OpSize, nil, nil)
	if err != nil {
		return protocol.Sizes{}, err
	}
	return protocol.DecodeSizes(data)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request. A transport failure triggers one reconnect and
// resend; server-side errors are returned as is.
func (c *Client) call(op byte, key, val []byte) ([]byte, error) {
	resp, err := c.roundTrip(op, key, val)
	if err != nil {
		if rerr := c.reconnect(); rerr != nil {
			return nil, fmt.Errorf("%w (reconnect: %v)", err, rerr)
		}
		resp, err = c.roundTrip(op, key, val)
		if err != nil {
			return nil, err
		}
	}

	switch resp.Op {
	case protocol.RespOK, protocol.RespVal:
		return resp.Value, nil
	case protocol.RespNotFound:
		return nil, common.ErrNotFound
	case protocol.RespErr:
		return nil, &ServerError{Msg: string(resp.Value)}
	default:
		return nil, errors.New("unknown response")
	}
}

func (c *Client) roundTrip(op byte, key, val []byte) (*protocol.Packet, error) {
	if err := protocol.Encode(c.conn, op, key, val); err != nil {
		return nil, err
	}
	return protocol.Decode(c.conn)
}

func (c *Client) reconnect() error {
	c.conn.Close()
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}
