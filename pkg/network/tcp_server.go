package network

import (
	"errors"
	"io"
	"net"
	"sync"

	"tierkv/pkg/common"
	"tierkv/pkg/core"
	"tierkv/pkg/protocol"

	"go.uber.org/zap"
)

var errNoLowerTier = errors.New("store has no tier to evict into")

type TCPServer struct {
	store  core.Storage
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   bool
}

func NewTCPServer(store core.Storage, logger *zap.Logger) *TCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPServer{
		store:  store,
		logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
}

func (s *TCPServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections until Close. It returns nil after Close.
func (s *TCPServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("tcp listening", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// Close stops accepting, closes open connections and waits for handlers.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

func (s *TCPServer) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
	}()

	for {
		req, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("tcp decode failed",
					zap.String("remote", conn.RemoteAddr().String()),
					zap.Error(err))
			}
			return
		}

		op, val, err := s.dispatch(req)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				op, val = protocol.RespNotFound, nil
			} else {
				op, val = protocol.RespErr, []byte(err.Error())
			}
		}
		if err := protocol.Encode(conn, op, nil, val); err != nil {
			return
		}
	}
}

func (s *TCPServer) dispatch(req *protocol.Packet) (byte, []byte, error) {
	switch req.Op {
	case protocol.OpPut:
		k, err := protocol.KeyFromBytes(req.Key)
		if err != nil {
			return 0, nil, err
		}
		return protocol.RespOK, nil, s.store.Put(k, req.Value)

	case protocol.OpGet:
		k, err := protocol.KeyFromBytes(req.Key)
		if err != nil {
			return 0, nil, err
		}
		val, err := core.Read(s.store, k)
		return protocol.RespVal, val, err

	case protocol.OpDel:
		k, err := protocol.KeyFromBytes(req.Key)
		if err != nil {
			return 0, nil, err
		}
		return protocol.RespOK, nil, s.store.Remove(k)

	case protocol.OpScan:
		// Key=StartKey, Value=EndKey
		start, err := protocol.KeyFromBytes(req.Key)
		if err != nil {
			return 0, nil, err
		}
		end, err := protocol.KeyFromBytes(req.Value)
		if err != nil {
			return 0, nil, err
		}
		records, err := core.Scan(s.store, start, end)
		if err != nil {
			return 0, nil, err
		}
		return protocol.RespVal, protocol.EncodeRecords(records), nil

	case protocol.OpEvict:
		mt, ok := s.store.(core.MultiTier)
		if !ok {
			return 0, nil, errNoLowerTier
		}
		keys, err := protocol.DecodeKeys(req.Value)
		if err != nil {
			return 0, nil, err
		}
		return protocol.RespOK, nil, mt.Eviction(keys)

	case protocol.OpTier:
		k, err := protocol.KeyFromBytes(req.Key)
		if err != nil {
			return 0, nil, err
		}
		return protocol.RespVal, []byte{byte(int8(s.store.LookupTier(k)))}, nil

	case protocol.OpSize:
		sizes := protocol.Sizes{
			Total: s.store.Size(),
			Hot:   s.store.SizeAt(common.TierHot),
			Cold:  s.store.SizeAt(common.TierCold),
		}
		return protocol.RespVal, sizes.Encode(), nil

	default:
		return 0, nil, errors.New("unknown op")
	}
}
