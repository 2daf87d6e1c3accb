package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"dnscash/internal/log"
	"dnscash/internal/metrics"
	"dnscash/internal/pool"
)

// DefaultReadBufferSize is the receive buffer length. Longer datagrams are truncated.
const DefaultReadBufferSize = 4096

// Handler is a common interface that wraps logic for handling a single inbound datagram.
type Handler interface {
	// Handle processes one datagram. It runs on a pool worker; a returned error is reported by
	// the pool and does not affect other datagrams.
	Handle(ctx context.Context, datagram *Datagram) error
}

// Executor admits tasks for asynchronous execution. It is satisfied by *pool.WorkerPool.
type Executor interface {
	Enqueue(task pool.Task) bool
}

// UDPServer owns the one UDP socket used both to serve clients and to exchange messages with the
// upstream resolver.
type UDPServer struct {
	addr      string
	upstream  *net.UDPAddr
	conn      net.PacketConn
	ioHook    metrics.ConnectionIOHook
	proxyHook metrics.ProxyHook
	logger    log.Logger
	opts      UDPServerOpts
	closed    atomic.Bool
	mutex     sync.Mutex
}

// UDPServerOpts formalizes UDP server configuration options.
type UDPServerOpts struct {
	// ReadBufferSize is the size of the buffer each datagram is read into before being copied.
	ReadBufferSize int
}

// NewUDPServer creates a UDP server that will listen on addr and forward to the upstream resolver
// at upstream. It returns an error if the upstream address cannot be resolved.
func NewUDPServer(
	addr string,
	upstream string,
	ioHook metrics.ConnectionIOHook,
	proxyHook metrics.ProxyHook,
	logger log.Logger,
	opts UDPServerOpts,
) (*UDPServer, error) {
	upstreamAddr, err := net.ResolveUDPAddr("udp", upstream)
	if err != nil {
		return nil, fmt.Errorf("server: error resolving upstream address: addr=%s err=%v", upstream, err)
	}

	// Sane option defaults
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}

	return &UDPServer{
		addr:      addr,
		upstream:  upstreamAddr,
		ioHook:    ioHook,
		proxyHook: proxyHook,
		logger:    logger,
		opts:      opts,
	}, nil
}

// Listen binds the server's UDP socket. It returns an error if it fails to bind to the initialized
// address.
func (s *UDPServer) Listen() error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("server: failed to listen on UDP socket: addr=%s err=%v", s.addr, err)
	}

	s.mutex.Lock()
	s.conn = conn
	s.mutex.Unlock()

	s.logger.Info("server: listening on UDP socket: addr=%s upstream=%s", conn.LocalAddr(), s.upstream)

	return nil
}

// Serve reads datagrams until the context is cancelled or the server is closed, submitting one
// handler task per datagram to the executor. The receive buffer is reused; each datagram's payload
// is a private copy. Serve returns nil on orderly shutdown.
func (s *UDPServer) Serve(ctx context.Context, handler Handler, executor Executor) error {
	conn := s.socket()
	if conn == nil {
		return errors.New("server: serve called before listen")
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	buf := make([]byte, s.opts.ReadBufferSize)

	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			s.ioHook.EmitReadError(conn.LocalAddr())
			s.logger.Warn("server: error reading from UDP socket: err=%v", err)

			continue
		}

		datagram := &Datagram{
			Payload:  append([]byte(nil), buf[:n]...),
			Peer:     peer,
			Received: time.Now(),
		}

		task := pool.TaskFunc(func() error {
			return handler.Handle(ctx, datagram)
		})

		if !executor.Enqueue(task) {
			s.proxyHook.EmitDrop(metrics.DropOverflow, peer)
			s.logger.Debug("server: executor rejected datagram: addr=%s", peer)
		}
	}
}

// SendToPeer writes a single datagram to an arbitrary address. It is safe for concurrent use.
func (s *UDPServer) SendToPeer(peer net.Addr, msg []byte) error {
	conn := s.socket()
	if conn == nil {
		return errors.New("server: send called before listen")
	}

	n, err := conn.WriteTo(msg, peer)
	if err == nil && n != len(msg) {
		err = fmt.Errorf("short write: wrote=%d len=%d", n, len(msg))
	}

	if err != nil {
		s.ioHook.EmitWriteError(peer)
		return fmt.Errorf("server: error writing datagram: addr=%s err=%v", peer, err)
	}

	return nil
}

// SendToUpstream writes a single datagram to the upstream resolver.
func (s *UDPServer) SendToUpstream(msg []byte) error {
	return s.SendToPeer(s.upstream, msg)
}

// UpstreamAddr returns the resolved address of the upstream resolver.
func (s *UDPServer) UpstreamAddr() net.Addr {
	return s.upstream
}

// LocalAddr returns the bound address, or nil before Listen.
func (s *UDPServer) LocalAddr() net.Addr {
	if conn := s.socket(); conn != nil {
		return conn.LocalAddr()
	}

	return nil
}

// Close releases the socket, causing Serve to return.
func (s *UDPServer) Close() error {
	conn := s.socket()
	if conn == nil || s.closed.Swap(true) {
		return nil
	}

	return conn.Close()
}

func (s *UDPServer) socket() net.PacketConn {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.conn
}
