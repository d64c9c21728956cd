// Package stream implements a unified plaintext/TLS duplex byte stream
// over a net.Conn (Read/Unread/Write/Close), generalized with an async
// connect step, an optional TLS handshake, and delimiter/at-least-N read
// primitives a server-side listener never needs.
package stream

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Stream is the duplex byte stream the connection state machine drives.
// Implementations are move-constructible in spirit: Adopt lets a fresh
// Stream adopt an already-open net.Conn from a previous, completed
// connection, for keep-alive reuse.
type Stream interface {
	Connect(ctx context.Context, network string, endpoints []string) error
	Handshake(ctx context.Context, cfg *tls.Config, serverName string) error
	Write(buf []byte) error
	ReadUntil(delim []byte) ([]byte, error)
	ReadAtLeast(n int) ([]byte, error)
	// ReadSome returns whatever bytes are currently available, blocking for
	// at least one if the buffer is empty, matching
	// github.com/indigo-web/indigo's tcp.Client.Read semantics that the
	// chunked body decoder is built against.
	ReadSome() ([]byte, error)
	// Unread pushes bytes back to the front of the stream, for leftover
	// bytes a chunk decode pass read past its own framing.
	Unread(extra []byte)
	SetKeepAlive(bool)
	IsOpen() bool
	// Cancel aborts any in-flight read/write immediately, causing it to
	// return an error IsAborted recognizes.
	Cancel()
	Close() error
}

type netStream struct {
	mu        sync.Mutex
	conn      net.Conn
	buf       []byte
	open      bool
	keepAlive bool
}

// New returns a Stream with no underlying connection yet.
func New() Stream {
	return &netStream{}
}

// Adopt wraps an already-connected net.Conn, for a connection that reuses a
// prior connection's open socket.
func Adopt(conn net.Conn) Stream {
	return &netStream{conn: conn, open: conn != nil}
}

func (s *netStream) Connect(ctx context.Context, network string, endpoints []string) error {
	var dialer net.Dialer
	var lastErr error

	for _, addr := range endpoints {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err == nil {
			s.mu.Lock()
			s.conn = conn
			s.open = true
			s.mu.Unlock()

			return nil
		}

		lastErr = err
	}

	if lastErr == nil {
		lastErr = errors.New("no endpoints given")
	}

	return pkgerrors.Wrap(lastErr, "connect")
}

func (s *netStream) Handshake(ctx context.Context, cfg *tls.Config, serverName string) error {
	if cfg == nil {
		return nil
	}

	s.mu.Lock()
	plain := s.conn
	s.mu.Unlock()

	if plain == nil {
		return errors.New("handshake before connect")
	}

	tlsCfg := cfg.Clone()
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = serverName
	}

	tlsConn := tls.Client(plain, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return pkgerrors.Wrap(err, "tls handshake")
	}

	s.mu.Lock()
	s.conn = tlsConn
	s.mu.Unlock()

	return nil
}

func (s *netStream) Write(buf []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errors.New("write on unconnected stream")
	}

	_, err := conn.Write(buf)
	if err != nil {
		return pkgerrors.Wrap(err, "write")
	}

	return nil
}

// ReadUntil appends bytes to its internal buffer until delim appears,
// returning everything up to and including it; any bytes read past the
// delimiter stay buffered for the next call.
func (s *netStream) ReadUntil(delim []byte) ([]byte, error) {
	for {
		if idx := bytes.Index(s.buf, delim); idx != -1 {
			end := idx + len(delim)
			out := make([]byte, end)
			copy(out, s.buf[:end])
			s.buf = s.buf[end:]

			return out, nil
		}

		if err := s.fill(); err != nil {
			return nil, err
		}
	}
}

// ReadAtLeast returns at least n newly buffered bytes (or fewer, on
// EOF/error), consuming them from the internal buffer.
func (s *netStream) ReadAtLeast(n int) ([]byte, error) {
	for len(s.buf) < n {
		if err := s.fill(); err != nil {
			if len(s.buf) > 0 && errors.Is(err, io.EOF) {
				out := s.buf
				s.buf = nil

				return out, err
			}

			return nil, err
		}
	}

	out := make([]byte, n)
	copy(out, s.buf[:n])
	s.buf = s.buf[n:]

	return out, nil
}

// ReadSome returns whatever is already buffered, or blocks for one fresh
// read from the socket if the buffer is empty.
func (s *netStream) ReadSome() ([]byte, error) {
	if len(s.buf) == 0 {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}

	out := s.buf
	s.buf = nil

	return out, nil
}

// Unread pushes extra back to the front of the internal buffer.
func (s *netStream) Unread(extra []byte) {
	if len(extra) == 0 {
		return
	}

	s.buf = append(append([]byte(nil), extra...), s.buf...)
}

func (s *netStream) fill() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errors.New("read on unconnected stream")
	}

	tmp := make([]byte, 4096)
	n, err := conn.Read(tmp)
	if n > 0 {
		s.buf = append(s.buf, tmp[:n]...)
	}

	if err != nil {
		return pkgerrors.Wrap(err, "read")
	}

	return nil
}

func (s *netStream) SetKeepAlive(keepAlive bool) {
	s.keepAlive = keepAlive

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(keepAlive)
	}
}

func (s *netStream) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.open && s.conn != nil
}

// Cancel forces any in-flight Read/Write to return immediately by yanking
// the socket's deadline into the past.
func (s *netStream) Cancel() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.SetDeadline(time.Unix(0, 1))
	}
}

func (s *netStream) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.open = false
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	return conn.Close()
}

// IsSocketClosed reports whether err is one of the socket-closed indicators:
// peer EOF, connection reset, connection aborted, broken pipe, or a
// truncated TLS stream.
func IsSocketClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	if errors.Is(err, net.ErrClosed) {
		return true
	}

	return false
}

// IsAborted reports whether err is the operation-aborted marker produced by
// Cancel() forcing a deadline into the past, as opposed to a genuine I/O
// failure. A deliberately cancelled operation is never reported as an
// error to the caller.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return errors.Is(err, context.Canceled)
}
