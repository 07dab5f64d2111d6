// Package sock is the socket abstraction every other component talks
// through instead of calling net directly, so pkg/relay and pkg/tunnel
// can be exercised against an in-memory fake in tests.
package sock

import (
	"context"
	"net"
	"syscall"
	"time"
)

// Socket is the capability set a connection handler needs from either a
// client or an upstream connection.
type Socket interface {
	Send(b []byte) (int, error)
	Recv(max int) ([]byte, error)
	Close() error
	ShutdownWrite() error
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
	// RawConn exposes the underlying net.Conn for the tunnel's
	// read/write copy loops and for SetNoDelay.
	RawConn() net.Conn
}

// Listener accepts incoming Sockets.
type Listener interface {
	Accept() (Socket, error)
	Close() error
	Addr() net.Addr
}

// TCPSocket wraps a *net.TCPConn.
type TCPSocket struct {
	conn *net.TCPConn
}

// NewTCPSocket wraps an already-established TCP connection.
func NewTCPSocket(conn *net.TCPConn) *TCPSocket {
	return &TCPSocket{conn: conn}
}

func (s *TCPSocket) Send(b []byte) (int, error) { return s.conn.Write(b) }

func (s *TCPSocket) Recv(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := s.conn.Read(buf)
	return buf[:n], err
}

func (s *TCPSocket) Close() error                      { return s.conn.Close() }
func (s *TCPSocket) ShutdownWrite() error               { return s.conn.CloseWrite() }
func (s *TCPSocket) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *TCPSocket) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *TCPSocket) RemoteAddr() net.Addr               { return s.conn.RemoteAddr() }
func (s *TCPSocket) RawConn() net.Conn                  { return s.conn }
func (s *TCPSocket) SetNoDelay(nodelay bool) error      { return s.conn.SetNoDelay(nodelay) }

// TCPListener wraps a *net.TCPListener with SO_REUSEADDR already applied
// at construction time.
type TCPListener struct {
	ln *net.TCPListener
}

// Listen binds addr (e.g. ":12345") with SO_REUSEADDR set and the given
// backlog, and returns a Listener producing TCPSockets on Accept.
func Listen(addr string, backlog int) (*TCPListener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	pc, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	ln := pc.(*net.TCPListener)
	_ = backlog // Go's net package manages its own accept backlog; kept for interface parity with the spec's bind/listen/accept split.
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept() (Socket, error) {
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	return NewTCPSocket(conn), nil
}

func (l *TCPListener) Close() error   { return l.ln.Close() }
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Connect dials host:port over TCP, hostname resolution happening
// inside the dial as the spec requires.
func Connect(host, port string, timeout time.Duration) (Socket, error) {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), timeout)
	if err != nil {
		return nil, err
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		_ = conn.Close()
		return nil, syscall.EINVAL
	}
	return NewTCPSocket(tcpConn), nil
}
