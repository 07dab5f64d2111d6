package sock

import (
	"net"
	"time"
)

// PipeSocket adapts a net.Conn (typically one end of a net.Pipe) to the
// Socket interface so pkg/relay and pkg/tunnel can be tested without a
// real listening port.
type PipeSocket struct {
	conn net.Conn
}

// NewPipeSocket wraps conn as a Socket.
func NewPipeSocket(conn net.Conn) *PipeSocket {
	return &PipeSocket{conn: conn}
}

func (p *PipeSocket) Send(b []byte) (int, error) { return p.conn.Write(b) }

func (p *PipeSocket) Recv(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := p.conn.Read(buf)
	return buf[:n], err
}

func (p *PipeSocket) Close() error { return p.conn.Close() }

// ShutdownWrite is a no-op on net.Pipe, which has no half-close; callers
// relying on it to flush before teardown should not assume real
// TCP-style half-close semantics from this fake.
func (p *PipeSocket) ShutdownWrite() error              { return nil }
func (p *PipeSocket) SetDeadline(t time.Time) error     { return p.conn.SetDeadline(t) }
func (p *PipeSocket) SetReadDeadline(t time.Time) error { return p.conn.SetReadDeadline(t) }
func (p *PipeSocket) RemoteAddr() net.Addr              { return p.conn.RemoteAddr() }
func (p *PipeSocket) RawConn() net.Conn                 { return p.conn }

// NewPipe returns two connected Sockets, analogous to a client/server
// pair, for driving pkg/relay and pkg/tunnel tests in-process.
func NewPipe() (client, server Socket) {
	a, b := net.Pipe()
	return NewPipeSocket(a), NewPipeSocket(b)
}
