package server

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brindlefox/cacherelay/pkg/cachestore"
	"github.com/brindlefox/cacherelay/pkg/relay"
	"github.com/brindlefox/cacherelay/pkg/sock"
)

// chanListener is a minimal sock.Listener fed by a channel, used so pool
// tests don't need a real TCP port.
type chanListener struct {
	ch     chan sock.Socket
	closed chan struct{}
}

func newChanListener() *chanListener {
	return &chanListener{ch: make(chan sock.Socket, 16), closed: make(chan struct{})}
}

func (l *chanListener) Accept() (sock.Socket, error) {
	select {
	case s := <-l.ch:
		return s, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *chanListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

func (l *chanListener) Addr() net.Addr { return nil }

func TestPoolProcessesQueuedConnections(t *testing.T) {
	ln := newChanListener()
	store := cachestore.New(10)
	pool := New(ln, relay.DefaultConfig(), store, nil, zerolog.Nop())

	go pool.Run()
	defer pool.Close()

	clientSide, relaySide := sock.NewPipe()
	ln.ch <- relaySide

	go func() {
		_, _ = clientSide.Send([]byte("HELLO WORLD\r\n\r\n"))
	}()

	buf := make([]byte, 512)
	_ = clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := clientSide.Recv(len(buf))
	require.NoError(t, err)
	require.Contains(t, string(data), "400 Bad Request")
}
