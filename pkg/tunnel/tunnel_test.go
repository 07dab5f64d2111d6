package tunnel

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlefox/cacherelay/pkg/sock"
)

func TestRelayIsBidirectionalAndSymmetric(t *testing.T) {
	clientA, clientB := sock.NewPipe()
	upstreamA, upstreamB := sock.NewPipe()

	done := make(chan struct{})
	go func() {
		Relay(clientB, upstreamA, zerolog.Nop())
		close(done)
	}()

	go func() {
		_, _ = clientA.Send([]byte("ping"))
	}()
	buf := make([]byte, 4)
	n, err := io.ReadFull(upstreamB.RawConn(), buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))

	go func() {
		_, _ = upstreamB.Send([]byte("pong!"))
	}()
	buf2 := make([]byte, 5)
	n2, err := io.ReadFull(clientA.RawConn(), buf2)
	require.NoError(t, err)
	assert.Equal(t, "pong!", string(buf2[:n2]))

	_ = clientA.Close()
	_ = upstreamB.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not exit after both peers closed")
	}
}
