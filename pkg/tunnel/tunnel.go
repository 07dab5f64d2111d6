// Package tunnel relays bytes between a client and an upstream socket
// for the lifetime of a CONNECT request. It owns both sockets exclusively
// for the duration of the relay and closes both on exit, so ownership of
// the underlying file descriptors is never split between this package
// and its caller.
package tunnel

import (
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/brindlefox/cacherelay/pkg/sock"
)

// pollInterval is the read-deadline refresh period. Go has no direct
// analogue of poll()/select() over non-blocking sockets without dropping
// to golang.org/x/sys/unix, so a rolling deadline plays the same role: a
// deadline expiry is not an error, just another iteration of the copy
// loop, matching "poll timeout with no events: loop again".
const pollInterval = 30 * time.Second

// noDelaySetter is implemented by real TCP connections; a net.Pipe used
// in tests does not implement it, so callers fall back silently.
type noDelaySetter interface {
	SetNoDelay(bool) error
}

// Relay copies bytes bidirectionally between client and upstream until
// either side closes or errors, then closes both sockets. It blocks
// until the relay ends.
func Relay(client, upstream sock.Socket, log zerolog.Logger) {
	defer client.Close()
	defer upstream.Close()

	if nd, ok := client.RawConn().(noDelaySetter); ok {
		_ = nd.SetNoDelay(true)
	}

	done := make(chan struct{}, 2)
	go func() {
		copyLoop(upstream.RawConn(), client.RawConn(), client)
		done <- struct{}{}
	}()
	go func() {
		copyLoop(client.RawConn(), upstream.RawConn(), upstream)
		done <- struct{}{}
	}()

	<-done
	log.Info().Msg("Tunnel closed")
}

// copyLoop reads from src and writes to dst, refreshing src's read
// deadline before every read. A deadline timeout is swallowed and the
// loop simply continues; any other read/write error, or a clean EOF,
// ends the loop, mirroring "either side flagged closed" and "error or
// hangup" from the connection-terminated case.
func copyLoop(dst, src net.Conn, srcSocket sock.Socket) {
	buf := make([]byte, 8*1024)
	for {
		_ = srcSocket.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := src.Read(buf)
		if n > 0 {
			if werr := writeAll(dst, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return
		}
	}
}

// writeAll retries a short write until every byte is sent or an error
// occurs, matching the spec's "complete-write" requirement.
func writeAll(dst net.Conn, b []byte) error {
	for len(b) > 0 {
		n, err := dst.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
