// Package server owns the listening socket and a fixed-size worker pool
// that drains accepted connections off a buffered queue, grounded on the
// teacher's SOCKS acceptor loop but generalized from one goroutine per
// connection to a bounded pool per the sizing requirement below.
package server

import (
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brindlefox/cacherelay/pkg/cachestore"
	"github.com/brindlefox/cacherelay/pkg/relay"
	"github.com/brindlefox/cacherelay/pkg/sock"
)

// poolSize returns max(8, 2*NumCPU), the spec's fixed worker count.
func poolSize() int {
	n := 2 * runtime.NumCPU()
	if n < 8 {
		return 8
	}
	return n
}

// Pool owns a Listener and a fixed set of workers processing accepted
// connections through pkg/relay.
type Pool struct {
	listener sock.Listener
	relayCfg relay.Config
	store    *cachestore.Store
	metrics  relay.MetricsRecorder
	log      zerolog.Logger

	queue chan sock.Socket
	done  chan struct{}
}

// New builds a Pool bound to an already-listening socket.
func New(listener sock.Listener, relayCfg relay.Config, store *cachestore.Store, metrics relay.MetricsRecorder, log zerolog.Logger) *Pool {
	return &Pool{
		listener: listener,
		relayCfg: relayCfg,
		store:    store,
		metrics:  metrics,
		log:      log,
		queue:    make(chan sock.Socket, poolSize()*4),
		done:     make(chan struct{}),
	}
}

// Run starts the workers and blocks accepting connections until Close is
// called or the listener fails permanently.
func (p *Pool) Run() {
	for i := 0; i < poolSize(); i++ {
		go p.worker()
	}
	p.acceptLoop()
}

// Close stops the acceptor; in-flight workers finish their current
// connection and then exit. Connections still waiting in the queue are
// not handled.
func (p *Pool) Close() error {
	close(p.done)
	return p.listener.Close()
}

func (p *Pool) acceptLoop() {
	backoff := 50 * time.Millisecond
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.done:
				return
			default:
			}
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			p.log.Warn().Err(err).Msg("accept error")
			time.Sleep(backoff)
			continue
		}
		select {
		case p.queue <- conn:
		case <-p.done:
			_ = conn.Close()
			return
		}
	}
}

func (p *Pool) worker() {
	for {
		select {
		case conn, ok := <-p.queue:
			if !ok {
				return
			}
			p.handleOne(conn)
		case <-p.done:
			return
		}
	}
}

func (p *Pool) handleOne(conn sock.Socket) {
	id := uuid.Must(uuid.NewV7()).String()
	connLog := p.log.With().Str("id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			connLog.Error().Interface("panic", r).Msg("ERROR Exception")
			// best-effort 500; the client may already be past parsing.
			_, _ = conn.Send([]byte("HTTP/1.1 500 Internal Server Error\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"))
			_ = conn.Close()
		}
	}()

	relay.Handle(conn, p.relayCfg, p.store, p.metrics, connLog)
}
