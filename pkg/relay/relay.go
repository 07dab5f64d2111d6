// Package relay implements the per-connection state machine: parse the
// request, dispatch on method, serve from cache or forward to origin or
// open a CONNECT tunnel, and close out the connection. Every accepted
// socket runs through exactly one call to Handle, top to bottom, on
// whichever worker pulled it off the pool's queue.
package relay

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/brindlefox/cacherelay/pkg/cachestore"
	"github.com/brindlefox/cacherelay/pkg/httpreq"
	"github.com/brindlefox/cacherelay/pkg/httpresp"
	"github.com/brindlefox/cacherelay/pkg/sock"
	"github.com/brindlefox/cacherelay/pkg/tunnel"
)

// MetricsRecorder is the slice of pkg/admin.Metrics this package
// depends on, kept as a local interface so relay tests don't need a
// real Prometheus registry — grounded on the teacher's cacheproxy.Metrics
// interface, which existed for the same reason.
type MetricsRecorder interface {
	ObserveRequest(outcome string, d time.Duration)
	IncOriginError()
	IncCacheError()
	InflightAdd()
	InflightDone()
}

// Config carries the tunables the connection handler needs.
type Config struct {
	ReadBufferSize int           // PARSING's initial recv size, 8 KiB per spec
	ConnectTimeout time.Duration // upstream dial timeout
	Linger         time.Duration // delay between half-close and full close
}

// DefaultConfig matches the spec's literal constants.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize: 8 * 1024,
		ConnectTimeout: 10 * time.Second,
		Linger:         300 * time.Millisecond,
	}
}

var cachedHeaderAllowlist = []string{"Content-Type", "Content-Length", "ETag", "Last-Modified", "Expires", "Cache-Control", "Date"}

// Handle runs the full state machine for one accepted client connection.
// It always closes clientSock before returning.
func Handle(clientSock sock.Socket, cfg Config, store *cachestore.Store, metrics MetricsRecorder, log zerolog.Logger) {
	defer closeConnection(clientSock, cfg, log)

	if metrics != nil {
		metrics.InflightAdd()
		defer metrics.InflightDone()
	}

	start := time.Now()
	buf := make([]byte, cfg.ReadBufferSize)
	data, err := clientSock.Recv(len(buf))
	if err != nil || len(data) == 0 {
		if len(data) == 0 && (err == nil || err == io.EOF) {
			log.Info().Msg("client closed")
		} else {
			log.Error().Err(err).Msg("recv failed")
		}
		return
	}

	req, err := httpreq.Parse(data)
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse request")
		sendError(clientSock, 400, "Bad Request")
		return
	}

	clientIP := remoteIP(clientSock)
	log.Info().Msgf("%q from %s @ %s", req.RequestLine(), clientIP, time.Now().UTC().Format(time.RFC1123))

	switch req.Method {
	case "GET":
		outcome := processGET(clientSock, req, cfg, store, metrics, log)
		if metrics != nil {
			metrics.ObserveRequest(outcome, time.Since(start))
		}
	case "POST":
		outcome := forward(clientSock, req, cfg, store, metrics, log)
		if metrics != nil {
			metrics.ObserveRequest(outcome, time.Since(start))
		}
	case "CONNECT":
		outcome := handleConnect(clientSock, req, cfg, log)
		if metrics != nil {
			metrics.ObserveRequest(outcome, time.Since(start))
		}
	default:
		log.Warn().Msgf("Unsupported method %s", req.Method)
		sendError(clientSock, 501, "Not Implemented")
	}
}

func remoteIP(s sock.Socket) string {
	addr := s.RemoteAddr()
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// processGET implements the three cache outcomes described for GET
// requests, falling through to forward on a miss or an expired entry.
func processGET(clientSock sock.Socket, req *httpreq.Request, cfg Config, store *cachestore.Store, metrics MetricsRecorder, log zerolog.Logger) string {
	key := req.Host + req.URI
	entry, ok := store.Get(key)
	now := time.Now().UTC().Unix()

	if !ok {
		log.Info().Msg("not in cache")
		return forward(clientSock, req, cfg, store, metrics, log)
	}

	timeExpired := entry.ExpiresTime != 0 && now > entry.ExpiresTime
	if timeExpired || entry.RequiresValidation {
		if timeExpired {
			log.Info().Msgf("in cache, but expired at %s", time.Unix(entry.ExpiresTime, 0).UTC().Format(time.RFC1123))
		} else {
			log.Info().Msg("in cache, requires validation")
		}
		outcome := forward(clientSock, req, cfg, store, metrics, log)
		if outcome == "miss" {
			outcome = "expired"
		}
		return outcome
	}

	log.Info().Msg("in cache, valid")
	return serveFromCache(clientSock, entry, log)
}

func serveFromCache(clientSock sock.Socket, entry cachestore.Entry, log zerolog.Logger) string {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 200 OK\r\n")
	for _, h := range entry.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	b.Write(entry.Body)

	log.Info().Msg(`Responding "HTTP/1.1 200 OK"`)
	if _, err := clientSock.Send(b.Bytes()); err != nil {
		log.Error().Err(err).Msg("send to client failed")
	}
	return "hit"
}

// forward opens a connection to the request's target, relays the raw
// request verbatim, streams the response back to the client, and caches
// the result if it qualifies.
func forward(clientSock sock.Socket, req *httpreq.Request, cfg Config, store *cachestore.Store, metrics MetricsRecorder, log zerolog.Logger) string {
	upstream, err := sock.Connect(req.Host, req.Port, cfg.ConnectTimeout)
	if err != nil {
		log.Error().Err(err).Msgf("Failed to connect to %s:%s", req.Host, req.Port)
		if metrics != nil {
			metrics.IncOriginError()
		}
		sendError(clientSock, 502, "Bad Gateway")
		return "bad_gateway"
	}
	defer upstream.Close()

	log.Info().Msgf("Requesting %q from %s", req.RequestLine(), req.Host)
	if _, err := upstream.Send(req.Raw); err != nil {
		log.Error().Err(err).Msg("failed to send request upstream")
		if metrics != nil {
			metrics.IncOriginError()
		}
		sendError(clientSock, 502, "Bad Gateway")
		return "bad_gateway"
	}

	head, err := readHeaders(upstream, cfg)
	if err != nil || len(head) == 0 {
		log.Error().Err(err).Msg("upstream closed before sending a response")
		if metrics != nil {
			metrics.IncOriginError()
		}
		sendError(clientSock, 502, "Bad Gateway")
		return "bad_gateway"
	}

	statusLine := head[:bytes.Index(head, []byte("\r\n"))]
	log.Info().Msgf("Received %q from %s", string(statusLine), req.Host)

	if _, err := clientSock.Send(head); err != nil {
		log.Error().Err(err).Msg("send to client failed")
		return "bad_gateway"
	}

	resp, err := httpresp.Parse(head, time.Now())
	if err != nil {
		log.Warn().Err(err).Msg("failed to parse upstream response headers")
		return "bad_gateway"
	}

	headerEnd := httpresp.HeaderEnd(head)
	bodySoFar := head[headerEnd:]
	cacheable := resp.Status == 200 && req.Method == "GET" && !resp.IsNoStore
	var cacheBuf bytes.Buffer
	if cacheable {
		cacheBuf.Write(bodySoFar)
	}

	bodyReceived := int64(len(bodySoFar))
	var tail []byte
	terminated := resp.IsChunked && chunkedTerminatorSeen(&tail, bodySoFar)

	// TODO: no per-read or overall deadline on this loop; a stalled
	// origin occupies the worker indefinitely. Left as-is per the
	// open question on request-level timeouts.
	buf := make([]byte, cfg.ReadBufferSize)
	for !terminated {
		if resp.ContentLength > 0 && !resp.IsChunked && bodyReceived >= resp.ContentLength {
			break
		}
		chunk, rerr := upstream.Recv(len(buf))
		if len(chunk) > 0 {
			if _, werr := clientSock.Send(chunk); werr != nil {
				log.Error().Err(werr).Msg("send to client failed")
				return "bad_gateway"
			}
			if cacheable {
				cacheBuf.Write(chunk)
			}
			bodyReceived += int64(len(chunk))
			if resp.IsChunked {
				terminated = chunkedTerminatorSeen(&tail, chunk)
			}
		}
		if rerr != nil {
			break
		}
	}

	outcome := "miss"
	if cacheable {
		outcome = cacheResponse(store, req, resp, cacheBuf.Bytes(), log)
	} else if resp.IsNoStore {
		log.Info().Msg("not cacheable because Cache-Control: no-store")
		outcome = "no_store"
	}

	log.Info().Msgf("Responding %q", string(statusLine))
	return outcome
}

// chunkedTerminatorSeen looks for the "0\r\n\r\n" chunked-encoding
// terminator across a rolling window, carrying the trailing bytes of one
// read into the next check so a terminator split across two reads is
// still recognized.
func chunkedTerminatorSeen(rolling *[]byte, chunk []byte) bool {
	combined := append(*rolling, chunk...)
	found := bytes.Contains(combined, []byte("0\r\n\r\n"))
	if len(combined) > 4 {
		*rolling = append([]byte(nil), combined[len(combined)-4:]...)
	} else {
		*rolling = append([]byte(nil), combined...)
	}
	return found
}

// readHeaders reads from upstream until the CRLFCRLF terminator appears
// or the peer closes.
func readHeaders(upstream sock.Socket, cfg Config) ([]byte, error) {
	var acc []byte
	buf := make([]byte, cfg.ReadBufferSize)
	for {
		if httpresp.HeaderEnd(acc) >= 0 {
			return acc, nil
		}
		chunk, err := upstream.Recv(len(buf))
		if len(chunk) > 0 {
			acc = append(acc, chunk...)
		}
		if err != nil {
			if httpresp.HeaderEnd(acc) >= 0 {
				return acc, nil
			}
			return acc, err
		}
	}
}

func cacheResponse(store *cachestore.Store, req *httpreq.Request, resp *httpresp.Response, body []byte, log zerolog.Logger) string {
	entry := cachestore.Entry{
		Body:               append([]byte(nil), body...),
		CreationTime:       time.Now().UTC().Unix(),
		ExpiresTime:        resp.ExpireTime,
		RequiresValidation: resp.NeedsValidation,
	}
	for _, name := range cachedHeaderAllowlist {
		if v, ok := resp.Header(name); ok {
			entry.Headers = append(entry.Headers, cachestore.HeaderField{Name: name, Value: v})
		}
	}
	store.Put(req.Host+req.URI, entry)

	switch {
	case resp.NeedsValidation:
		log.Info().Msg("cached, but requires re-validation")
	case resp.ExpireTime != 0:
		log.Info().Msgf("cached, expires at %s", time.Unix(resp.ExpireTime, 0).UTC().Format(time.RFC1123))
	default:
		log.Info().Msg("cached, expires at (unset)")
	}
	return "miss"
}

func handleConnect(clientSock sock.Socket, req *httpreq.Request, cfg Config, log zerolog.Logger) string {
	upstream, err := sock.Connect(req.Host, req.Port, cfg.ConnectTimeout)
	if err != nil {
		log.Error().Err(err).Msgf("Failed to connect to %s:%s", req.Host, req.Port)
		sendError(clientSock, 502, "Bad Gateway")
		return "bad_gateway"
	}

	const established = "HTTP/1.1 200 Connection Established\r\n\r\n"
	if _, err := clientSock.Send([]byte(established)); err != nil {
		log.Error().Err(err).Msg("failed to send connection-established reply")
		_ = upstream.Close()
		return "bad_gateway"
	}
	log.Info().Msg("Responding \"HTTP/1.1 200 Connection Established\"")

	tunnel.Relay(clientSock, upstream, log)
	return "tunnel"
}

// sendError writes one of the proxy's four synthesized error responses.
func sendError(s sock.Socket, status int, reason string) {
	body := fmt.Sprintf("Error: %s", reason)
	msg := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nConnection: close\r\nContent-Length: %d\r\n\r\n%s",
		status, reason, len(body), body)
	_, _ = s.Send([]byte(msg))
}

// closeConnection half-closes the client socket to let queued bytes
// flush, waits out a brief linger, then releases it.
func closeConnection(s sock.Socket, cfg Config, log zerolog.Logger) {
	_ = s.ShutdownWrite()
	time.Sleep(cfg.Linger)
	if err := s.Close(); err != nil {
		log.Debug().Err(err).Msg("close failed")
	}
}
