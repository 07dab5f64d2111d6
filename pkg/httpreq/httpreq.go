// Package httpreq turns raw bytes received from a client socket into a
// structured Request, byte-exact and permissive the way a forward proxy
// needs to be: it never rejects an unrecognized method, only a malformed
// request line, a malformed header line, or a missing mandatory header.
package httpreq

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// ErrInvalidRequest is returned by Parse when the request line or a
// header line is malformed, or a mandatory header is missing.
var ErrInvalidRequest = errors.New("invalid request")

// HeaderField is one "Name: Value" pair, kept in the order it was seen
// on the wire (minus later duplicates, which overwrite in place).
type HeaderField struct {
	Name  string
	Value string
}

// Request is the decoded form of a client request head plus whatever
// bytes followed the blank line.
type Request struct {
	Method  string
	URI     string
	Version string
	Headers []HeaderField

	// Host and Port come from splitting the Host header (for CONNECT, the
	// request-target) at its first colon. Port defaults to "80" when
	// there is no colon.
	Host string
	Port string

	// Body is everything after the CRLFCRLF terminator, unparsed and
	// possibly incomplete — pkg/relay owns upstream body transfer.
	Body []byte

	// Raw is the exact bytes handed to Parse, forwarded verbatim to the
	// origin by pkg/relay.
	Raw []byte
}

// RequestLine reformats the parsed method/uri/version back into the
// wire form, used in log lines. The origin receives Raw verbatim, not
// this reconstruction.
func (r *Request) RequestLine() string {
	return fmt.Sprintf("%s %s %s", r.Method, r.URI, r.Version)
}

// Header returns the value of the named header (case-insensitive) and
// whether it was present.
func (r *Request) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

var crlfcrlf = []byte("\r\n\r\n")

// Parse decodes raw into a Request. raw must contain at least the
// request line and header block; Host is mandatory for every method
// except CONNECT, whose host/port come from the request-target instead.
func Parse(raw []byte) (*Request, error) {
	head := raw
	body := []byte(nil)
	if idx := bytes.Index(raw, crlfcrlf); idx >= 0 {
		head = raw[:idx]
		body = raw[idx+len(crlfcrlf):]
	}

	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, ErrInvalidRequest
	}

	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed request line %q", ErrInvalidRequest, lines[0])
	}
	req := &Request{
		Method:  parts[0],
		URI:     parts[1],
		Version: parts[2],
		Raw:     raw,
		Body:    body,
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		sep := strings.Index(line, ": ")
		if sep < 0 {
			return nil, fmt.Errorf("%w: malformed header line %q", ErrInvalidRequest, line)
		}
		name, value := line[:sep], line[sep+2:]
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: invalid header name %q", ErrInvalidRequest, name)
		}
		setHeader(req, name, value)
	}

	if req.Method == "CONNECT" {
		host, port := splitHostPort(req.URI)
		req.Host, req.Port = host, port
		return req, nil
	}

	hostHeader, ok := req.Header("Host")
	if !ok {
		return nil, fmt.Errorf("%w: missing Host header", ErrInvalidRequest)
	}
	req.Host, req.Port = splitHostPort(hostHeader)
	return req, nil
}

// setHeader appends name/value, overwriting an existing entry with the
// same case-insensitive name so later values win, per the wire contract.
func setHeader(r *Request, name, value string) {
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Name, name) {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, HeaderField{Name: name, Value: value})
}

func splitHostPort(hostport string) (host, port string) {
	if idx := strings.IndexByte(hostport, ':'); idx >= 0 {
		return hostport[:idx], hostport[idx+1:]
	}
	return hostport, "80"
}
