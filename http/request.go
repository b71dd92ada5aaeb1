package http

import (
	"context"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/http/httpguts"
)

const (
	maxMethodLen  = 8
	maxVersionLen = 8
)

// Request is the server-side view of one HTTP/1.x request. It is allocated
// once per connection and reset between pipelined requests.
type Request struct {
	method     [maxMethodLen]byte
	methodLen  uint8
	version    [maxVersionLen]byte
	versionLen uint8

	Major, Minor int

	Target string // raw request-target as received
	Path   string // percent-decoded path
	Query  string // raw query without '?'
	Host   string

	Headers  Headers
	Trailers Headers
	Cookies  map[string]string

	// ContentLength is -1 when the body length is unknown or chunked.
	ContentLength int64
	Chunked       bool

	// Body holds the accumulated body when it fits the cache ceiling.
	Body []byte
	// Spooled is set when the body outgrew the cache ceiling and was stored as
	// the first resource instead.
	Spooled bool

	// Resources are the multipart parts and spooled bodies of this request.
	// They are removed on reset unless claimed.
	Resources []*Resource

	RemoteAddr net.Addr

	ctx            context.Context
	expectContinue bool
}

func NewRequest() *Request {
	return &Request{
		Headers:       Headers{},
		Trailers:      Headers{},
		Cookies:       map[string]string{},
		ContentLength: -1,
	}
}

func (req *Request) Method() string {
	return string(req.method[:req.methodLen])
}

// Proto returns the version token, like "HTTP/1.1".
func (req *Request) Proto() string {
	return string(req.version[:req.versionLen])
}

func (req *Request) setMethod(b []byte) error {
	if len(b) == 0 {
		return malformed("missing method")
	}
	if len(b) > maxMethodLen {
		return malformed("method longer than %d bytes", maxMethodLen)
	}
	for _, c := range b {
		if !httpguts.IsTokenRune(rune(c)) {
			return malformed("invalid method character %q", c)
		}
	}
	req.methodLen = uint8(copy(req.method[:], b))
	return nil
}

func (req *Request) setVersion(b []byte) error {
	major, minor, ok := parseVersion(b)
	if !ok {
		return malformed("invalid version %q", b)
	}
	req.versionLen = uint8(copy(req.version[:], b))
	req.Major, req.Minor = major, minor
	return nil
}

// parseVersion accepts "HTTP/<digit>.<digit>" with major version 1.
func parseVersion(b []byte) (major, minor int, ok bool) {
	if len(b) != 8 || string(b[:5]) != "HTTP/" || b[6] != '.' {
		return 0, 0, false
	}
	if b[5] < '0' || b[5] > '9' || b[7] < '0' || b[7] > '9' {
		return 0, 0, false
	}
	major, minor = int(b[5]-'0'), int(b[7]-'0')
	return major, minor, major == 1
}

func (req *Request) Cookie(name string) (string, error) {
	value, ok := req.Cookies[name]
	if !ok {
		return "", ErrNoCookie
	}
	return value, nil
}

// FormValue returns the first in-memory multipart field named name.
func (req *Request) FormValue(name string) string {
	for _, res := range req.Resources {
		if res.Field == name && res.Filename == "" && res.InMemory() {
			return string(res.Bytes())
		}
	}
	return ""
}

// Resource returns the first part or spooled body for field name.
func (req *Request) Resource(name string) (*Resource, bool) {
	for _, res := range req.Resources {
		if res.Field == name {
			return res, true
		}
	}
	return nil, false
}

func (req *Request) hasToken(key, token string) bool {
	return httpguts.HeaderValuesContainsToken(req.Headers[key], token)
}

// wantsClose reports the connection-level keep-alive preference of the client.
func (req *Request) wantsClose() bool {
	if req.hasToken("connection", "close") {
		return true
	}
	if req.Major == 1 && req.Minor == 0 {
		return !req.hasToken("connection", "keep-alive")
	}
	return false
}

func (req *Request) isWebSocketUpgrade() bool {
	return req.Method() == "GET" &&
		req.hasToken("connection", "upgrade") &&
		req.hasToken("upgrade", "websocket")
}

// finishHead validates framing fields once the header section is complete.
func (req *Request) finishHead() error {
	if err := finishFraming(req.Headers, &req.ContentLength, &req.Chunked); err != nil {
		return err
	}
	if req.Host == "" {
		req.Host = req.Headers.Get("host")
	}
	if req.Host == "" && req.Minor >= 1 {
		return malformed("missing Host header")
	}
	if v := req.Headers["cookie"]; len(v) > 0 {
		for _, line := range v {
			splitCookieHeader(line, req.Cookies)
		}
	}
	req.expectContinue = strings.EqualFold(req.Headers.Get("expect"), "100-continue")
	return nil
}

// finishFraming derives the body length from Content-Length and
// Transfer-Encoding, rejecting combinations that allow request smuggling.
func finishFraming(h Headers, length *int64, chunked *bool) error {
	*length = -1
	if te := h["transfer-encoding"]; len(te) > 0 {
		// Other codings are never decoded, so only a lone chunked is accepted.
		if len(te) != 1 || !strings.EqualFold(te[0], "chunked") {
			return fmt.Errorf("%w: %w %q", ErrMalformed, ErrUnsupportedCoding, strings.Join(te, ", "))
		}
		if len(h["content-length"]) > 0 {
			return malformed("both Content-Length and Transfer-Encoding present")
		}
		*chunked = true
		return nil
	}
	for _, v := range h["content-length"] {
		n, ok := parseUint([]byte(v))
		if !ok {
			return malformed("invalid Content-Length %q", v)
		}
		if *length >= 0 && *length != n {
			return malformed("conflicting Content-Length values")
		}
		*length = n
	}
	return nil
}

// Reset clears the request for the next exchange on the same connection and
// deletes every unclaimed resource.
func (req *Request) Reset() {
	req.methodLen = 0
	req.versionLen = 0
	req.Major, req.Minor = 0, 0
	req.Target, req.Path, req.Query, req.Host = "", "", "", ""
	req.Headers.reset()
	req.Trailers.reset()
	for k := range req.Cookies {
		delete(req.Cookies, k)
	}
	req.ContentLength = -1
	req.Chunked = false
	req.Body = req.Body[:0]
	req.Spooled = false
	for _, res := range req.Resources {
		res.Remove()
	}
	req.Resources = req.Resources[:0]
	req.expectContinue = false
	req.ctx = nil
}
