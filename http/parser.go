package http

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

type parsePhase uint8

const (
	phaseStartLine parsePhase = iota
	phaseHeaders
	phaseDone
)

// Parser reads the head of one HTTP/1.x message: the start line and the header
// section. It keeps its position between calls, so a caller that receives
// ErrNeedMore appends input to the same buffer and calls again.
type Parser struct {
	tok   Tokenizer
	phase parsePhase

	// header waiting for possible continuation lines
	key     string
	value   string
	pending bool

	// MaxHeaderSize bounds the head in bytes. Zero means no limit.
	MaxHeaderSize int
}

// StartLineDone reports whether the start line has been accepted.
func (p *Parser) StartLineDone() bool {
	return p.phase > phaseStartLine
}

// Offset is the number of head bytes accepted so far.
func (p *Parser) Offset() int {
	return p.tok.Offset()
}

func (p *Parser) Reset() {
	p.tok.Reset()
	p.phase = phaseStartLine
	p.key, p.value, p.pending = "", "", false
}

// ParseRequest parses buf, which begins at the first byte of the message, into
// req. On success n is the length of the head and the body starts at buf[n].
// ErrNeedMore means the head is incomplete and n bytes were accepted.
func (p *Parser) ParseRequest(buf []byte, req *Request) (n int, err error) {
	return p.parse(buf, req.Headers, p.requestLine(req), req.finishHead)
}

// ParseResponse is the client-side counterpart of ParseRequest.
func (p *Parser) ParseResponse(buf []byte, res *Response) (n int, err error) {
	return p.parse(buf, res.Headers, p.statusLine(res), func() error {
		return finishFraming(res.Headers, &res.ContentLength, &res.Chunked)
	})
}

func (p *Parser) parse(buf []byte, h Headers, startLine func([]byte) error, finish func() error) (int, error) {
	if p.phase == phaseDone {
		return p.tok.Offset(), nil
	}

	for {
		line, err := p.tok.Next(buf)
		if err != nil {
			if err == ErrNeedMore && p.MaxHeaderSize > 0 && len(buf) > p.MaxHeaderSize {
				return p.tok.Offset(), tooLarge("head exceeds %d bytes", p.MaxHeaderSize)
			}
			return p.tok.Offset(), err
		}

		if p.phase == phaseStartLine {
			if line.Blank() {
				continue // RFC 9112 2.2: ignore empty lines before the start line
			}
			if line.Continuation {
				return p.tok.Offset(), malformed("start line begins with whitespace")
			}
			if err := startLine(line.Text); err != nil {
				return p.tok.Offset(), err
			}
			p.phase = phaseHeaders
			continue
		}

		if line.Blank() {
			p.flush(h)
			if p.MaxHeaderSize > 0 && p.tok.Offset() > p.MaxHeaderSize {
				return p.tok.Offset(), tooLarge("head exceeds %d bytes", p.MaxHeaderSize)
			}
			if err := finish(); err != nil {
				return p.tok.Offset(), err
			}
			p.phase = phaseDone
			return p.tok.Offset(), nil
		}

		if line.Continuation {
			if !p.pending {
				return p.tok.Offset(), malformed("continuation line without a header")
			}
			if len(line.Text) > 0 {
				if p.value != "" {
					p.value += " "
				}
				p.value += string(line.Text)
			}
			continue
		}

		p.flush(h)
		if err := p.headerLine(line.Text); err != nil {
			return p.tok.Offset(), err
		}
	}
}

func (p *Parser) headerLine(text []byte) error {
	colon := -1
	for i, c := range text {
		if c == ':' {
			colon = i
			break
		}
	}
	if colon <= 0 {
		return malformed("header line without name")
	}

	name := text[:colon]
	toLower(name)
	key := string(name)
	if !httpguts.ValidHeaderFieldName(key) {
		return malformed("invalid header name %q", key)
	}

	p.key = key
	p.value = string(trimSpace(text[colon+1:]))
	p.pending = true
	return nil
}

func (p *Parser) flush(h Headers) {
	if !p.pending {
		return
	}
	h.addField(p.key, p.value)
	p.key, p.value, p.pending = "", "", false
}

func (p *Parser) requestLine(req *Request) func([]byte) error {
	return func(text []byte) error {
		// method SP request-target SP HTTP-version, with exactly two spaces
		sp1 := bytes.IndexByte(text, ' ')
		sp2 := bytes.LastIndexByte(text, ' ')
		if sp1 < 0 || sp1 == sp2 || bytes.Count(text, []byte{' '}) != 2 {
			return malformed("request line %q", text)
		}
		if err := req.setMethod(text[:sp1]); err != nil {
			return err
		}
		if err := req.setVersion(text[sp2+1:]); err != nil {
			return err
		}
		return req.setTarget(text[sp1+1 : sp2])
	}
}

func (p *Parser) statusLine(res *Response) func([]byte) error {
	return func(text []byte) error {
		if len(text) < 12 || text[8] != ' ' {
			return malformed("status line %q", text)
		}
		major, minor, ok := parseVersion(text[:8])
		if !ok {
			return malformed("invalid version %q", text[:8])
		}

		status := 0
		for _, c := range text[9:12] {
			if c < '0' || c > '9' {
				return malformed("invalid status code %q", text[9:12])
			}
			status = status*10 + int(c-'0')
		}
		if status < 100 {
			return malformed("invalid status code %d", status)
		}

		reason := text[12:]
		if len(reason) > 0 {
			if reason[0] != ' ' {
				return malformed("status line %q", text)
			}
			reason = reason[1:]
		}

		res.Major, res.Minor = major, minor
		res.Status = status
		res.Reason = string(reason)
		return nil
	}
}

// setTarget accepts origin-form, absolute-form, authority-form for CONNECT and
// the asterisk form for OPTIONS.
func (req *Request) setTarget(b []byte) error {
	if len(b) == 0 {
		return malformed("empty request target")
	}
	for _, c := range b {
		if c <= ' ' || c == 0x7f {
			return malformed("invalid byte %q in request target", c)
		}
	}
	target := string(b)
	req.Target = target

	switch {
	case target == "*":
		if req.Method() != "OPTIONS" {
			return malformed("asterisk target for %s", req.Method())
		}
		req.Path = "*"
		return nil
	case req.Method() == "CONNECT":
		req.Host = target
		return nil
	case target[0] != '/':
		scheme := strings.Index(target, "://")
		if scheme <= 0 {
			return malformed("invalid request target %q", target)
		}
		rest := target[scheme+3:]
		slash := strings.IndexAny(rest, "/?")
		if slash < 0 {
			req.Host = rest
			target = "/"
		} else {
			req.Host = rest[:slash]
			target = rest[slash:]
			if target[0] == '?' {
				target = "/" + target
			}
		}
	}

	path := target
	if q := strings.IndexByte(target, '?'); q >= 0 {
		path, req.Query = target[:q], target[q+1:]
	}
	decoded, err := url.PathUnescape(path)
	if err != nil {
		return malformed("invalid path escape in %q", path)
	}
	req.Path = decoded
	return nil
}
