package http

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
)

// TimeFormat is the IMF-fixdate layout used by Date and Expires.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

type bodyMode uint8

const (
	bodyPayload bodyMode = iota
	bodyError
	bodyStream
)

// Response is built by a handler and finalized by the connection. Exactly one
// body mode is active: the payload buffer, a rendered error page, or a stream.
type Response struct {
	// Status is -1 until set.
	Status int
	Reason string // reason phrase of a parsed response

	Major, Minor int

	Headers Headers
	Body    []byte

	// ContentLength and Chunked describe a parsed response's framing.
	ContentLength int64
	Chunked       bool

	cookies []*Cookie

	mode       bodyMode
	stream     io.Reader
	streamSize int64
	closeConn  bool
}

// Framing of a body in appendHead besides a known length.
const (
	lengthChunked    = -1
	lengthUntilClose = -2 // no framing header, the body ends when the connection closes
)

func NewResponse() *Response {
	res := &Response{Headers: Headers{}}
	res.Reset()
	return res
}

func (res *Response) WithStatus(status int) *Response {
	res.Status = status
	return res
}

func (res *Response) WithText(payload string) *Response {
	res.Headers.Set("content-type", "text/plain; charset=utf-8")
	res.setPayload([]byte(payload))
	return res
}

func (res *Response) WithHTML(payload string) *Response {
	res.Headers.Set("content-type", "text/html; charset=utf-8")
	res.setPayload([]byte(payload))
	return res
}

func (res *Response) WithJson(payload any) *Response {
	res.Headers.Set("content-type", "application/json")
	if s, ok := payload.(string); ok {
		res.setPayload([]byte(s))
		return res
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return res.WithError(StatusInternalServerError, "encoding response failed")
	}
	res.setPayload(data)
	return res
}

// CloseConnection asks the connection to close once the response is written.
// A handler setting a "close" token in the Connection header does the same.
func (res *Response) CloseConnection() *Response {
	res.closeConn = true
	return res
}

func (res *Response) wantsClose() bool {
	return res.closeConn || httpguts.HeaderValuesContainsToken(res.Headers["connection"], "close")
}

func (res *Response) WithRedirect(location string, status int) *Response {
	res.Status = status
	res.Headers.Set("location", location)
	return res
}

// Write appends to the payload buffer.
func (res *Response) Write(p []byte) (int, error) {
	if res.mode != bodyPayload {
		res.mode = bodyPayload
		res.stream = nil
		res.Body = res.Body[:0]
	}
	res.Body = append(res.Body, p...)
	return len(p), nil
}

func (res *Response) setPayload(p []byte) {
	res.mode = bodyPayload
	res.stream = nil
	res.Body = append(res.Body[:0], p...)
}

// Stream makes r the response body. A negative size selects chunked transfer
// coding, or for HTTP/1.0 clients a raw body ended by closing the connection.
func (res *Response) Stream(r io.Reader, size int64) *Response {
	if size < 0 {
		size = lengthChunked
	}
	res.mode = bodyStream
	res.stream = r
	res.streamSize = size
	res.Body = res.Body[:0]
	return res
}

// WithError renders a short diagnostic body for 4xx or a simple page for 5xx.
func (res *Response) WithError(status int, detail string) *Response {
	res.Status = status
	res.mode = bodyError
	res.stream = nil
	res.Headers.Del("content-encoding")
	if status >= 500 {
		res.Headers.Set("content-type", "text/html; charset=utf-8")
		res.Body = fmt.Appendf(res.Body[:0],
			"<html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>\n",
			status, StatusText(status), status, StatusText(status))
		return res
	}
	res.Headers.Set("content-type", "text/plain; charset=utf-8")
	if detail == "" {
		detail = StatusText(status)
	}
	res.Body = append(append(res.Body[:0], detail...), '\n')
	return res
}

// SetCookie stores cookie, replacing an existing one with the same
// case-insensitive name in place.
func (res *Response) SetCookie(cookie *Cookie) error {
	if err := cookie.Valid(); err != nil {
		return err
	}
	for i, c := range res.cookies {
		if strings.EqualFold(c.Name, cookie.Name) {
			res.cookies[i] = cookie
			return nil
		}
	}
	res.cookies = append(res.cookies, cookie)
	return nil
}

func (res *Response) Cookies() []*Cookie {
	return res.cookies
}

func (res *Response) status() int {
	if res.Status < 0 {
		return StatusOK
	}
	return res.Status
}

// bodyForbidden reports statuses that never carry content.
func bodyForbidden(status int) bool {
	return status < 200 || status == StatusNoContent || status == StatusNotModified
}

// appendHead serializes the status line and header section. length is the
// content length, lengthChunked or lengthUntilClose.
func (res *Response) appendHead(dst []byte, length int64, close bool, server string) []byte {
	status := res.status()
	dst = appendStatusLine(dst, status)

	for key, values := range res.Headers {
		switch key {
		case "content-length", "transfer-encoding", "connection", "set-cookie":
			continue
		}
		for _, v := range values {
			dst = append(dst, key...)
			dst = append(dst, ':', ' ')
			dst = append(dst, v...)
			dst = append(dst, '\r', '\n')
		}
	}
	if !res.Headers.Has("date") {
		dst = append(dst, "date: "...)
		dst = time.Now().UTC().AppendFormat(dst, TimeFormat)
		dst = append(dst, '\r', '\n')
	}
	if server != "" && !res.Headers.Has("server") {
		dst = append(dst, "server: "...)
		dst = append(dst, server...)
		dst = append(dst, '\r', '\n')
	}
	for _, c := range res.cookies {
		dst = append(dst, "set-cookie: "...)
		dst = c.AppendTo(dst)
		dst = append(dst, '\r', '\n')
	}

	if !bodyForbidden(status) {
		switch {
		case length == lengthChunked:
			dst = append(dst, "transfer-encoding: chunked\r\n"...)
		case length >= 0:
			dst = append(dst, "content-length: "...)
			dst = appendUint(dst, length)
			dst = append(dst, '\r', '\n')
		}
	}

	if status == StatusSwitchingProtocols {
		dst = append(dst, "connection: upgrade\r\n"...)
	} else if close {
		dst = append(dst, "connection: close\r\n"...)
	} else {
		dst = append(dst, "connection: keep-alive\r\n"...)
	}
	return append(dst, '\r', '\n')
}

// WriteTo serializes the response with its payload buffer. Streamed bodies are
// copied with chunked coding when their size is unknown.
func (res *Response) WriteTo(w io.Writer) (int64, error) {
	length := int64(len(res.Body))
	if res.mode == bodyStream {
		length = res.streamSize
	}
	head := res.appendHead(nil, length, false, "")
	n, err := w.Write(head)
	total := int64(n)
	if err != nil {
		return total, err
	}
	if res.mode != bodyStream {
		n, err = w.Write(res.Body)
		return total + int64(n), err
	}
	if length >= 0 {
		m, err := io.CopyN(w, res.stream, length)
		return total + m, err
	}
	cw := NewChunkedWriter(w)
	m, err := io.Copy(cw, res.stream)
	if err != nil {
		return total + m, err
	}
	return total + m, cw.Close()
}

// Reset prepares the response for the next exchange on the connection.
func (res *Response) Reset() {
	res.Status = -1
	res.Reason = ""
	res.Major, res.Minor = 1, 1
	if res.Headers == nil {
		res.Headers = Headers{}
	}
	res.Headers.reset()
	res.Body = res.Body[:0]
	res.ContentLength = -1
	res.Chunked = false
	res.cookies = res.cookies[:0]
	res.mode = bodyPayload
	res.stream = nil
	res.streamSize = 0
	res.closeConn = false
}
