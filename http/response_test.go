package http

import (
	"bufio"
	"bytes"
	"io"
	nethttp "net/http"
	"strings"
	"testing"
)

func TestResponseHead(t *testing.T) {
	res := NewResponse()
	res.WithStatus(StatusCreated).WithText("made")
	res.Headers.Set("Date", "Thu, 01 Jan 2026 00:00:00 GMT")
	res.Headers.Set("content-length", "999")
	res.Headers.Set("connection", "upgrade")

	head := string(res.appendHead(nil, 4, false, "hopper"))
	for _, line := range []string{
		"HTTP/1.1 201 Created\r\n",
		"content-type: text/plain; charset=utf-8\r\n",
		"date: Thu, 01 Jan 2026 00:00:00 GMT\r\n",
		"server: hopper\r\n",
		"content-length: 4\r\n",
		"connection: keep-alive\r\n",
	} {
		if !strings.Contains(head, line) {
			t.Errorf("head misses %q:\n%s", line, head)
		}
	}
	if strings.Contains(head, "999") || strings.Contains(head, "connection: upgrade") {
		t.Errorf("framing headers leaked:\n%s", head)
	}
	if !strings.HasSuffix(head, "\r\n\r\n") {
		t.Error("head not terminated")
	}
}

func TestResponseHeadFraming(t *testing.T) {
	res := NewResponse()
	res.WithStatus(StatusNoContent)
	head := string(res.appendHead(nil, 0, true, ""))
	if strings.Contains(head, "content-length") || strings.Contains(head, "transfer-encoding") {
		t.Errorf("204 carries framing:\n%s", head)
	}
	if !strings.Contains(head, "connection: close\r\n") {
		t.Errorf("close not announced:\n%s", head)
	}

	res.Reset()
	head = string(res.appendHead(nil, -1, false, ""))
	if !strings.HasPrefix(head, "HTTP/1.1 200 OK\r\n") || !strings.Contains(head, "transfer-encoding: chunked\r\n") {
		t.Errorf("chunked head:\n%s", head)
	}
}

func TestResponseWithError(t *testing.T) {
	res := NewResponse()
	res.Headers.Set("content-encoding", "gzip")
	res.WithError(StatusBadRequest, "")
	if string(res.Body) != "Bad Request\n" || res.Headers.Has("content-encoding") {
		t.Errorf("4xx body %q headers %v", res.Body, res.Headers)
	}

	res.WithError(StatusBadGateway, "upstream detail is not shown")
	if !strings.Contains(string(res.Body), "<h1>502 Bad Gateway</h1>") {
		t.Errorf("5xx body %q", res.Body)
	}
	if res.Headers.Get("content-type") != "text/html; charset=utf-8" {
		t.Errorf("5xx content type %q", res.Headers.Get("content-type"))
	}
}

func TestResponseWithJson(t *testing.T) {
	res := NewResponse()
	res.WithJson(map[string]int{"n": 1})
	if string(res.Body) != `{"n":1}` || res.Headers.Get("content-type") != "application/json" {
		t.Errorf("got %q", res.Body)
	}

	res.WithJson(func() {})
	if res.Status != StatusInternalServerError {
		t.Errorf("unencodable payload got status %d", res.Status)
	}
}

func readWritten(t *testing.T, res *Response) (*nethttp.Response, string) {
	t.Helper()
	var out bytes.Buffer
	if _, err := res.WriteTo(&out); err != nil {
		t.Fatal(err)
	}
	parsed, err := nethttp.ReadResponse(bufio.NewReader(&out), nil)
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		t.Fatal(err)
	}
	return parsed, string(body)
}

func TestResponseWriteTo(t *testing.T) {
	res := NewResponse()
	res.WithText("buffered")
	parsed, body := readWritten(t, res)
	if parsed.StatusCode != 200 || body != "buffered" || parsed.ContentLength != 8 {
		t.Errorf("got %d %q %d", parsed.StatusCode, body, parsed.ContentLength)
	}

	res.Reset()
	res.Stream(strings.NewReader("sized stream and more"), 5)
	_, body = readWritten(t, res)
	if body != "sized" {
		t.Errorf("sized stream %q", body)
	}

	res.Reset()
	res.Stream(strings.NewReader(strings.Repeat("x", 100000)), -1)
	parsed, body = readWritten(t, res)
	if len(body) != 100000 || len(parsed.TransferEncoding) != 1 || parsed.TransferEncoding[0] != "chunked" {
		t.Errorf("chunked stream %d bytes, te %v", len(body), parsed.TransferEncoding)
	}
}

func TestResponseWriteAfterStream(t *testing.T) {
	res := NewResponse()
	res.Stream(strings.NewReader("dropped"), -1)
	res.Write([]byte("kept"))
	_, body := readWritten(t, res)
	if body != "kept" {
		t.Errorf("got %q", body)
	}
}
