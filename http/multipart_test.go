package http

import (
	"errors"
	"strings"
	"testing"
)

type recordedPart struct {
	headers map[string]string
	data    []byte
	ended   bool
}

type multipartRecorder struct {
	parts []*recordedPart
	field string
	calls int
}

func (r *multipartRecorder) callbacks() MultipartCallbacks {
	pending := map[string]string{}
	return MultipartCallbacks{
		OnHeaderField: func(name []byte) bool {
			r.field = string(name)
			return true
		},
		OnHeaderValue: func(value []byte) bool {
			pending[r.field] = string(value)
			return true
		},
		OnPartBegin: func() bool {
			r.parts = append(r.parts, &recordedPart{headers: pending})
			pending = map[string]string{}
			return true
		},
		OnPartData: func(p []byte) bool {
			r.calls++
			part := r.parts[len(r.parts)-1]
			part.data = append(part.data, p...)
			return true
		},
		OnPartEnd: func() bool {
			r.parts[len(r.parts)-1].ended = true
			return true
		},
	}
}

const sampleBoundary = "----hopperBoundary7MA4YWxk"

var sampleMultipart = "preamble is ignored\r\n" +
	"--" + sampleBoundary + "\r\n" +
	"Content-Disposition: form-data; name=\"title\"\r\n" +
	"\r\n" +
	"hello world\r\n" +
	"--" + sampleBoundary + "\r\n" +
	"Content-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"line one\r\n" +
	"--" + sampleBoundary[:10] + " not a boundary\r\n" +
	"\r\n\r\n--\r\n" +
	"--" + sampleBoundary + "--\r\n" +
	"epilogue"

func checkSampleMultipart(t *testing.T, r *multipartRecorder) {
	t.Helper()
	if len(r.parts) != 2 {
		t.Fatalf("got %d parts", len(r.parts))
	}
	title, file := r.parts[0], r.parts[1]
	if string(title.data) != "hello world" || !title.ended {
		t.Errorf("title part %q ended=%v", title.data, title.ended)
	}
	if title.headers["content-disposition"] != `form-data; name="title"` {
		t.Errorf("title headers %v", title.headers)
	}
	expected := "line one\r\n--" + sampleBoundary[:10] + " not a boundary\r\n\r\n\r\n--"
	if string(file.data) != expected || !file.ended {
		t.Errorf("file part %q ended=%v", file.data, file.ended)
	}
	if file.headers["content-type"] != "text/plain" {
		t.Errorf("file headers %v", file.headers)
	}
}

func TestMultipart(t *testing.T) {
	var r multipartRecorder
	mp, err := NewMultipartParser(sampleBoundary, r.callbacks())
	if err != nil {
		t.Fatal(err)
	}
	if err := mp.Feed([]byte(sampleMultipart)); err != nil {
		t.Fatal(err)
	}
	if !mp.Done() {
		t.Error("parser not done")
	}
	checkSampleMultipart(t, &r)
}

// Splitting the body anywhere, including inside a boundary, must neither lose
// nor repeat content bytes.
func TestMultipartSplit(t *testing.T) {
	input := []byte(sampleMultipart)
	for split := 1; split < len(input); split++ {
		var r multipartRecorder
		mp, _ := NewMultipartParser(sampleBoundary, r.callbacks())
		if err := mp.Feed(input[:split]); err != nil {
			t.Fatalf("split %d: %v", split, err)
		}
		if err := mp.Feed(input[split:]); err != nil {
			t.Fatalf("split %d: %v", split, err)
		}
		checkSampleMultipart(t, &r)
	}
}

func TestMultipartByteByByte(t *testing.T) {
	var r multipartRecorder
	mp, _ := NewMultipartParser(sampleBoundary, r.callbacks())
	for i := 0; i < len(sampleMultipart); i++ {
		if err := mp.Feed([]byte{sampleMultipart[i]}); err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
	}
	checkSampleMultipart(t, &r)
}

func TestMultipartBareLF(t *testing.T) {
	body := "--b\nContent-Disposition: form-data; name=\"x\"\n\nvalue\n--b--\n"
	var r multipartRecorder
	mp, _ := NewMultipartParser("b", r.callbacks())
	if err := mp.Feed([]byte(body)); err != nil {
		t.Fatal(err)
	}
	if !mp.Done() || len(r.parts) != 1 || string(r.parts[0].data) != "value" {
		t.Errorf("done=%v parts=%d", mp.Done(), len(r.parts))
	}
}

// Only a line starting with the delimiter ends the preamble, however many
// hyphens the preamble holds.
func TestMultipartPreamble(t *testing.T) {
	body := "preamble ---B\r\n" +
		"---B\r\n" +
		"-\r\n--\r\n" +
		"--B\r\n" +
		"Content-Disposition: form-data; name=\"x\"\r\n\r\n" +
		"value\r\n--B--"
	for split := 0; split <= len(body); split++ {
		var r multipartRecorder
		mp, _ := NewMultipartParser("B", r.callbacks())
		if err := mp.Feed([]byte(body[:split])); err != nil {
			t.Fatalf("split %d: %v", split, err)
		}
		if err := mp.Feed([]byte(body[split:])); err != nil {
			t.Fatalf("split %d: %v", split, err)
		}
		if !mp.Done() || len(r.parts) != 1 {
			t.Fatalf("split %d: done=%v parts=%d", split, mp.Done(), len(r.parts))
		}
		part := r.parts[0]
		if string(part.data) != "value" || !part.ended || part.headers["content-disposition"] != `form-data; name="x"` {
			t.Errorf("split %d: part %q ended=%v headers=%v", split, part.data, part.ended, part.headers)
		}
	}
}

func TestMultipartAbort(t *testing.T) {
	cb := MultipartCallbacks{
		OnPartBegin: func() bool { return false },
	}
	mp, _ := NewMultipartParser(sampleBoundary, cb)
	if err := mp.Feed([]byte(sampleMultipart)); !errors.Is(err, ErrAborted) {
		t.Errorf("expected abort, got %v", err)
	}
}

func TestMultipartHeaderLimit(t *testing.T) {
	mp, _ := NewMultipartParser("b", MultipartCallbacks{})
	mp.MaxHeaderSize = 32
	body := "--b\r\nX-Long: " + strings.Repeat("v", 64) + "\r\n\r\n"
	if err := mp.Feed([]byte(body)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected too large, got %v", err)
	}
}

func TestMultipartMalformed(t *testing.T) {
	for _, body := range []string{
		"--b\r\nbad header\r\n\r\n",
		"--bX\r\n",
		"--b-x",
	} {
		mp, _ := NewMultipartParser("b", MultipartCallbacks{})
		if err := mp.Feed([]byte(body)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%q: expected malformed, got %v", body, err)
		}
	}

	if _, err := NewMultipartParser("", MultipartCallbacks{}); err == nil {
		t.Error("empty boundary accepted")
	}
	if _, err := NewMultipartParser(strings.Repeat("x", MaxBoundaryLen+1), MultipartCallbacks{}); err == nil {
		t.Error("long boundary accepted")
	}
}

func TestBoundaryFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		boundary    string
		ok          bool
	}{
		{"multipart/form-data; boundary=abc", "abc", true},
		{`multipart/form-data; boundary="a b;c"`, "a b;c", true},
		{"Multipart/Form-Data;boundary=x; charset=utf-8", "x", true},
		{"multipart/form-data; xboundary=abc", "", false},
		{"multipart/mixed; boundary=abc", "", false},
		{"text/plain", "", false},
		{"multipart/form-data; boundary=" + strings.Repeat("x", 71), "", false},
	}
	for _, tt := range tests {
		boundary, ok := BoundaryFromContentType(tt.contentType)
		if boundary != tt.boundary || ok != tt.ok {
			t.Errorf("%q: got %q %v", tt.contentType, boundary, ok)
		}
	}
}

func TestDispositionParam(t *testing.T) {
	header := `form-data; name="upload"; filename="report 2024.pdf"`
	if name, ok := DispositionParam(header, "name"); !ok || name != "upload" {
		t.Errorf("name %q %v", name, ok)
	}
	if filename, ok := DispositionParam(header, "filename"); !ok || filename != "report 2024.pdf" {
		t.Errorf("filename %q %v", filename, ok)
	}
	if _, ok := DispositionParam(`form-data; filename="only"`, "name"); ok {
		t.Error("name matched inside filename")
	}
	if _, ok := DispositionParam(`form-data; name=unquoted`, "name"); ok {
		t.Error("unquoted value accepted")
	}
}
