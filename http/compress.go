package http

import (
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/bytebufferpool"
)

// Compressor transforms a finished payload before the head is written.
type Compressor interface {
	// Encoding is the Content-Encoding token, like "gzip".
	Encoding() string
	// Compress appends the encoded form of src to dst.
	Compress(dst, src []byte) ([]byte, error)
}

// DefaultGzipLevel trades ratio for speed on dynamic responses.
const DefaultGzipLevel = gzip.BestSpeed

type GzipCompressor struct {
	level   int
	writers sync.Pool
}

func NewGzipCompressor(level int) *GzipCompressor {
	return &GzipCompressor{level: level}
}

func (g *GzipCompressor) Encoding() string {
	return "gzip"
}

func (g *GzipCompressor) Compress(dst, src []byte) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	zw, _ := g.writers.Get().(*gzip.Writer)
	if zw == nil {
		var err error
		if zw, err = gzip.NewWriterLevel(buf, g.level); err != nil {
			return dst, err
		}
	} else {
		zw.Reset(buf)
	}
	defer g.writers.Put(zw)

	if _, err := zw.Write(src); err != nil {
		return dst, err
	}
	if err := zw.Close(); err != nil {
		return dst, err
	}
	return append(dst, buf.B...), nil
}
