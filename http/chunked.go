package http

import (
	"bytes"
	"io"
	"math"
)

type chunkPhase uint8

const (
	chunkSize chunkPhase = iota
	chunkExt
	chunkSizeLF
	chunkData
	chunkDataCR
	chunkDataLF
	chunkTrailer
	chunkDone
)

const maxTrailerLine = 8 * 1024

// ChunkedDecoder removes chunked transfer coding in place. It keeps its phase
// between calls so input may be split anywhere.
type ChunkedDecoder struct {
	phase  chunkPhase
	size   int64 // remaining bytes of the current chunk, or the size being read
	digits int

	// ConsumeTrailers reads the trailer section after the last chunk. When
	// false the body ends right after the zero-size line.
	ConsumeTrailers bool
	// Trailers receives trailer fields when ConsumeTrailers is set.
	Trailers Headers
}

// Decode reads p and moves decoded body bytes to p[:n]. consumed is the number
// of input bytes used; the rest must be presented again, followed by new
// input. err is nil once the body is complete, ErrNeedMore while it is not,
// and wraps ErrMalformed on invalid coding.
func (d *ChunkedDecoder) Decode(p []byte) (n, consumed int, err error) {
	r, w := 0, 0
	for r < len(p) {
		c := p[r]
		switch d.phase {
		case chunkSize:
			if v := unhex(c); v != 255 {
				if d.digits == maxHexDigits || d.size > math.MaxInt64>>4 {
					return w, r, malformed("chunk size too long")
				}
				d.size = d.size<<4 | int64(v)
				d.digits++
				r++
				continue
			}
			if d.digits == 0 {
				return w, r, malformed("invalid chunk size character %q", c)
			}
			r++
			switch c {
			case ';', ' ', '\t':
				d.phase = chunkExt
			case '\r':
				d.phase = chunkSizeLF
			case '\n':
				if d.endSizeLine() {
					return w, r, nil
				}
			default:
				return w, r - 1, malformed("invalid chunk size character %q", c)
			}

		case chunkExt:
			r++
			if c == '\n' {
				if d.endSizeLine() {
					return w, r, nil
				}
			}

		case chunkSizeLF:
			if c != '\n' {
				return w, r, malformed("chunk size line not terminated")
			}
			r++
			if d.endSizeLine() {
				return w, r, nil
			}

		case chunkData:
			k := len(p) - r
			if int64(k) > d.size {
				k = int(d.size)
			}
			copy(p[w:], p[r:r+k])
			w += k
			r += k
			d.size -= int64(k)
			if d.size == 0 {
				d.phase = chunkDataCR
			}

		case chunkDataCR:
			switch c {
			case '\r':
				d.phase = chunkDataLF
			case '\n':
				d.phase = chunkSize
			default:
				return w, r, malformed("chunk data not followed by CRLF")
			}
			r++

		case chunkDataLF:
			if c != '\n' {
				return w, r, malformed("chunk data not followed by CRLF")
			}
			r++
			d.phase = chunkSize

		case chunkTrailer:
			i := bytes.IndexByte(p[r:], '\n')
			if i < 0 {
				if len(p)-r > maxTrailerLine {
					return w, r, tooLarge("trailer line exceeds %d bytes", maxTrailerLine)
				}
				return w, r, ErrNeedMore
			}
			line := p[r : r+i]
			r += i + 1
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			if len(line) == 0 {
				d.phase = chunkDone
				return w, r, nil
			}
			if err := d.trailer(line); err != nil {
				return w, r, err
			}

		case chunkDone:
			return w, r, nil
		}
	}
	if d.phase == chunkDone {
		return w, r, nil
	}
	return w, r, ErrNeedMore
}

// endSizeLine switches to the data of the chunk just announced and reports
// whether the body is complete.
func (d *ChunkedDecoder) endSizeLine() bool {
	d.digits = 0
	if d.size > 0 {
		d.phase = chunkData
		return false
	}
	if d.ConsumeTrailers {
		d.phase = chunkTrailer
		return false
	}
	d.phase = chunkDone
	return true
}

func (d *ChunkedDecoder) trailer(line []byte) error {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return malformed("invalid trailer line")
	}
	if d.Trailers == nil {
		return nil
	}
	name := line[:colon]
	toLower(name)
	d.Trailers.addField(string(trimSpace(name)), string(trimSpace(line[colon+1:])))
	return nil
}

// Done reports whether the last chunk has been read.
func (d *ChunkedDecoder) Done() bool {
	return d.phase == chunkDone
}

func (d *ChunkedDecoder) Reset() {
	d.phase = chunkSize
	d.size = 0
	d.digits = 0
	d.Trailers = nil
}

// AppendChunk appends p as one chunk. Empty input appends nothing since a
// zero-size chunk ends the body.
func AppendChunk(dst, p []byte) []byte {
	if len(p) == 0 {
		return dst
	}
	dst = appendHex(dst, len(p))
	dst = append(dst, '\r', '\n')
	dst = append(dst, p...)
	return append(dst, '\r', '\n')
}

// AppendLastChunk appends the terminating chunk with an empty trailer section.
func AppendLastChunk(dst []byte) []byte {
	return append(dst, "0\r\n\r\n"...)
}

// ChunkedWriter writes every Write call as one chunk to the underlying writer.
type ChunkedWriter struct {
	w   io.Writer
	buf []byte
}

func NewChunkedWriter(w io.Writer) *ChunkedWriter {
	return &ChunkedWriter{w: w}
}

func (cw *ChunkedWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	cw.buf = AppendChunk(cw.buf[:0], p)
	if _, err := cw.w.Write(cw.buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close writes the last chunk. It does not close the underlying writer.
func (cw *ChunkedWriter) Close() error {
	_, err := cw.w.Write(AppendLastChunk(cw.buf[:0]))
	return err
}
