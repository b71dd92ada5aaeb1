package http

import "errors"

// MaxBoundaryLen is the RFC 2046 limit on a boundary string.
const MaxBoundaryLen = 70

// ErrAborted is returned by MultipartParser.Feed when a callback stops parsing.
var ErrAborted = errors.New("http: multipart parsing aborted")

type multipartState uint8

const (
	mpStart multipartState = iota
	mpBoundaryTail
	mpFinalHyphen
	mpHeaderFieldStart
	mpHeaderField
	mpHeaderValueStart
	mpHeaderValue
	mpHeaderValueLF
	mpHeaderLineStart
	mpHeadersLF
	mpContent
	mpBoundaryMatch
	mpEnd
)

// MultipartCallbacks receive the events of a multipart body. Slices are only
// valid during the call. Returning false aborts parsing.
type MultipartCallbacks struct {
	OnHeaderField func(name []byte) bool
	OnHeaderValue func(value []byte) bool
	// OnPartBegin fires once the header section of a part is complete.
	OnPartBegin func() bool
	OnPartData  func(p []byte) bool
	OnPartEnd   func() bool
}

// MultipartParser splits a multipart/form-data body into parts. Input may be
// fed in pieces of any size; a delimiter split across pieces is held in a
// lookbehind window and either committed or replayed as content.
type MultipartParser struct {
	cb    MultipartCallbacks
	state multipartState

	// delimiter is CRLF "--" boundary. Bare LF before "--" is accepted too.
	delimiter []byte
	index     int // bytes of delimiter matched

	lookbehind    [MaxBoundaryLen + 4]byte
	lookbehindLen int

	field  []byte
	value  []byte
	header int // header bytes of the current part

	// MaxHeaderSize bounds the header section of each part. Zero means no limit.
	MaxHeaderSize int
}

func NewMultipartParser(boundary string, cb MultipartCallbacks) (*MultipartParser, error) {
	if len(boundary) == 0 || len(boundary) > MaxBoundaryLen {
		return nil, malformed("invalid boundary length %d", len(boundary))
	}
	mp := &MultipartParser{cb: cb}
	mp.delimiter = append([]byte("\r\n--"), boundary...)
	mp.index = 2 // the body starts at a line start
	return mp, nil
}

// Done reports whether the closing delimiter has been read.
func (mp *MultipartParser) Done() bool {
	return mp.state == mpEnd
}

func (mp *MultipartParser) Feed(p []byte) error {
	mark := -1 // start of a content run in p
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch mp.state {
		case mpStart:
			// Preamble lines are skipped until one starts with "--" boundary.
			// index is 0 while the rest of a line is skipped.
			switch {
			case mp.index >= 2 && c == mp.delimiter[mp.index]:
				mp.index++
				if mp.index == len(mp.delimiter) {
					mp.state = mpBoundaryTail
				}
			case c == '\n':
				mp.index = 2
			default:
				mp.index = 0
			}

		case mpBoundaryTail:
			switch c {
			case '-':
				mp.state = mpFinalHyphen
			case '\n':
				mp.state = mpHeaderFieldStart
				mp.header = 0
			case '\r', ' ', '\t':
			default:
				return malformed("unexpected byte %q after boundary", c)
			}

		case mpFinalHyphen:
			if c != '-' {
				return malformed("unexpected byte %q after boundary", c)
			}
			mp.state = mpEnd

		case mpHeaderFieldStart:
			switch c {
			case '\r':
				mp.state = mpHeadersLF
			case '\n':
				if err := mp.beginPart(); err != nil {
					return err
				}
			default:
				mp.field = append(mp.field[:0], c)
				mp.state = mpHeaderField
				if err := mp.grow(1); err != nil {
					return err
				}
			}

		case mpHeaderField:
			switch c {
			case ':':
				mp.value = mp.value[:0]
				mp.state = mpHeaderValueStart
			case '\r', '\n', ' ', '\t':
				return malformed("invalid part header name")
			default:
				mp.field = append(mp.field, c)
				if err := mp.grow(1); err != nil {
					return err
				}
			}

		case mpHeaderValueStart:
			if c == ' ' || c == '\t' {
				continue
			}
			mp.state = mpHeaderValue
			i--

		case mpHeaderValue:
			switch c {
			case '\r':
				mp.state = mpHeaderValueLF
			case '\n':
				mp.state = mpHeaderLineStart
			default:
				mp.value = append(mp.value, c)
				if err := mp.grow(1); err != nil {
					return err
				}
			}

		case mpHeaderValueLF:
			if c != '\n' {
				return malformed("part header line not terminated")
			}
			mp.state = mpHeaderLineStart

		case mpHeaderLineStart:
			if c == ' ' || c == '\t' {
				mp.value = append(mp.value, ' ')
				mp.state = mpHeaderValueStart
				continue
			}
			if err := mp.emitHeader(); err != nil {
				return err
			}
			mp.state = mpHeaderFieldStart
			i--

		case mpHeadersLF:
			if c != '\n' {
				return malformed("part header section not terminated")
			}
			if err := mp.beginPart(); err != nil {
				return err
			}

		case mpContent:
			if c != '\r' && c != '\n' {
				if mark < 0 {
					mark = i
				}
				continue
			}
			if mark >= 0 {
				if !mp.data(p[mark:i]) {
					return ErrAborted
				}
				mark = -1
			}
			mp.lookbehind[0] = c
			mp.lookbehindLen = 1
			mp.index = 1
			if c == '\n' {
				mp.index = 2
			}
			mp.state = mpBoundaryMatch

		case mpBoundaryMatch:
			if c == mp.delimiter[mp.index] {
				mp.lookbehind[mp.lookbehindLen] = c
				mp.lookbehindLen++
				mp.index++
				if mp.index == len(mp.delimiter) {
					// commit
					mp.lookbehindLen = 0
					if mp.cb.OnPartEnd != nil && !mp.cb.OnPartEnd() {
						return ErrAborted
					}
					mp.state = mpBoundaryTail
				}
				continue
			}
			// rollback: the window was content after all
			if !mp.data(mp.lookbehind[:mp.lookbehindLen]) {
				return ErrAborted
			}
			mp.lookbehindLen = 0
			mp.state = mpContent
			i--

		case mpEnd:
			return nil
		}
	}

	if mark >= 0 && !mp.data(p[mark:]) {
		return ErrAborted
	}
	return nil
}

func (mp *MultipartParser) data(p []byte) bool {
	return mp.cb.OnPartData == nil || mp.cb.OnPartData(p)
}

func (mp *MultipartParser) grow(n int) error {
	mp.header += n
	if mp.MaxHeaderSize > 0 && mp.header > mp.MaxHeaderSize {
		return tooLarge("part header exceeds %d bytes", mp.MaxHeaderSize)
	}
	return nil
}

func (mp *MultipartParser) emitHeader() error {
	toLower(mp.field)
	if mp.cb.OnHeaderField != nil && !mp.cb.OnHeaderField(mp.field) {
		return ErrAborted
	}
	if mp.cb.OnHeaderValue != nil && !mp.cb.OnHeaderValue(trimSpace(mp.value)) {
		return ErrAborted
	}
	mp.field = mp.field[:0]
	mp.value = mp.value[:0]
	return nil
}

func (mp *MultipartParser) beginPart() error {
	if mp.cb.OnPartBegin != nil && !mp.cb.OnPartBegin() {
		return ErrAborted
	}
	mp.state = mpContent
	return nil
}
