package http

// Line is one token produced by the Tokenizer: the bytes of a line without its
// terminator. Continuation lines (obs-fold) have surrounding SP/HT trimmed.
type Line struct {
	Text         []byte
	Continuation bool
}

// Blank reports whether the line was empty, which ends a header section.
func (l Line) Blank() bool {
	return len(l.Text) == 0 && !l.Continuation
}

// Tokenizer splits a growing buffer into CRLF or LF terminated lines. The caller
// keeps appending to the same buffer and calls Next again after ErrNeedMore;
// bytes already matched are never scanned twice.
type Tokenizer struct {
	start int // offset of the current line in the buffer
	scan  int // bytes of the current line already validated
}

// Next returns the next complete line in buf. It returns ErrNeedMore when no
// terminator has arrived yet and ErrMalformed on a control character.
func (t *Tokenizer) Next(buf []byte) (Line, error) {
	i := t.start + t.scan
	for ; i < len(buf); i++ {
		c := buf[i]
		if c == '\n' {
			break
		}
		if c == '\r' {
			if i+1 == len(buf) {
				break // decide once the next byte arrives
			}
			if buf[i+1] != '\n' {
				return Line{}, malformed("bare CR at offset %d", i)
			}
			continue
		}
		if (c < 0x20 && c != '\t') || c == 0x7f {
			return Line{}, malformed("control character 0x%02x at offset %d", c, i)
		}
	}
	if i >= len(buf) || buf[i] != '\n' {
		t.scan = i - t.start
		return Line{}, ErrNeedMore
	}

	end := i
	if end > t.start && buf[end-1] == '\r' {
		end--
	}
	line := Line{Text: buf[t.start:end]}
	if len(line.Text) > 0 && isSpace(line.Text[0]) {
		line.Continuation = true
		line.Text = trimSpace(line.Text)
	}

	t.start = i + 1
	t.scan = 0
	return line, nil
}

// Offset is the number of bytes consumed by complete lines so far.
func (t *Tokenizer) Offset() int {
	return t.start
}

func (t *Tokenizer) Reset() {
	t.start = 0
	t.scan = 0
}
