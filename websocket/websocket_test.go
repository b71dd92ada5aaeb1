package websocket

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"testing"
)

func payloadOf(op Opcode, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		if op == OpText {
			p[i] = 'a' + byte(i%26)
		} else {
			p[i] = byte(rand.IntN(256))
		}
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	for _, op := range []Opcode{OpText, OpBinary} {
		for _, size := range []int{0, 125, 126, 65535, 65536} {
			payload := payloadOf(op, size)
			frame := AppendFrame(nil, Header{Fin: true, Opcode: op, Masked: true, Mask: NewMask()}, payload)

			d := NewDecoder(true, 0)
			if err := d.Feed(frame); err != nil {
				t.Fatalf("%s/%d: %v", op, size, err)
			}
			msg, ok := d.Next()
			if !ok {
				t.Fatalf("%s/%d: no message", op, size)
			}
			if msg.Opcode != op {
				t.Errorf("%s/%d: opcode %s", op, size, msg.Opcode)
			}
			if !bytes.Equal(msg.Payload, payload) {
				t.Errorf("%s/%d: payload mismatch", op, size)
			}
			if _, ok := d.Next(); ok {
				t.Errorf("%s/%d: unexpected second message", op, size)
			}
		}
	}
}

func TestRoundTripByteByByte(t *testing.T) {
	payload := payloadOf(OpBinary, 300)
	frame := AppendFrame(nil, Header{Fin: true, Opcode: OpBinary, Masked: true, Mask: [4]byte{1, 2, 3, 4}}, payload)

	d := NewDecoder(true, 0)
	for i := range frame {
		if err := d.Feed(frame[i : i+1]); err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		if i < len(frame)-1 && d.Queue().Len() != 0 {
			t.Fatalf("message surfaced before the last byte")
		}
	}
	msg, ok := d.Next()
	if !ok || !bytes.Equal(msg.Payload, payload) {
		t.Fatal("payload mismatch")
	}
}

func TestHeaderLengthForms(t *testing.T) {
	tests := []struct {
		size   int
		header int
	}{
		{0, 2},
		{125, 2},
		{126, 4},
		{65535, 4},
		{65536, 10},
	}
	for _, tt := range tests {
		frame := AppendFrame(nil, Header{Fin: true, Opcode: OpBinary}, make([]byte, tt.size))
		if len(frame)-tt.size != tt.header {
			t.Errorf("size %d: header of %d bytes, want %d", tt.size, len(frame)-tt.size, tt.header)
		}
		masked := AppendFrame(nil, Header{Fin: true, Opcode: OpBinary, Masked: true}, make([]byte, tt.size))
		if len(masked)-tt.size != tt.header+4 {
			t.Errorf("size %d: masked header of %d bytes, want %d", tt.size, len(masked)-tt.size, tt.header+4)
		}
	}
}

func TestFragmentedMessage(t *testing.T) {
	mask := NewMask()
	var stream []byte
	stream = AppendFrame(stream, Header{Opcode: OpBinary, Masked: true, Mask: mask}, []byte("one "))
	stream = AppendFrame(stream, Header{Opcode: OpContinuation, Masked: true, Mask: mask}, []byte("two "))
	// a ping may be interleaved between fragments
	stream = AppendFrame(stream, Header{Fin: true, Opcode: OpPing, Masked: true, Mask: mask}, []byte("p"))
	stream = AppendFrame(stream, Header{Fin: true, Opcode: OpContinuation, Masked: true, Mask: mask}, []byte("three"))

	d := NewDecoder(true, 0)
	for i := 0; i < len(stream); i += 3 {
		end := min(i+3, len(stream))
		if err := d.Feed(stream[i:end]); err != nil {
			t.Fatal(err)
		}
	}

	ping, ok := d.Next()
	if !ok || ping.Opcode != OpPing || string(ping.Payload) != "p" {
		t.Fatalf("expected ping first, got %v", ping)
	}
	msg, ok := d.Next()
	if !ok {
		t.Fatal("no message")
	}
	if msg.Opcode != OpBinary || string(msg.Payload) != "one two three" {
		t.Errorf("got %s %q", msg.Opcode, msg.Payload)
	}
	if d.Fragmented() {
		t.Error("decoder still fragmented")
	}
}

func TestProtocolViolations(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{"both reserved bits", []byte{0x80 | 0x40 | 0x20 | byte(OpText), 0x80, 0, 0, 0, 0}},
		{"rsv3", []byte{0x80 | 0x10 | byte(OpText), 0x80, 0, 0, 0, 0}},
		{"unknown opcode", []byte{0x80 | 0x3, 0x80, 0, 0, 0, 0}},
		{"fragmented ping", []byte{byte(OpPing), 0x80, 0, 0, 0, 0}},
		{"oversized control", []byte{0x80 | byte(OpPing), 0x80 | 126, 0, 126}},
		{"lone continuation", []byte{0x80 | byte(OpContinuation), 0x80, 0, 0, 0, 0}},
		{"unmasked", []byte{0x80 | byte(OpText), 0}},
		{"one byte close", []byte{0x80 | byte(OpClose), 0x81, 0, 0, 0, 0, 3}},
		{"new message while fragmented", append(
			AppendFrame(nil, Header{Opcode: OpText, Masked: true}, []byte("a")),
			AppendFrame(nil, Header{Fin: true, Opcode: OpText, Masked: true}, []byte("b"))...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(true, 0)
			err := d.Feed(tt.frame)
			if !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("expected protocol violation, got %v", err)
			}
			if CloseCode(err) != CloseProtocolError {
				t.Errorf("close code %d", CloseCode(err))
			}
			if d.Queue().Len() != 0 {
				t.Error("partial message surfaced")
			}
		})
	}
}

func TestMessageLimits(t *testing.T) {
	d := NewDecoder(false, 10)
	err := d.Feed(AppendMessage(nil, OpBinary, make([]byte, 11)))
	if !errors.Is(err, ErrMessageTooLarge) || CloseCode(err) != CloseMessageTooBig {
		t.Errorf("expected too large, got %v", err)
	}

	d = NewDecoder(false, 0)
	err = d.Feed(AppendMessage(nil, OpText, []byte{0xff, 0xfe}))
	if !errors.Is(err, ErrInvalidUTF8) || CloseCode(err) != CloseInvalidPayload {
		t.Errorf("expected invalid utf-8, got %v", err)
	}
}

func TestClosePayload(t *testing.T) {
	code, reason, err := ParseClosePayload(ClosePayload(CloseGoingAway, "bye"))
	if err != nil || code != CloseGoingAway || reason != "bye" {
		t.Errorf("got %d %q %v", code, reason, err)
	}

	code, _, err = ParseClosePayload(nil)
	if err != nil || code != CloseNoStatus {
		t.Errorf("empty payload: %d %v", code, err)
	}

	if _, _, err := ParseClosePayload([]byte{0x03, 0xED}); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("code 1005 on the wire accepted: %v", err)
	}
	if _, _, err := ParseClosePayload([]byte{0x03, 0xE8, 0xff}); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("invalid reason accepted: %v", err)
	}

	long := ClosePayload(CloseNormal, string(bytes.Repeat([]byte("é"), 100)))
	if len(long) > MaxControlPayload {
		t.Errorf("close payload of %d bytes", len(long))
	}
	if _, _, err := ParseClosePayload(long); err != nil {
		t.Errorf("truncated reason is invalid: %v", err)
	}
}

func TestAcceptKey(t *testing.T) {
	// RFC 6455 section 1.3
	if got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ=="); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("got %s", got)
	}
	if !ValidKey("dGhlIHNhbXBsZSBub25jZQ==") {
		t.Error("sample key rejected")
	}
	if ValidKey("c2hvcnQ=") {
		t.Error("short key accepted")
	}
}

func TestQueue(t *testing.T) {
	var q Queue
	for i := range 3 {
		q.Push(Message{Opcode: OpBinary, Payload: []byte{byte(i)}})
	}
	for i := range 3 {
		msg, ok := q.Pop()
		if !ok || msg.Payload[0] != byte(i) {
			t.Fatalf("pop %d: %v", i, msg)
		}
	}
	if _, ok := q.Pop(); ok || q.Len() != 0 {
		t.Error("queue not empty")
	}
}

func BenchmarkDecode(b *testing.B) {
	frame := AppendFrame(nil, Header{Fin: true, Opcode: OpBinary, Masked: true, Mask: NewMask()}, make([]byte, 4096))
	buf := make([]byte, len(frame))
	d := NewDecoder(true, 0)

	for b.Loop() {
		copy(buf, frame)
		if err := d.Feed(buf); err != nil {
			b.Fatal(err)
		}
		d.Next()
	}
}
