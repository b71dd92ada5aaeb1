package websocket

import (
	"fmt"
	"unicode/utf8"
)

type decodePhase uint8

const (
	phaseHeader decodePhase = iota
	phaseLength
	phaseExtLength
	phaseMask
	phasePayload
)

// Decoder turns a byte stream into messages. Frame headers are read one byte
// at a time so they may arrive split across any number of Feed calls.
type Decoder struct {
	phase decodePhase

	fin    bool
	opcode Opcode
	masked bool

	extLen    int // extended length bytes still expected
	remaining uint64
	mask      [4]byte
	maskRead  int
	pos       int // payload position, selects the mask byte

	fragmented bool
	fragOpcode Opcode
	message    []byte
	control    []byte

	queue Queue

	// RequireMask rejects unmasked frames, as a server must.
	RequireMask bool
	// MaxMessageSize bounds a reassembled data message. Zero means no limit.
	MaxMessageSize int64
	// ValidateUTF8 rejects text messages that are not valid UTF-8.
	ValidateUTF8 bool
}

func NewDecoder(requireMask bool, maxMessageSize int64) *Decoder {
	return &Decoder{
		RequireMask:    requireMask,
		MaxMessageSize: maxMessageSize,
		ValidateUTF8:   true,
	}
}

// Queue holds the messages decoded so far.
func (d *Decoder) Queue() *Queue {
	return &d.queue
}

// Next pops the oldest complete message.
func (d *Decoder) Next() (Message, bool) {
	return d.queue.Pop()
}

// Fragmented reports whether a fragmented message is being assembled.
func (d *Decoder) Fragmented() bool {
	return d.fragmented
}

// Feed consumes all of p. Complete messages are appended to the queue. After an
// error the stream is unusable.
func (d *Decoder) Feed(p []byte) error {
	for i := 0; i < len(p); {
		switch d.phase {
		case phaseHeader:
			b := p[i]
			i++
			if b&rsvBits != 0 {
				return fmt.Errorf("%w: reserved bits set", ErrProtocolViolation)
			}
			d.fin = b&finBit != 0
			d.opcode = Opcode(b & 0x0F)
			if err := d.checkOpcode(); err != nil {
				return err
			}
			d.phase = phaseLength

		case phaseLength:
			b := p[i]
			i++
			d.masked = b&maskBit != 0
			if d.RequireMask && !d.masked {
				return fmt.Errorf("%w: unmasked client frame", ErrProtocolViolation)
			}
			d.remaining = uint64(b & 0x7F)
			switch d.remaining {
			case 126:
				d.remaining = 0
				d.extLen = 2
				d.phase = phaseExtLength
			case 127:
				d.remaining = 0
				d.extLen = 8
				d.phase = phaseExtLength
			default:
				if err := d.lengthDone(); err != nil {
					return err
				}
			}

		case phaseExtLength:
			d.remaining = d.remaining<<8 | uint64(p[i])
			i++
			d.extLen--
			if d.extLen == 0 {
				if err := d.lengthDone(); err != nil {
					return err
				}
			}

		case phaseMask:
			d.mask[d.maskRead] = p[i]
			i++
			d.maskRead++
			if d.maskRead == 4 {
				if err := d.headerDone(); err != nil {
					return err
				}
			}

		case phasePayload:
			k := uint64(len(p) - i)
			if k > d.remaining {
				k = d.remaining
			}
			chunk := p[i : i+int(k)]
			i += int(k)
			if err := d.payload(chunk); err != nil {
				return err
			}
			d.remaining -= k
			if d.remaining == 0 {
				if err := d.frameDone(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (d *Decoder) checkOpcode() error {
	if !d.opcode.valid() {
		return fmt.Errorf("%w: unknown opcode 0x%x", ErrProtocolViolation, byte(d.opcode))
	}
	if d.opcode.IsControl() {
		if !d.fin {
			return fmt.Errorf("%w: fragmented control frame", ErrProtocolViolation)
		}
		return nil
	}
	if d.opcode == OpContinuation {
		if !d.fragmented {
			return fmt.Errorf("%w: continuation without a message", ErrProtocolViolation)
		}
		return nil
	}
	if d.fragmented {
		return fmt.Errorf("%w: new message inside a fragmented one", ErrProtocolViolation)
	}
	return nil
}

func (d *Decoder) lengthDone() error {
	if d.remaining>>63 != 0 {
		return fmt.Errorf("%w: payload length has the high bit set", ErrProtocolViolation)
	}
	if d.opcode.IsControl() {
		if d.remaining > MaxControlPayload {
			return fmt.Errorf("%w: control frame of %d bytes", ErrProtocolViolation, d.remaining)
		}
	} else if d.MaxMessageSize > 0 && uint64(len(d.message))+d.remaining > uint64(d.MaxMessageSize) {
		return ErrMessageTooLarge
	}

	if d.masked {
		d.maskRead = 0
		d.phase = phaseMask
		return nil
	}
	return d.headerDone()
}

func (d *Decoder) headerDone() error {
	d.pos = 0
	if d.opcode.IsControl() {
		d.control = d.control[:0]
	}
	if d.remaining == 0 {
		return d.frameDone()
	}
	d.phase = phasePayload
	return nil
}

// payload unmasks chunk in place and appends it to the message under assembly.
func (d *Decoder) payload(chunk []byte) error {
	if d.masked {
		for j := range chunk {
			chunk[j] ^= d.mask[d.pos&3]
			d.pos++
		}
	}
	if d.opcode.IsControl() {
		d.control = append(d.control, chunk...)
	} else {
		d.message = append(d.message, chunk...)
	}
	return nil
}

func (d *Decoder) frameDone() error {
	d.phase = phaseHeader

	if d.opcode.IsControl() {
		if d.opcode == OpClose && len(d.control) == 1 {
			return fmt.Errorf("%w: one byte close payload", ErrProtocolViolation)
		}
		d.queue.Push(Message{Opcode: d.opcode, Payload: append([]byte(nil), d.control...)})
		return nil
	}

	if d.opcode != OpContinuation {
		d.fragOpcode = d.opcode
	}
	if !d.fin {
		d.fragmented = true
		return nil
	}

	msg := Message{Opcode: d.fragOpcode, Payload: d.message}
	if msg.Payload == nil {
		msg.Payload = []byte{}
	}
	d.message = nil
	d.fragmented = false

	if msg.Opcode == OpText && d.ValidateUTF8 && !utf8.Valid(msg.Payload) {
		return ErrInvalidUTF8
	}
	d.queue.Push(msg)
	return nil
}

// Reset drops partial frames and queued messages.
func (d *Decoder) Reset() {
	d.phase = phaseHeader
	d.remaining = 0
	d.extLen = 0
	d.maskRead = 0
	d.pos = 0
	d.fragmented = false
	d.message = nil
	d.control = d.control[:0]
	d.queue.Reset()
}
