package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"io"
)

// AppendFrame appends one frame carrying payload. The 7, 16 or 64 bit length
// form is chosen by payload size. A masked frame gets its payload XORed with
// h.Mask; payload itself is left untouched.
func AppendFrame(dst []byte, h Header, payload []byte) []byte {
	b0 := byte(h.Opcode)
	if h.Fin {
		b0 |= finBit
	}
	var b1 byte
	if h.Masked {
		b1 = maskBit
	}

	n := len(payload)
	switch {
	case n <= 125:
		dst = append(dst, b0, b1|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, b0, b1|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, b1|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if !h.Masked {
		return append(dst, payload...)
	}
	dst = append(dst, h.Mask[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	for i := range payload {
		dst[start+i] ^= h.Mask[i&3]
	}
	return dst
}

// AppendMessage appends payload as a single unmasked final frame.
func AppendMessage(dst []byte, op Opcode, payload []byte) []byte {
	return AppendFrame(dst, Header{Fin: true, Opcode: op}, payload)
}

// WriteMessage writes payload to w as one unmasked frame, as a server does.
func WriteMessage(w io.Writer, op Opcode, payload []byte) error {
	_, err := w.Write(AppendMessage(nil, op, payload))
	return err
}

// NewMask returns a random masking key for client frames.
func NewMask() [4]byte {
	var mask [4]byte
	rand.Read(mask[:])
	return mask
}
