// Package websocket implements RFC 6455 framing: an incremental frame decoder
// that reassembles messages, frame encoding and the opening handshake keys.
package websocket

import (
	"errors"
	"strconv"
)

type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// MaxControlPayload is the largest payload of a ping, pong or close frame.
const MaxControlPayload = 125

const (
	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80
)

var (
	ErrProtocolViolation = errors.New("websocket: protocol violation")
	ErrMessageTooLarge   = errors.New("websocket: message too large")
	ErrInvalidUTF8       = errors.New("websocket: invalid utf-8 in text payload")
)

// IsControl reports whether op is ping, pong or close.
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

func (op Opcode) valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return "opcode(" + strconv.Itoa(int(op)) + ")"
}

// Message is a complete data or control message. The payload is owned by the
// receiver.
type Message struct {
	Opcode  Opcode
	Payload []byte
}

// Header describes one frame to encode.
type Header struct {
	Fin    bool
	Opcode Opcode
	Masked bool
	Mask   [4]byte
}
