package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Close status codes of RFC 6455 section 7.4.1.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseUnsupportedData = 1003
	CloseNoStatus        = 1005
	CloseAbnormal        = 1006
	CloseInvalidPayload  = 1007
	ClosePolicyViolation = 1008
	CloseMessageTooBig   = 1009
	CloseInternalError   = 1011
)

// ClosePayload builds the body of a close frame. The reason is cut to fit a
// control frame.
func ClosePayload(code int, reason string) []byte {
	if code == CloseNoStatus {
		return nil
	}
	if len(reason) > MaxControlPayload-2 {
		reason = reason[:MaxControlPayload-2]
		for !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	p := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), uint16(code))
	return append(p, reason...)
}

// ParseClosePayload reads the status code and reason of a close frame. An
// empty payload yields CloseNoStatus.
func ParseClosePayload(p []byte) (code int, reason string, err error) {
	switch len(p) {
	case 0:
		return CloseNoStatus, "", nil
	case 1:
		return 0, "", fmt.Errorf("%w: one byte close payload", ErrProtocolViolation)
	}
	code = int(binary.BigEndian.Uint16(p))
	if !validCloseCode(code) {
		return 0, "", fmt.Errorf("%w: close code %d", ErrProtocolViolation, code)
	}
	if !utf8.Valid(p[2:]) {
		return 0, "", ErrInvalidUTF8
	}
	return code, string(p[2:]), nil
}

func validCloseCode(code int) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1011:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}

// CloseCode maps a decode error to the status sent in the close frame.
func CloseCode(err error) int {
	switch {
	case err == nil:
		return CloseNormal
	case errors.Is(err, ErrMessageTooLarge):
		return CloseMessageTooBig
	case errors.Is(err, ErrInvalidUTF8):
		return CloseInvalidPayload
	case errors.Is(err, ErrProtocolViolation):
		return CloseProtocolError
	}
	return CloseInternalError
}
