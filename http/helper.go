package http

import (
	"math"
	"strconv"
)

// maxHexDigits bounds a chunk-size line so the accumulator cannot overflow.
const maxHexDigits = strconv.IntSize / 4

// parseUint parses an unsigned decimal without locale or sign handling.
func parseUint(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := int64(c - '0')
		if n > (math.MaxInt64-d)/10 {
			return 0, false
		}
		n = n*10 + d
	}
	return n, true
}

// appendUint writes n in decimal without going through strconv's allocations.
func appendUint(dst []byte, n int64) []byte {
	if n == 0 {
		return append(dst, '0')
	}

	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = '0' + byte(n%10)
		n /= 10
	}
	return append(dst, buf[i:]...)
}

// appendHex writes n in lower-case hex, as used by chunk-size lines.
func appendHex(dst []byte, n int) []byte {
	if n == 0 {
		return append(dst, '0')
	}

	const hexDigits = "0123456789abcdef"
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = hexDigits[n&0xF]
		n >>= 4
	}
	return append(dst, buf[i:]...)
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10
	}
	return 255
}

func toLower(data []byte) {
	for i := range data {
		if data[i] >= 'A' && data[i] <= 'Z' {
			data[i] += 'a' - 'A'
		}
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && isSpace(b[0]) {
		b = b[1:]
	}
	for len(b) > 0 && isSpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}

func isWriteMethod(method string) bool {
	return method == "POST" || method == "PUT" || method == "PATCH"
}
