package websocket

import (
	"crypto/sha1"
	"encoding/base64"
)

// GUID is appended to the client key to derive Sec-WebSocket-Accept.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Version is the only protocol version accepted in Sec-WebSocket-Version.
const Version = "13"

// AcceptKey computes base64(sha1(key + GUID)).
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(GUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ValidKey reports whether key is the base64 form of 16 bytes.
func ValidKey(key string) bool {
	if len(key) != 24 {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(raw) == 16
}
