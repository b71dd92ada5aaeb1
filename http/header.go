package http

import "strings"

// Headers maps a lower-cased field name to its values in arrival order.
type Headers map[string][]string

func (h Headers) Add(key, value string) {
	key = strings.ToLower(key)
	h[key] = append(h[key], value)
}

// Set replaces every value of key.
func (h Headers) Set(key, value string) {
	h[strings.ToLower(key)] = []string{value}
}

func (h Headers) Get(key string) string {
	if v := h[strings.ToLower(key)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func (h Headers) Values(key string) []string {
	return h[strings.ToLower(key)]
}

func (h Headers) Has(key string) bool {
	_, ok := h[strings.ToLower(key)]
	return ok
}

func (h Headers) Del(key string) {
	delete(h, strings.ToLower(key))
}

func (h Headers) reset() {
	for k := range h {
		delete(h, k)
	}
}

// singleValueHeaders are never comma-split because commas are legal inside
// their values.
var singleValueHeaders = map[string]bool{
	"authorization":       true,
	"content-disposition": true,
	"content-type":        true,
	"cookie":              true,
	"date":                true,
	"expires":             true,
	"host":                true,
	"if-modified-since":   true,
	"if-range":            true,
	"if-unmodified-since": true,
	"last-modified":       true,
	"location":            true,
	"proxy-authorization": true,
	"referer":             true,
	"retry-after":         true,
	"sec-websocket-key":   true,
	"set-cookie":          true,
	"user-agent":          true,
	"www-authenticate":    true,
}

// addField stores one received field. Values of list-valued fields are split
// on commas and trimmed one by one.
func (h Headers) addField(key, value string) {
	if singleValueHeaders[key] || strings.IndexByte(value, ',') < 0 {
		h[key] = append(h[key], value)
		return
	}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h[key] = append(h[key], part)
	}
}
