package http

import "strings"

// BoundaryFromContentType returns the boundary of a multipart/form-data
// Content-Type value.
func BoundaryFromContentType(contentType string) (string, bool) {
	semi := strings.IndexByte(contentType, ';')
	if semi < 0 || !strings.EqualFold(strings.TrimSpace(contentType[:semi]), "multipart/form-data") {
		return "", false
	}

	params := contentType[semi:]
	at := paramIndex(params, "boundary=")
	if at < 0 {
		return "", false
	}
	value := params[at+len("boundary="):]
	if len(value) > 0 && value[0] == '"' {
		end := strings.IndexByte(value[1:], '"')
		if end < 0 {
			return "", false
		}
		value = value[1 : end+1]
	} else if end := strings.IndexAny(value, "; \t"); end >= 0 {
		value = value[:end]
	}

	if value == "" || len(value) > MaxBoundaryLen || strings.ContainsAny(value, "\r\n") {
		return "", false
	}
	return value, true
}

// DispositionParam extracts a double-quoted parameter such as name="x" from a
// Content-Disposition value. Escapes inside the quotes are not interpreted.
func DispositionParam(header, param string) (string, bool) {
	key := param + `="`
	at := paramIndex(header, key)
	if at < 0 {
		return "", false
	}
	value := header[at+len(key):]
	end := strings.IndexByte(value, '"')
	if end < 0 {
		return "", false
	}
	return value[:end], true
}

// paramIndex finds key as a whole parameter name: the preceding byte must be
// a separator, so "filename=" does not match "name=".
func paramIndex(s, key string) int {
	from := 0
	for {
		i := strings.Index(s[from:], key)
		if i < 0 {
			return -1
		}
		i += from
		if i > 0 {
			switch s[i-1] {
			case ';', ' ', '\t':
				return i
			}
		}
		from = i + 1
	}
}
