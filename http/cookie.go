package http

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SameSite int

const (
	SameSiteDefaultMode SameSite = iota + 1
	SameSiteLaxMode
	SameSiteStrictMode
	SameSiteNoneMode
)

var sameSiteNames = map[SameSite]string{
	SameSiteLaxMode:    "Lax",
	SameSiteStrictMode: "Strict",
	SameSiteNoneMode:   "None",
}

const maxCookieValue = 4096

// cookieTimeLayouts are tried in order when reading Expires.
var cookieTimeLayouts = [...]string{
	TimeFormat,
	"Mon, 02-Jan-2006 15:04:05 GMT",
	"Mon, 02-Jan-06 15:04:05 GMT",
	"Monday, 02-Jan-06 15:04:05 GMT",
	"Mon Jan 02 15:04:05 2006",
	time.RFC3339,
}

// Cookie is a Set-Cookie entry of a Response.
type Cookie struct {
	Name  string
	Value string

	Path        string
	Domain      string
	Expires     time.Time
	MaxAge      int
	Secure      bool
	HttpOnly    bool
	SameSite    SameSite
	Partitioned bool
}

// AppendTo appends the Set-Cookie field value to dst.
func (c *Cookie) AppendTo(dst []byte) []byte {
	dst = append(dst, c.Name...)
	dst = append(dst, '=')
	dst = append(dst, c.Value...)

	dst = appendCookieAttr(dst, "Path", c.Path)
	dst = appendCookieAttr(dst, "Domain", c.Domain)
	if !c.Expires.IsZero() {
		dst = append(dst, "; Expires="...)
		dst = c.Expires.UTC().AppendFormat(dst, TimeFormat)
	}
	switch {
	case c.MaxAge > 0:
		dst = append(dst, "; Max-Age="...)
		dst = strconv.AppendInt(dst, int64(c.MaxAge), 10)
	case c.MaxAge < 0:
		dst = append(dst, "; Max-Age=0"...)
	}
	if c.Secure {
		dst = append(dst, "; Secure"...)
	}
	if c.HttpOnly {
		dst = append(dst, "; HttpOnly"...)
	}
	dst = appendCookieAttr(dst, "SameSite", sameSiteNames[c.SameSite])
	if c.Partitioned {
		dst = append(dst, "; Partitioned"...)
	}
	return dst
}

func appendCookieAttr(dst []byte, name, value string) []byte {
	if value == "" {
		return dst
	}
	dst = append(dst, "; "...)
	dst = append(dst, name...)
	dst = append(dst, '=')
	return append(dst, value...)
}

func (c *Cookie) String() string {
	return string(c.AppendTo(make([]byte, 0, 64)))
}

// Valid checks the cookie against RFC 6265 naming rules.
func (c *Cookie) Valid() error {
	if c.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCookie)
	}
	if i := strings.IndexFunc(c.Name, func(r rune) bool { return !isCookieNameRune(r) }); i >= 0 {
		return fmt.Errorf("%w: invalid character %q in name", ErrInvalidCookie, c.Name[i])
	}
	if len(c.Value) > maxCookieValue {
		return ErrCookieTooLong
	}
	if c.SameSite == SameSiteNoneMode && !c.Secure {
		return fmt.Errorf("%w: SameSite=None requires Secure", ErrInvalidCookie)
	}
	return nil
}

// Expire turns the cookie into a deletion instruction for the client.
func (c *Cookie) Expire() {
	c.Value = ""
	c.MaxAge = -1
	c.Expires = time.Unix(1, 0)
}

// Parse reads a Set-Cookie field value. Unknown attributes and unparsable
// Expires or Max-Age values are ignored.
func (c *Cookie) Parse(data string) error {
	*c = Cookie{}

	pair, attrs, _ := strings.Cut(data, ";")
	name, value, ok := strings.Cut(pair, "=")
	if !ok {
		return fmt.Errorf("%w: missing '='", ErrInvalidCookie)
	}
	c.Name = strings.TrimSpace(name)
	c.Value = strings.TrimSpace(value)
	if c.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidCookie)
	}

	for attrs != "" {
		var attr string
		attr, attrs, _ = strings.Cut(attrs, ";")
		key, val, _ := strings.Cut(attr, "=")
		val = strings.TrimSpace(val)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "path":
			c.Path = val
		case "domain":
			c.Domain = val
		case "expires":
			c.Expires = parseCookieTime(val)
		case "max-age":
			if n, err := strconv.Atoi(val); err == nil {
				c.MaxAge = n
			}
		case "samesite":
			c.SameSite = SameSiteDefaultMode
			for mode, name := range sameSiteNames {
				if strings.EqualFold(name, val) {
					c.SameSite = mode
				}
			}
		case "secure":
			c.Secure = true
		case "httponly":
			c.HttpOnly = true
		case "partitioned":
			c.Partitioned = true
		}
	}
	return nil
}

func parseCookieTime(value string) time.Time {
	for _, layout := range cookieTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func isCookieNameRune(r rune) bool {
	return r > 0x20 && r < 0x7f && !strings.ContainsRune("\"(),/:;<=>?@[\\]{}", r)
}

// splitCookieHeader splits a request Cookie field into name/value pairs. Pairs
// without '=' or with an empty name are skipped.
func splitCookieHeader(value string, into map[string]string) {
	for value != "" {
		var part string
		part, value, _ = strings.Cut(value, ";")
		name, val, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		into[name] = val
	}
}
