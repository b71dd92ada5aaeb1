package http

import (
	"errors"
	"fmt"
)

// Parser outcomes. ErrNeedMore is not a failure: the caller appends more input
// and calls again with the same parser state.
var (
	ErrNeedMore  = errors.New("http: need more data")
	ErrMalformed = errors.New("http: malformed message")
	ErrTooLarge  = errors.New("http: resource limit exceeded")
	ErrIO        = errors.New("http: i/o failure")

	// ErrUnsupportedCoding accompanies ErrMalformed for transfer codings
	// other than chunked. Requests carrying one get 501.
	ErrUnsupportedCoding = errors.New("http: unsupported transfer coding")
)

var (
	ErrNoCookie       = errors.New("http: named cookie not present")
	ErrInvalidCookie  = errors.New("http: invalid cookie format")
	ErrCookieTooLong  = errors.New("http: cookie value too long")
	ErrConnClosed     = errors.New("http: connection closed")
	ErrServerClosed   = errors.New("http: server closed")
	ErrResourceClosed = errors.New("http: resource already finished")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}

func tooLarge(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrTooLarge}, args...)...)
}

// errorKind names the taxonomy bucket of err for logs and metrics.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNeedMore):
		return "need_more"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrIO):
		return "io"
	}
	return "internal"
}
