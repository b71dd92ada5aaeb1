package http

import (
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"time"
)

type Middleware func(next Handler) Handler

// RecoverMiddleware turns a handler panic into a 500 page.
func RecoverMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(req *Request, res *Response) {
			defer func() {
				if recover := recover(); recover != nil {
					logger.ErrorContext(req.Context(), "handler panicked",
						"method", req.Method(), "path", req.Path, "panic", recover)

					res.WithError(StatusInternalServerError, "")
				}
			}()

			next(req, res)
		}
	}
}

// AccessLogMiddleware logs one line per answered request.
func AccessLogMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(req *Request, res *Response) {
			start := time.Now()
			next(req, res)
			logger.InfoContext(req.Context(), "request",
				"method", req.Method(),
				"path", req.Path,
				"status", res.status(),
				"duration", time.Since(start))
		}
	}
}

// EnforceCookieMiddleware hands out a random session id cookie to clients that
// do not send one yet.
func EnforceCookieMiddleware(name string) Middleware {
	return func(next Handler) Handler {
		return func(req *Request, res *Response) {
			if _, err := req.Cookie(name); err == ErrNoCookie {
				rawCookieValue := make([]byte, 16)
				rand.Read(rawCookieValue)

				cookie := Cookie{
					Name:     name,
					Value:    base64.URLEncoding.EncodeToString(rawCookieValue),
					Expires:  time.Now().Add(365 * 24 * time.Hour),
					Secure:   true,
					HttpOnly: true,
					Path:     "/",
					SameSite: SameSiteStrictMode,
				}

				req.Cookies[name] = cookie.Value
				res.SetCookie(&cookie)
			}

			next(req, res)
		}
	}
}
