package http

import "context"

// Context carries the request span. It is never nil.
func (req *Request) Context() context.Context {
	if req.ctx == nil {
		return context.Background()
	}
	return req.ctx
}

// WithContext replaces the context, for middleware that adds values.
func (req *Request) WithContext(ctx context.Context) {
	req.ctx = ctx
}
