package http

import "strings"

// Route maps method, host and path to a handler and the body policy used while
// the request is read.
type Route struct {
	Methods []string
	// Host matches the request host without port. Empty matches any host.
	Host string
	// Path matches exactly, or as a prefix when it ends in "/*".
	Path    string
	Handler Handler

	// MaxBodySize overrides Config.MaxBodySize when positive.
	MaxBodySize int64
	// Spool stores every body in a temporary file instead of memory.
	Spool bool
	// Stream receives body bytes as they are decoded. The slice is only valid
	// during the call. The request body is not accumulated when it is set.
	Stream func(req *Request, p []byte) error
	// WebSocket accepts upgrade requests on this route.
	WebSocket *WebSocketHandler
}

var NotFoundHandler Handler = func(req *Request, res *Response) {
	res.WithError(StatusNotFound, "")
}

var MethodNotAllowedHandler Handler = func(req *Request, res *Response) {
	res.WithError(StatusMethodNotAllowed, "")
}

var methodNotAllowedRoute = &Route{Handler: MethodNotAllowedHandler}

func (route *Route) matchPath(path string) bool {
	if prefix, ok := strings.CutSuffix(route.Path, "/*"); ok {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	return route.Path == path
}

func (route *Route) matchMethod(method string) bool {
	for _, m := range route.Methods {
		if m == method || (method == "HEAD" && m == "GET") {
			return true
		}
	}
	return false
}
