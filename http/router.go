package http

import (
	"net"
	"strings"
)

type Router struct {
	Routes     []Route
	Middleware []Middleware
}

func NewRouter() Router {
	return Router{
		Routes: make([]Route, 0),
	}
}

func (router *Router) GET(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{"GET"}, path, handler, middleware...)
}

func (router *Router) HEAD(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{"HEAD"}, path, handler, middleware...)
}

func (router *Router) POST(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{"POST"}, path, handler, middleware...)
}

func (router *Router) PUT(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{"PUT"}, path, handler, middleware...)
}

func (router *Router) PATCH(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{"PATCH"}, path, handler, middleware...)
}

func (router *Router) DELETE(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{"DELETE"}, path, handler, middleware...)
}

func (router *Router) OPTIONS(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{"OPTIONS"}, path, handler, middleware...)
}

func (router *Router) Any(methods []string, path string, handler Handler, middleware ...Middleware) {
	router.Handle(Route{Methods: methods, Path: path, Handler: handler}, middleware...)
}

// Handle adds a route with its body policy. Middleware wraps the handler in
// the given order, the router-wide middleware outermost.
func (router *Router) Handle(route Route, middleware ...Middleware) {
	for _, mw := range middleware {
		route.Handler = mw(route.Handler)
	}
	router.Routes = append(router.Routes, route)
}

// WebSocket accepts upgrades on path.
func (router *Router) WebSocket(path string, handler *WebSocketHandler) {
	router.Routes = append(router.Routes, Route{
		Methods:   []string{"GET"},
		Path:      path,
		Handler:   upgradeRequiredHandler,
		WebSocket: handler,
	})
}

func (router *Router) Group(path string, groupFunc func(group *Router), middlewareList ...Middleware) {
	group := NewRouter()

	groupFunc(&group)

	for _, route := range group.Routes {
		route.Path = path + route.Path
		for _, middleware := range middlewareList {
			route.Handler = middleware(route.Handler)
		}

		router.Routes = append(router.Routes, route)
	}
}

// Use adds middleware applied to every route when the router is resolved.
func (router *Router) Use(middleware ...Middleware) {
	router.Middleware = append(router.Middleware, middleware...)
}

// Resolve finds the route for a request. It returns nil when no path matches
// and a 405 route when the path matches with another method.
func (router *Router) Resolve(method, host, path string) *Route {
	host = stripPort(host)
	pathMatched := false
	for i := range router.Routes {
		route := &router.Routes[i]
		if route.Host != "" && !strings.EqualFold(route.Host, host) {
			continue
		}
		if !route.matchPath(path) {
			continue
		}
		if route.matchMethod(method) {
			return route
		}
		pathMatched = true
	}
	if pathMatched {
		return methodNotAllowedRoute
	}
	return nil
}

// Compile applies the router-wide middleware to every route handler. Servers
// call it once before accepting connections.
func (router *Router) Compile() {
	for i := range router.Routes {
		for j := len(router.Middleware) - 1; j >= 0; j-- {
			router.Routes[i].Handler = router.Middleware[j](router.Routes[i].Handler)
		}
	}
	router.Middleware = nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

var upgradeRequiredHandler Handler = func(req *Request, res *Response) {
	res.Headers.Set("upgrade", "websocket")
	res.WithError(StatusUpgradeRequired, "")
}
