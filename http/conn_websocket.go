package http

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/freekieb7/hopper/websocket"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/attribute"
)

// WebSocketHandler receives the events of an upgraded connection. Callbacks of
// one connection never run concurrently and see messages in arrival order.
type WebSocketHandler struct {
	// Subprotocols lists the accepted Sec-WebSocket-Protocol values by
	// preference. The first one offered by the client is selected.
	Subprotocols []string

	OnOpen    func(ws *WebSocket)
	OnMessage func(ws *WebSocket, msg websocket.Message)
	// OnClose fires once. code is CloseAbnormal when the transport went away
	// without a close frame.
	OnClose func(ws *WebSocket, code int, reason string)
}

// WebSocket is the server side of an upgraded connection. Send and Close are
// safe to call from any goroutine.
type WebSocket struct {
	conn        *Conn
	handler     *WebSocketHandler
	decoder     *websocket.Decoder
	subprotocol string

	closing  atomic.Bool // a close frame was sent
	notified sync.Once
}

// Request is the upgrade request. It stays valid until OnClose returns.
func (ws *WebSocket) Request() *Request {
	return ws.conn.req
}

func (ws *WebSocket) RemoteAddr() net.Addr {
	return ws.conn.remote
}

// Subprotocol is the negotiated subprotocol, empty when none was agreed.
func (ws *WebSocket) Subprotocol() string {
	return ws.subprotocol
}

// Send writes one unfragmented message.
func (ws *WebSocket) Send(op websocket.Opcode, payload []byte) error {
	if ws.closing.Load() || ws.conn.Closed() {
		return ErrConnClosed
	}
	return ws.send(op, payload)
}

func (ws *WebSocket) SendText(text string) error {
	return ws.Send(websocket.OpText, []byte(text))
}

func (ws *WebSocket) send(op websocket.Opcode, payload []byte) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = websocket.AppendMessage(buf.B, op, payload)
	return ws.conn.write(buf.B)
}

// Close starts the closing handshake. The connection is released once the
// client answers with its own close frame or the WebSocket timeout expires.
func (ws *WebSocket) Close(code int, reason string) error {
	if ws.closing.Swap(true) {
		return nil
	}
	return ws.send(websocket.OpClose, websocket.ClosePayload(code, reason))
}

// closeWith sends a close frame and releases the connection without waiting
// for the answer. It runs on the runner.
func (ws *WebSocket) closeWith(code int, reason string) {
	c := ws.conn
	if !ws.closing.Swap(true) {
		ws.send(websocket.OpClose, websocket.ClosePayload(code, reason))
	}
	ws.notify(code, reason)
	c.teardown()
}

func (ws *WebSocket) notify(code int, reason string) {
	ws.notified.Do(func() {
		if ws.handler.OnClose == nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				ws.conn.logger.Error("websocket close callback panicked", "panic", r)
			}
		}()
		ws.handler.OnClose(ws, code, reason)
	})
}

// released runs when the connection is torn down.
func (ws *WebSocket) released() {
	ws.notify(websocket.CloseAbnormal, "")
}

// upgrade answers a WebSocket handshake on a route that accepts it.
func (c *Conn) upgrade() bool {
	req := c.req
	if req.Headers.Get("sec-websocket-version") != websocket.Version {
		c.res.Headers.Set("sec-websocket-version", websocket.Version)
		c.res.WithError(StatusUpgradeRequired, "unsupported websocket version")
		c.closeAfter = true
		c.setState(StateFinish)
		return true
	}
	key := req.Headers.Get("sec-websocket-key")
	if !websocket.ValidKey(key) || req.Minor < 1 || req.Chunked || req.ContentLength > 0 {
		c.res.WithError(StatusBadRequest, "invalid websocket handshake")
		c.closeAfter = true
		c.setState(StateFinish)
		return true
	}

	ws := &WebSocket{
		conn:    c,
		handler: c.route.WebSocket,
		decoder: websocket.NewDecoder(true, c.cfg.MaxWebSocketMessage),
	}
	ws.subprotocol = selectSubprotocol(req.Headers.Values("sec-websocket-protocol"), ws.handler.Subprotocols)

	buf := bytebufferpool.Get()
	buf.B = append(buf.B, websocketUpgradeHead...)
	buf.B = append(buf.B, websocket.AcceptKey(key)...)
	if ws.subprotocol != "" {
		buf.B = append(buf.B, "\r\nsec-websocket-protocol: "...)
		buf.B = append(buf.B, ws.subprotocol...)
	}
	buf.B = append(buf.B, "\r\n\r\n"...)
	err := c.write(buf.B)
	bytebufferpool.Put(buf)
	if err != nil {
		return false
	}

	c.srv.requests.Add(1)
	c.served.Add(1)
	c.srv.metrics.request(req.Context(), req.Method(), StatusSwitchingProtocols)
	if c.span != nil {
		c.span.SetAttributes(attribute.Int("http.response.status_code", StatusSwitchingProtocols))
		c.span.End()
		c.span = nil
	}
	c.logger.Debug("websocket opened", "path", req.Path, "subprotocol", ws.subprotocol)

	c.ws = ws
	c.busy.Store(false)
	c.setState(StateWebSocket)
	if ws.handler.OnOpen != nil {
		c.dispatch(func() {
			defer ws.recover()
			ws.handler.OnOpen(ws)
		})
		return false
	}
	return true
}

func selectSubprotocol(offered []string, accepted []string) string {
	for _, want := range accepted {
		for _, line := range offered {
			for _, p := range strings.Split(line, ",") {
				if strings.TrimSpace(p) == want {
					return want
				}
			}
		}
	}
	return ""
}

func (ws *WebSocket) recover() {
	if r := recover(); r != nil {
		ws.conn.logger.Error("websocket callback panicked", "panic", r)
		ws.Close(websocket.CloseInternalError, "")
	}
}

// serveWebSocket decodes buffered frames and delivers one message at a time.
func (c *Conn) serveWebSocket() bool {
	ws := c.ws
	if c.off < len(c.buf) {
		data := c.buf[c.off:]
		c.off = len(c.buf)
		if err := ws.decoder.Feed(data); err != nil {
			c.srv.metrics.parseError(err)
			c.logger.Info("websocket protocol error", "err", err)
			ws.closeWith(websocket.CloseCode(err), "")
			return false
		}
	}

	for {
		msg, ok := ws.decoder.Next()
		if !ok {
			return false
		}
		c.srv.metrics.wsMessage(msg.Opcode.String())

		switch msg.Opcode {
		case websocket.OpPing:
			if !ws.closing.Load() {
				ws.send(websocket.OpPong, msg.Payload)
			}
		case websocket.OpPong:
		case websocket.OpClose:
			code, reason, err := websocket.ParseClosePayload(msg.Payload)
			if err != nil {
				ws.closeWith(websocket.CloseCode(err), "")
				return false
			}
			if !ws.closing.Swap(true) {
				echo := code
				if echo == websocket.CloseNoStatus {
					echo = websocket.CloseNormal
				}
				ws.send(websocket.OpClose, websocket.ClosePayload(echo, ""))
			}
			ws.notify(code, reason)
			c.teardown()
			return false
		default:
			if ws.handler.OnMessage == nil || ws.closing.Load() {
				continue
			}
			c.dispatch(func() {
				defer ws.recover()
				ws.handler.OnMessage(ws, msg)
			})
			return false
		}
	}
}

// closeWebSockets sends close 1001 to every upgraded connection of srv.
func (srv *Server) closeWebSockets(ctx context.Context) {
	srv.conns.Range(func(_ uint64, c *Conn) bool {
		if c.State() == StateWebSocket && ctx.Err() == nil {
			c.ws.Close(websocket.CloseGoingAway, "server shutting down")
		}
		return true
	})
}
