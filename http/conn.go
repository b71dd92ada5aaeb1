package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freekieb7/hopper/websocket"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http/httpguts"
)

type State int32

const (
	StateOpen State = iota
	StateReceive
	StateProcess
	StateConsume
	StateStore
	StateSkip
	StateFinish
	StateWebSocket
	StateClose
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateReceive:
		return "receive"
	case StateProcess:
		return "process"
	case StateConsume:
		return "consume"
	case StateStore:
		return "store"
	case StateSkip:
		return "skip"
	case StateFinish:
		return "finish"
	case StateWebSocket:
		return "websocket"
	case StateClose:
		return "close"
	}
	return "unknown"
}

// Sink is the outgoing half of a transport. Write must not retain p.
type Sink interface {
	Write(p []byte) error
	Close() error
}

// Resumer is implemented by sinks of transports that hold input back while
// the connection is not accepting. Resume is called once it accepts again.
type Resumer interface {
	Resume()
}

// events raised from outside the runner
const (
	evTimeout uint8 = 1 << iota
	evClose
	evShutdown
)

// Conn is the state machine of one client connection. The transport pushes
// received bytes with Feed; parsing runs on whichever goroutine kicks the
// connection while handlers run on the server's Dispatcher. Only one flow
// touches the parser, request and response at a time.
type Conn struct {
	id     uint64
	srv    *Server
	cfg    *Config
	sink   Sink
	remote net.Addr
	logger *slog.Logger

	mu       sync.Mutex
	ready    sync.Cond // signaled when the connection accepts input again
	incoming []byte
	events   uint8
	running  bool
	again    bool
	inflight bool
	closed   bool
	stalled  bool // a transport was refused input

	wmu sync.Mutex // serializes sink writes

	state      atomic.Int32
	lastActive atomic.Int64

	// owned by the runner
	buf        []byte
	off        int
	parser     Parser
	req        *Request
	res        *Response
	route      *Route
	body       bodyReader
	closeAfter bool
	span       trace.Span
	started    time.Time
	ws         *WebSocket

	busy         atomic.Bool // part of a request has arrived
	served       atomic.Int64
	bytesParsed  atomic.Int64
	bytesWritten atomic.Int64
	pendingBody  atomic.Int64
}

// NewConn registers a connection with srv. The transport feeds it input and
// provides sink for output.
func NewConn(srv *Server, sink Sink, remote net.Addr) *Conn {
	srv.prepare()
	c := &Conn{
		id:     srv.nextID.Add(1),
		srv:    srv,
		cfg:    &srv.cfg,
		sink:   sink,
		remote: remote,
		req:    NewRequest(),
		res:    NewResponse(),
	}
	c.ready.L = &c.mu
	c.logger = srv.logger.With("conn", c.id, "remote", remoteString(remote))
	c.parser.MaxHeaderSize = c.cfg.MaxHeaderSize
	c.req.RemoteAddr = remote
	c.touch()

	srv.conns.Store(c.id, c)
	srv.accepted.Add(1)
	srv.metrics.active.Add(context.Background(), 1)
	c.logger.Debug("connection opened")
	return c
}

func remoteString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

func (c *Conn) ID() uint64 {
	return c.id
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// Closed reports whether the connection released its transport.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// Idle is the time since input last arrived.
func (c *Conn) Idle() time.Duration {
	return time.Since(time.Unix(0, c.lastActive.Load()))
}

// ReadTimeout is the time the connection may wait for input in its current
// state: the idle timeout between requests, the read timeout inside one, and
// the WebSocket timeout once upgraded.
func (c *Conn) ReadTimeout() time.Duration {
	switch c.State() {
	case StateOpen:
		return c.cfg.ReadTimeout
	case StateReceive:
		if !c.busy.Load() && c.served.Load() > 0 {
			return c.cfg.IdleTimeout
		}
		return c.cfg.ReadTimeout
	case StateWebSocket:
		return c.cfg.WebSocketTimeout
	}
	return c.cfg.ReadTimeout
}

func (c *Conn) Stats() ConnStats {
	return ConnStats{
		ID:           c.id,
		Remote:       remoteString(c.remote),
		State:        c.State().String(),
		BytesParsed:  c.bytesParsed.Load(),
		BytesWritten: c.bytesWritten.Load(),
		PendingBody:  c.pendingBody.Load(),
		Requests:     c.served.Load(),
	}
}

// Accepting reports whether the transport may feed more input. While a
// handler owns the exchange or earlier input is still queued the transport
// keeps further bytes in its own buffers. A closed connection accepts, so the
// next Feed reports ErrConnClosed.
func (c *Conn) Accepting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acceptingLocked() {
		return true
	}
	c.stalled = true
	return false
}

// WaitAccepting blocks until Accepting would report true.
func (c *Conn) WaitAccepting() {
	c.mu.Lock()
	for !c.acceptingLocked() {
		c.ready.Wait()
	}
	c.mu.Unlock()
}

func (c *Conn) acceptingLocked() bool {
	return c.closed || (!c.inflight && !c.running && len(c.incoming) == 0)
}

// releaseLocked wakes transports waiting for the connection to accept input.
// It reports whether a Resumer has to be told.
func (c *Conn) releaseLocked() bool {
	if !c.acceptingLocked() {
		return false
	}
	c.ready.Broadcast()
	resume := c.stalled
	c.stalled = false
	return resume
}

func (c *Conn) resume() {
	if r, ok := c.sink.(Resumer); ok {
		r.Resume()
	}
}

// Feed hands received bytes to the connection. p is copied. Transports feed
// only while Accepting and at most MaxPendingInput bytes at a time; input
// queued beyond that fails and closes the connection.
func (c *Conn) Feed(p []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if len(c.incoming)+len(p) > c.cfg.MaxPendingInput {
		c.events |= evClose
		c.mu.Unlock()
		c.kick()
		return tooLarge("pending input exceeds %d bytes", c.cfg.MaxPendingInput)
	}
	c.incoming = append(c.incoming, p...)
	c.mu.Unlock()

	c.touch()
	c.bytesParsed.Add(int64(len(p)))
	c.srv.metrics.bytesParsed.Add(context.Background(), int64(len(p)))
	c.kick()
	return nil
}

// Timeout tells the connection its read timeout expired. It closes silently
// before a start line, answers 408 inside a request and sends close 1001 on a
// WebSocket. A running handler is not interrupted.
func (c *Conn) Timeout() {
	c.raise(evTimeout)
}

// Close releases the connection. A response owed for a completely received
// request is written first.
func (c *Conn) Close() {
	c.raise(evClose)
}

func (c *Conn) shutdown() {
	c.raise(evShutdown)
}

func (c *Conn) raise(ev uint8) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.events |= ev
	c.mu.Unlock()
	c.kick()
}

// kick runs the state machine until it needs more input or waits for a
// handler. Concurrent kicks collapse into another pass of the running loop.
func (c *Conn) kick() {
	c.mu.Lock()
	if c.running {
		c.again = true
		c.mu.Unlock()
		return
	}
	c.running = true
	for {
		if c.inflight || c.closed {
			c.running = false
			resume := c.releaseLocked()
			c.mu.Unlock()
			if resume {
				c.resume()
			}
			return
		}
		c.again = false
		ev := c.events
		c.events = 0
		if len(c.incoming) > 0 {
			c.buf = append(c.buf, c.incoming...)
			c.incoming = c.incoming[:0]
		}
		c.mu.Unlock()

		c.advance(ev)

		c.mu.Lock()
		if !c.again && c.events == 0 {
			c.running = false
			resume := c.releaseLocked()
			c.mu.Unlock()
			if resume {
				c.resume()
			}
			return
		}
	}
}

// parked reports whether a dispatched task still owns the exchange.
func (c *Conn) parked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

func (c *Conn) advance(ev uint8) {
	if ev&evClose != 0 {
		if c.State() == StateFinish {
			c.finish()
		}
		c.teardown()
		return
	}
	if ev&evTimeout != 0 {
		c.timeout()
	}
	if ev&evShutdown != 0 && c.State() <= StateReceive && len(c.buf) == c.off && c.parser.Offset() == 0 {
		c.teardown()
	}

	for progressed := true; progressed; {
		switch c.State() {
		case StateOpen, StateReceive:
			progressed = c.receive()
		case StateProcess:
			progressed = c.process()
		case StateConsume, StateStore, StateSkip:
			progressed = c.readBody()
		case StateFinish:
			progressed = !c.parked() && c.finish()
		case StateWebSocket:
			progressed = c.serveWebSocket()
		default:
			progressed = false
		}
	}

	if c.off > 0 && c.State() != StateClose {
		n := copy(c.buf, c.buf[c.off:])
		c.buf = c.buf[:n]
		c.off = 0
	}
}

func (c *Conn) receive() bool {
	if len(c.buf) == c.off {
		return false
	}
	if c.State() == StateOpen {
		c.setState(StateReceive)
	}
	c.busy.Store(true)

	n, err := c.parser.ParseRequest(c.buf[c.off:], c.req)
	if err == ErrNeedMore {
		return false
	}
	if err != nil {
		c.reject(err)
		return true
	}
	c.off += n

	c.started = time.Now()
	ctx, span := c.srv.metrics.tracer.Start(context.Background(), "http.request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", c.req.Method()),
			attribute.String("url.path", c.req.Path),
			attribute.String("server.address", c.req.Host),
		))
	c.span = span
	c.req.ctx = ctx

	c.setState(StateProcess)
	return true
}

// reject answers a request that could not be parsed and closes afterwards.
func (c *Conn) reject(err error) {
	c.srv.metrics.parseError(err)
	c.logger.Info("rejecting request", "state", c.State().String(), "err", err)

	status := StatusBadRequest
	switch {
	case errors.Is(err, ErrUnsupportedCoding):
		status = StatusNotImplemented
	case errors.Is(err, ErrTooLarge):
		status = StatusRequestHeaderFieldsTooLarge
		if !c.parser.StartLineDone() {
			status = StatusRequestURITooLong
		}
	}
	c.res.Reset()
	c.res.WithError(status, err.Error())
	c.closeAfter = true
	c.setState(StateFinish)
}

func (c *Conn) process() bool {
	req := c.req
	c.route = c.srv.Router.Resolve(req.Method(), req.Host, req.Path)

	if req.isWebSocketUpgrade() && c.route != nil && c.route.WebSocket != nil {
		return c.upgrade()
	}

	limit := c.cfg.MaxBodySize
	if c.route != nil && c.route.MaxBodySize > 0 {
		limit = c.route.MaxBodySize
	}

	switch {
	case req.Chunked:
	case req.ContentLength > 0:
	case req.ContentLength == 0:
		c.dispatchHandler()
		return true
	case isWriteMethod(req.Method()):
		c.res.WithError(StatusLengthRequired, "")
		c.closeAfter = true
		c.setState(StateFinish)
		return true
	default:
		c.dispatchHandler()
		return true
	}

	if req.ContentLength > limit {
		c.logger.Info("body exceeds limit", "limit", limit, "length", req.ContentLength, "path", req.Path)
		c.res.WithError(StatusRequestEntityTooLarge, "")
		if req.expectContinue {
			// the client waits for permission, the body never comes
			c.closeAfter = true
			c.setState(StateFinish)
			return true
		}
		c.body.frame(c, limit)
		c.setState(StateSkip)
		return true
	}

	c.body.frame(c, limit)
	if err := c.body.plan(c); err != nil {
		c.bodyFailed(err)
		return true
	}
	if req.expectContinue && req.Minor >= 1 {
		if err := c.write(response100Continue); err != nil {
			return false
		}
	}
	return true
}

// dispatchHandler hands the request to the route handler on the dispatcher.
// The runner resumes in StateFinish once the handler returns.
func (c *Conn) dispatchHandler() {
	c.setState(StateFinish)
	c.dispatch(c.runHandler)
}

// dispatch runs task on the dispatcher. The runner stays parked until the
// task returns and kicks the connection again.
func (c *Conn) dispatch(task func()) {
	c.mu.Lock()
	c.inflight = true
	c.mu.Unlock()
	c.srv.Dispatcher.Dispatch(func() {
		defer func() {
			c.mu.Lock()
			c.inflight = false
			c.mu.Unlock()
			c.kick()
		}()
		task()
	})
}

func (c *Conn) runHandler() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(c.req.Context(), "handler panicked", "panic", r, "path", c.req.Path)
			c.res.WithError(StatusInternalServerError, "")
		}
	}()

	handler := NotFoundHandler
	if c.route != nil {
		handler = c.route.Handler
	}
	handler(c.req, c.res)
	c.compress()
}

// compress applies the configured codec to a payload body when the client
// accepts it.
func (c *Conn) compress() {
	codec := c.cfg.Compressor
	res := c.res
	if codec == nil || res.mode != bodyPayload || len(res.Body) < c.cfg.MinCompressSize {
		return
	}
	if res.Headers.Has("content-encoding") || !httpguts.HeaderValuesContainsToken(c.req.Headers["accept-encoding"], codec.Encoding()) {
		return
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	out, err := codec.Compress(buf.B[:0], res.Body)
	if err != nil {
		c.logger.Error("compressing response", "err", err)
		return
	}
	buf.B = out
	res.Body = append(res.Body[:0], out...)
	res.Headers.Set("content-encoding", codec.Encoding())
	res.Headers.Add("vary", "accept-encoding")
}

// finish writes the response and either starts the next exchange or closes.
func (c *Conn) finish() bool {
	req, res := c.req, c.res
	keepAlive := c.keepAlive()
	status := res.status()
	omitBody := req.Method() == "HEAD" || bodyForbidden(status)

	size := res.streamSize
	if res.mode == bodyStream && size == lengthChunked && req.Major == 1 && req.Minor == 0 {
		// HTTP/1.0 has no chunked coding
		size = lengthUntilClose
		keepAlive = false
	}

	c.srv.requests.Add(1)
	c.served.Add(1)

	buf := bytebufferpool.Get()
	var err error
	if res.mode == bodyStream {
		buf.B = res.appendHead(buf.B, size, !keepAlive, c.cfg.Name)
		err = c.write(buf.B)
		if err == nil && !omitBody {
			err = c.writeStream(res.stream, size)
		}
	} else {
		buf.B = res.appendHead(buf.B, int64(len(res.Body)), !keepAlive, c.cfg.Name)
		if !omitBody {
			buf.B = append(buf.B, res.Body...)
		}
		err = c.write(buf.B)
	}
	bytebufferpool.Put(buf)
	if closer, ok := res.stream.(io.Closer); ok {
		closer.Close()
	}

	if req.methodLen > 0 {
		c.srv.metrics.request(req.Context(), req.Method(), status)
	}
	if c.span != nil {
		c.span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= 500 {
			c.span.SetStatus(codes.Error, StatusText(status))
		}
		c.span.End()
		c.span = nil
	}
	c.logger.Debug("response written", "method", req.Method(), "path", req.Path,
		"status", status, "duration", time.Since(c.started))

	c.resetExchange()
	if err != nil || !keepAlive {
		c.teardown()
		return false
	}
	c.setState(StateReceive)
	return true
}

func (c *Conn) writeStream(r io.Reader, size int64) error {
	buf := make([]byte, 32*1024)
	chunked := size == lengthChunked
	var chunk []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p := buf[:n]
			if chunked {
				chunk = AppendChunk(chunk[:0], p)
				p = chunk
			}
			if werr := c.write(p); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			c.logger.Error("reading response stream", "err", err)
			return err
		}
	}
	if chunked {
		return c.write(AppendLastChunk(chunk[:0]))
	}
	return nil
}

// keepAlive decides whether the connection serves another request.
func (c *Conn) keepAlive() bool {
	if c.closeAfter || c.req.wantsClose() || c.res.wantsClose() || c.srv.shuttingDown.Load() {
		return false
	}
	if limit := c.cfg.MaxKeepAliveRequests; limit > 0 && c.served.Load()+1 >= int64(limit) {
		return false
	}
	return true
}

func (c *Conn) resetExchange() {
	c.req.Reset()
	c.req.RemoteAddr = c.remote
	c.res.Reset()
	c.parser.Reset()
	c.body.reset()
	c.route = nil
	c.closeAfter = false
	c.busy.Store(false)
}

// write sends p to the sink. A failed write closes the connection without
// further writes.
func (c *Conn) write(p []byte) error {
	c.wmu.Lock()
	err := c.sink.Write(p)
	c.wmu.Unlock()
	if err != nil {
		c.logger.Error("write failed", "err", err)
		c.mu.Lock()
		c.events |= evClose
		c.mu.Unlock()
		return errors.Join(ErrIO, err)
	}
	c.bytesWritten.Add(int64(len(p)))
	c.srv.metrics.bytesWritten.Add(context.Background(), int64(len(p)))
	return nil
}

func (c *Conn) timeout() {
	switch c.State() {
	case StateOpen:
		c.teardown()
	case StateReceive:
		if !c.parser.StartLineDone() {
			c.teardown()
			return
		}
		c.requestTimeout()
	case StateProcess, StateConsume, StateStore, StateSkip:
		c.requestTimeout()
	case StateWebSocket:
		c.ws.closeWith(websocket.CloseGoingAway, "idle timeout")
	}
}

func (c *Conn) requestTimeout() {
	c.logger.Info("request timed out", "state", c.State().String())
	c.res.Reset()
	c.res.WithError(StatusRequestTimeout, "")
	c.closeAfter = true
	c.setState(StateFinish)
}

// teardown releases every resource of the connection. It is idempotent.
func (c *Conn) teardown() {
	if c.State() == StateClose {
		return
	}
	c.setState(StateClose)

	if c.ws != nil {
		c.ws.released()
	}
	if c.span != nil {
		c.span.End()
		c.span = nil
	}
	c.req.Reset()
	c.res.Reset()
	c.body.reset()
	c.buf = nil
	c.off = 0

	c.mu.Lock()
	c.closed = true
	c.incoming = nil
	c.ready.Broadcast()
	c.mu.Unlock()

	if err := c.sink.Close(); err != nil {
		c.logger.Debug("closing transport", "err", err)
	}
	c.srv.conns.Delete(c.id)
	c.srv.metrics.active.Add(context.Background(), -1)
	c.logger.Debug("connection closed", "requests", c.served.Load())
}
