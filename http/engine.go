package http

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/panjf2000/gnet/v2"
)

const defaultSweepInterval = time.Second

// Engine serves a Server from gnet event loops. Received bytes are fed to the
// connection inside OnTraffic and responses leave through AsyncWrite, so
// handlers should run on a WorkerPool rather than inline.
type Engine struct {
	gnet.BuiltinEventEngine

	srv       *Server
	engine    gnet.Engine
	multicore bool
	sweep     time.Duration
}

// NewEngine wraps srv. A server without a Dispatcher gets a WorkerPool.
func NewEngine(srv *Server, multicore bool) *Engine {
	if srv.Dispatcher == nil {
		srv.Dispatcher = NewWorkerPool(0, DefaultWorkQueueSize, srv.cfg.Logger)
	}
	srv.prepare()
	return &Engine{
		srv:       srv,
		multicore: multicore,
		sweep:     defaultSweepInterval,
	}
}

// Run blocks serving addr, like "tcp://:8080", until Stop is called.
func (e *Engine) Run(addr string) error {
	return gnet.Run(e, addr,
		gnet.WithMulticore(e.multicore),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithReadBufferCap(e.srv.cfg.ReadBufferSize),
		gnet.WithTicker(true),
	)
}

// Stop shuts the server down and then stops the event loops.
func (e *Engine) Stop(ctx context.Context) error {
	err := e.srv.Shutdown(ctx)
	if pool, ok := e.srv.Dispatcher.(*WorkerPool); ok {
		pool.Close()
	}
	if stopErr := e.engine.Stop(ctx); stopErr != nil {
		e.srv.logger.Error("stopping event loops", "err", stopErr)
	}
	return err
}

func (e *Engine) OnBoot(eng gnet.Engine) gnet.Action {
	e.engine = eng
	e.srv.logger.Info("event loops started", "multicore", e.multicore)
	return gnet.None
}

func (e *Engine) OnOpen(gc gnet.Conn) ([]byte, gnet.Action) {
	if e.srv.shuttingDown.Load() {
		return nil, gnet.Close
	}
	c := NewConn(e.srv, &gnetSink{conn: gc}, gc.RemoteAddr())
	gc.SetContext(c)
	return nil, gnet.None
}

// OnTraffic feeds buffered input while the connection accepts it. Bytes left
// behind stay in gnet's inbound buffer until gnetSink.Resume wakes the
// connection.
func (e *Engine) OnTraffic(gc gnet.Conn) gnet.Action {
	c, ok := gc.Context().(*Conn)
	if !ok {
		return gnet.Close
	}
	for gc.InboundBuffered() > 0 && c.Accepting() {
		buf, err := gc.Next(min(gc.InboundBuffered(), e.srv.cfg.MaxPendingInput))
		if err != nil {
			c.logger.Error("reading from event loop", "err", err)
			return gnet.Close
		}
		// Feed copies, so gnet may reuse buf once it returns.
		if err := c.Feed(buf); err != nil {
			return gnet.Close
		}
	}
	return gnet.None
}

func (e *Engine) OnClose(gc gnet.Conn, err error) gnet.Action {
	if c, ok := gc.Context().(*Conn); ok {
		if err != nil {
			c.logger.Debug("transport closed", "err", err)
		}
		c.Close()
	}
	return gnet.None
}

// OnTick times out connections that waited longer than their read timeout.
// A connection parked on a handler is not waiting for input.
func (e *Engine) OnTick() (time.Duration, gnet.Action) {
	e.srv.conns.Range(func(_ uint64, c *Conn) bool {
		if c.parked() {
			c.touch()
			return true
		}
		if c.Idle() > c.ReadTimeout() {
			c.touch()
			c.Timeout()
		}
		return true
	})
	return e.sweep, gnet.None
}

// gnetSink queues writes on the event loop of the connection.
type gnetSink struct {
	conn   gnet.Conn
	closed atomic.Bool
}

func (s *gnetSink) Write(p []byte) error {
	// AsyncWrite keeps the slice until the loop flushes it.
	out := make([]byte, len(p))
	copy(out, p)
	return s.conn.AsyncWrite(out, nil)
}

// Resume triggers OnTraffic for input held back in the inbound buffer.
func (s *gnetSink) Resume() {
	s.conn.Wake(nil)
}

func (s *gnetSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
