package http

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/freekieb7/hopper/filesystem"
	"github.com/puzpuzpuz/xsync/v3"
)

const shutdownPollInterval = 10 * time.Millisecond

// Server owns the configuration, routes and live connections shared by every
// transport. ServeConn runs one goroutine per connection; Engine drives the
// same connections from gnet event loops.
type Server struct {
	Router Router
	// Dispatcher runs handlers. Nil means Inline.
	Dispatcher Dispatcher
	// FileSystem stores spooled bodies and file parts. Nil means the local disk.
	FileSystem   filesystem.Filesystem
	ShutdownFunc func(context.Context) error

	cfg     Config
	logger  *slog.Logger
	metrics *metrics
	once    sync.Once

	conns        *xsync.MapOf[uint64, *Conn]
	nextID       atomic.Uint64
	accepted     atomic.Uint64
	requests     atomic.Uint64
	shuttingDown atomic.Bool

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
}

func NewServer(cfg Config, router Router) *Server {
	return &Server{
		Router:       router,
		ShutdownFunc: func(ctx context.Context) error { return nil },
		cfg:          cfg,
	}
}

// prepare finishes the setup on first use so that fields set after NewServer
// are honored.
func (s *Server) prepare() {
	s.once.Do(func() {
		s.cfg = s.cfg.withDefaults()
		s.logger = s.cfg.Logger
		s.metrics = newMetrics()
		s.conns = xsync.NewMapOf[uint64, *Conn](xsync.WithPresize(64))
		s.listeners = make(map[net.Listener]struct{})
		if s.Dispatcher == nil {
			s.Dispatcher = Inline
		}
		if s.FileSystem == nil {
			s.FileSystem = filesystem.NewLocalFileSystem()
		}
		if s.ShutdownFunc == nil {
			s.ShutdownFunc = func(ctx context.Context) error { return nil }
		}
		s.Router.Compile()
	})
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	s.prepare()
	return s.cfg
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	return s.Serve(listener)
}

// Serve accepts connections until the listener fails or Shutdown is called.
// It returns ErrServerClosed after Shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.prepare()
	// Shutdown flips the flag before it takes mu to close the listeners.
	s.mu.Lock()
	if s.shuttingDown.Load() {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listeners[listener] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.listeners, listener)
		s.mu.Unlock()
	}()

	s.logger.Info("listening", "addr", listener.Addr().String())
	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept failed, retrying", "err", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		go s.ServeConn(conn)
	}
}

// ServeConn reads conn until the connection state machine closes it. Read
// deadlines follow Conn.ReadTimeout. Nothing is read while a handler owns the
// exchange, so a client sending ahead waits in the socket buffers.
func (s *Server) ServeConn(conn net.Conn) {
	s.prepare()
	sink := &netSink{conn: conn, timeout: s.cfg.WriteTimeout}
	c := NewConn(s, sink, conn.RemoteAddr())

	buf := make([]byte, min(s.cfg.ReadBufferSize, s.cfg.MaxPendingInput))
	for {
		c.WaitAccepting()
		if c.Closed() {
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.ReadTimeout()))
		n, err := conn.Read(buf)
		if n > 0 {
			if err := c.Feed(buf[:n]); err != nil {
				c.logger.Info("input rejected", "err", err)
				return
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				c.Timeout()
				continue
			}
			c.Close()
			return
		}
	}
}

// netSink writes to a net.Conn with a write deadline.
type netSink struct {
	conn    net.Conn
	timeout time.Duration
	closed  atomic.Bool
}

func (s *netSink) Write(p []byte) error {
	if s.timeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	_, err := s.conn.Write(p)
	return err
}

func (s *netSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}

// Shutdown stops accepting, lets in-flight requests finish with Connection:
// close, closes idle connections and sends close 1001 to WebSockets. Once ctx
// expires the remaining connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.prepare()
	if !s.shuttingDown.Swap(true) {
		s.logger.Info("shutting down", "active", s.conns.Size())
	}

	s.mu.Lock()
	for listener := range s.listeners {
		listener.Close()
	}
	s.mu.Unlock()

	s.closeWebSockets(ctx)

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	var err error
drain:
	for {
		s.conns.Range(func(_ uint64, c *Conn) bool {
			c.shutdown()
			return true
		})
		if s.conns.Size() == 0 {
			break
		}

		select {
		case <-ctx.Done():
			s.conns.Range(func(_ uint64, c *Conn) bool {
				c.Close()
				return true
			})
			err = ctx.Err()
			break drain
		case <-ticker.C:
		}
	}

	return errors.Join(err, s.ShutdownFunc(ctx))
}

// Stats returns a snapshot of the server and its connections ordered by id.
func (s *Server) Stats() ServerStats {
	s.prepare()
	stats := ServerStats{
		Name:         s.cfg.Name,
		Accepted:     s.accepted.Load(),
		Requests:     s.requests.Load(),
		ShuttingDown: s.shuttingDown.Load(),
		Conns:        make([]ConnStats, 0, s.conns.Size()),
	}
	s.conns.Range(func(_ uint64, c *Conn) bool {
		stats.Conns = append(stats.Conns, c.Stats())
		return true
	})
	slices.SortFunc(stats.Conns, func(a, b ConnStats) int {
		return cmp.Compare(a.ID, b.ID)
	})
	stats.Active = len(stats.Conns)
	return stats
}
