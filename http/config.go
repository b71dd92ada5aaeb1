package http

import (
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const (
	DefaultReadBufferSize       = 4096
	DefaultMaxHeaderSize        = 16 * 1024
	DefaultMaxBodyCacheSize     = 1 << 20  // 1MB buffered in memory
	DefaultMaxBodySize          = 64 << 20 // 64MB including spooled uploads
	DefaultMaxResources         = 16
	DefaultMaxPartHeaderSize    = 4096
	DefaultMaxPendingInput      = 1 << 20
	DefaultMaxKeepAliveRequests = 1000
	DefaultMaxWebSocketMessage  = 16 << 20
	DefaultMinCompressSize      = 1024

	DefaultReadTimeout      = 30 * time.Second
	DefaultIdleTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 30 * time.Second
	DefaultWebSocketTimeout = 5 * time.Minute

	loggerName = "github.com/freekieb7/hopper/http"
)

// Config holds the size ceilings and timeouts of the protocol engine. It is
// passed by value; the engine keeps no process-wide state beyond it.
type Config struct {
	Name string

	ReadBufferSize    int
	MaxHeaderSize     int
	MaxBodyCacheSize  int64 // bodies above this want external storage
	MaxBodySize       int64
	MaxResources      int
	MaxPartHeaderSize int
	MaxPendingInput   int // input fed to a connection in one pass

	// MaxKeepAliveRequests is the number of requests served on one connection
	// before it is closed. Zero means DefaultMaxKeepAliveRequests, negative
	// means unlimited.
	MaxKeepAliveRequests int

	ReadTimeout      time.Duration
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
	WebSocketTimeout time.Duration

	MaxWebSocketMessage int64

	// ConsumeTrailers parses trailer fields after the last chunk. When false the
	// body ends right after the zero-size chunk line.
	ConsumeTrailers bool

	TempDir         string
	Compressor      Compressor
	MinCompressSize int

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Name:                 "hopper",
		ReadBufferSize:       DefaultReadBufferSize,
		MaxHeaderSize:        DefaultMaxHeaderSize,
		MaxBodyCacheSize:     DefaultMaxBodyCacheSize,
		MaxBodySize:          DefaultMaxBodySize,
		MaxResources:         DefaultMaxResources,
		MaxPartHeaderSize:    DefaultMaxPartHeaderSize,
		MaxPendingInput:      DefaultMaxPendingInput,
		MaxKeepAliveRequests: DefaultMaxKeepAliveRequests,
		ReadTimeout:          DefaultReadTimeout,
		IdleTimeout:          DefaultIdleTimeout,
		WriteTimeout:         DefaultWriteTimeout,
		WebSocketTimeout:     DefaultWebSocketTimeout,
		MaxWebSocketMessage:  DefaultMaxWebSocketMessage,
		ConsumeTrailers:      true,
		TempDir:              os.TempDir(),
		MinCompressSize:      DefaultMinCompressSize,
	}
}

// withDefaults fills every zero field from DefaultConfig.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = def.ReadBufferSize
	}
	if cfg.MaxHeaderSize <= 0 {
		cfg.MaxHeaderSize = def.MaxHeaderSize
	}
	if cfg.MaxBodyCacheSize <= 0 {
		cfg.MaxBodyCacheSize = def.MaxBodyCacheSize
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = def.MaxBodySize
	}
	if cfg.MaxResources <= 0 {
		cfg.MaxResources = def.MaxResources
	}
	if cfg.MaxPartHeaderSize <= 0 {
		cfg.MaxPartHeaderSize = def.MaxPartHeaderSize
	}
	if cfg.MaxPendingInput <= 0 {
		cfg.MaxPendingInput = def.MaxPendingInput
	}
	if cfg.MaxKeepAliveRequests == 0 {
		cfg.MaxKeepAliveRequests = def.MaxKeepAliveRequests
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.WebSocketTimeout <= 0 {
		cfg.WebSocketTimeout = def.WebSocketTimeout
	}
	if cfg.MaxWebSocketMessage <= 0 {
		cfg.MaxWebSocketMessage = def.MaxWebSocketMessage
	}
	if cfg.TempDir == "" {
		cfg.TempDir = def.TempDir
	}
	if cfg.MinCompressSize <= 0 {
		cfg.MinCompressSize = def.MinCompressSize
	}
	if cfg.Logger == nil {
		cfg.Logger = otelslog.NewLogger(loggerName)
	}
	return cfg
}
