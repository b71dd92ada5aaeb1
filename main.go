package main

import (
	"context"
	"errors"
	"log"
	nethttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/freekieb7/hopper/diag"
	"github.com/freekieb7/hopper/http"
	"github.com/freekieb7/hopper/telemetry"
	"github.com/freekieb7/hopper/websocket"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const name = "github.com/freekieb7/hopper"

var logger = otelslog.NewLogger(name)

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatalln(err)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(ctx context.Context) (err error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	otelShutdown, err := telemetry.Setup(ctx, "hopper")
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, otelShutdown(context.Background()))
	}()

	uploadDir := getenv("HOPPER_UPLOAD_DIR", filepath.Join(os.TempDir(), "hopper-uploads"))

	router := http.NewRouter()
	router.Use(http.RecoverMiddleware(logger), http.AccessLogMiddleware(logger))

	router.GET("/", func(req *http.Request, res *http.Response) {
		res.WithText("hello world")
	})

	router.POST("/echo", func(req *http.Request, res *http.Response) {
		res.Headers.Set("content-type", req.Headers.Get("content-type"))
		res.Write(req.Body)
	})

	router.Handle(http.Route{
		Methods:     []string{"POST"},
		Path:        "/upload",
		MaxBodySize: 512 << 20,
		Handler: func(req *http.Request, res *http.Response) {
			stored := make([]string, 0, len(req.Resources))
			for _, resource := range req.Resources {
				if resource.Filename == "" {
					continue
				}
				dst := filepath.Join(uploadDir, filepath.Base(resource.Filename))
				if err := resource.Claim(dst); err != nil {
					logger.ErrorContext(req.Context(), "claiming upload", "err", err)
					res.WithError(http.StatusInternalServerError, "")
					return
				}
				stored = append(stored, dst)
			}
			res.WithJson(map[string]any{"stored": stored})
		},
	})

	router.WebSocket("/ws", &http.WebSocketHandler{
		Subprotocols: []string{"echo"},
		OnMessage: func(ws *http.WebSocket, msg websocket.Message) {
			if err := ws.Send(msg.Opcode, msg.Payload); err != nil {
				logger.Debug("echo failed", "err", err)
			}
		},
	})

	cfg := http.DefaultConfig()
	cfg.Logger = logger
	cfg.Compressor = http.NewGzipCompressor(http.DefaultGzipLevel)

	server := http.NewServer(cfg, router)
	pool := http.NewWorkerPool(0, http.DefaultWorkQueueSize, logger)
	defer pool.Close()
	server.Dispatcher = pool

	diagServer := &nethttp.Server{
		Addr:              getenv("HOPPER_DIAG_ADDR", "127.0.0.1:8081"),
		Handler:           diag.Handler(server),
		ReadHeaderTimeout: 5 * time.Second,
	}

	addr := getenv("HOPPER_ADDR", "0.0.0.0:8080")
	serverErrCh := make(chan error, 2)

	var engine *http.Engine
	if getenv("HOPPER_ENGINE", "net") == "gnet" {
		engine = http.NewEngine(server, true)
		go func() {
			logger.Info("serving with event loops", "addr", addr)
			serverErrCh <- engine.Run("tcp://" + addr)
		}()
	} else {
		go func() {
			logger.Info("serving", "addr", addr)
			serverErrCh <- server.ListenAndServe(ctx, addr)
		}()
	}
	go func() {
		if err := diagServer.ListenAndServe(); !errors.Is(err, nethttp.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	diagServer.Shutdown(shutdownCtx)
	if engine != nil {
		return engine.Stop(shutdownCtx)
	}
	return server.Shutdown(shutdownCtx)
}
