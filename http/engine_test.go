package http

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/freekieb7/hopper/test"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startEngine runs srv on gnet and returns a connected client. Cleanup stops
// the engine.
func startEngine(t *testing.T, srv *Server) (*Engine, *testClient, <-chan error) {
	t.Helper()
	engine := NewEngine(srv, false)
	addr := "127.0.0.1:" + strconv.Itoa(freePort(t))

	stopped := make(chan error, 1)
	go func() {
		stopped <- engine.Run("tcp://" + addr)
	}()

	var conn net.Conn
	var err error
	for range 100 {
		if conn, err = net.Dial("tcp", addr); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		engine.Stop(ctx)
	})
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return engine, &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}, stopped
}

func TestEngine(t *testing.T) {
	engine, c, stopped := startEngine(t, NewServer(testConfig(t), testRouter()))

	c.send("GET /p/one HTTP/1.1\r\nHost: x\r\n\r\n" +
		"POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 4\r\n\r\nbody")
	_, body := c.read("GET")
	test.Equal(t, "/p/one", body)
	_, body = c.read("POST")
	test.Equal(t, "body", body)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	test.NoError(t, engine.Stop(ctx))
	c.expectClosed()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Error("Run did not return after Stop")
	}
}

func TestEngineBackpressure(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxPendingInput = 64 << 10
	started, release := make(chan struct{}), make(chan struct{})
	_, c, _ := startEngine(t, NewServer(cfg, slowRouter(started, release)))

	pipelineBehindSlow(t, c, started, release, 512<<10)
}
