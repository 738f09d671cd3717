package core

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/searchktools/micro-server/core/http"
)

// startEngine runs an engine on an ephemeral port and tears it down with
// the test.
func startEngine(t *testing.T, setup func(e *Engine)) *Engine {
	t.Helper()

	e := NewEngine()
	if setup != nil {
		setup(e)
	}

	go e.Run("127.0.0.1:0")

	deadline := time.Now().Add(2 * time.Second)
	for e.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("engine never bound a listener")
		}
		time.Sleep(time.Millisecond)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})

	return e
}

func dial(t *testing.T, e *Engine) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", e.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type response struct {
	status  int
	headers map[string]string
	body    string
}

// readResponse parses one framed response off the stream; Content-Length
// is always present so keep-alive responses can be read back to back.
func readResponse(t *testing.T, r *bufio.Reader) response {
	t.Helper()

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) < 2 {
		t.Fatalf("bad status line: %q", line)
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		t.Fatalf("bad status code in %q", line)
	}

	headers := make(map[string]string)
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			t.Fatalf("bad header line: %q", line)
		}
		headers[key] = value
	}

	length, err := strconv.Atoi(headers["Content-Length"])
	if err != nil {
		t.Fatalf("missing Content-Length: %v", headers)
	}
	body := make([]byte, length)
	for read := 0; read < length; {
		n, err := r.Read(body[read:])
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		read += n
	}

	return response{status: status, headers: headers, body: string(body)}
}

func send(t *testing.T, conn net.Conn, raw string) {
	t.Helper()
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestEngineRoutedRequest(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/users/:id", func(ctx http.Context) {
			ctx.String(200, "user "+ctx.Param("id"))
		})
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	send(t, conn, "GET /users/42 HTTP/1.1\r\nHost: test\r\n\r\n")
	resp := readResponse(t, r)

	if resp.status != 200 {
		t.Errorf("status = %d", resp.status)
	}
	if resp.body != "user 42" {
		t.Errorf("body = %q", resp.body)
	}
}

func TestEngineKeepAlive(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/ping", func(ctx http.Context) {
			ctx.String(200, "pong")
		})
		e.GET("/users/:id", func(ctx http.Context) {
			ctx.String(200, ctx.Param("id"))
		})
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	send(t, conn, "GET /ping HTTP/1.1\r\nHost: test\r\n\r\n")
	first := readResponse(t, r)
	if first.body != "pong" {
		t.Fatalf("first body = %q", first.body)
	}
	if first.headers["Connection"] == "close" {
		t.Fatal("keep-alive request answered with Connection: close")
	}

	// Same connection, different route: parser and arena were reset.
	send(t, conn, "GET /users/7 HTTP/1.1\r\nHost: test\r\n\r\n")
	second := readResponse(t, r)
	if second.body != "7" {
		t.Errorf("second body = %q", second.body)
	}
}

func TestEnginePipelinedRequests(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/a", func(ctx http.Context) { ctx.String(200, "A") })
		e.GET("/b", func(ctx http.Context) { ctx.String(200, "B") })
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	// Both requests land in one segment; the second must survive the
	// buffer shift between responses.
	send(t, conn, "GET /a HTTP/1.1\r\nHost: t\r\n\r\nGET /b HTTP/1.1\r\nHost: t\r\n\r\n")

	if resp := readResponse(t, r); resp.body != "A" {
		t.Errorf("first = %q", resp.body)
	}
	if resp := readResponse(t, r); resp.body != "B" {
		t.Errorf("second = %q", resp.body)
	}
}

func TestEngineConnectionClose(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/", func(ctx http.Context) { ctx.String(200, "ok") })
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	send(t, conn, "GET / HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n")
	resp := readResponse(t, r)

	if resp.headers["Connection"] != "close" {
		t.Errorf("Connection = %q, want close", resp.headers["Connection"])
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r.ReadByte(); err == nil {
		t.Error("connection should be closed after Connection: close")
	}
}

func TestEngineHTTP10Default(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/", func(ctx http.Context) { ctx.String(200, "ok") })
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	// HTTP/1.0 without keep-alive closes after the response.
	send(t, conn, "GET / HTTP/1.0\r\n\r\n")
	resp := readResponse(t, r)
	if resp.headers["Connection"] != "close" {
		t.Errorf("Connection = %q, want close", resp.headers["Connection"])
	}
}

func TestEngineNotFoundKeepsConnection(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/known", func(ctx http.Context) { ctx.String(200, "here") })
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	send(t, conn, "GET /nope HTTP/1.1\r\nHost: t\r\n\r\n")
	resp := readResponse(t, r)
	if resp.status != 404 {
		t.Fatalf("status = %d, want 404", resp.status)
	}
	if resp.headers["Connection"] == "close" {
		t.Fatal("404 must not tear the connection down")
	}

	send(t, conn, "GET /known HTTP/1.1\r\nHost: t\r\n\r\n")
	resp = readResponse(t, r)
	if resp.status != 200 || resp.body != "here" {
		t.Errorf("follow-up = %d %q", resp.status, resp.body)
	}
}

func TestEngineMethodNotMatched(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/item", func(ctx http.Context) { ctx.String(200, "get") })
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	send(t, conn, "POST /item HTTP/1.1\r\nHost: t\r\nContent-Length: 0\r\n\r\n")
	resp := readResponse(t, r)
	if resp.status != 404 {
		t.Errorf("status = %d, want 404", resp.status)
	}
}

func TestEnginePostBody(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.POST("/echo", func(ctx http.Context) {
			ctx.Data(200, ctx.Header("Content-Type"), ctx.Body())
		})
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	body := `{"k":"v"}`
	send(t, conn, "POST /echo HTTP/1.1\r\nHost: t\r\nContent-Type: application/json\r\nContent-Length: "+
		strconv.Itoa(len(body))+"\r\n\r\n"+body)
	resp := readResponse(t, r)

	if resp.status != 200 {
		t.Fatalf("status = %d", resp.status)
	}
	if resp.body != body {
		t.Errorf("body = %q", resp.body)
	}
	if resp.headers["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q", resp.headers["Content-Type"])
	}
}

func TestEngineHeadSuppressesBody(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.HEAD("/file", func(ctx http.Context) {
			ctx.String(200, "would-be body")
		})
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	send(t, conn, "HEAD /file HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n")

	line, err := r.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, "HTTP/1.1 200") {
		t.Fatalf("status line = %q, err = %v", line, err)
	}
	var length string
	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			length = v
		}
	}
	if length != "13" {
		t.Errorf("Content-Length = %q, want 13", length)
	}

	// Nothing after the blank line.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r.ReadByte(); err == nil {
		t.Error("HEAD response carried a body")
	}
}

func TestEngineMalformedRequest(t *testing.T) {
	e := startEngine(t, nil)

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	send(t, conn, "NOT A REQUEST\r\n\r\n")
	resp := readResponse(t, r)
	if resp.status != 400 {
		t.Errorf("status = %d, want 400", resp.status)
	}
	if resp.headers["Connection"] != "close" {
		t.Error("malformed request must close the connection")
	}
}

func TestEngineChunkedRejected(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.POST("/up", func(ctx http.Context) { ctx.String(200, "ok") })
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	send(t, conn, "POST /up HTTP/1.1\r\nHost: t\r\nTransfer-Encoding: chunked\r\n\r\n")
	resp := readResponse(t, r)
	if resp.status != 501 {
		t.Errorf("status = %d, want 501", resp.status)
	}
}

func TestEngineHandlerPanic(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/boom", func(ctx http.Context) {
			panic("handler bug")
		})
		e.GET("/fine", func(ctx http.Context) { ctx.String(200, "fine") })
	})

	conn := dial(t, e)
	r := bufio.NewReader(conn)

	send(t, conn, "GET /boom HTTP/1.1\r\nHost: t\r\n\r\n")
	resp := readResponse(t, r)
	if resp.status != 500 {
		t.Fatalf("status = %d, want 500", resp.status)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r.ReadByte(); err == nil {
		t.Error("connection should close after a handler panic")
	}

	// The server itself survived.
	conn2 := dial(t, e)
	r2 := bufio.NewReader(conn2)
	send(t, conn2, "GET /fine HTTP/1.1\r\nHost: t\r\n\r\n")
	if resp := readResponse(t, r2); resp.body != "fine" {
		t.Errorf("follow-up body = %q", resp.body)
	}
}

func TestEngineIdleTimeout(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.IdleTimeout = 50 * time.Millisecond
	})

	conn := dial(t, e)

	// Send nothing; the server should drop us.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("idle connection should have been closed")
	}
}

func TestEngineCleanEOF(t *testing.T) {
	e := startEngine(t, nil)

	conn := dial(t, e)
	conn.Close()

	// A connect-then-close must not leak a connection.
	deadline := time.Now().Add(2 * time.Second)
	for e.ActiveConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("active = %d after clean close", e.ActiveConnections())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngineActiveConnectionsConverge(t *testing.T) {
	e := startEngine(t, func(e *Engine) {
		e.GET("/", func(ctx http.Context) { ctx.String(200, "ok") })
	})

	const n = 8
	for i := 0; i < n; i++ {
		conn := dial(t, e)
		r := bufio.NewReader(conn)
		send(t, conn, "GET / HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n")
		readResponse(t, r)
		conn.Close()
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.ActiveConnections() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("active = %d, want 0", e.ActiveConnections())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngineMaxConnections(t *testing.T) {
	release := make(chan struct{})
	e := startEngine(t, func(e *Engine) {
		e.MaxConnections = 1
		e.GET("/slow", func(ctx http.Context) {
			<-release
			ctx.String(200, "done")
		})
	})
	defer close(release)

	first := dial(t, e)
	send(t, first, "GET /slow HTTP/1.1\r\nHost: t\r\n\r\n")
	time.Sleep(50 * time.Millisecond)

	// The second dial connects at TCP level but is not accepted until the
	// first connection finishes, so no data comes back yet.
	second := dial(t, e)
	r2 := bufio.NewReader(second)
	send(t, second, "GET /slow HTTP/1.1\r\nHost: t\r\n\r\n")
	second.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := r2.ReadByte(); err == nil {
		t.Error("second connection served while limit held")
	}
}

func TestEngineShutdown(t *testing.T) {
	e := NewEngine()

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run("127.0.0.1:0") }()

	deadline := time.Now().Add(2 * time.Second)
	for e.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("engine never bound a listener")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("Run returned %v, want ErrServerClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not return after Shutdown")
	}
}

func BenchmarkEngineRoundTrip(b *testing.B) {
	e := NewEngine()
	e.GET("/bench", func(ctx http.Context) {
		ctx.String(200, "Hello, World!")
	})

	go e.Run("127.0.0.1:0")
	for e.Addr() == nil {
		time.Sleep(time.Millisecond)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	}()

	conn, err := net.Dial("tcp", e.Addr().String())
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	req := []byte("GET /bench HTTP/1.1\r\nHost: t\r\n\r\n")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write(req); err != nil {
			b.Fatal(err)
		}
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				b.Fatal(err)
			}
			if line == "\r\n" {
				break
			}
		}
		if _, err := r.Discard(13); err != nil {
			b.Fatal(err)
		}
	}
}
