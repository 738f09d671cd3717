package core

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/searchktools/micro-server/core/http"
	"github.com/searchktools/micro-server/core/middleware"
	"github.com/searchktools/micro-server/core/pools"
	"github.com/searchktools/micro-server/core/router"
)

// HandlerFunc defines the handler function type (accepts http.Context interface)
type HandlerFunc func(ctx http.Context)

// Engine is the connection manager: it owns the accept loop, spawns one
// goroutine per connection, and drives the read/parse/dispatch/write cycle
// with arena and parser reuse across keep-alive requests.
//
// Routes and middleware are registered before Run; the route table is
// read-only while serving, so lookups take no locks.
type Engine struct {
	router   *router.Table
	pipeline *middleware.Pipeline

	// MaxConnections caps concurrently accepted connections via a
	// limiting listener; 0 means unlimited.
	MaxConnections int

	// ReadTimeout bounds each read while a request is in flight.
	// IdleTimeout bounds the wait for the first byte of a request.
	// WriteTimeout bounds the response flush. Zero disables the bound.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxBodySize bounds Content-Length bodies; 0 keeps the parser
	// default.
	MaxBodySize int64

	bytePool *pools.BytePool

	mu     sync.Mutex
	ln     net.Listener
	closed atomic.Bool
	active atomic.Int64
}

// NewEngine creates an engine with production defaults.
func NewEngine() *Engine {
	return &Engine{
		router:       router.NewTable(),
		pipeline:     middleware.NewPipeline(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		bytePool:     pools.NewBytePool(),
	}
}

// Use appends a middleware to the pipeline.
func (e *Engine) Use(h middleware.HandlerFunc) {
	e.pipeline.Use(h)
}

// Handle registers a route for an arbitrary method.
func (e *Engine) Handle(method, pattern string, handler HandlerFunc) {
	e.router.Register(method, pattern, func(ctx any) {
		handler(ctx.(http.Context))
	})
}

// GET registers a GET route
func (e *Engine) GET(pattern string, handler HandlerFunc) {
	e.Handle("GET", pattern, handler)
}

// HEAD registers a HEAD route
func (e *Engine) HEAD(pattern string, handler HandlerFunc) {
	e.Handle("HEAD", pattern, handler)
}

// POST registers a POST route
func (e *Engine) POST(pattern string, handler HandlerFunc) {
	e.Handle("POST", pattern, handler)
}

// PUT registers a PUT route
func (e *Engine) PUT(pattern string, handler HandlerFunc) {
	e.Handle("PUT", pattern, handler)
}

// DELETE registers a DELETE route
func (e *Engine) DELETE(pattern string, handler HandlerFunc) {
	e.Handle("DELETE", pattern, handler)
}

// ActiveConnections returns the number of connections currently open.
func (e *Engine) ActiveConnections() int64 {
	return e.active.Load()
}

// Addr returns the listener address once Run has bound it, else nil.
func (e *Engine) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Run binds addr and accepts connections until an accept error or
// Shutdown. Every accepted connection gets its own goroutine; per
// connection failures never reach this loop.
func (e *Engine) Run(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if e.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, e.MaxConnections)
	}

	e.mu.Lock()
	e.ln = ln
	e.mu.Unlock()

	log.Printf("🚀 micro-server listening on %s (%d routes)", ln.Addr(), e.router.Len())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if e.closed.Load() {
				return ErrServerClosed
			}
			return err
		}

		e.active.Add(1)
		go e.serveConn(conn)
	}
}

// Shutdown stops accepting, then waits for active connections to drain or
// for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.closed.CompareAndSwap(false, true) {
		e.mu.Lock()
		if e.ln != nil {
			e.ln.Close()
		}
		e.mu.Unlock()
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if e.active.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// serveConn runs the whole lifecycle of one connection: one arena, one
// parser and one pooled request live for as long as the connection does.
func (e *Engine) serveConn(conn net.Conn) {
	abrupt := true
	defer func() {
		if !abrupt {
			// Graceful: shut the write side down before the close.
			if cw, ok := conn.(interface{ CloseWrite() error }); ok {
				cw.CloseWrite()
			}
		}
		conn.Close()
		e.active.Add(-1)
	}()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	arena := pools.NewArena(4096)
	req := http.AcquireRequest()
	defer http.ReleaseRequest(req)
	parser := http.NewParser(req, arena)
	if e.MaxBodySize > 0 {
		parser.MaxBodySize = e.MaxBodySize
	}
	resp := http.NewResponse()

	buf := e.bytePool.Get(readBufferSize)
	defer e.bytePool.Put(buf)

	offset := 0 // bytes of buf holding input
	parsed := 0 // bytes of buf already fed to the parser

	for {
		// Fill and feed until the request (headers + body) is complete.
		for !parser.Complete() {
			if parsed < offset {
				n, perr := parser.Feed(buf[parsed:offset])
				parsed += n
				if perr != nil {
					e.rejectRequest(conn, resp, perr)
					return
				}
				continue
			}

			// Everything buffered has been fed; reclaim the buffer.
			offset, parsed = 0, 0

			timeout := e.ReadTimeout
			if !parser.Started() {
				timeout = e.IdleTimeout
			}
			if timeout > 0 {
				conn.SetReadDeadline(time.Now().Add(timeout))
			}

			n, rerr := conn.Read(buf)
			if n > 0 {
				offset = n
				continue
			}
			if rerr == nil {
				continue
			}

			if !parser.Started() {
				// Nothing of a request on the wire: a quiet close,
				// whether the peer went away or the idle timer fired.
				abrupt = !errors.Is(rerr, io.EOF)
				return
			}
			if errors.Is(rerr, io.EOF) || isTimeout(rerr) {
				log.Printf("conn %s: %v", conn.RemoteAddr(), ErrIncompleteRequest)
			} else {
				log.Printf("conn %s: read: %v", conn.RemoteAddr(), rerr)
			}
			return
		}

		// Dispatch. An unmatched route is a response, never a failure.
		h, params := e.router.Find(req.Method, req.Path)
		ctx := http.AcquireContext(req, resp)
		for k, v := range params {
			ctx.SetParam(k, v)
		}

		panicked := e.dispatch(ctx, h)

		keep := !panicked && parser.ShouldKeepAlive() && !e.closed.Load()
		if req.Method == "HEAD" {
			resp.SuppressBody()
		}
		if !keep {
			resp.SetHeader(HeaderConnection, "close")
		}
		if e.WriteTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(e.WriteTimeout))
		}
		_, werr := resp.WriteTo(conn)
		http.ReleaseContext(ctx)
		if werr != nil {
			log.Printf("conn %s: write: %v", conn.RemoteAddr(), werr)
			return
		}
		if !keep {
			abrupt = panicked
			return
		}

		// Next request on the same connection: keep unconsumed bytes,
		// reset everything else in place.
		copy(buf, buf[parsed:offset])
		offset -= parsed
		parsed = 0
		arena.Reset()
		req.Reset()
		parser.Reset()
		resp.Reset()
	}
}

// dispatch runs the middleware pipeline and the routed handler, containing
// panics so one request cannot take the process down. It reports whether a
// panic occurred; the connection is closed after a panic because the
// response state is no longer trustworthy.
func (e *Engine) dispatch(ctx http.Context, h router.HandlerFunc) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic in handler for %s %s: %v", ctx.Method(), ctx.Path(), r)
			ctx.Response().Reset()
			ctx.Error(500, "Internal Server Error")
			panicked = true
		}
	}()

	if h == nil {
		ctx.Error(404, "Not Found")
		return false
	}
	e.pipeline.Execute(ctx, func(c http.Context) {
		h(c)
	})
	return false
}

// rejectRequest answers a malformed request with the matching status and
// leaves the connection to be torn down abruptly.
func (e *Engine) rejectRequest(conn net.Conn, resp *http.Response, perr error) {
	status := 400
	switch {
	case errors.Is(perr, http.ErrUnsupportedEncoding):
		status = 501
	case errors.Is(perr, http.ErrHeaderTooLarge), errors.Is(perr, http.ErrTooManyHeaders):
		status = 431
	case errors.Is(perr, http.ErrBodyTooLarge):
		status = 413
	case errors.Is(perr, http.ErrUnsupportedProtocol):
		status = 505
	}

	log.Printf("conn %s: rejected request: %v", conn.RemoteAddr(), perr)

	resp.Reset()
	resp.SetStatus(status)
	resp.SetHeader(HeaderConnection, "close")
	if e.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(e.WriteTimeout))
	}
	resp.WriteTo(conn)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
