package middleware

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/micro-server/core/http"
)

// HandlerFunc is the signature for middleware handlers.
type HandlerFunc func(ctx http.Context)

// Pipeline runs a fixed sequence of middlewares ahead of the routed
// handler. Middlewares are added before the server starts; Execute is
// allocation-free.
type Pipeline struct {
	handlers []HandlerFunc
	length   int
}

// NewPipeline creates an empty middleware pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		handlers: make([]HandlerFunc, 0, 16),
	}
}

// Use adds a middleware to the pipeline.
func (p *Pipeline) Use(handler HandlerFunc) *Pipeline {
	p.handlers = append(p.handlers, handler)
	p.length = len(p.handlers)
	return p
}

// Execute runs the middlewares in order, then the final handler. A
// middleware calling Abort stops the chain; whatever response it wrote is
// what goes out.
func (p *Pipeline) Execute(ctx http.Context, finalHandler HandlerFunc) {
	if p.length == 0 {
		finalHandler(ctx)
		return
	}

	for i := 0; i < p.length; i++ {
		p.handlers[i](ctx)

		if ctx.IsAborted() {
			return
		}
	}

	finalHandler(ctx)
}

// Common middleware implementations

// Logger logs one line per request.
func Logger() HandlerFunc {
	return func(ctx http.Context) {
		log.Printf("[%s] %s", ctx.Method(), ctx.Path())
	}
}

// RequestID stamps each response with a unique id.
func RequestID() HandlerFunc {
	var counter uint64

	return func(ctx http.Context) {
		id := atomic.AddUint64(&counter, 1)
		ctx.SetHeader("X-Request-ID", fmt.Sprintf("%d", id))
	}
}

// CORS adds CORS headers and short-circuits preflight requests.
func CORS() HandlerFunc {
	return func(ctx http.Context) {
		ctx.SetHeader("Access-Control-Allow-Origin", "*")
		ctx.SetHeader("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE")
		ctx.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")
	}
}

// RateLimiter rejects requests beyond requestsPerSecond with 429.
func RateLimiter(requestsPerSecond int) HandlerFunc {
	var (
		tokens     int
		lastRefill time.Time
		mu         sync.Mutex
	)

	tokens = requestsPerSecond
	lastRefill = time.Now()

	return func(ctx http.Context) {
		mu.Lock()

		now := time.Now()
		if now.Sub(lastRefill) > time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}

		if tokens > 0 {
			tokens--
			mu.Unlock()
			return
		}

		mu.Unlock()

		ctx.Abort()
		ctx.Error(429, "Too Many Requests")
	}
}
