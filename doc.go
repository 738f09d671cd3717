/*
Package microserver provides a minimal, embeddable HTTP/1.1 server core for Go.

Micro-server is for applications that need a lightweight HTTP endpoint
without a full web framework: it accepts TCP connections, incrementally
parses requests from the byte stream, dispatches them through an ordered
route table with path parameters, and reuses per-connection buffers and
arenas across keep-alive requests.

Features

  - Incremental request parser: tolerates headers split across arbitrary
    read boundaries, bounded line and header counts
  - Ordered routing: first registered match wins, ":name" path parameters
  - Connection-parallel, request-sequential concurrency: one goroutine per
    connection, strict in-order handling within it
  - Resource reuse: per-connection arena, pooled requests/contexts, tiered
    read buffers
  - Keep-alive with idle/read/write timeouts and optional connection cap
  - Middleware pipeline (logging, request ids, CORS, rate limiting)
  - JSON and protobuf response helpers

Quick Start

Basic usage example:

	package main

	import (
	    "github.com/searchktools/micro-server/app"
	    "github.com/searchktools/micro-server/config"
	    "github.com/searchktools/micro-server/core/http"
	)

	func main() {
	    cfg := config.New()
	    application := app.New(cfg)

	    engine := application.Engine()
	    engine.GET("/hello", func(ctx http.Context) {
	        ctx.String(200, "Hello, World!")
	    })

	    engine.GET("/users/:id", func(ctx http.Context) {
	        ctx.JSON(200, map[string]string{"id": ctx.Param("id")})
	    })

	    application.Run()
	}

Modules

The server is organized into several packages:

  - app: Application lifecycle management
  - config: Configuration loading and management
  - core: Connection manager (accept loop, keep-alive cycle, timeouts)
  - core/http: Incremental parser, request/response, handler context
  - core/router: Ordered route table with path parameters
  - core/middleware: Middleware pipeline
  - core/pools: Arenas and byte buffer pooling
  - core/optimize: CPU-feature-gated byte scanning

Scope

TLS, HTTP/2 and chunked transfer decoding are out of scope; chunked
requests are answered with 501. Route tables are expected to be small:
lookup is a linear scan in registration order.
*/
package microserver
