package http

import (
	"encoding/json"
	"sync"

	"google.golang.org/protobuf/proto"
)

// Context is the surface handlers see: the parsed request, the extracted
// path parameters, and the response being built.
type Context interface {
	// Request information
	Method() string
	Path() string
	Param(key string) string
	Query(key string) string
	Header(key string) string
	Body() []byte
	SetParam(key, value string)

	// Response methods
	Status(code int)
	SetHeader(key, value string)
	String(code int, s string)
	JSON(code int, v any)
	ProtoBuf(code int, m proto.Message)
	Bytes(code int, data []byte)
	Data(code int, contentType string, data []byte)
	Error(code int, message string)
	Success(data any)

	// Binding
	Bind(v any) error

	// Flow control for middleware
	Abort()
	IsAborted() bool

	// Response gives the engine (and tests) access to the output sink
	Response() *Response
}

// StandardContext is the standard context implementation.
type StandardContext struct {
	paramKeys   [4]string
	paramValues [4]string
	paramCount  int

	// Map overflow for more than 4 parameters
	paramMapOverflow map[string]string

	request *Request
	resp    *Response
	aborted bool
}

var contextPool = sync.Pool{
	New: func() any {
		return &StandardContext{}
	},
}

// AcquireContext takes a context from the pool and binds it to req/resp.
func AcquireContext(req *Request, resp *Response) Context {
	ctx := contextPool.Get().(*StandardContext)
	ctx.request = req
	ctx.resp = resp
	ctx.paramCount = 0
	ctx.aborted = false
	return ctx
}

// ReleaseContext returns a context to the pool.
func ReleaseContext(ctx Context) {
	if stdCtx, ok := ctx.(*StandardContext); ok {
		stdCtx.request = nil
		stdCtx.resp = nil
		stdCtx.paramCount = 0
		stdCtx.aborted = false
		if stdCtx.paramMapOverflow != nil {
			for k := range stdCtx.paramMapOverflow {
				delete(stdCtx.paramMapOverflow, k)
			}
		}
		contextPool.Put(stdCtx)
	}
}

// SetParam sets a path parameter. The first four go into a fixed array so
// typical routes never allocate.
func (c *StandardContext) SetParam(key, value string) {
	for i := 0; i < c.paramCount && i < 4; i++ {
		if c.paramKeys[i] == key {
			c.paramValues[i] = value
			return
		}
	}
	if c.paramCount < 4 {
		c.paramKeys[c.paramCount] = key
		c.paramValues[c.paramCount] = value
		c.paramCount++
	} else {
		if c.paramMapOverflow == nil {
			c.paramMapOverflow = make(map[string]string)
		}
		c.paramMapOverflow[key] = value
	}
}

// Param gets a path parameter.
func (c *StandardContext) Param(key string) string {
	for i := 0; i < c.paramCount && i < 4; i++ {
		if c.paramKeys[i] == key {
			return c.paramValues[i]
		}
	}

	if c.paramMapOverflow != nil {
		return c.paramMapOverflow[key]
	}

	return ""
}

// Method returns the HTTP method.
func (c *StandardContext) Method() string {
	return c.request.Method
}

// Path returns the request path.
func (c *StandardContext) Path() string {
	return c.request.Path
}

// Query gets a query parameter.
func (c *StandardContext) Query(key string) string {
	if c.request.Query == nil {
		return ""
	}
	return c.request.Query[key]
}

// Header gets a request header.
func (c *StandardContext) Header(key string) string {
	return c.request.Header(key)
}

// Body returns the request body.
func (c *StandardContext) Body() []byte {
	return c.request.Body
}

// Bind binds the JSON request body to a struct.
func (c *StandardContext) Bind(v any) error {
	return json.Unmarshal(c.request.Body, v)
}

// Abort stops the middleware pipeline before the routed handler runs.
func (c *StandardContext) Abort() {
	c.aborted = true
}

// IsAborted reports whether Abort was called.
func (c *StandardContext) IsAborted() bool {
	return c.aborted
}

// Response returns the output sink.
func (c *StandardContext) Response() *Response {
	return c.resp
}

// Status sets the response status without touching the body.
func (c *StandardContext) Status(code int) {
	c.resp.SetStatus(code)
}

// SetHeader sets a response header.
func (c *StandardContext) SetHeader(key, value string) {
	c.resp.SetHeader(key, value)
}

// String sends a text response.
func (c *StandardContext) String(code int, s string) {
	c.resp.SetStatus(code)
	c.resp.SetHeader("Content-Type", "text/plain")
	c.resp.SetBody(nil)
	c.resp.WriteString(s)
}

// JSON sends a JSON response.
func (c *StandardContext) JSON(code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.String(500, "JSON marshal error")
		return
	}

	c.resp.SetStatus(code)
	c.resp.SetHeader("Content-Type", "application/json")
	c.resp.SetBody(data)
}

// ProtoBuf sends a protobuf-encoded response.
func (c *StandardContext) ProtoBuf(code int, m proto.Message) {
	data, err := proto.Marshal(m)
	if err != nil {
		c.String(500, "protobuf marshal error")
		return
	}

	c.resp.SetStatus(code)
	c.resp.SetHeader("Content-Type", "application/x-protobuf")
	c.resp.SetBody(data)
}

// Bytes sends a raw bytes response.
func (c *StandardContext) Bytes(code int, data []byte) {
	c.Data(code, "application/octet-stream", data)
}

// Data sends raw data with an explicit content type.
func (c *StandardContext) Data(code int, contentType string, data []byte) {
	c.resp.SetStatus(code)
	c.resp.SetHeader("Content-Type", contentType)
	c.resp.SetBody(data)
}

// Error sends an error response.
func (c *StandardContext) Error(code int, message string) {
	c.JSON(code, map[string]any{
		"code":    code,
		"message": message,
	})
}

// Success sends a success response.
func (c *StandardContext) Success(data any) {
	c.JSON(200, map[string]any{
		"code":    0,
		"message": "success",
		"data":    data,
	})
}
