package core

import "errors"

// HTTP header constants
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderConnection    = "Connection"
	HeaderHost          = "Host"
)

// Connection read buffer size. Parser line limits are enforced in
// core/http; this only sizes the fill buffer.
const readBufferSize = 8192

// Error definitions
var (
	// ErrIncompleteRequest marks a stream that ended (EOF or deadline)
	// after some bytes of a request were parsed but before the request
	// was complete. Distinct from a clean EOF between requests, which is
	// not an error.
	ErrIncompleteRequest = errors.New("connection closed mid-request")

	// ErrServerClosed is returned by Run after Shutdown closes the
	// listener.
	ErrServerClosed = errors.New("server closed")
)
