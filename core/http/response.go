package http

import "io"

type headerField struct {
	key   string
	value string
}

// Response collects the status, headers and body a handler produces. The
// connection loop serializes it in one write after the handler returns;
// nothing reaches the socket while the handler is still running.
type Response struct {
	status   int
	headers  []headerField
	body     []byte
	headOnly bool

	// Serialization scratch, reused across keep-alive requests
	buf []byte
}

// NewResponse creates a response with a pre-grown serialization buffer.
func NewResponse() *Response {
	return &Response{
		status: 200,
		body:   make([]byte, 0, 1024),
		buf:    make([]byte, 0, 4096),
	}
}

// Reset clears the response for the next request, keeping capacity.
func (r *Response) Reset() {
	r.status = 200
	r.headers = r.headers[:0]
	r.body = r.body[:0]
	r.headOnly = false
}

// SetStatus sets the response status code.
func (r *Response) SetStatus(code int) {
	r.status = code
}

// Status returns the response status code.
func (r *Response) Status() int {
	return r.status
}

// SetHeader sets a response header, replacing an existing one of the same
// name.
func (r *Response) SetHeader(key, value string) {
	for i := range r.headers {
		if r.headers[i].key == key {
			r.headers[i].value = value
			return
		}
	}
	r.headers = append(r.headers, headerField{key, value})
}

// Header returns a response header value, or "".
func (r *Response) Header(key string) string {
	for i := range r.headers {
		if r.headers[i].key == key {
			return r.headers[i].value
		}
	}
	return ""
}

// Write appends to the response body.
func (r *Response) Write(p []byte) (int, error) {
	r.body = append(r.body, p...)
	return len(p), nil
}

// WriteString appends a string to the response body.
func (r *Response) WriteString(s string) {
	r.body = append(r.body, s...)
}

// SetBody replaces the response body.
func (r *Response) SetBody(p []byte) {
	r.body = append(r.body[:0], p...)
}

// Body returns the response body accumulated so far.
func (r *Response) Body() []byte {
	return r.body
}

// SuppressBody makes WriteTo emit headers only. Used for HEAD requests:
// Content-Length still reflects the body the handler produced.
func (r *Response) SuppressBody() {
	r.headOnly = true
}

// WriteTo serializes the response as an HTTP/1.1 message.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	b := r.buf[:0]

	b = append(b, "HTTP/1.1 "...)
	b = appendInt(b, r.status)
	b = append(b, ' ')
	b = append(b, statusText(r.status)...)
	b = append(b, "\r\n"...)

	for i := range r.headers {
		b = append(b, r.headers[i].key...)
		b = append(b, ": "...)
		b = append(b, r.headers[i].value...)
		b = append(b, "\r\n"...)
	}

	b = append(b, "Content-Length: "...)
	b = appendInt(b, len(r.body))
	b = append(b, "\r\n\r\n"...)

	if !r.headOnly {
		b = append(b, r.body...)
	}

	r.buf = b
	n, err := w.Write(b)
	return int64(n), err
}

// appendInt appends the decimal form of i to b without allocating.
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}

	if i < 0 {
		b = append(b, '-')
		i = -i
	}

	var digits [20]byte
	n := 0
	for i > 0 {
		digits[n] = byte('0' + i%10)
		i /= 10
		n++
	}

	for n > 0 {
		n--
		b = append(b, digits[n])
	}

	return b
}

// statusText returns the reason phrase for the status codes the engine
// emits.
func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 413:
		return "Content Too Large"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 505:
		return "HTTP Version Not Supported"
	default:
		return "Unknown"
	}
}
