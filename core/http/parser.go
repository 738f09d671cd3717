package http

import (
	"bytes"
	"errors"
	"strconv"
	"unsafe"

	"github.com/searchktools/micro-server/core/optimize"
	"github.com/searchktools/micro-server/core/pools"
)

// Parse limits. A single header line (and the request line) is bounded by
// MaxHeaderLineSize; the header block by MaxHeaderCount lines.
const (
	MaxHeaderLineSize = 8192
	MaxHeaderCount    = 100

	// DefaultMaxBodySize bounds Content-Length bodies unless the engine
	// overrides Parser.MaxBodySize.
	DefaultMaxBodySize = 4 << 20
)

// Parse error taxonomy. All of these are fatal to the connection: the
// engine answers with the matching status code and tears the stream down.
var (
	ErrMalformedRequestLine = errors.New("malformed request line")
	ErrInvalidMethod        = errors.New("invalid request method")
	ErrUnsupportedProtocol  = errors.New("unsupported protocol version")
	ErrMalformedHeader      = errors.New("malformed header line")
	ErrHeaderTooLarge       = errors.New("header line too large")
	ErrTooManyHeaders       = errors.New("too many header lines")
	ErrUnsupportedEncoding  = errors.New("unsupported transfer encoding")
	ErrBodyTooLarge         = errors.New("request body too large")
)

// unsafeString converts a byte slice to a string without allocation.
// WARNING: the returned string shares memory with the byte slice; here it
// always points into the connection arena and dies with it on Reset.
func unsafeString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}

type parsePhase uint8

const (
	phaseRequestLine parsePhase = iota
	phaseHeaders
	phaseBody
	phaseDone
)

// Parser is an incremental HTTP/1.1 request parser. Feed it chunks as they
// arrive from the network; it tolerates lines split at arbitrary byte
// boundaries by buffering the partial tail internally. One Parser lives
// per connection and is Reset (not reallocated) between keep-alive
// requests.
type Parser struct {
	req   *Request
	arena *pools.Arena

	// MaxBodySize bounds Content-Length bodies for this connection.
	MaxBodySize int64

	phase       parsePhase
	line        []byte // partial line carried across Feed calls
	headersDone bool
	started     bool
	headerCount int
	bodyLeft    int64
}

// NewParser creates a parser writing into req, with string data allocated
// from arena.
func NewParser(req *Request, arena *pools.Arena) *Parser {
	return &Parser{
		req:         req,
		arena:       arena,
		MaxBodySize: DefaultMaxBodySize,
	}
}

// Reset restores the parser to its initial state for the next request on
// the same connection. The line buffer keeps its capacity. The attached
// Request and Arena are reset separately by the connection loop.
func (p *Parser) Reset() {
	p.phase = phaseRequestLine
	p.line = p.line[:0]
	p.headersDone = false
	p.started = false
	p.headerCount = 0
	p.bodyLeft = 0
}

// Started reports whether any bytes of the current request have been
// consumed. The connection loop uses this to tell a clean EOF from a
// truncated request.
func (p *Parser) Started() bool {
	return p.started
}

// HeadersComplete reports whether the terminating blank line of the header
// block has been consumed.
func (p *Parser) HeadersComplete() bool {
	return p.headersDone
}

// Complete reports whether headers and any declared body have been fully
// consumed.
func (p *Parser) Complete() bool {
	return p.phase == phaseDone
}

// Feed consumes newly available input and advances the parse state. It
// returns the number of bytes consumed; bytes past the end of a complete
// request are left unconsumed (they belong to the next request). A non-nil
// error means the input violated the request grammar: the request is
// unusable and the connection must be torn down.
func (p *Parser) Feed(data []byte) (int, error) {
	n := 0
	for n < len(data) {
		switch p.phase {
		case phaseRequestLine, phaseHeaders:
			idx := optimize.IndexNewline(data[n:])
			if idx == -1 {
				// Line continues past this chunk, buffer the tail.
				if len(p.line)+len(data)-n > MaxHeaderLineSize {
					return n, ErrHeaderTooLarge
				}
				p.line = append(p.line, data[n:]...)
				p.started = true
				return len(data), nil
			}

			var line []byte
			if len(p.line) == 0 {
				line = data[n : n+idx]
			} else {
				p.line = append(p.line, data[n:n+idx]...)
				line = p.line
			}
			n += idx + 1
			p.started = true

			if len(line) > MaxHeaderLineSize {
				return n, ErrHeaderTooLarge
			}
			line = trimCR(line)

			var err error
			if p.phase == phaseRequestLine {
				err = p.parseRequestLine(line)
			} else {
				err = p.parseHeaderLine(line)
			}
			p.line = p.line[:0]
			if err != nil {
				return n, err
			}

		case phaseBody:
			take := p.bodyLeft
			if avail := int64(len(data) - n); avail < take {
				take = avail
			}
			p.req.Body = append(p.req.Body, data[n:n+int(take)]...)
			p.bodyLeft -= take
			n += int(take)
			if p.bodyLeft == 0 {
				p.phase = phaseDone
			}

		case phaseDone:
			// Pipelined bytes for the next request stay unconsumed.
			return n, nil
		}
	}
	return n, nil
}

// parseRequestLine handles "METHOD target HTTP/x.y".
func (p *Parser) parseRequestLine(line []byte) error {
	if len(line) == 0 {
		return ErrMalformedRequestLine
	}

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 == -1 {
		return ErrMalformedRequestLine
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 == -1 {
		return ErrMalformedRequestLine
	}
	sp2 += sp1 + 1

	method, err := canonicalMethod(line[:sp1])
	if err != nil {
		return err
	}

	target := line[sp1+1 : sp2]
	if len(target) == 0 {
		return ErrMalformedRequestLine
	}
	for _, c := range target {
		if c < 0x20 || c == 0x7f {
			return ErrMalformedRequestLine
		}
	}

	switch {
	case bytes.Equal(line[sp2+1:], []byte("HTTP/1.1")):
		p.req.Proto = "HTTP/1.1"
	case bytes.Equal(line[sp2+1:], []byte("HTTP/1.0")):
		p.req.Proto = "HTTP/1.0"
	default:
		return ErrUnsupportedProtocol
	}

	// Split the query off before the path lands in the arena.
	if q := bytes.IndexByte(target, '?'); q != -1 {
		p.parseQuery(target[q+1:])
		target = target[:q]
	}
	p.req.Method = method
	p.req.Path = unsafeString(p.arena.Copy(target))

	p.phase = phaseHeaders
	return nil
}

// parseHeaderLine handles one "Name: value" line; the empty line ends the
// header block.
func (p *Parser) parseHeaderLine(line []byte) error {
	if len(line) == 0 {
		p.headersDone = true
		return p.beginBody()
	}

	if p.headerCount >= MaxHeaderCount {
		return ErrTooManyHeaders
	}
	p.headerCount++

	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ErrMalformedHeader
	}
	key := line[:colon]
	if !optimize.ValidToken(key) {
		return ErrMalformedHeader
	}

	value := trimOWS(line[colon+1:])
	for _, c := range value {
		if (c < 0x20 && c != '\t') || c == 0x7f {
			return ErrMalformedHeader
		}
	}

	p.req.SetHeader(string(key), string(value))
	return nil
}

// beginBody decides what follows the header block. Chunked transfer
// encoding is rejected; decoding it is a follow-up.
func (p *Parser) beginBody() error {
	if te := p.req.TransferEncoding; te != "" && !optimize.EqualFold(te, "identity") {
		return ErrUnsupportedEncoding
	}

	cl := p.req.ContentLength
	if cl == "" {
		p.phase = phaseDone
		return nil
	}

	length, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || length < 0 {
		return ErrMalformedHeader
	}
	if length > p.MaxBodySize {
		return ErrBodyTooLarge
	}
	if length == 0 {
		p.phase = phaseDone
		return nil
	}

	p.bodyLeft = length
	p.phase = phaseBody
	return nil
}

// parseQuery fills req.Query from the raw query string.
func (p *Parser) parseQuery(query []byte) {
	if p.req.Query == nil {
		p.req.Query = make(map[string]string)
	}

	for len(query) > 0 {
		pair := query
		if amp := bytes.IndexByte(query, '&'); amp != -1 {
			pair = query[:amp]
			query = query[amp+1:]
		} else {
			query = nil
		}

		if len(pair) == 0 {
			continue
		}
		if eq := bytes.IndexByte(pair, '='); eq != -1 {
			p.req.Query[string(pair[:eq])] = string(pair[eq+1:])
		} else {
			p.req.Query[string(pair)] = ""
		}
	}
}

// ShouldKeepAlive reports whether the just-parsed request permits reusing
// the connection: HTTP/1.1 defaults to keep-alive unless the client sent
// "Connection: close"; HTTP/1.0 defaults to close unless it sent
// "Connection: keep-alive".
func (p *Parser) ShouldKeepAlive() bool {
	if p.req.Proto == "HTTP/1.0" {
		return optimize.EqualFold(p.req.Connection, "keep-alive")
	}
	return !optimize.EqualFold(p.req.Connection, "close")
}

// canonicalMethod maps a method token to its canonical constant, so
// Request.Method never references the read buffer.
func canonicalMethod(b []byte) (string, error) {
	switch {
	case bytes.Equal(b, []byte("GET")):
		return "GET", nil
	case bytes.Equal(b, []byte("HEAD")):
		return "HEAD", nil
	case bytes.Equal(b, []byte("POST")):
		return "POST", nil
	case bytes.Equal(b, []byte("PUT")):
		return "PUT", nil
	case bytes.Equal(b, []byte("DELETE")):
		return "DELETE", nil
	}
	if !optimize.ValidToken(b) {
		return "", ErrMalformedRequestLine
	}
	return "", ErrInvalidMethod
}

func trimCR(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\r' {
		return line[:len(line)-1]
	}
	return line
}

func trimOWS(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}
