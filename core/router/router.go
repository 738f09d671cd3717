package router

import "strings"

// HandlerFunc defines the handler function type. The engine passes its
// request context through as `any` so this package stays free of HTTP
// types.
type HandlerFunc func(ctx any)

// Route is one (method, pattern, handler) binding. Immutable once
// registered.
type Route struct {
	Method  string
	Pattern string
	Handler HandlerFunc
}

// Table is an ordered route registry. Lookup is a linear scan in
// registration order with first match winning, O(routes x segments) per
// request. That is the right trade for the small tables this server is
// embedded with; a radix tree is the extension point for large ones.
//
// Registration happens before serving starts, so lookups need no locking.
type Table struct {
	routes []Route
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{
		routes: make([]Route, 0, 16),
	}
}

// Register appends a route. Patterns are slash-delimited; a segment
// starting with ':' captures the corresponding request segment under the
// name after the colon.
func (t *Table) Register(method, pattern string, handler HandlerFunc) {
	if pattern == "" || pattern[0] != '/' {
		panic("pattern must begin with '/'")
	}
	if handler == nil {
		panic("handler must not be nil")
	}
	t.routes = append(t.routes, Route{
		Method:  method,
		Pattern: pattern,
		Handler: handler,
	})
}

// Len returns the number of registered routes.
func (t *Table) Len() int {
	return len(t.routes)
}

// Find returns the first registered route matching method and path, plus
// the extracted path parameters. A nil handler means no match; the caller
// maps that to a not-found response.
func (t *Table) Find(method, path string) (HandlerFunc, map[string]string) {
	for i := range t.routes {
		r := &t.routes[i]
		if r.Method != method {
			continue
		}
		if !MatchPath(r.Pattern, path) {
			continue
		}

		var params map[string]string
		if strings.IndexByte(r.Pattern, ':') != -1 {
			params = make(map[string]string, 2)
			extractParams(r.Pattern, path, params)
		}
		return r.Handler, params
	}
	return nil, nil
}

// MatchPath reports whether path matches pattern segment by segment.
// Segment counts must be equal: trailing slashes are significant, not
// normalized. Literal segments compare byte-wise; a ':' segment matches
// any single non-empty segment.
func MatchPath(pattern, path string) bool {
	p, u := pattern, path
	for {
		pSeg, pRest, pMore := nextSegment(p)
		uSeg, uRest, uMore := nextSegment(u)

		if !segmentMatch(pSeg, uSeg) {
			return false
		}
		if pMore != uMore {
			return false
		}
		if !pMore {
			return true
		}
		p, u = pRest, uRest
	}
}

// extractParams fills params with the captured value of every ':' segment.
// A name declared twice keeps the later capture.
func extractParams(pattern, path string, params map[string]string) {
	p, u := pattern, path
	for {
		pSeg, pRest, pMore := nextSegment(p)
		uSeg, uRest, uMore := nextSegment(u)

		if len(pSeg) > 0 && pSeg[0] == ':' {
			params[pSeg[1:]] = uSeg
		}
		if !pMore || !uMore {
			return
		}
		p, u = pRest, uRest
	}
}

// nextSegment splits off the leading path segment: the text before the
// first '/', the remainder after it, and whether a '/' was present.
func nextSegment(s string) (seg, rest string, more bool) {
	if i := strings.IndexByte(s, '/'); i != -1 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}

func segmentMatch(pSeg, uSeg string) bool {
	if len(pSeg) > 0 && pSeg[0] == ':' {
		return len(uSeg) > 0
	}
	return pSeg == uSeg
}
