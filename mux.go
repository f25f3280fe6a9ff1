package jerry

import (
	"bytes"
	"context"
	"sync"
)

// Mux routes requests on an exact prefix of their raw bytes, such as
// "GET / HTTP/1.1\r\n".
type Mux struct {
	entries  map[string]muxEntry
	notFound Handler
	mu       *sync.RWMutex
}

type muxEntry struct {
	h      Handler
	prefix []byte
}

func NewMux(notFound Handler) *Mux {
	return &Mux{
		entries:  make(map[string]muxEntry),
		notFound: notFound,
		mu:       &sync.RWMutex{},
	}
}

// Handle is used to register a handler given a request prefix
func (m *Mux) Handle(prefix string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[prefix] = muxEntry{
		h:      h,
		prefix: []byte(prefix),
	}
}

// match finds the handler whose prefix starts raw. When several match the
// longest prefix wins.
func (m *Mux) match(raw []byte) (h Handler) {
	longest := -1
	for _, e := range m.entries {
		if len(e.prefix) > longest && bytes.HasPrefix(raw, e.prefix) {
			h, longest = e.h, len(e.prefix)
		}
	}

	return h
}

// Respond dispatches the request to the handler whose
// prefix matches it.
func (m *Mux) Respond(ctx context.Context, req *Request) *Response {
	return m.Handler(req).Respond(ctx, req)
}

// Handler returns the handler to use for the given request.
// It always returns a non-nil handler.
//
// If there is no registered handler that applies to the request,
// handler returns the not found handler.
func (m *Mux) Handler(req *Request) (h Handler) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h = m.match(req.Raw)
	if h == nil {
		h = m.notFound
	}
	if h == nil {
		h = NotFoundHandler()
	}

	return h
}

// NotFound answers with an empty 404.
func NotFound(context.Context, *Request) *Response {
	return &Response{StatusLine: StatusNotFound}
}

// NotFoundHandler returns a simple handler that answers with an empty 404.
func NotFoundHandler() Handler { return HandlerFunc(NotFound) }
