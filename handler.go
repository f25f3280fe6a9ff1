package jerry

import (
	"context"
	"fmt"
)

// Request is the raw first read of a connection, at most
// requestBufferSize bytes.
type Request struct {
	Raw        []byte
	RemoteAddr string
}

// Response is a status line and a body, written back as
// "{status}\r\nContent-Length: {n}\r\n\r\n{body}".
type Response struct {
	StatusLine string
	Body       []byte
}

// Bytes encodes the response for the wire.
func (r *Response) Bytes() []byte {
	head := fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n", r.StatusLine, len(r.Body))
	return append([]byte(head), r.Body...)
}

// A Handler answers requests.
//
// Respond must return a non-nil response; the server writes it back and
// closes the connection.
type Handler interface {
	Respond(context.Context, *Request) *Response
}

// The HandlerFunc type is an adapter to allow the use of
// ordinary functions as a Handler. If f is a function
// with the appropriate signature, HandlerFunc(f) is a
// Handler that calls f.
type HandlerFunc func(context.Context, *Request) *Response

// Respond calls fn(ctx, req)
func (fn HandlerFunc) Respond(ctx context.Context, req *Request) *Response {
	return fn(ctx, req)
}

// StaticHandler always answers with the same status line and body.
func StaticHandler(statusLine string, body []byte) Handler {
	return HandlerFunc(func(context.Context, *Request) *Response {
		return &Response{StatusLine: statusLine, Body: body}
	})
}
