package http

import "context"

// Options carries the parsed request data handed to a handler.
type Options struct {
	// Body is the decoded JSON body. Only set for POST/PUT/PATCH requests
	// with an application/json content type and a decodable payload.
	Body any

	// Params is reserved for structured path parameters. The engine never
	// fills it; bindings that extract parameters do so themselves.
	Params any
}

// HandlerFunc is a route handler. Handlers are shared by every connection
// and must be safe for concurrent use.
type HandlerFunc func(ctx context.Context, opts Options) ResponseData

// ResponseData is the status code and payload produced by a handler
type ResponseData struct {
	StatusCode uint16
	Data       []byte
}

// Fixed error bodies, shared across requests and never mutated.
var (
	notFoundBody      = []byte(`{"error":"Not Found"}`)
	internalErrorBody = []byte(`{"error":"Internal Server Error"}`)
	badRequestBody    = []byte(`{"error":"Bad Request"}`)
)

// NewResponse creates a response with the given status code and payload
func NewResponse(statusCode uint16, data []byte) ResponseData {
	return ResponseData{StatusCode: statusCode, Data: data}
}

// OK creates a 200 response
func OK(data []byte) ResponseData {
	return ResponseData{StatusCode: 200, Data: data}
}

// NotFound returns the canonical 404 response.
func NotFound() ResponseData {
	return ResponseData{StatusCode: 404, Data: notFoundBody}
}

// InternalError returns the canonical 500 response.
func InternalError() ResponseData {
	return ResponseData{StatusCode: 500, Data: internalErrorBody}
}

// BadRequest returns the canonical 400 response.
func BadRequest() ResponseData {
	return ResponseData{StatusCode: 400, Data: badRequestBody}
}
