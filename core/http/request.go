package http

import (
	"sync"

	"github.com/searchktools/hotpath/core/pools"
)

// Request is a pooled HTTP/1.1 request
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Proto    string

	// Predefined header fields; other headers are skipped by the parser
	ContentType      string
	ContentLength    int64
	Host             string
	Connection       string
	TransferEncoding string

	// Body is borrowed from the byte pool and returned on release
	Body []byte

	// scratch holds header lines longer than the connection reader buffer
	scratch []byte
}

var requestPool = sync.Pool{
	New: func() any {
		return &Request{ContentLength: -1}
	},
}

// AcquireRequest takes a request from the pool
func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// Reset resets the request for reuse
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.RawQuery = ""
	r.Proto = ""
	r.ContentType = ""
	r.ContentLength = -1
	r.Host = ""
	r.Connection = ""
	r.TransferEncoding = ""

	if r.Body != nil {
		pools.PutBytes(r.Body)
		r.Body = nil
	}
	r.scratch = r.scratch[:0]
}

// ReleaseRequest resets req and returns it to the pool
func ReleaseRequest(req *Request) {
	req.Reset()
	requestPool.Put(req)
}

// KeepAlive reports whether the connection may serve another request
// after this one.
func (r *Request) KeepAlive() bool {
	if r.Proto == "HTTP/1.0" {
		return asciiEqualFold(r.Connection, "keep-alive")
	}
	return !asciiEqualFold(r.Connection, "close")
}

// SetHeader stores a recognised header. Unknown headers are dropped.
func (r *Request) SetHeader(key, value []byte) {
	switch {
	case asciiEqualFoldBytes(key, "Content-Type"):
		r.ContentType = string(value)
	case asciiEqualFoldBytes(key, "Content-Length"):
		r.ContentLength = parseContentLength(value)
	case asciiEqualFoldBytes(key, "Host"):
		r.Host = string(value)
	case asciiEqualFoldBytes(key, "Connection"):
		r.Connection = string(value)
	case asciiEqualFoldBytes(key, "Transfer-Encoding"):
		r.TransferEncoding = string(value)
	}
}

// parseContentLength returns -2 for malformed values so the parser can
// tell "absent" (-1) from "invalid".
func parseContentLength(b []byte) int64 {
	if len(b) == 0 || len(b) > 18 {
		return -2
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return -2
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func asciiEqualFold(s, t string) bool {
	if len(s) != len(t) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if lower(s[i]) != lower(t[i]) {
			return false
		}
	}
	return true
}

func asciiEqualFoldBytes(b []byte, t string) bool {
	if len(b) != len(t) {
		return false
	}
	for i := 0; i < len(b); i++ {
		if lower(b[i]) != lower(t[i]) {
			return false
		}
	}
	return true
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
