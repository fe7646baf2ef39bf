package http

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/searchktools/hotpath/core/pools"
)

// DefaultMaxRequestBytes bounds the request line, headers and body together.
const DefaultMaxRequestBytes = 128 << 10

var (
	ErrInvalidRequest              = errors.New("invalid HTTP request")
	ErrRequestTooLarge             = errors.New("request exceeds size limit")
	ErrUnsupportedTransferEncoding = errors.New("unsupported transfer encoding")
)

// ReadRequest reads one request from br into req. maxBytes bounds the
// whole request; zero means DefaultMaxRequestBytes. One empty line before
// the request line is ignored. io.EOF is returned untouched when the peer
// closed the connection between requests.
func ReadRequest(br *bufio.Reader, maxBytes int, req *Request) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}
	budget := maxBytes

	line, err := readLine(br, req, &budget)
	if err != nil {
		return err
	}
	// Clients may send a CRLF after a POST body; skip one empty line
	if len(line) == 0 {
		if line, err = readLine(br, req, &budget); err != nil {
			return err
		}
	}
	if err := parseRequestLine(req, line); err != nil {
		return err
	}

	for {
		line, err = readLine(br, req, &budget)
		if err != nil {
			if err == io.EOF {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if len(line) == 0 {
			break
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return ErrInvalidRequest
		}
		req.SetHeader(bytes.TrimSpace(line[:colon]), bytes.TrimSpace(line[colon+1:]))
	}

	return readBody(br, req, budget)
}

// ParseRequest parses a complete request held in data
func ParseRequest(data []byte) (*Request, error) {
	req := AcquireRequest()
	br := bufio.NewReader(bytes.NewReader(data))
	if err := ReadRequest(br, len(data)+1, req); err != nil {
		ReleaseRequest(req)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrInvalidRequest
		}
		return nil, err
	}
	return req, nil
}

// readLine returns one line without its CRLF. Lines longer than the
// reader buffer are assembled in req.scratch.
func readLine(br *bufio.Reader, req *Request, budget *int) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		req.scratch = append(req.scratch[:0], line...)
		for err == bufio.ErrBufferFull {
			if len(req.scratch) > *budget {
				return nil, ErrRequestTooLarge
			}
			line, err = br.ReadSlice('\n')
			req.scratch = append(req.scratch, line...)
		}
		line = req.scratch
	}

	*budget -= len(line)
	if *budget < 0 {
		return nil, ErrRequestTooLarge
	}

	if err != nil {
		if err == io.EOF && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

// parseRequestLine parses METHOD SP TARGET SP PROTO
func parseRequestLine(req *Request, line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrInvalidRequest
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 <= 0 {
		return ErrInvalidRequest
	}
	sp2 += sp1 + 1

	target := line[sp1+1 : sp2]
	if target[0] != '/' {
		return ErrInvalidRequest
	}

	switch proto := line[sp2+1:]; string(proto) {
	case "HTTP/1.1":
		req.Proto = "HTTP/1.1"
	case "HTTP/1.0":
		req.Proto = "HTTP/1.0"
	default:
		return ErrInvalidRequest
	}

	req.Method = internMethod(line[:sp1])

	if q := bytes.IndexByte(target, '?'); q >= 0 {
		req.RawQuery = string(target[q+1:])
		target = target[:q]
	}
	req.Path = string(target)
	return nil
}

// internMethod avoids allocating for the common methods
func internMethod(b []byte) string {
	switch string(b) {
	case "GET":
		return "GET"
	case "POST":
		return "POST"
	case "PUT":
		return "PUT"
	case "DELETE":
		return "DELETE"
	case "PATCH":
		return "PATCH"
	case "HEAD":
		return "HEAD"
	case "OPTIONS":
		return "OPTIONS"
	default:
		return string(b)
	}
}

func readBody(br *bufio.Reader, req *Request, budget int) error {
	if req.TransferEncoding != "" && !asciiEqualFold(req.TransferEncoding, "identity") {
		return ErrUnsupportedTransferEncoding
	}

	switch {
	case req.ContentLength == -2:
		return ErrInvalidRequest
	case req.ContentLength <= 0:
		return nil
	case req.ContentLength > int64(budget):
		return ErrRequestTooLarge
	}

	req.Body = pools.GetBytes(int(req.ContentLength))
	if _, err := io.ReadFull(br, req.Body); err != nil {
		if err == io.EOF {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	return nil
}
