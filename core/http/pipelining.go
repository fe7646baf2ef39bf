package http

import (
	"bufio"
	"bytes"
	"net"
	"time"
)

var headerEnd = []byte("\r\n\r\n")

// PipelineConfig configures per-connection framing
type PipelineConfig struct {
	ReadBufferSize  int           // bufio reader size
	MaxRequestBytes int           // request line + headers + body
	IdleTimeout     time.Duration // max wait for the next request, 0 disables
	WriteTimeout    time.Duration // max time for one flush, 0 disables
}

// DefaultPipelineConfig returns default pipelining configuration
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ReadBufferSize:  8192,
		MaxRequestBytes: DefaultMaxRequestBytes,
		IdleTimeout:     60 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// PipelineConn serves sequential, possibly pipelined, requests on one
// connection. Responses are buffered and only flushed once no further
// request is already waiting in the read buffer.
type PipelineConn struct {
	conn   net.Conn
	reader *bufio.Reader
	out    []byte
	config PipelineConfig
}

// NewPipelineConn wraps conn
func NewPipelineConn(conn net.Conn, config PipelineConfig) *PipelineConn {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 8192
	}
	if config.MaxRequestBytes <= 0 {
		config.MaxRequestBytes = DefaultMaxRequestBytes
	}

	return &PipelineConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, config.ReadBufferSize),
		out:    make([]byte, 0, 4096),
		config: config,
	}
}

// ReadRequest reads the next request into req
func (pc *PipelineConn) ReadRequest(req *Request) error {
	if pc.config.IdleTimeout > 0 && pc.reader.Buffered() == 0 {
		if err := pc.conn.SetReadDeadline(time.Now().Add(pc.config.IdleTimeout)); err != nil {
			return err
		}
	}
	return ReadRequest(pc.reader, pc.config.MaxRequestBytes, req)
}

// WriteResponse queues res. Output is flushed unless the read buffer
// already holds the head of another pipelined request.
func (pc *PipelineConn) WriteResponse(res ResponseData, keepAlive bool) error {
	pc.out = AppendResponse(pc.out, res, keepAlive)
	if keepAlive && pc.nextRequestBuffered() {
		return nil
	}
	return pc.Flush()
}

// Pending reports how many response bytes are queued but not flushed
func (pc *PipelineConn) Pending() int {
	return len(pc.out)
}

func (pc *PipelineConn) nextRequestBuffered() bool {
	n := pc.reader.Buffered()
	if n == 0 {
		return false
	}
	buf, err := pc.reader.Peek(n)
	if err != nil {
		return false
	}
	return bytes.Contains(buf, headerEnd)
}

// Flush writes all queued responses
func (pc *PipelineConn) Flush() error {
	if len(pc.out) == 0 {
		return nil
	}
	if pc.config.WriteTimeout > 0 {
		if err := pc.conn.SetWriteDeadline(time.Now().Add(pc.config.WriteTimeout)); err != nil {
			return err
		}
	}

	_, err := pc.conn.Write(pc.out)

	// Don't let one large response pin a large buffer for the connection lifetime
	if cap(pc.out) > 64<<10 {
		pc.out = make([]byte, 0, 4096)
	} else {
		pc.out = pc.out[:0]
	}
	return err
}
