package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/searchktools/hotpath/core/http"
	"github.com/searchktools/hotpath/core/router"
)

// ListenConfig holds the socket options applied to the listener
type ListenConfig struct {
	SocketBufferBytes int
	Backlog           int
}

// Listen opens a TCP listener with SO_REUSEADDR, enlarged socket buffers
// and the configured accept backlog.
func Listen(ctx context.Context, addr string, cfg ListenConfig) (*net.TCPListener, error) {
	lc := net.ListenConfig{Control: controlFunc(cfg)}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("listen %s: unexpected listener %T", addr, ln)
	}
	if err := setBacklog(tl, cfg.Backlog); err != nil {
		tl.Close()
		return nil, fmt.Errorf("listen %s: set backlog: %w", addr, err)
	}
	return tl, nil
}

// Run listens on addr and serves until ctx is done. A failure to bind
// is returned as an error, as is anything Serve returns.
func (e *Engine) Run(ctx context.Context, addr string) error {
	ln, err := Listen(ctx, addr, ListenConfig{
		SocketBufferBytes: e.opts.SocketBufferBytes,
		Backlog:           e.opts.Backlog,
	})
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if snd, rcv, err := socketBuffers(ln); err == nil {
		e.logger.Debug("listener socket buffers", zap.Int("sndbuf", snd), zap.Int("rcvbuf", rcv))
	}
	return e.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes ln and
// every live connection and waits for their goroutines to exit. Accept
// errors are retried with a backoff capped at one second; Serve only
// fails early when ln is closed underneath it.
func (e *Engine) Serve(ctx context.Context, ln net.Listener) error {
	if !e.serving.CompareAndSwap(false, true) {
		return ErrEngineRunning
	}
	defer e.serving.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.connMu.Lock()
	e.closing = false
	e.connMu.Unlock()

	ln = &tunedListener{Listener: ln, idle: e.opts.KeepAliveIdle, interval: e.opts.KeepAliveInterval}
	if e.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, e.opts.MaxConnections)
	}

	e.logger.Info("engine listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("routes", e.registry.Len()),
		zap.Int("max_connections", e.opts.MaxConnections),
	)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		ln.Close()
		e.closeConns()
	}()

	var wg sync.WaitGroup
	defer func() {
		cancel()
		<-stopped
		wg.Wait()
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				e.logger.Info("engine stopped", zap.String("addr", ln.Addr().String()))
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			// EMFILE, ECONNABORTED and friends pass; keep accepting
			backoff = nextBackoff(backoff)
			e.logger.Warn("accept error, retrying", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
			}
			continue
		}
		backoff = 0

		if !e.trackConn(conn) {
			conn.Close()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.serveConn(ctx, conn)
		}()
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}

// serveConn runs the keep-alive request loop of one connection
func (e *Engine) serveConn(ctx context.Context, conn net.Conn) {
	defer e.untrackConn(conn)

	pc := http.NewPipelineConn(conn, http.PipelineConfig{
		ReadBufferSize:  e.opts.ReadBufferSize,
		MaxRequestBytes: e.opts.MaxRequestBytes,
		IdleTimeout:     e.opts.IdleTimeout,
		WriteTimeout:    e.opts.WriteTimeout,
	})
	defer func() {
		if err := pc.Flush(); err != nil {
			e.logger.Debug("final flush failed", zap.Error(err))
		}
	}()

	req := http.AcquireRequest()
	defer http.ReleaseRequest(req)

	for {
		req.Reset()
		if err := pc.ReadRequest(req); err != nil {
			e.readFailed(pc, conn, err)
			return
		}

		var start time.Time
		if e.metrics != nil {
			start = time.Now()
		}

		res := e.dispatcher.Dispatch(ctx, req)
		keepAlive := req.KeepAlive() && ctx.Err() == nil

		if e.metrics != nil {
			e.metrics.RecordRequest(methodLabel(req.Method), res.StatusCode, time.Since(start))
		}

		if err := pc.WriteResponse(res, keepAlive); err != nil {
			e.logger.Debug("write failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
			return
		}
		if !keepAlive {
			return
		}
	}
}

// methodLabel keeps the metric label set closed
func methodLabel(token string) string {
	m, ok := router.ParseWireMethod(token)
	if !ok {
		return "OTHER"
	}
	return m.String()
}

// readFailed answers malformed requests with 400 and logs everything
// else at debug before the connection is dropped.
func (e *Engine) readFailed(pc *http.PipelineConn, conn net.Conn, err error) {
	switch {
	case errors.Is(err, io.EOF):
		return
	case errors.Is(err, http.ErrInvalidRequest),
		errors.Is(err, http.ErrRequestTooLarge),
		errors.Is(err, http.ErrUnsupportedTransferEncoding):
		e.logger.Debug("bad request", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
		if werr := pc.WriteResponse(http.BadRequest(), false); werr != nil {
			e.logger.Debug("write failed", zap.Error(werr))
		}
	default:
		e.logger.Debug("read failed", zap.Stringer("remote", conn.RemoteAddr()), zap.Error(err))
	}
}

func (e *Engine) trackConn(conn net.Conn) bool {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if e.closing {
		return false
	}
	e.conns[conn] = struct{}{}
	e.metrics.ConnOpened()
	return true
}

func (e *Engine) untrackConn(conn net.Conn) {
	e.connMu.Lock()
	_, ok := e.conns[conn]
	delete(e.conns, conn)
	e.connMu.Unlock()

	conn.Close()
	if ok {
		e.metrics.ConnClosed()
	}
}

func (e *Engine) closeConns() {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	e.closing = true
	for conn := range e.conns {
		conn.Close()
	}
}

// ActiveConnections returns the number of open client connections
func (e *Engine) ActiveConnections() int {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	return len(e.conns)
}

// tunedListener sets TCP_NODELAY and TCP keep-alive on every
// accepted connection.
type tunedListener struct {
	net.Listener
	idle     time.Duration
	interval time.Duration
}

func (l *tunedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAliveConfig(net.KeepAliveConfig{
			Enable:   true,
			Idle:     l.idle,
			Interval: l.interval,
		})
	}
	return conn, nil
}
