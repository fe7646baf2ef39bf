package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ServerConfig holds configuration for the metrics server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":9091".
	Addr string

	// Path serves the metrics.
	Path string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:         ":9091",
		Path:         "/metrics",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server serves Prometheus metrics and a health endpoint.
type Server struct {
	config   *ServerConfig
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	server   *http.Server
	stopOnce sync.Once
}

// NewServer creates a metrics server for gatherer. A nil gatherer uses
// prometheus.DefaultGatherer.
func NewServer(config *ServerConfig, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:   config,
		gatherer: gatherer,
		logger:   logger,
	}
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the mux serving metrics and /health
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog:            &zapErrorLogger{logger: s.logger},
		ErrorHandling:       promhttp.ContinueOnError,
		MaxRequestsInFlight: 10,
		Timeout:             s.config.WriteTimeout,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			s.logger.Debug("failed to write health response", zap.Error(err))
		}
	})
	return mux
}

// Start serves until ctx is done, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting metrics server",
		zap.String("addr", ln.Addr().String()),
		zap.String("path", s.config.Path),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Stop shuts the server down once
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info("stopping metrics server")
		err = s.server.Shutdown(ctx)
	})
	return err
}

// zapErrorLogger adapts zap.Logger to promhttp.Logger
type zapErrorLogger struct {
	logger *zap.Logger
}

func (l *zapErrorLogger) Println(v ...any) {
	l.logger.Error(fmt.Sprint(v...))
}
