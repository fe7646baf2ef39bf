package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/searchktools/hotpath/core/logging"
)

// ErrInvalidConfig is wrapped by every validation and parse failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError describes one rejected configuration field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Unwrap lets callers match ErrInvalidConfig with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

// Config holds all application configuration.
type Config struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
	Env  string `yaml:"env"`

	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`

	MaxConnections     int           `yaml:"maxConnections"`
	MaxRequestBytes    int           `yaml:"maxRequestBytes"`
	SocketBufferBytes  int           `yaml:"socketBufferBytes"`
	Backlog            int           `yaml:"backlog"`
	KeepAliveIdle      time.Duration `yaml:"keepAliveIdle"`
	KeepAliveInterval  time.Duration `yaml:"keepAliveInterval"`
	CacheShardCapacity int           `yaml:"cacheShardCapacity"`
	CallbackTimeout    time.Duration `yaml:"callbackTimeout"`

	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	// MetricsPort 0 disables the metrics listener
	MetricsPort int    `yaml:"metricsPort"`
	MetricsPath string `yaml:"metricsPath"`

	// MetricsReadTimeout bounds request reads on the metrics listener only;
	// the engine bounds reads with IdleTimeout
	MetricsReadTimeout time.Duration `yaml:"metricsReadTimeout"`

	// File is the YAML file the config was loaded from, if any
	File string `yaml:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:               8080,
		Env:                "development",
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxConnections:     100000,
		MaxRequestBytes:    128 << 10,
		SocketBufferBytes:  256 << 10,
		Backlog:            65535,
		KeepAliveIdle:      60 * time.Second,
		KeepAliveInterval:  10 * time.Second,
		CacheShardCapacity: 128,
		CallbackTimeout:    30 * time.Second,
		LogLevel:           "info",
		LogFormat:          "json",
		MetricsPort:        9091,
		MetricsPath:        "/metrics",
		MetricsReadTimeout: 10 * time.Second,
	}
}

// New loads configuration from the command line, the environment and an
// optional config file. It exits the process on error.
func New() *Config {
	cfg, err := Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

// Load builds the configuration. Later sources override earlier ones:
// defaults, the YAML file, HOTPATH_* environment variables (and PORT),
// then command line flags.
func Load(args []string) (*Config, error) {
	return load(args, os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

func load(args []string, lookup lookupFunc) (*Config, error) {
	// First pass only discovers the config file path
	first := Default()
	if v, ok := lookup("HOTPATH_CONFIG"); ok {
		first.File = v
	}
	fs := newFlagSet(first)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			newFlagSet(first).PrintDefaults()
			return nil, err
		}
		return nil, &ValidationError{Message: err.Error()}
	}

	cfg := Default()
	if first.File != "" {
		if err := loadFile(first.File, cfg); err != nil {
			return nil, err
		}
		cfg.File = first.File
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}

	if err := newFlagSet(cfg).Parse(args); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newFlagSet binds every flag to cfg, using cfg's current values as defaults
func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("hotpath", flag.ContinueOnError)

	fs.StringVar(&cfg.File, "config", cfg.File, "YAML config file")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "HTTP server bind address")
	fs.StringVar(&cfg.Env, "env", cfg.Env, "Environment (development/production)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Response write timeout")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Keep-alive idle timeout")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "Concurrent connection cap (0 disables)")
	fs.IntVar(&cfg.MaxRequestBytes, "max-request-bytes", cfg.MaxRequestBytes, "Max request size, headers and body")
	fs.IntVar(&cfg.SocketBufferBytes, "socket-buffer-bytes", cfg.SocketBufferBytes, "SO_SNDBUF/SO_RCVBUF size")
	fs.IntVar(&cfg.Backlog, "backlog", cfg.Backlog, "Listen backlog")
	fs.DurationVar(&cfg.KeepAliveIdle, "keepalive-idle", cfg.KeepAliveIdle, "TCP keep-alive idle time")
	fs.DurationVar(&cfg.KeepAliveInterval, "keepalive-interval", cfg.KeepAliveInterval, "TCP keep-alive interval")
	fs.IntVar(&cfg.CacheShardCapacity, "cache-shard-capacity", cfg.CacheShardCapacity, "Hot cache entries per shard")
	fs.DurationVar(&cfg.CallbackTimeout, "callback-timeout", cfg.CallbackTimeout, "Callback bridge timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug/info/warn/error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (json/console)")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "Metrics server port (0 disables)")
	fs.StringVar(&cfg.MetricsPath, "metrics-path", cfg.MetricsPath, "Metrics endpoint path")
	fs.DurationVar(&cfg.MetricsReadTimeout, "metrics-read-timeout", cfg.MetricsReadTimeout, "Metrics server read timeout")

	return fs
}

func applyEnv(cfg *Config, lookup lookupFunc) error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"PORT", &cfg.Port},
		{"HOTPATH_PORT", &cfg.Port},
		{"HOTPATH_MAX_CONNECTIONS", &cfg.MaxConnections},
		{"HOTPATH_MAX_REQUEST_BYTES", &cfg.MaxRequestBytes},
		{"HOTPATH_SOCKET_BUFFER_BYTES", &cfg.SocketBufferBytes},
		{"HOTPATH_BACKLOG", &cfg.Backlog},
		{"HOTPATH_CACHE_SHARD_CAPACITY", &cfg.CacheShardCapacity},
		{"HOTPATH_METRICS_PORT", &cfg.MetricsPort},
	}
	for _, v := range ints {
		s, ok := lookup(v.name)
		if !ok || s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return &ValidationError{Field: v.name, Message: fmt.Sprintf("not an integer: %q", s)}
		}
		*v.dst = n
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"HOTPATH_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"HOTPATH_IDLE_TIMEOUT", &cfg.IdleTimeout},
		{"HOTPATH_KEEPALIVE_IDLE", &cfg.KeepAliveIdle},
		{"HOTPATH_KEEPALIVE_INTERVAL", &cfg.KeepAliveInterval},
		{"HOTPATH_CALLBACK_TIMEOUT", &cfg.CallbackTimeout},
		{"HOTPATH_METRICS_READ_TIMEOUT", &cfg.MetricsReadTimeout},
	}
	for _, v := range durations {
		s, ok := lookup(v.name)
		if !ok || s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return &ValidationError{Field: v.name, Message: fmt.Sprintf("not a duration: %q", s)}
		}
		*v.dst = d
	}

	strs := []struct {
		name string
		dst  *string
	}{
		{"HOTPATH_HOST", &cfg.Host},
		{"HOTPATH_ENV", &cfg.Env},
		{"HOTPATH_LOG_LEVEL", &cfg.LogLevel},
		{"HOTPATH_LOG_FORMAT", &cfg.LogFormat},
		{"HOTPATH_METRICS_PATH", &cfg.MetricsPath},
	}
	for _, v := range strs {
		if s, ok := lookup(v.name); ok && s != "" {
			*v.dst = s
		}
	}
	return nil
}

// Validate checks field ranges. It returns the first failure found.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return &ValidationError{Field: "port", Message: fmt.Sprintf("out of range: %d", c.Port)}
	case c.MetricsPort < 0 || c.MetricsPort > 65535:
		return &ValidationError{Field: "metricsPort", Message: fmt.Sprintf("out of range: %d", c.MetricsPort)}
	case c.MetricsPort != 0 && c.MetricsPort == c.Port:
		return &ValidationError{Field: "metricsPort", Message: "must differ from port"}
	case c.MaxConnections < 0:
		return &ValidationError{Field: "maxConnections", Message: "must not be negative"}
	case c.MaxRequestBytes < 0:
		return &ValidationError{Field: "maxRequestBytes", Message: "must not be negative"}
	case c.SocketBufferBytes < 0:
		return &ValidationError{Field: "socketBufferBytes", Message: "must not be negative"}
	case c.Backlog < 0:
		return &ValidationError{Field: "backlog", Message: "must not be negative"}
	case c.CacheShardCapacity < 0:
		return &ValidationError{Field: "cacheShardCapacity", Message: "must not be negative"}
	case c.MetricsReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0:
		return &ValidationError{Field: "timeouts", Message: "must not be negative"}
	case c.CallbackTimeout < 0:
		return &ValidationError{Field: "callbackTimeout", Message: "must not be negative"}
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return &ValidationError{Field: "logLevel", Message: err.Error()}
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return &ValidationError{Field: "logFormat", Message: fmt.Sprintf("unknown format %q", c.LogFormat)}
	}
	if c.MetricsPath == "" || c.MetricsPath[0] != '/' {
		return &ValidationError{Field: "metricsPath", Message: "must start with /"}
	}
	return nil
}

// Addr returns the engine listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddr returns the metrics listen address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// IsProduction reports whether Env is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
