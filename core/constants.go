package core

import (
	"errors"
	"time"
)

// Listener and connection defaults
const (
	DefaultSocketBufferBytes = 256 << 10
	DefaultBacklog           = 65535
	DefaultKeepAliveIdle     = 60 * time.Second
	DefaultKeepAliveInterval = 10 * time.Second
	DefaultMaxConnections    = 100000
)

// Error definitions
var (
	ErrInvalidPath   = errors.New("route path must start with '/'")
	ErrEngineRunning = errors.New("engine is already serving")
)
