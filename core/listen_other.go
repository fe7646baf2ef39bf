//go:build !unix

package core

import (
	"errors"
	"net"
	"syscall"
)

func controlFunc(ListenConfig) func(network, address string, c syscall.RawConn) error {
	return nil
}

func setBacklog(*net.TCPListener, int) error {
	return nil
}

func socketBuffers(*net.TCPListener) (int, int, error) {
	return 0, 0, errors.New("socket buffer inspection not supported")
}
