//go:build unix

package core

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func controlFunc(cfg ListenConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
				return
			}
			if cfg.SocketBufferBytes <= 0 {
				return
			}
			if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SocketBufferBytes); opErr != nil {
				return
			}
			opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.SocketBufferBytes)
		})
		if err != nil {
			return err
		}
		return opErr
	}
}

// setBacklog re-issues listen(2) on the bound socket, which updates the
// accept queue length on Linux and the BSDs.
func setBacklog(ln *net.TCPListener, backlog int) error {
	if backlog <= 0 {
		return nil
	}
	raw, err := ln.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		opErr = unix.Listen(int(fd), backlog)
	}); err != nil {
		return err
	}
	return opErr
}

// socketBuffers reports the kernel's view of SO_SNDBUF and SO_RCVBUF
func socketBuffers(ln *net.TCPListener) (snd, rcv int, err error) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return 0, 0, err
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) {
		if snd, opErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF); opErr != nil {
			return
		}
		rcv, opErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	}); err != nil {
		return 0, 0, err
	}
	return snd, rcv, opErr
}
