//go:build unix

package session

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func reuseAddrControl(enabled bool) func(network, address string, c syscall.RawConn) error {
	v := 0
	if enabled {
		v = 1
	}
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, v)
		}); err != nil {
			return err
		}
		return serr
	}
}

// applyBacklog re-issues listen(2) on an already listening socket, which
// resizes its accept queue. The kernel still caps it at somaxconn.
func applyBacklog(tcp *net.TCPListener, backlog int) error {
	raw, err := tcp.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.Listen(int(fd), backlog)
	}); err != nil {
		return err
	}
	return serr
}
