//go:build !unix

package session

import (
	"net"
	"syscall"
)

// reuseAddrControl is a no-op where the runtime owns SO_REUSEADDR.
func reuseAddrControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}

// applyBacklog is a no-op where the accept queue cannot be resized.
func applyBacklog(*net.TCPListener, int) error {
	return nil
}
