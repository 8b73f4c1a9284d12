package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"
)

// ApplyOptions sets the configured TCP options on conn. Non-TCP connections
// (in-memory pipes, test doubles) are left untouched.
func ApplyOptions(conn net.Conn, cfg Config) error {
	tcp, ok := tcpConn(conn)
	if !ok {
		return nil
	}
	if err := tcp.SetKeepAlive(cfg.KeepAlive); err != nil {
		return err
	}
	if err := tcp.SetNoDelay(cfg.TCPNoDelay); err != nil {
		return err
	}
	if cfg.ReceiveBufferSize > 0 {
		if err := tcp.SetReadBuffer(cfg.ReceiveBufferSize); err != nil {
			return err
		}
	}
	if cfg.SendBufferSize > 0 {
		if err := tcp.SetWriteBuffer(cfg.SendBufferSize); err != nil {
			return err
		}
	}
	// Linger disabled: Close returns immediately and the kernel drains.
	return tcp.SetLinger(-1)
}

// Close shuts conn down gracefully (FIN).
func Close(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Reset tears conn down abortively (RST). Buffered outbound bytes are
// discarded, so the peer never mistakes a half-written frame for a
// complete one.
func Reset(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	if tcp, ok := tcpConn(conn); ok {
		_ = tcp.SetLinger(0)
		return tcp.Close()
	}
	return conn.Close()
}

func tcpConn(conn net.Conn) (*net.TCPConn, bool) {
	switch c := conn.(type) {
	case *net.TCPConn:
		return c, true
	case *tls.Conn:
		tcp, ok := c.NetConn().(*net.TCPConn)
		return tcp, ok
	default:
		return nil, false
	}
}

// Dial connects to cfg.Address(), applies socket options and completes the
// TLS handshake when enabled.
func Dial(ctx context.Context, cfg Config) (net.Conn, error) {
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{
		Timeout: cfg.ConnectTimeout,
		Control: reuseAddrControl(cfg.ReuseAddress),
	}
	rawConn, err := dialer.DialContext(ctx, "tcp", cfg.Address())
	if err != nil {
		return nil, err
	}
	if err := ApplyOptions(rawConn, cfg); err != nil {
		_ = Reset(rawConn)
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := cfg.ClientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.TLS.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

// Listener accepts MLLP connections with a bounded accept wait.
type Listener struct {
	tcp *net.TCPListener
	tls *tls.Config
	cfg Config
}

// Listen binds cfg.Address() once. Callers own the retry policy.
func Listen(ctx context.Context, cfg Config) (*Listener, error) {
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	lc := net.ListenConfig{
		Control:   reuseAddrControl(cfg.ReuseAddress),
		KeepAlive: -1,
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.Address())
	if err != nil {
		return nil, err
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, errors.New("session: listener is not tcp")
	}
	if cfg.Backlog > 0 {
		if err := applyBacklog(tcp, cfg.Backlog); err != nil {
			_ = tcp.Close()
			return nil, fmt.Errorf("session: backlog %d: %w", cfg.Backlog, err)
		}
	}
	l := &Listener{tcp: tcp, cfg: cfg}
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.ServerTLSConfig()
		if err != nil {
			_ = tcp.Close()
			return nil, err
		}
		l.tls = tlsCfg
	}
	return l, nil
}

// Accept waits at most timeout for one connection. A timeout is reported as
// an error satisfying os.ErrDeadlineExceeded.
func (l *Listener) Accept(timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		if err := l.tcp.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	conn, err := l.tcp.AcceptTCP()
	if err != nil {
		return nil, err
	}
	if err := ApplyOptions(conn, l.cfg); err != nil {
		_ = Reset(conn)
		return nil, err
	}
	if l.tls != nil {
		return tls.Server(conn, l.tls), nil
	}
	return conn, nil
}

// Handshake completes a pending server-side TLS handshake within timeout.
// Plain connections return immediately. It must run before any probe: a
// deadline hit inside the implicit handshake of a read fails the
// connection for good.
func Handshake(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	tc, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return tc.HandshakeContext(hctx)
}

func (l *Listener) Addr() net.Addr {
	return l.tcp.Addr()
}

func (l *Listener) Close() error {
	return l.tcp.Close()
}
