package session

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/mllp/internal/testutil/testlog"
	"github.com/danmuck/mllp/internal/testutil/tlstest"
)

func loopbackConfig() Config {
	cfg := DefaultConfig()
	cfg.Hostname = "127.0.0.1"
	cfg.Port = 0
	cfg.ReuseAddress = true
	return cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Backlog != 5 || cfg.ReceiveTimeout != 15*time.Second || cfg.ReadTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.AutoAck || !cfg.RequireEndOfData || cfg.ValidatePayload {
		t.Fatalf("unexpected default switches: %+v", cfg)
	}
}

func TestWithDefaultsFillsZeroValues(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Port: 6661, IdleTimeoutStrategy: " CLOSE "}.WithDefaults()
	if cfg.Hostname != "0.0.0.0" {
		t.Fatalf("hostname not defaulted: %q", cfg.Hostname)
	}
	if cfg.AcceptTimeout != 60*time.Second || cfg.MaxConcurrentConsumers != 5 {
		t.Fatalf("durations/ints not defaulted: %+v", cfg)
	}
	if cfg.IdleTimeoutStrategy != IdleClose {
		t.Fatalf("strategy not normalized: %q", cfg.IdleTimeoutStrategy)
	}
	if cfg.AutoAck {
		t.Fatalf("booleans must not be defaulted")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		mut  func(*Config)
		want error
	}{
		{"port", func(c *Config) { c.Port = 70000 }, ErrInvalidPort},
		{"read timeout", func(c *Config) { c.ReadTimeout = 0 }, ErrInvalidTimeout},
		{"idle timeout", func(c *Config) { c.IdleTimeout = -time.Second }, ErrInvalidTimeout},
		{"idle strategy", func(c *Config) { c.IdleTimeoutStrategy = "drop" }, ErrInvalidIdleStrategy},
		{"buffers", func(c *Config) { c.SendBufferSize = 0 }, ErrInvalidBufferSize},
		{"consumers", func(c *Config) { c.MaxConcurrentConsumers = 0 }, ErrInvalidConsumers},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mut(&cfg)
		if err := cfg.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestTransportValidation(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	cfg.TLS.Enabled = true
	cfg.TLS.InsecureSkipVerify = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
	cfg.SecurityMode = "lab"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrInvalidSecurityMode) {
		t.Fatalf("expected ErrInvalidSecurityMode, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.TLS.Enabled = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}
}

func TestListenerAcceptTimesOut(t *testing.T) {
	testlog.Start(t)
	ln, err := Listen(context.Background(), loopbackConfig())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	_, err = ln.Accept(20 * time.Millisecond)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected accept deadline, got %v", err)
	}
}

func TestResetSendsAbortToPeer(t *testing.T) {
	testlog.Start(t)
	cfg := loopbackConfig()
	ln, err := Listen(context.Background(), cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	dialCfg := cfg
	dialCfg.Port = ln.Addr().(*net.TCPAddr).Port
	client, err := Dial(context.Background(), dialCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server, err := ln.Accept(time.Second)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()

	if err := Reset(client); err != nil {
		t.Fatalf("reset: %v", err)
	}
	_ = server.SetReadDeadline(time.Now().Add(time.Second))
	_, err = server.Read(make([]byte, 1))
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected connection reset, got %v", err)
	}
}

func TestCloseIsGraceful(t *testing.T) {
	testlog.Start(t)
	cfg := loopbackConfig()
	ln, err := Listen(context.Background(), cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	dialCfg := cfg
	dialCfg.Port = ln.Addr().(*net.TCPAddr).Port
	client, err := Dial(context.Background(), dialCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server, err := ln.Accept(time.Second)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer server.Close()

	if err := Close(client); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = server.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := server.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestTLSDialAndAccept(t *testing.T) {
	testlog.Start(t)
	files := tlstest.Loopback(t)

	cfg := loopbackConfig()
	cfg.TLS = TLSConfig{
		Enabled:          true,
		CertFile:         files.ServerCert,
		KeyFile:          files.ServerKey,
		CAFile:           files.CA,
		HandshakeTimeout: time.Second,
	}
	ln, err := Listen(context.Background(), cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	done := make(chan error, 1)
	go func() {
		conn, err := ln.Accept(2 * time.Second)
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 4)
		if _, err := io.ReadFull(conn, buf); err != nil {
			done <- err
			return
		}
		_, err = conn.Write(buf)
		done <- err
	}()

	dialCfg := cfg
	dialCfg.Port = ln.Addr().(*net.TCPAddr).Port
	conn, err := Dial(context.Background(), dialCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.EqualFold(string(buf), "ping") {
		t.Fatalf("echo mismatch: %q", string(buf))
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
}

func TestListenAppliesBacklog(t *testing.T) {
	testlog.Start(t)
	cfg := loopbackConfig()
	cfg.Backlog = 1
	ln, err := Listen(context.Background(), cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	// A resized queue must still hand over pending connections.
	dialCfg := cfg
	dialCfg.Port = ln.Addr().(*net.TCPAddr).Port
	client, err := Dial(context.Background(), dialCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	server, err := ln.Accept(time.Second)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	_ = server.Close()

	if err := applyBacklog(ln.tcp, 16); err != nil {
		t.Fatalf("resize backlog: %v", err)
	}
}
