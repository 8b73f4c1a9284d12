package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/mllp/internal/config"
	"github.com/danmuck/mllp/internal/exchange"
	"github.com/danmuck/mllp/internal/protocol"
	"github.com/danmuck/mllp/internal/server"
	"github.com/danmuck/mllp/internal/testutil/hl7test"
	"github.com/danmuck/mllp/internal/testutil/testlog"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func serverConfig() config.Config {
	cfg := config.Default()
	cfg.LogLevel = "debug"
	cfg.Session.Hostname = "127.0.0.1"
	cfg.Session.Port = 0
	cfg.Session.ReuseAddress = true
	cfg.Session.BindTimeout = time.Second
	cfg.Session.BindRetryInterval = 100 * time.Millisecond
	cfg.Session.AcceptTimeout = 100 * time.Millisecond
	cfg.Session.ReceiveTimeout = 200 * time.Millisecond
	cfg.Session.LivenessProbeTimeout = 20 * time.Millisecond
	return cfg
}

// startServe runs serve in the background and returns the bound port.
func startServe(t *testing.T, cfg config.Config) int {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	bound := make(chan int, 1)
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, cfg, func(s *server.Server) {
			bound <- s.Addr().(*net.TCPAddr).Port
		})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("serve did not stop")
		}
	})
	select {
	case port := <-bound:
		return port
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not bind")
	}
	return 0
}

func writeClientConfig(t *testing.T, dir string, port int) string {
	t.Helper()
	path := filepath.Join(dir, "client.toml")
	content := fmt.Sprintf("log_level = \"debug\"\n\n[mllp]\nhostname = \"127.0.0.1\"\nport = %d\nreceive_timeout = \"2s\"\nconnect_timeout = \"2s\"\n", port)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write client config: %v", err)
	}
	return path
}

func writeMessage(t *testing.T, dir string, msg []byte) string {
	t.Helper()
	path := filepath.Join(dir, "msg.hl7")
	if err := os.WriteFile(path, msg, 0o600); err != nil {
		t.Fatalf("write message: %v", err)
	}
	return path
}

func TestConfigInitWritesLoadableTemplates(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	for _, kind := range []string{"server", "client"} {
		path := filepath.Join(dir, kind+".toml")
		out, err := run(t, "config", "init", "--kind", kind, "--out", path)
		if err != nil {
			t.Fatalf("init %s: %v", kind, err)
		}
		if !strings.Contains(out, path) {
			t.Fatalf("init output: %q", out)
		}
		if _, err := run(t, "config", "validate", path); err != nil {
			t.Fatalf("validate %s: %v", kind, err)
		}
		if _, err := run(t, "config", "init", "--kind", kind, "--out", path); err == nil {
			t.Fatalf("init over existing %s should fail without --force", kind)
		}
		if _, err := run(t, "config", "init", "--kind", kind, "--out", path, "--force"); err != nil {
			t.Fatalf("init --force %s: %v", kind, err)
		}
	}
	if _, err := run(t, "config", "init", "--kind", "broker", "--out", filepath.Join(dir, "x.toml")); err == nil {
		t.Fatalf("unknown kind should fail")
	}
}

func TestSendPrintsAcknowledgement(t *testing.T) {
	testlog.Start(t)
	port := startServe(t, serverConfig())
	dir := t.TempDir()

	msg := bytes.ReplaceAll(hl7test.Message("cli-1"), []byte("\r"), []byte("\n"))
	out, err := run(t, "send",
		"--config", writeClientConfig(t, dir, port),
		"--file", writeMessage(t, dir, msg),
	)
	if err != nil {
		t.Fatalf("send: %v\n%s", err, out)
	}
	if !strings.Contains(out, "AA") {
		t.Fatalf("ack code missing: %q", out)
	}
	if !strings.Contains(out, "MSA|AA|cli-1<0x0D CR>") {
		t.Fatalf("print-friendly ack missing: %q", out)
	}
}

func TestSendFailsOnNegativeAck(t *testing.T) {
	testlog.Start(t)
	cfg := serverConfig()
	srv, err := server.New(cfg.Session, exchange.ProcessorFunc(func(context.Context, *exchange.Exchange) error {
		return errors.New("queue full")
	}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := srv.Bind(ctx); err != nil {
		cancel()
		t.Fatalf("bind: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	dir := t.TempDir()
	out, err := run(t, "send",
		"--config", writeClientConfig(t, dir, srv.Addr().(*net.TCPAddr).Port),
		"--file", writeMessage(t, dir, hl7test.Message("cli-2")),
	)
	if !errors.Is(err, protocol.ErrApplicationErrorAck) {
		t.Fatalf("expected AE error, got %v", err)
	}
	if !strings.Contains(out, "AE") || !strings.Contains(out, "queue full") {
		t.Fatalf("negative ack not printed: %q", out)
	}
}

func TestSendSkippedByControl(t *testing.T) {
	testlog.Start(t)
	port := startServe(t, serverConfig())
	dir := t.TempDir()
	out, err := run(t, "send",
		"--config", writeClientConfig(t, dir, port),
		"--file", writeMessage(t, dir, hl7test.Message("cli-3")),
		"--reset-before-send",
	)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "skipped:") || !strings.Contains(out, "reset") {
		t.Fatalf("skip not reported: %q", out)
	}
}

func TestReadMessageNormalizesLineEndings(t *testing.T) {
	testlog.Start(t)
	got, err := readMessage(strings.NewReader("MSH|^~\\&|A\r\nPID|1\n"), "-")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if want := "MSH|^~\\&|A\rPID|1\r"; string(got) != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if _, err := readMessage(strings.NewReader(" \n"), "-"); err == nil {
		t.Fatalf("blank message should fail")
	}
}

func TestUnknownLogLevelRejected(t *testing.T) {
	testlog.Start(t)
	if _, err := run(t, "--log-level", "loud", "config", "init", "--out", filepath.Join(t.TempDir(), "s.toml")); err == nil {
		t.Fatalf("unknown log level should fail")
	}
}
