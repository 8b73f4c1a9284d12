package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danmuck/mllp/internal/config"
	"github.com/danmuck/mllp/internal/server"
	"github.com/danmuck/mllp/internal/testutil/testlog"
)

type fakeTarget struct {
	listening bool
	conns     []server.ConnectionInfo
	closed    int
	reset     int
}

func (f *fakeTarget) Listening() bool                      { return f.listening }
func (f *fakeTarget) Connections() []server.ConnectionInfo { return f.conns }
func (f *fakeTarget) CloseConnections() int                { f.closed++; return len(f.conns) }
func (f *fakeTarget) ResetConnections() int                { f.reset++; return len(f.conns) }

func newTestAdmin(target Target) *Admin {
	gin.SetMode(gin.TestMode)
	return New(config.AdminConfig{Name: "mllp-test"}, target)
}

func do(t *testing.T, a *Admin, method, path string) (int, map[string]any) {
	t.Helper()
	rr := httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if rr.Header().Get("Content-Type") != "" && rr.Body.Len() > 0 && path != "/metrics" {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rr.Code, body
}

func TestHealthAndReady(t *testing.T) {
	testlog.Start(t)
	target := &fakeTarget{}
	a := newTestAdmin(target)

	code, body := do(t, a, http.MethodGet, "/health")
	if code != http.StatusOK || body["status"] != "ok" || body["name"] != "mllp-test" {
		t.Fatalf("health: %d %v", code, body)
	}
	if code, _ := do(t, a, http.MethodGet, "/ready"); code != http.StatusServiceUnavailable {
		t.Fatalf("ready before bind: %d", code)
	}
	target.listening = true
	if code, body := do(t, a, http.MethodGet, "/ready"); code != http.StatusOK || body["ready"] != true {
		t.Fatalf("ready after bind: %d %v", code, body)
	}
	if code, _ := do(t, a, http.MethodGet, "/metrics"); code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
}

func TestConnectionRoutes(t *testing.T) {
	testlog.Start(t)
	target := &fakeTarget{
		listening: true,
		conns: []server.ConnectionInfo{
			{ID: "a", RemoteAddr: "127.0.0.1:50000", StartedAt: time.Now(), Exchanges: 3},
		},
	}
	a := newTestAdmin(target)

	code, body := do(t, a, http.MethodGet, "/connections")
	if code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("connections: %d %v", code, body)
	}
	if code, body := do(t, a, http.MethodPost, "/connections/close"); code != http.StatusOK || body["closed"] != float64(1) {
		t.Fatalf("close: %d %v", code, body)
	}
	if code, body := do(t, a, http.MethodPost, "/connections/reset"); code != http.StatusOK || body["reset"] != float64(1) {
		t.Fatalf("reset: %d %v", code, body)
	}
	if target.closed != 1 || target.reset != 1 {
		t.Fatalf("target not driven: %+v", target)
	}
}

func TestServeListenerStopsWithContext(t *testing.T) {
	testlog.Start(t)
	a := newTestAdmin(&fakeTarget{listening: true})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status: %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("admin did not stop")
	}
}

func TestControlRoutesRequireToken(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	target := &fakeTarget{listening: true}
	a := New(config.AdminConfig{Name: "mllp-test", Token: "s3cret"}, target)

	rr := httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/connections/reset", nil))
	if rr.Code != http.StatusUnauthorized || target.reset != 0 {
		t.Fatalf("reset without token: %d, reset=%d", rr.Code, target.reset)
	}

	req := httptest.NewRequest(http.MethodPost, "/connections/reset", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	a.HTTPRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || target.reset != 1 {
		t.Fatalf("reset with token: %d, reset=%d", rr.Code, target.reset)
	}

	if code, _ := do(t, a, http.MethodGet, "/connections"); code != http.StatusOK {
		t.Fatalf("listing should stay open: %d", code)
	}
}
