package botvisor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "worker.sh"), []byte("while :; do sleep 1; done\n"), 0o600); err != nil {
		t.Fatalf("write worker: %v", err)
	}
	return Options{
		Worker:     WorkerSpec{Name: "facade", Command: "/bin/sh", Script: "worker.sh", Dir: dir},
		Image:      "sh",
		PIDFile:    filepath.Join(dir, "bot_pid.txt"),
		StatusFile: filepath.Join(dir, "bot_status.json"),
		QRFile:     filepath.Join(dir, "image", "whatsapp_qr.png"),
		AuthDir:    filepath.Join(dir, ".auth_cache"),
	}
}

func TestFacadeStartStatusStop(t *testing.T) {
	requireUnix(t)
	ctx := context.Background()
	s := New(testOptions(t))
	t.Cleanup(func() { _, _ = s.Stop(ctx); _ = s.Close() })

	res, err := s.Start(ctx)
	if err != nil || !res.Success {
		t.Fatalf("start: %+v %v", res, err)
	}
	st := s.Status(ctx)
	if !st.IsRunning || st.PID != res.PID {
		t.Fatalf("unexpected status: %+v", st)
	}

	rec := httptest.NewRecorder()
	s.Handler("/whatsapp").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whatsapp/status", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"is_running":true`) {
		t.Fatalf("status endpoint: %d %s", rec.Code, rec.Body.String())
	}

	res, err = s.Stop(ctx)
	if err != nil || !res.Success {
		t.Fatalf("stop: %+v %v", res, err)
	}
	if s.Status(ctx).IsRunning {
		t.Fatalf("worker still running after stop")
	}
}

func TestFacadeMissingScript(t *testing.T) {
	opts := testOptions(t)
	opts.Worker.Script = "missing.js"
	s := New(opts)
	_, err := s.Start(context.Background())
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}

func TestFacadeDisconnectNothing(t *testing.T) {
	s := New(testOptions(t))
	res, err := s.Disconnect(context.Background())
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if res.Success || res.Message != "no active session found" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "botvisor.toml")
	data := "[worker]\nname = \"cfgbot\"\n[history]\nsinks = [\"" + filepath.ToSlash(filepath.Join(dir, "history.db")) + "\"]\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s, err := FromConfig(c)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	defer func() { _ = s.Close() }()
	if s.Name() != "cfgbot" {
		t.Fatalf("name: %q", s.Name())
	}
	if srv := NewHTTPServer(":0", c.Server.BasePath, s); srv.Handler == nil {
		t.Fatalf("server without handler")
	}
}

func TestNewHistorySinkRejectsUnknown(t *testing.T) {
	if _, err := NewHistorySink("kafka://broker:9092/topic"); err == nil {
		t.Fatalf("expected error for unsupported DSN")
	}
}

func TestMetricsFacade(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	s := New(testOptions(t))
	if err := reg.Register(s.UsageCollector()); err != nil {
		t.Fatalf("register usage collector: %v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
	if MetricsHandler() == nil {
		t.Fatalf("nil metrics handler")
	}
}
