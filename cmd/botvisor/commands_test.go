package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T, routes map[string]string, codes map[string]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		body, ok := routes[key]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if code, ok := codes[key]; ok {
			w.WriteHeader(code)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(command{out: &out})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHelpListsCommands(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, c := range []string{"serve", "status", "start", "stop", "restart", "disconnect", "clear-qr"} {
		assert.Contains(t, out, c)
	}
}

func TestStatusWritesQR(t *testing.T) {
	srv := fakeAPI(t, map[string]string{
		"GET /whatsapp/status": `{"status":"qr_pending","qr_code":"cG5n","phone_number":null,"bot_type":null,"is_running":true,"pid":9}`,
	}, nil)
	qr := filepath.Join(t.TempDir(), "qr.png")

	out, err := run(t, "status", "--api-url", srv.URL+"/whatsapp", "--qr-out", qr)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "qr_pending"`)
	assert.Contains(t, out, `"qr_bytes": 3`)
	assert.Contains(t, out, qr)
	assert.NotContains(t, out, "cG5n")

	b, err := os.ReadFile(qr)
	require.NoError(t, err)
	assert.Equal(t, "png", string(b))
}

func TestStatusWithoutQRWritesNothing(t *testing.T) {
	srv := fakeAPI(t, map[string]string{
		"GET /whatsapp/status": `{"status":"connected","qr_code":null,"phone_number":"5511999999999","bot_type":"rule","is_running":true}`,
	}, nil)
	qr := filepath.Join(t.TempDir(), "qr.png")

	out, err := run(t, "status", "--api-url", srv.URL+"/whatsapp", "--qr-out", qr)
	require.NoError(t, err)
	assert.Contains(t, out, "5511999999999")
	_, err = os.Stat(qr)
	assert.True(t, os.IsNotExist(err))
}

func TestLifecycleCommands(t *testing.T) {
	srv := fakeAPI(t, map[string]string{
		"POST /whatsapp/start":    `{"success":true,"message":"worker started; wait for the QR code to appear","pid":12}`,
		"POST /whatsapp/stop":     `{"success":false,"message":"worker is not running"}`,
		"POST /whatsapp/restart":  `{"success":true,"message":"worker restarted; wait for the QR code to appear","pid":13}`,
		"POST /whatsapp/clear-qr": `{"success":true,"message":"QR code removed"}`,
	}, nil)
	cases := map[string]string{
		"start":    `"pid": 12`,
		"stop":     "worker is not running",
		"restart":  `"pid": 13`,
		"clear-qr": "QR code removed",
	}
	for cmd, want := range cases {
		t.Run(cmd, func(t *testing.T) {
			out, err := run(t, cmd, "--api-url", srv.URL+"/whatsapp")
			require.NoError(t, err)
			assert.Contains(t, out, want)
		})
	}
}

func TestStartMissingScriptFails(t *testing.T) {
	srv := fakeAPI(t,
		map[string]string{"POST /whatsapp/start": `{"error":"launch worker: entry point /app/chatbot.js not found"}`},
		map[string]int{"POST /whatsapp/start": http.StatusNotFound})

	_, err := run(t, "start", "--api-url", srv.URL+"/whatsapp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatbot.js")
	assert.NotContains(t, err.Error(), "not reachable")
}

func TestStopCleanupFailurePrintsResult(t *testing.T) {
	srv := fakeAPI(t,
		map[string]string{"POST /whatsapp/stop": `{"error":"remove worker artifacts: permission denied","success":true,"message":"worker stopped","pid":5}`},
		map[string]int{"POST /whatsapp/stop": http.StatusInternalServerError})

	out, err := run(t, "stop", "--api-url", srv.URL+"/whatsapp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Contains(t, out, `"success": true`)
}

func TestDisconnectFailurePrintsRemoved(t *testing.T) {
	srv := fakeAPI(t,
		map[string]string{"POST /whatsapp/disconnect": `{"error":"could not remove auth cache","removed":["process","qr_code"]}`},
		map[string]int{"POST /whatsapp/disconnect": http.StatusInternalServerError})

	out, err := run(t, "disconnect", "--api-url", srv.URL+"/whatsapp")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not remove auth cache")
	assert.Contains(t, out, `"qr_code"`)
}

func TestUnreachableServerHint(t *testing.T) {
	_, err := run(t, "status", "--api-url", "http://127.0.0.1:1/whatsapp", "--api-timeout", "1s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "botvisor serve")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "botvisor.toml")
	data := strings.Join([]string{
		`[worker]`,
		`command = "/bin/sh"`,
		`script = "worker.sh"`,
		`image = "sh"`,
		`[metrics]`,
		`enabled = true`,
		`[history]`,
		`sinks = ["sqlite://` + filepath.ToSlash(filepath.Join(dir, "history.db")) + `"]`,
	}, "\n")
	require.NoError(t, os.WriteFile(cfg, []byte(data), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- command{out: &bytes.Buffer{}}.Serve(ctx, ServeFlags{ConfigPath: cfg, Listen: "127.0.0.1:0"})
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

func TestServeRejectsBadConfig(t *testing.T) {
	err := command{}.Serve(context.Background(), ServeFlags{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")})
	require.Error(t, err)
}

func TestServeRejectsMissingCertificate(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "botvisor.toml")
	data := "[server.tls]\nenabled = true\ndir = \"certs\"\n"
	require.NoError(t, os.WriteFile(cfg, []byte(data), 0o644))

	err := command{}.Serve(context.Background(), ServeFlags{ConfigPath: cfg, Listen: "127.0.0.1:0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup TLS")
}
