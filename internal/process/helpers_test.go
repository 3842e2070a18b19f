package process

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/loykin/botvisor/internal/detector"
	"github.com/loykin/botvisor/internal/pidfile"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

// writeScript writes a shell script into dir and returns its name.
func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	name := "worker.sh"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return name
}

// launchShell starts body under /bin/sh through the Launcher and makes sure
// the tree is gone when the test ends.
func launchShell(t *testing.T, body, image string) (*Launcher, pidfile.Handle) {
	t.Helper()
	requireUnix(t)
	dir := t.TempDir()
	l := &Launcher{
		Spec: Spec{
			Name:    "test-worker",
			Command: "/bin/sh",
			Script:  writeScript(t, dir, body),
			Dir:     dir,
		},
		Registry: pidfile.NewRegistry(filepath.Join(dir, "bot_pid.txt"), image),
	}
	h, err := l.Launch(context.Background())
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	t.Cleanup(func() {
		_ = killGroup(h.PID)
		waitUntil(t, 2*time.Second, func() bool { return !detector.Running(int32(h.PID)) })
	})
	return l, h
}

func waitUntil(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func readPID(t *testing.T, path string) int {
	t.Helper()
	var pid int
	ok := waitUntil(t, 2*time.Second, func() bool {
		b, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(b)))
		return err == nil && pid > 0
	})
	if !ok {
		t.Fatalf("no pid written to %s", path)
	}
	return pid
}

type fakeProbe struct{ alive bool }

func (f fakeProbe) Alive() (bool, error) { return f.alive, nil }
func (f fakeProbe) Describe() string     { return "fake" }
