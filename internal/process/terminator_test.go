package process

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/botvisor/internal/detector"
	"github.com/loykin/botvisor/internal/pidfile"
)

func TestStopWithoutHandle(t *testing.T) {
	reg := pidfile.NewRegistry(filepath.Join(t.TempDir(), "bot_pid.txt"), "")
	term := &Terminator{Registry: reg}
	if term.Stop(context.Background(), pidfile.Handle{}) {
		t.Fatal("Stop without a handle must report false")
	}
}

func TestStopGraceful(t *testing.T) {
	l, h := launchShell(t, "exec sleep 30\n", "sleep")
	term := &Terminator{Name: "test-worker", Registry: l.Registry, StopTimeout: 3 * time.Second}

	began := time.Now()
	if !term.Stop(context.Background(), h) {
		t.Fatal("Stop should report true")
	}
	if elapsed := time.Since(began); elapsed >= 3*time.Second {
		t.Fatalf("graceful stop took the whole timeout: %v", elapsed)
	}
	if detector.Running(int32(h.PID)) {
		t.Fatalf("worker %d still running", h.PID)
	}
	if _, ok := l.Registry.Load(); ok {
		t.Fatal("registry should be cleared")
	}
}

func TestStopForcesSurvivors(t *testing.T) {
	// The shell and its sleeps ignore SIGTERM.
	l, h := launchShell(t, "trap '' TERM\nwhile :; do sleep 1; done\n", "sh")
	term := &Terminator{Registry: l.Registry, StopTimeout: 300 * time.Millisecond, KillGrace: time.Second}

	began := time.Now()
	if !term.Stop(context.Background(), h) {
		t.Fatal("Stop should report true")
	}
	if elapsed := time.Since(began); elapsed < 300*time.Millisecond {
		t.Fatalf("worker ignoring TERM stopped too early: %v", elapsed)
	}
	if detector.Running(int32(h.PID)) {
		t.Fatalf("worker %d survived forced kill", h.PID)
	}
	if _, ok := l.Registry.Load(); ok {
		t.Fatal("registry should be cleared after a forced kill")
	}
}

func TestStopTerminatesDescendants(t *testing.T) {
	l, h := launchShell(t, "sleep 30 &\necho $! > child.pid\nwait\n", "sh")
	child := readPID(t, filepath.Join(l.Spec.Dir, "child.pid"))
	if !detector.Running(int32(child)) {
		t.Fatalf("child %d not running before stop", child)
	}

	term := &Terminator{Registry: l.Registry, StopTimeout: 2 * time.Second}
	term.Stop(context.Background(), h)

	if !waitUntil(t, time.Second, func() bool { return !detector.Running(int32(child)) }) {
		t.Fatalf("descendant %d survived stop", child)
	}
}

func TestStopClearsRegistryForVanishedWorker(t *testing.T) {
	requireUnix(t)
	gone := exec.Command("/bin/true")
	if err := gone.Run(); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	reg := pidfile.NewRegistry(filepath.Join(dir, "bot_pid.txt"), "node")
	h := pidfile.Handle{PID: gone.Process.Pid, Image: "node"}
	if err := reg.Save(h); err != nil {
		t.Fatal(err)
	}
	term := &Terminator{Registry: reg, StopTimeout: 100 * time.Millisecond}
	if !term.Stop(context.Background(), h) {
		t.Fatal("Stop with a handle should report true")
	}
	if _, ok := reg.Load(); ok {
		t.Fatal("registry should be cleared")
	}
}

func TestStopKeepsRecordOfNewerWorker(t *testing.T) {
	requireUnix(t)
	gone := exec.Command("/bin/true")
	if err := gone.Run(); err != nil {
		t.Fatal(err)
	}
	reg := pidfile.NewRegistry(filepath.Join(t.TempDir(), "bot_pid.txt"), "node")
	if err := reg.Save(pidfile.Handle{PID: gone.Process.Pid + 100000}); err != nil {
		t.Fatal(err)
	}
	term := &Terminator{Registry: reg, StopTimeout: 100 * time.Millisecond}
	term.Stop(context.Background(), pidfile.Handle{PID: gone.Process.Pid, Image: "node"})
	if h, ok := reg.Load(); !ok || h.PID != gone.Process.Pid+100000 {
		t.Fatalf("record of another worker was cleared: %+v ok=%v", h, ok)
	}
}
