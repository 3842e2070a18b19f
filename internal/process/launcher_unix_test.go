//go:build !windows

package process

import (
	"syscall"
	"testing"
	"time"

	"github.com/loykin/botvisor/internal/detector"
)

func TestLaunchDetachedAndRecorded(t *testing.T) {
	l, h := launchShell(t, "exec sleep 30\n", "sleep")

	saved, ok := l.Registry.Load()
	if !ok || saved.PID != h.PID {
		t.Fatalf("registry = %+v ok=%v, want pid %d", saved, ok, h.PID)
	}
	if h.Image != "sleep" || h.RecordedAt.IsZero() {
		t.Fatalf("unexpected handle %+v", h)
	}
	pgid, err := syscall.Getpgid(h.PID)
	if err != nil {
		t.Fatalf("getpgid: %v", err)
	}
	if pgid != h.PID {
		t.Fatalf("worker should lead its own group: pgid=%d pid=%d", pgid, h.PID)
	}
	if pgid == syscall.Getpgrp() {
		t.Fatal("worker shares our process group")
	}

	d := detector.WorkerDetector{Registry: l.Registry}
	// sh execs into sleep; wait for the image to switch.
	if !waitUntil(t, 2*time.Second, func() bool { _, ok := d.Live(); return ok }) {
		t.Fatal("launched worker not detected as alive")
	}
}
