package process

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func authDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), ".auth_cache")
	if err := os.MkdirAll(filepath.Join(dir, "session-main"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "session-main", "creds.json"), []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	return dir
}

func permErr(path string) error {
	return &fs.PathError{Op: "unlinkat", Path: path, Err: fs.ErrPermission}
}

func TestPurgeMissingDirectory(t *testing.T) {
	term := &Terminator{AuthDir: filepath.Join(t.TempDir(), "missing")}
	removed, err := term.PurgeAuthCache(context.Background())
	if err != nil || removed {
		t.Fatalf("got removed=%v err=%v", removed, err)
	}
}

func TestPurgeRefusesWhileWorkerAlive(t *testing.T) {
	dir := authDir(t)
	term := &Terminator{AuthDir: dir, Probe: fakeProbe{alive: true}}
	removed, err := term.PurgeAuthCache(context.Background())
	if !errors.Is(err, ErrWorkerAlive) || removed {
		t.Fatalf("got removed=%v err=%v", removed, err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("auth cache must be untouched: %v", err)
	}
}

func TestPurgeRemovesTree(t *testing.T) {
	dir := authDir(t)
	term := &Terminator{AuthDir: dir, Probe: fakeProbe{}}
	removed, err := term.PurgeAuthCache(context.Background())
	if err != nil || !removed {
		t.Fatalf("got removed=%v err=%v", removed, err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("auth cache still present: %v", err)
	}
}

func TestPurgeRetriesLockedFiles(t *testing.T) {
	dir := authDir(t)
	calls := 0
	term := &Terminator{
		AuthDir:       dir,
		PurgeAttempts: 5,
		PurgeInterval: 10 * time.Millisecond,
		removeAll: func(p string) error {
			calls++
			if calls < 3 {
				return permErr(p)
			}
			return os.RemoveAll(p)
		},
		forceRemove: func(context.Context, string) error {
			t.Fatal("force removal must not run when a retry succeeds")
			return nil
		},
	}
	removed, err := term.PurgeAuthCache(context.Background())
	if err != nil || !removed {
		t.Fatalf("got removed=%v err=%v", removed, err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestPurgeFallsBackToForce(t *testing.T) {
	dir := authDir(t)
	calls := 0
	term := &Terminator{
		AuthDir:       dir,
		PurgeAttempts: 4,
		PurgeInterval: 5 * time.Millisecond,
		removeAll:     func(p string) error { calls++; return permErr(p) },
		forceRemove:   func(_ context.Context, p string) error { return os.RemoveAll(p) },
	}
	removed, err := term.PurgeAuthCache(context.Background())
	if err != nil || !removed {
		t.Fatalf("got removed=%v err=%v", removed, err)
	}
	if calls != 4 {
		t.Fatalf("retries = %d, want 4", calls)
	}
}

func TestPurgeDoesNotRetryPermanentErrors(t *testing.T) {
	dir := authDir(t)
	calls := 0
	term := &Terminator{
		AuthDir:       dir,
		PurgeAttempts: 5,
		PurgeInterval: time.Hour,
		removeAll:     func(string) error { calls++; return errors.New("read-only file system") },
		forceRemove:   func(_ context.Context, p string) error { return os.RemoveAll(p) },
	}
	removed, err := term.PurgeAuthCache(context.Background())
	if err != nil || !removed {
		t.Fatalf("got removed=%v err=%v", removed, err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestPurgeErrorCarriesRemediation(t *testing.T) {
	dir := authDir(t)
	term := &Terminator{
		AuthDir:       dir,
		PurgeAttempts: 3,
		PurgeInterval: 5 * time.Millisecond,
		removeAll:     permErr,
		forceRemove:   func(context.Context, string) error { return errors.New("access is denied") },
	}
	removed, err := term.PurgeAuthCache(context.Background())
	if removed {
		t.Fatal("nothing should be reported removed")
	}
	var pe *PurgeError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PurgeError, got %v", err)
	}
	if pe.Path != dir || pe.Attempts != 3 {
		t.Fatalf("unexpected PurgeError %+v", pe)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatal("PurgeError should unwrap to the removal error")
	}
	msg := err.Error()
	for _, want := range []string{dir, "manually", "disconnect again", "access is denied"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q lacks %q", msg, want)
		}
	}
}

func TestPurgeHonoursContext(t *testing.T) {
	dir := authDir(t)
	ctx, cancel := context.WithCancel(context.Background())
	term := &Terminator{
		AuthDir:       dir,
		PurgeAttempts: 5,
		PurgeInterval: time.Hour,
		removeAll:     func(p string) error { cancel(); return permErr(p) },
		forceRemove: func(context.Context, string) error {
			t.Fatal("force removal must not run after cancellation")
			return nil
		},
	}
	removed, err := term.PurgeAuthCache(ctx)
	if !errors.Is(err, context.Canceled) || removed {
		t.Fatalf("got removed=%v err=%v", removed, err)
	}
}

func TestPurgeForcesReadOnlyTree(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("POSIX permission semantics")
	}
	dir := authDir(t)
	locked := filepath.Join(dir, "session-main")
	if err := os.Chmod(locked, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o700) })

	term := &Terminator{AuthDir: dir, PurgeAttempts: 2, PurgeInterval: 5 * time.Millisecond}
	removed, err := term.PurgeAuthCache(context.Background())
	if err != nil || !removed {
		t.Fatalf("got removed=%v err=%v", removed, err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("auth cache still present: %v", err)
	}
}
