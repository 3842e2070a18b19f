// Package pidfile persists the identity of the worker process we believe we
// launched. A record on disk only means a spawn was attempted; readers must
// re-validate it against the OS process table before trusting it.
package pidfile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Handle identifies a launched worker.
type Handle struct {
	PID        int       `json:"pid"`
	Image      string    `json:"image"`       // expected executable name, not persisted
	RecordedAt time.Time `json:"recorded_at"` // mtime of the registry file
}

// Valid reports whether h refers to a process at all.
func (h Handle) Valid() bool { return h.PID > 0 }

// Registry is the PID file of the single supervised worker.
// Its sole content is the decimal process identifier.
type Registry struct {
	path  string
	image string
}

func NewRegistry(path, image string) *Registry {
	return &Registry{path: path, image: image}
}

func (r *Registry) Path() string  { return r.path }
func (r *Registry) Image() string { return r.image }

// Save overwrites the registry with h.PID.
func (r *Registry) Save(h Handle) error {
	if !h.Valid() {
		return errors.New("pidfile: invalid pid " + strconv.Itoa(h.PID))
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(r.path, []byte(strconv.Itoa(h.PID)), 0o600)
}

// Load returns the recorded handle. A missing, empty or malformed file is
// reported as absent.
func (r *Registry) Load() (Handle, bool) {
	pid, ok := r.readPID()
	if !ok {
		return Handle{}, false
	}
	h := Handle{PID: pid, Image: r.image}
	if fi, err := os.Stat(r.path); err == nil {
		h.RecordedAt = fi.ModTime()
	}
	return h, true
}

// Clear removes the registry file. Clearing an absent registry is a no-op.
func (r *Registry) Clear() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// ClearIf removes the registry file only while it still records pid, so a
// reader holding a stale handle cannot erase a newer worker's record.
func (r *Registry) ClearIf(pid int) error {
	current, ok := r.readPID()
	if !ok || current != pid {
		return nil
	}
	return r.Clear()
}

func (r *Registry) readPID() (int, bool) {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return 0, false
	}
	first, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
