package detector

import (
	"log/slog"
	"slices"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/botvisor/internal/pidfile"
)

// startSlackSeconds tolerates clock granularity between the process start
// time (tick resolution) and the registry file mtime.
const startSlackSeconds = 1

// WorkerDetector validates the registry record against the OS process table.
// A record is trusted only when the PID exists, is not a zombie, runs the
// expected executable, and was not started after the record was written.
// Stale records are cleared as a side effect.
type WorkerDetector struct {
	Registry *pidfile.Registry
	Logger   *slog.Logger
}

func (d WorkerDetector) Alive() (bool, error) {
	_, ok := d.Live()
	return ok, nil
}

func (d WorkerDetector) Describe() string {
	return "worker:" + d.Registry.Image() + "@" + d.Registry.Path()
}

// Live returns the recorded handle when it describes our running worker.
func (d WorkerDetector) Live() (pidfile.Handle, bool) {
	h, ok := d.Registry.Load()
	if !ok || !d.AliveHandle(h) {
		return pidfile.Handle{}, false
	}
	return h, true
}

// AliveHandle validates h against the process table. A handle that fails
// the check is cleared from the registry, unless the registry has since been
// rewritten with another PID.
func (d WorkerDetector) AliveHandle(h pidfile.Handle) bool {
	if !h.Valid() {
		return false
	}
	if reason := identify(h); reason != "" {
		d.logger().Debug("discarding stale worker record",
			slog.Int("pid", h.PID), slog.String("reason", reason))
		if err := d.Registry.ClearIf(h.PID); err != nil {
			d.logger().Warn("clear stale worker record", slog.Any("error", err))
		}
		return false
	}
	return true
}

func (d WorkerDetector) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// identify returns why h does not describe a live worker, or "" if it does.
func identify(h pidfile.Handle) string {
	p, err := gopsproc.NewProcess(int32(h.PID))
	if err != nil {
		return "not running"
	}
	if IsZombie(p) {
		return "zombie"
	}
	if h.Image != "" {
		name, err := p.Name()
		if err != nil {
			return "name unavailable: " + err.Error()
		}
		if !MatchImage(name, h.Image) {
			return "image mismatch: " + name
		}
	}
	if !h.RecordedAt.IsZero() {
		if start := procStartUnix(h.PID); start > 0 && start > h.RecordedAt.Unix()+startSlackSeconds {
			return "pid reused"
		}
	}
	return ""
}

// MatchImage reports whether the executable name belongs to the expected
// runtime. Comparison is case-insensitive and ignores a ".exe" suffix.
func MatchImage(name, expected string) bool {
	norm := func(s string) string {
		return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".exe")
	}
	n, e := norm(name), norm(expected)
	if e == "" {
		return true
	}
	return n != "" && strings.Contains(n, e)
}

// IsZombie reports whether p has exited but not been reaped.
func IsZombie(p *gopsproc.Process) bool {
	st, err := p.Status()
	if err != nil {
		return false
	}
	return slices.Contains(st, gopsproc.Zombie)
}

// Running reports whether pid is present in the process table and not a zombie.
func Running(pid int32) bool {
	if pid <= 0 {
		return false
	}
	p, err := gopsproc.NewProcess(pid)
	if err != nil {
		return false
	}
	return !IsZombie(p)
}
