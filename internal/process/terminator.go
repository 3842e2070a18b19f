package process

import (
	"context"
	"log/slog"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/botvisor/internal/detector"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/pidfile"
)

const (
	DefaultStopTimeout   = 5 * time.Second
	DefaultKillGrace     = 200 * time.Millisecond
	DefaultPurgeAttempts = 5
	DefaultPurgeInterval = time.Second

	pollInterval = 50 * time.Millisecond
)

// Terminator stops the worker tree and removes the authentication cache.
type Terminator struct {
	Name     string
	Registry *pidfile.Registry
	// Probe guards PurgeAuthCache against deleting files of a live worker.
	Probe detector.Detector
	// AuthDir is the worker's authentication cache directory.
	AuthDir string

	StopTimeout   time.Duration
	KillGrace     time.Duration
	PurgeAttempts int
	PurgeInterval time.Duration

	Logger *slog.Logger

	// overridable in tests
	removeAll   func(string) error
	forceRemove func(context.Context, string) error
}

// Stop terminates the worker identified by h together with every
// descendant. Survivors of the graceful phase are killed. The registry is
// cleared in every case. It returns false only when h is empty.
func (t *Terminator) Stop(ctx context.Context, h pidfile.Handle) bool {
	stopped, _ := t.StopTree(ctx, h)
	return stopped
}

// StopTree is Stop that also reports whether survivors had to be killed.
func (t *Terminator) StopTree(ctx context.Context, h pidfile.Handle) (stopped, forced bool) {
	if !h.Valid() {
		return false, false
	}
	defer func() {
		if err := t.Registry.ClearIf(h.PID); err != nil {
			t.logger().Warn("clear worker record", slog.Any("error", err))
		}
	}()

	var members []*gopsproc.Process
	if root, err := gopsproc.NewProcessWithContext(ctx, int32(h.PID)); err == nil {
		// Children first so helpers do not get reparented mid-walk.
		members = append(descendants(ctx, root), root)
	}

	began := time.Now()
	for _, p := range members {
		_ = p.TerminateWithContext(ctx)
	}
	_ = terminateGroup(h.PID)

	if !t.waitGone(ctx, members, t.stopTimeout()) {
		forced = true
		for _, p := range members {
			if detector.Running(p.Pid) {
				_ = p.KillWithContext(ctx)
			}
		}
		_ = killGroup(h.PID)
		if !t.waitGone(ctx, members, t.killGrace()) {
			t.logger().Warn("worker processes survived forced kill", slog.Int("pid", h.PID))
		}
	}

	elapsed := time.Since(began)
	metrics.IncStop(t.Name, forced)
	metrics.ObserveStopDuration(t.Name, elapsed.Seconds())
	t.logger().Info("worker stopped",
		slog.Int("pid", h.PID),
		slog.Int("processes", len(members)),
		slog.Bool("forced", forced),
		slog.Duration("elapsed", elapsed))
	return true, forced
}

// descendants returns every process below p, deepest first.
func descendants(ctx context.Context, p *gopsproc.Process) []*gopsproc.Process {
	children, err := p.ChildrenWithContext(ctx)
	if err != nil {
		return nil
	}
	var out []*gopsproc.Process
	for _, c := range children {
		out = append(out, descendants(ctx, c)...)
		out = append(out, c)
	}
	return out
}

// waitGone polls until no member is running or d elapses.
func (t *Terminator) waitGone(ctx context.Context, members []*gopsproc.Process, d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		if allGone(members) {
			return true
		}
		select {
		case <-ctx.Done():
			return allGone(members)
		case <-deadline.C:
			return allGone(members)
		case <-tick.C:
		}
	}
}

func allGone(members []*gopsproc.Process) bool {
	for _, p := range members {
		if detector.Running(p.Pid) {
			return false
		}
	}
	return true
}

func (t *Terminator) stopTimeout() time.Duration {
	if t.StopTimeout > 0 {
		return t.StopTimeout
	}
	return DefaultStopTimeout
}

func (t *Terminator) killGrace() time.Duration {
	if t.KillGrace > 0 {
		return t.KillGrace
	}
	return DefaultKillGrace
}

func (t *Terminator) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}
