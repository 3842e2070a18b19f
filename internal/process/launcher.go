// Package process spawns the worker detached from the supervisor and tears
// it down again, including its descendants and its authentication cache.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loykin/botvisor/internal/env"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/pidfile"
)

// Reason classifies a LaunchError.
type Reason string

const (
	ReasonMissingScript Reason = "missing-script"
	ReasonSpawnFailed   Reason = "spawn-failed"
)

// LaunchError reports why the worker could not be started.
type LaunchError struct {
	Reason Reason
	Path   string
	Err    error
}

func (e *LaunchError) Error() string {
	switch e.Reason {
	case ReasonMissingScript:
		return fmt.Sprintf("launch worker: entry point %s not found", e.Path)
	default:
		return fmt.Sprintf("launch worker: spawn %s: %v", e.Path, e.Err)
	}
}

func (e *LaunchError) Unwrap() error { return e.Err }

// IsMissingScript reports whether err is a LaunchError for a missing entry point.
func IsMissingScript(err error) bool {
	var le *LaunchError
	return errors.As(err, &le) && le.Reason == ReasonMissingScript
}

// Launcher spawns the worker and records it in the registry. It does not
// check whether a worker is already running; callers serialise that.
type Launcher struct {
	Spec     Spec
	Registry *pidfile.Registry
	Env      *env.Env // configured environment; nil means the OS environment only
	Exports  []string // KEY=VALUE entries layered last, e.g. artifact paths
	Logger   *slog.Logger
}

// Launch starts the worker detached and saves its handle. The worker keeps
// running after ctx is done and after the supervisor exits.
func (l *Launcher) Launch(ctx context.Context) (pidfile.Handle, error) {
	if err := ctx.Err(); err != nil {
		return pidfile.Handle{}, err
	}
	entry := l.Spec.EntryPoint()
	if _, err := os.Stat(entry); err != nil {
		metrics.IncLaunchFailure(l.Spec.Name, string(ReasonMissingScript))
		return pidfile.Handle{}, &LaunchError{Reason: ReasonMissingScript, Path: entry, Err: err}
	}

	cmd := l.Spec.BuildCommand()
	e := l.Env
	if e == nil {
		e = env.New()
	}
	cmd.Env = e.Merge(append(append([]string{}, l.Spec.Env...), l.Exports...))
	configureSysProcAttr(cmd)

	// nil stdout/stderr are connected to the null device by os/exec.
	var closers []io.Closer
	if l.Spec.Log.Enabled() {
		outW, errW, err := l.Spec.Log.Writers(l.Spec.Name)
		if err != nil {
			l.logger().Warn("worker output capture disabled", slog.Any("error", err))
		} else {
			if outW != nil {
				cmd.Stdout = outW
				closers = append(closers, outW)
			}
			if errW != nil {
				cmd.Stderr = errW
				closers = append(closers, errW)
			}
		}
	}
	closeLogs := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	if err := cmd.Start(); err != nil {
		closeLogs()
		metrics.IncLaunchFailure(l.Spec.Name, string(ReasonSpawnFailed))
		return pidfile.Handle{}, &LaunchError{Reason: ReasonSpawnFailed, Path: cmd.Path, Err: err}
	}
	pid := cmd.Process.Pid

	h := pidfile.Handle{PID: pid, Image: l.Registry.Image(), RecordedAt: time.Now()}
	if err := l.Registry.Save(h); err != nil {
		// An untracked worker could never be stopped through us.
		_ = killGroup(pid)
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		closeLogs()
		metrics.IncLaunchFailure(l.Spec.Name, string(ReasonSpawnFailed))
		return pidfile.Handle{}, &LaunchError{Reason: ReasonSpawnFailed, Path: l.Registry.Path(),
			Err: fmt.Errorf("record worker pid: %w", err)}
	}
	if saved, ok := l.Registry.Load(); ok && saved.PID == pid {
		h.RecordedAt = saved.RecordedAt
	}

	// Reap the child so an exited worker does not linger as our zombie.
	go func() {
		err := cmd.Wait()
		closeLogs()
		l.logger().Info("worker exited", slog.Int("pid", pid), slog.Any("error", err))
	}()

	metrics.IncStart(l.Spec.Name)
	l.logger().Info("worker started", slog.Int("pid", pid), slog.String("command", cmd.Path), slog.String("dir", cmd.Dir))
	return h, nil
}

func (l *Launcher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}
