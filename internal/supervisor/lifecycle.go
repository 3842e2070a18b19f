package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loykin/botvisor/internal/history"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/process"
)

// Start launches the worker unless a live one is already recorded.
// A *process.LaunchError is returned when the worker cannot be spawned.
func (s *Supervisor) Start(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) (Result, error) {
	if h, alive := s.probe.Live(); alive {
		return Result{Success: false, Message: "worker is already running", PID: h.PID}, nil
	}
	h, err := s.launcher.Launch(ctx)
	if err != nil {
		s.logger.Error("worker launch failed", slog.Any("error", err))
		s.recorder.Record(ctx, history.Event{Type: history.EventLaunchFailed,
			Record: history.Record{Name: s.name, Error: err.Error()}})
		return Result{}, err
	}
	s.recorder.Record(ctx, history.Event{Type: history.EventStart,
		Record: history.Record{Name: s.name, PID: h.PID}})
	return Result{Success: true, Message: "worker started; wait for the QR code to appear", PID: h.PID}, nil
}

// Stop terminates a live worker and deletes its QR and status files.
// Nothing on disk is touched when no worker is alive.
func (s *Supervisor) Stop(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pid, ok := s.stopLocked(ctx)
	if !ok {
		return Result{Success: false, Message: "worker is not running"}, nil
	}
	if _, err := s.store.Purge(); err != nil {
		return Result{Success: true, Message: "worker stopped", PID: pid},
			fmt.Errorf("remove worker artifacts: %w", err)
	}
	return Result{Success: true, Message: "worker stopped", PID: pid}, nil
}

// stopLocked terminates the live worker tree. It reports the stopped PID.
func (s *Supervisor) stopLocked(ctx context.Context) (int, bool) {
	h, alive := s.probe.Live()
	if !alive {
		return 0, false
	}
	stopped, forced := s.term.StopTree(ctx, h)
	if stopped {
		s.recorder.Record(ctx, history.Event{Type: history.EventStop,
			Record: history.Record{Name: s.name, PID: h.PID, Forced: forced}})
	}
	return h.PID, stopped
}

// Restart stops a live worker as Stop does, waits for the OS to release its
// resources and starts a new one. A dead worker is simply started.
func (s *Supervisor) Restart(ctx context.Context) (Result, error) {
	metrics.IncRestart(s.name)

	s.mu.Lock()
	_, wasRunning := s.stopLocked(ctx)
	var purgeErr error
	if wasRunning {
		// The new worker must not inherit the old session's status or QR.
		_, purgeErr = s.store.Purge()
	}
	s.mu.Unlock()
	if purgeErr != nil {
		return Result{Success: false, Message: "worker stopped but its artifacts could not be removed"},
			fmt.Errorf("remove worker artifacts: %w", purgeErr)
	}

	if wasRunning {
		if err := s.sleep(ctx, s.opts.RestartSettle); err != nil {
			return Result{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.startLocked(ctx)
	if err != nil || !res.Success {
		return res, err
	}
	s.recorder.Record(ctx, history.Event{Type: history.EventRestart,
		Record: history.Record{Name: s.name, PID: res.PID}})
	res.Message = "worker restarted; wait for the QR code to appear"
	return res, nil
}

// Disconnect logs the worker out: it stops a live worker, waits for its
// file handles to be released, then deletes the QR image, the status file
// and the authentication cache. The result lists what was actually removed,
// also when an error is returned.
func (s *Supervisor) Disconnect(ctx context.Context) (DisconnectResult, error) {
	res := DisconnectResult{Removed: []string{}}

	s.mu.Lock()
	_, stopped := s.stopLocked(ctx)
	s.mu.Unlock()
	if stopped {
		res.Removed = append(res.Removed, RemovedProcess)
		if err := s.sleep(ctx, s.opts.DisconnectSettle); err != nil {
			return s.finishDisconnect(ctx, res, err)
		}
	}

	// Held so that no worker can be launched between the liveness guard in
	// PurgeAuthCache and the deletion.
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if ok, err := s.store.RemoveQR(); err != nil {
		errs = append(errs, fmt.Errorf("remove QR code: %w", err))
	} else if ok {
		res.Removed = append(res.Removed, RemovedQRCode)
	}
	if ok, err := s.store.RemoveStatus(); err != nil {
		errs = append(errs, fmt.Errorf("remove status file: %w", err))
	} else if ok {
		res.Removed = append(res.Removed, RemovedStatusFile)
	}
	purged, err := s.term.PurgeAuthCache(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if purged {
		res.Removed = append(res.Removed, RemovedAuthCache)
	}
	return s.finishDisconnect(ctx, res, errors.Join(errs...))
}

func (s *Supervisor) finishDisconnect(ctx context.Context, res DisconnectResult, err error) (DisconnectResult, error) {
	rec := history.Record{Name: s.name, Removed: res.Removed}
	switch {
	case err != nil:
		res.Success = false
		res.Message = err.Error()
		rec.Error = err.Error()
		metrics.IncDisconnect(s.name, "failed")
		var pe *process.PurgeError
		if errors.As(err, &pe) {
			s.recorder.Record(ctx, history.Event{Type: history.EventPurgeFailed, Record: rec})
		}
	case len(res.Removed) == 0:
		res.Message = "no active session found"
		metrics.IncDisconnect(s.name, "nothing")
	default:
		res.Success = true
		res.Message = "disconnected"
		metrics.IncDisconnect(s.name, "removed")
	}
	s.recorder.Record(ctx, history.Event{Type: history.EventDisconnect, Record: rec})
	return res, err
}

// ClearQR deletes the QR image regardless of the worker state.
func (s *Supervisor) ClearQR(context.Context) (Result, error) {
	if _, err := s.store.RemoveQR(); err != nil {
		return Result{Success: false, Message: "failed to remove QR code"}, fmt.Errorf("remove QR code: %w", err)
	}
	return Result{Success: true, Message: "QR code removed"}, nil
}
