package process

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/botvisor/internal/metrics"
)

// ErrWorkerAlive is returned when the auth cache purge is attempted while
// the worker still runs and may hold its files open.
var ErrWorkerAlive = errors.New("worker is still running; stop it before purging the auth cache")

// PurgeError means the auth cache survived every removal strategy and an
// operator has to intervene.
type PurgeError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *PurgeError) Error() string {
	return fmt.Sprintf("could not remove auth cache %s after %d attempts: %v. "+
		"Make sure no worker or other program still uses it, then delete the directory "+
		"manually (POSIX: rm -rf %q, Windows: rmdir /S /Q %q) and run disconnect again",
		e.Path, e.Attempts, e.Err, e.Path, e.Path)
}

func (e *PurgeError) Unwrap() error { return e.Err }

// PurgeAuthCache deletes the authentication cache directory. It reports
// whether a directory was removed. Locked files are retried on a constant
// backoff before a platform force strategy is tried.
func (t *Terminator) PurgeAuthCache(ctx context.Context) (bool, error) {
	dir := t.AuthDir
	if dir == "" {
		return false, nil
	}
	if t.Probe != nil {
		if alive, _ := t.Probe.Alive(); alive {
			return false, ErrWorkerAlive
		}
	}
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	attempts := 0
	op := func() error {
		attempts++
		metrics.IncPurgeAttempt(t.Name)
		err := t.remove(dir)
		if err == nil || retryablePurgeError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		t.logger().Debug("auth cache busy, retrying",
			slog.String("path", dir), slog.Int("attempt", attempts), slog.Duration("next", next), slog.Any("error", err))
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(t.purgeInterval()), uint64(t.purgeAttempts()-1)), ctx)
	err := backoff.RetryNotify(op, policy, notify)
	if err == nil {
		t.logger().Info("auth cache removed", slog.String("path", dir), slog.Int("attempts", attempts))
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	t.logger().Warn("auth cache removal failed, forcing", slog.String("path", dir), slog.Any("error", err))
	ferr := t.force(ctx, dir)
	if _, serr := os.Lstat(dir); errors.Is(serr, fs.ErrNotExist) {
		t.logger().Info("auth cache force-removed", slog.String("path", dir))
		return true, nil
	}
	if ferr != nil {
		err = errors.Join(err, fmt.Errorf("force remove: %w", ferr))
	}
	metrics.IncPurgeFailure(t.Name)
	return false, &PurgeError{Path: dir, Attempts: attempts, Err: err}
}

func (t *Terminator) remove(dir string) error {
	if t.removeAll != nil {
		return t.removeAll(dir)
	}
	return os.RemoveAll(dir)
}

func (t *Terminator) force(ctx context.Context, dir string) error {
	if t.forceRemove != nil {
		return t.forceRemove(ctx, dir)
	}
	return forceRemoveAll(ctx, dir)
}

func (t *Terminator) purgeAttempts() int {
	if t.PurgeAttempts > 0 {
		return t.PurgeAttempts
	}
	return DefaultPurgeAttempts
}

func (t *Terminator) purgeInterval() time.Duration {
	if t.PurgeInterval > 0 {
		return t.PurgeInterval
	}
	return DefaultPurgeInterval
}
