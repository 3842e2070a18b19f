package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"
	EventStop         EventType = "stop"
	EventRestart      EventType = "restart"
	EventDisconnect   EventType = "disconnect"
	EventLaunchFailed EventType = "launch_failed"
	EventPurgeFailed  EventType = "purge_failed"
)

// Record describes the worker at the time of an event.
type Record struct {
	Name    string   `json:"name"`
	PID     int      `json:"pid"`
	Forced  bool     `json:"forced,omitempty"`  // stop needed a kill
	Removed []string `json:"removed,omitempty"` // artifacts removed by disconnect
	Error   string   `json:"error,omitempty"`
}

// RemovedList joins Removed for columnar sinks.
func (r Record) RemovedList() string { return strings.Join(r.Removed, ",") }

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single sink delivery.
const DefaultSendTimeout = 5 * time.Second

// Recorder fans events out to every sink. Failing sinks are logged and never
// fail the lifecycle operation that produced the event.
type Recorder struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, logger: logger, timeout: DefaultSendTimeout}
}

// WithTimeout sets the per-sink delivery bound. Non-positive values keep the default.
func (r *Recorder) WithTimeout(d time.Duration) *Recorder {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Record stamps e and sends it to all sinks. Each delivery is abandoned
// after the recorder timeout, even when a sink ignores its context, so a hung
// backend never holds up the caller. A nil Recorder is a no-op.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range r.sinks {
		if err := r.send(ctx, s, e); err != nil {
			r.logger.Warn("history sink failed", slog.String("event", string(e.Type)), slog.Any("error", err))
		}
	}
}

func (r *Recorder) send(ctx context.Context, s Sink, e Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Send(ctx, e) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every sink that holds resources.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
