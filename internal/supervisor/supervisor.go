// Package supervisor owns the lifecycle of the single messaging-bot worker.
// Every view of the worker is recomputed from the registry, the process
// table and the files the worker writes; nothing is cached in memory.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/botvisor/internal/artifact"
	"github.com/loykin/botvisor/internal/detector"
	"github.com/loykin/botvisor/internal/env"
	"github.com/loykin/botvisor/internal/history"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/pidfile"
	"github.com/loykin/botvisor/internal/process"
)

const (
	DefaultBotType          = "rule"
	DefaultRestartSettle    = 2 * time.Second
	DefaultDisconnectSettle = 4 * time.Second
)

// Names reported in DisconnectResult.Removed.
const (
	RemovedProcess    = "process"
	RemovedQRCode     = "qr_code"
	RemovedStatusFile = "status_file"
	RemovedAuthCache  = "auth_cache"
)

// Options configures a Supervisor.
type Options struct {
	Worker  process.Spec
	Image   string // expected executable name of the worker process
	BotType string // reported when a connected worker does not name one

	PIDFile    string
	StatusFile string
	QRFile     string
	AuthDir    string
	DataDir    string

	StopTimeout      time.Duration
	RestartSettle    time.Duration
	DisconnectSettle time.Duration
	PurgeAttempts    int
	PurgeInterval    time.Duration
	HistoryTimeout   time.Duration // per-sink delivery bound

	Sinks  []history.Sink
	Logger *slog.Logger
}

// Status is the reconciled view of the worker.
type Status struct {
	Status      artifact.State `json:"status"`
	QRCode      []byte         `json:"qr_code"` // base64 in JSON, null when absent
	PhoneNumber *string        `json:"phone_number"`
	BotType     *string        `json:"bot_type"`
	IsRunning   bool           `json:"is_running"`
	PID         int            `json:"pid,omitempty"`
	LastUpdate  *time.Time     `json:"last_update,omitempty"`
}

// Result is the outcome of start, stop, restart and clear-qr.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	PID     int    `json:"pid,omitempty"`
}

// DisconnectResult lists what a disconnect actually removed.
type DisconnectResult struct {
	Success bool     `json:"success"`
	Removed []string `json:"removed"`
	Message string   `json:"message"`
}

// Supervisor serialises lifecycle operations on the worker. Status reads
// never take the lifecycle lock.
type Supervisor struct {
	opts     Options
	name     string
	registry *pidfile.Registry
	probe    detector.WorkerDetector
	store    *artifact.Store
	launcher *process.Launcher
	term     *process.Terminator
	recorder *history.Recorder
	logger   *slog.Logger

	mu    sync.Mutex
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BotType == "" {
		opts.BotType = DefaultBotType
	}
	if opts.RestartSettle <= 0 {
		opts.RestartSettle = DefaultRestartSettle
	}
	if opts.DisconnectSettle <= 0 {
		opts.DisconnectSettle = DefaultDisconnectSettle
	}
	name := opts.Worker.Name
	if name == "" {
		name = "worker"
		opts.Worker.Name = name
	}
	logger = logger.With(slog.String("worker", name))

	reg := pidfile.NewRegistry(opts.PIDFile, opts.Image)
	probe := detector.WorkerDetector{Registry: reg, Logger: logger}
	e := env.New()
	e.FromOS()
	s := &Supervisor{
		opts:     opts,
		name:     name,
		registry: reg,
		probe:    probe,
		store:    artifact.New(opts.StatusFile, opts.QRFile, logger),
		launcher: &process.Launcher{
			Spec:     opts.Worker,
			Registry: reg,
			Env:      e,
			Exports:  exports(opts),
			Logger:   logger,
		},
		term: &process.Terminator{
			Name:          name,
			Registry:      reg,
			Probe:         probe,
			AuthDir:       opts.AuthDir,
			StopTimeout:   opts.StopTimeout,
			PurgeAttempts: opts.PurgeAttempts,
			PurgeInterval: opts.PurgeInterval,
			Logger:        logger,
		},
		recorder: history.NewRecorder(logger, opts.Sinks...).WithTimeout(opts.HistoryTimeout),
		logger:   logger,
		sleep:    sleepCtx,
	}
	return s
}

// exports tells the worker where the supervisor expects its files.
func exports(o Options) []string {
	var out []string
	add := func(k, v string) {
		if v != "" {
			out = append(out, k+"="+v)
		}
	}
	add("BOTVISOR_DATA_DIR", o.DataDir)
	add("BOTVISOR_STATUS_FILE", o.StatusFile)
	add("BOTVISOR_QR_FILE", o.QRFile)
	add("BOTVISOR_AUTH_DIR", o.AuthDir)
	return out
}

// Name identifies the worker in logs, metrics and history.
func (s *Supervisor) Name() string { return s.name }

// Probe exposes the liveness check for read-only consumers.
func (s *Supervisor) Probe() detector.Detector { return s.probe }

// WorkerPID returns the PID of the live worker.
func (s *Supervisor) WorkerPID() (int32, bool) {
	h, ok := s.probe.Live()
	return int32(h.PID), ok
}

// Close releases history sinks. The worker keeps running.
func (s *Supervisor) Close() error { return s.recorder.Close() }

// Status reconciles liveness and worker artifacts. It never fails: any
// internal problem degrades to disconnected.
func (s *Supervisor) Status(ctx context.Context) (st Status) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("status reconciliation failed", slog.Any("panic", r))
			st = Status{Status: artifact.StateDisconnected}
		}
		metrics.SetStatus(s.name, string(st.Status), st.IsRunning)
	}()

	h, alive := s.probe.Live()
	if !alive {
		return Status{Status: artifact.StateDisconnected}
	}
	st = Status{IsRunning: true, PID: h.PID}

	if doc, ok := s.store.ReadStatus(); ok && doc.Status == artifact.StateConnected {
		st.Status = artifact.StateConnected
		st.PhoneNumber = doc.PhoneNumber
		st.BotType = doc.BotType
		if st.BotType == nil {
			bt := s.opts.BotType
			st.BotType = &bt
		}
		if !doc.LastUpdate.IsZero() {
			lu := doc.LastUpdate
			st.LastUpdate = &lu
		}
		return st
	}
	if qr, ok := s.store.ReadQR(); ok {
		st.Status = artifact.StateQRPending
		st.QRCode = qr
		return st
	}
	st.Status = artifact.StateDisconnected
	return st
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
