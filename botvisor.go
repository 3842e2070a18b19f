// Package botvisor supervises one external messaging-bot worker. It is the
// public facade for embedding the supervisor and its HTTP handlers.
package botvisor

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/botvisor/internal/config"
	"github.com/loykin/botvisor/internal/history"
	"github.com/loykin/botvisor/internal/history/factory"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/process"
	iapi "github.com/loykin/botvisor/internal/server"
	"github.com/loykin/botvisor/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Options = supervisor.Options

type WorkerSpec = process.Spec

type Status = supervisor.Status

type Result = supervisor.Result

type DisconnectResult = supervisor.DisconnectResult

type Config = cfg.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

type LaunchError = process.LaunchError

type PurgeError = process.PurgeError

var ErrWorkerAlive = process.ErrWorkerAlive

// Supervisor is a thin facade over internal/supervisor.Supervisor.
type Supervisor struct{ inner *supervisor.Supervisor }

func New(opts Options) *Supervisor { return &Supervisor{inner: supervisor.New(opts)} }

// FromConfig builds a Supervisor from a loaded configuration, opening its
// history sinks.
func FromConfig(c *Config) (*Supervisor, error) {
	opts, err := c.Options(nil, nil)
	if err != nil {
		return nil, err
	}
	sinks, err := factory.NewSinks(c.History.Sinks)
	if err != nil {
		return nil, err
	}
	opts.Sinks = sinks
	return New(opts), nil
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

func (s *Supervisor) Name() string { return s.inner.Name() }
func (s *Supervisor) Close() error { return s.inner.Close() }

func (s *Supervisor) Status(ctx context.Context) Status           { return s.inner.Status(ctx) }
func (s *Supervisor) Start(ctx context.Context) (Result, error)   { return s.inner.Start(ctx) }
func (s *Supervisor) Stop(ctx context.Context) (Result, error)    { return s.inner.Stop(ctx) }
func (s *Supervisor) Restart(ctx context.Context) (Result, error) { return s.inner.Restart(ctx) }
func (s *Supervisor) ClearQR(ctx context.Context) (Result, error) { return s.inner.ClearQR(ctx) }
func (s *Supervisor) Disconnect(ctx context.Context) (DisconnectResult, error) {
	return s.inner.Disconnect(ctx)
}

// Handler returns the lifecycle endpoints mounted under basePath.
func (s *Supervisor) Handler(basePath string) http.Handler {
	return iapi.NewRouter(s.inner, basePath).Handler()
}

// NewHTTPServer builds an HTTP server exposing the API; the caller starts it.
func NewHTTPServer(addr, basePath string, s *Supervisor) *http.Server {
	return iapi.NewServer(addr, s.Handler(basePath))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// UsageCollector exports the worker's CPU, memory, threads and descendants
// at scrape time. Register it with the registry of your choice.
func (s *Supervisor) UsageCollector() prometheus.Collector {
	return metrics.NewUsageCollector(s.inner.Name(), s.inner.WorkerPID)
}

func MetricsHandler() http.Handler { return metrics.Handler() }
