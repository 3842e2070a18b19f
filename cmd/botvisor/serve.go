package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/botvisor/internal/config"
	"github.com/loykin/botvisor/internal/history/factory"
	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/server"
	"github.com/loykin/botvisor/internal/supervisor"
	servertls "github.com/loykin/botvisor/internal/tls"
)

const shutdownTimeout = 10 * time.Second

// Serve runs the HTTP API until ctx is done or SIGINT/SIGTERM arrives.
// The worker is left running.
func (c command) Serve(ctx context.Context, f ServeFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	log := cfg.Log.New(os.Stderr)

	opts, err := cfg.Options(log, nil)
	if err != nil {
		return err
	}
	sinks, err := factory.NewSinks(cfg.History.Sinks)
	if err != nil {
		return fmt.Errorf("open history sinks: %w", err)
	}
	opts.Sinks = sinks
	sup := supervisor.New(opts)
	defer func() {
		if err := sup.Close(); err != nil {
			log.Warn("close history sinks", slog.Any("error", err))
		}
	}()

	if cfg.Metrics.Enabled {
		if err := registerMetrics(sup); err != nil {
			return err
		}
	}

	router := server.NewRouter(sup, cfg.Server.BasePath).
		WithMetrics(cfg.Metrics.Enabled).
		WithLogger(log)
	tlsConf, err := servertls.Setup(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("setup TLS: %w", err)
	}
	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}
	srv := server.NewServer(cfg.Server.Listen, router.Handler())
	srv.TLSConfig = tlsConf

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.Info("botvisor listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("base_path", router.BasePath()),
		slog.String("worker", sup.Name()),
		slog.Bool("metrics", cfg.Metrics.Enabled),
		slog.Bool("tls", tlsConf != nil))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	log.Info("shutting down; the worker keeps running")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// registerMetrics registers the counters and the scrape-time usage collector.
func registerMetrics(sup *supervisor.Supervisor) error {
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	usage := metrics.NewUsageCollector(sup.Name(), sup.WorkerPID)
	if err := prometheus.DefaultRegisterer.Register(usage); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return fmt.Errorf("register usage collector: %w", err)
		}
	}
	return nil
}
