package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/framerelay/internal/collector"
	configpkg "github.com/drblury/framerelay/internal/runtime/config"
	"github.com/drblury/framerelay/internal/runtime/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "framerelay-collector:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	path := configpkg.PathFromArgs(args, os.Getenv("FRAMERELAY_COLLECTOR_CONFIG"))
	cfg, err := configpkg.ResolveCollector(path)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("framerelay-collector", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("config", path, "YAML config file")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.NewSlogServiceLogger(logging.BuildSlog(cfg.LogLevel, cfg.LogJSON))

	handler, cleanup, err := build(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("Collector listening", logging.LogFields{"address": cfg.Addr, "path": cfg.Path, "config": cfg.String()})
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func build(ctx context.Context, cfg configpkg.CollectorConfig, log logging.ServiceLogger, reg *prometheus.Registry) (http.Handler, func(), error) {
	metrics, err := collector.NewMetrics(reg)
	if err != nil {
		return nil, nil, err
	}

	dispatcher := collector.NewDispatcher(cfg.Workers, log, metrics)
	if err := dispatcher.Register(collector.Wildcard, collector.LogHandler(log)); err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	if cfg.RedisAddr != "" {
		store, err := collector.NewRedisStreamStore(ctx, collector.RedisOptions{
			URL:    cfg.RedisAddr,
			Stream: cfg.RedisStream,
			MaxLen: cfg.RedisMaxLength,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		cleanup = func() { _ = store.Close() }
		if err := dispatcher.Register(collector.Wildcard, store); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	handler, err := collector.NewServer(collector.Options{
		Path:           cfg.Path,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		Gatherer:       reg,
		Logger:         log,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return handler, cleanup, nil
}
