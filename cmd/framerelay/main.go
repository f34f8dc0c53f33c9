package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/framerelay"
	configpkg "github.com/drblury/framerelay/internal/runtime/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "framerelay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	path := configpkg.PathFromArgs(args, os.Getenv("FRAMERELAY_CONFIG"))
	cfg, err := configpkg.Resolve(path)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("framerelay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.String("config", path, "YAML config file")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := framerelay.NewSlogServiceLogger(framerelay.BuildSlog(cfg.LogLevel, cfg.LogJSON))

	svc, err := framerelay.NewService(&cfg, logger, ctx, framerelay.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close service", err, nil)
		}
	}()

	logger.Info("framerelay started", framerelay.LogFields{"role": cfg.Role, "transport": cfg.RelayTransport})
	return svc.Start(ctx)
}
