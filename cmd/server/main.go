// Command server runs the module documentation service: the lookup API and,
// when a queue is configured, the ingest worker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GoCodeAlone/forgedocs/config"
	"github.com/GoCodeAlone/forgedocs/service"
)

var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "forgedocs:", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configFile := fs.String("config", os.Getenv("FORGEDOCS_CONFIG"), "Path to YAML configuration file")
	addr := fs.String("addr", "", "HTTP listen address (overrides http.address)")
	local := fs.Bool("local", false, "Use an in-memory store and complete requests in-process instead of via SQS")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.HTTP.Address = *addr
	}
	if *local && cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "forgedocs-local"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(stdout, cfg.Log)
	slog.SetDefault(logger)

	svc, err := service.New(ctx, cfg, logger, service.Options{Local: *local, Version: version})
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("Server started",
		"version", version,
		"address", svc.HTTP.Addr(),
		"bucket", cfg.Storage.Bucket,
		"queue", cfg.Queue.URL,
		"local", *local,
	)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
