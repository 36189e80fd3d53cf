package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/espcaa/wakatime-ls/internal/config"
	"github.com/espcaa/wakatime-ls/internal/dispatch"
	"github.com/espcaa/wakatime-ls/internal/logging"
	"github.com/espcaa/wakatime-ls/internal/lsp"
	"github.com/espcaa/wakatime-ls/internal/metrics"
	"github.com/espcaa/wakatime-ls/internal/throttle"
	"github.com/espcaa/wakatime-ls/internal/uploader"
)

const (
	configDebounce     = 250 * time.Millisecond
	diagnosticInterval = time.Minute
	retryJitter        = 0.2
)

func runServe(cmd *cobra.Command, args []string) error {
	opts, err := config.LoadOptions(flagOptions)
	if err != nil {
		return fmt.Errorf("load options: %w", err)
	}

	logger, closer := logging.New(logging.Options{Level: flagLogLevel, File: flagLogFile})
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	var collector metrics.Collector = metrics.Nop{}
	if flagMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.NewPrometheus(reg, "")

		ms, err := metrics.Listen(flagMetricsAddr, reg, logger)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			_ = ms.Shutdown(sctx)
		}()
	}

	// Configuration
	editor := config.NewEditorSource()
	cfgPath := config.DefaultFilePath()
	resolver := config.NewResolver(logger.With("component", "config"),
		editor,
		config.NewFlagSource(flagCLIPath),
		config.NewFileSource(cfgPath),
		config.NewEnvSource(),
	)
	handle := config.NewHandle(resolver, logger.With("component", "config"))
	// A missing key is surfaced to the editor after initialize.
	_ = handle.Reresolve()

	if cfgPath != "" {
		w, err := config.NewWatcher(cfgPath, handle, configDebounce, logger.With("component", "config-watcher"))
		if err != nil {
			logger.Warn("config file will not be watched", "path", cfgPath, "error", err)
		} else if err := w.Start(ctx); err != nil {
			logger.Warn("config file will not be watched", "path", cfgPath, "error", err)
		} else {
			defer w.Stop()
		}
	}

	// Dispatch
	notifier := lsp.NewNotifier(logger, diagnosticInterval)
	invoker := uploader.NewInvoker(uploader.Options{
		Timeout:            opts.UploaderTimeout,
		SpawnCooldown:      opts.SpawnCooldown,
		RetryableExitCodes: opts.RetryableExitCodes,
		StderrLimit:        opts.StderrLimit,
	})
	queue := dispatch.New(dispatch.Options{
		Workers:           opts.Workers,
		Capacity:          opts.QueueCapacity,
		MaxAttempts:       opts.MaxAttempts,
		RetryInitialDelay: opts.RetryInitialDelay,
		RetryMaxDelay:     opts.RetryMaxDelay,
		RetryJitter:       retryJitter,
	}, invoker, handle,
		dispatch.WithReporter(notifier),
		dispatch.WithMetrics(collector),
		dispatch.WithLogger(logger.With("component", "dispatch")),
	)
	queue.Start()

	engine := throttle.New(throttle.Options{
		MinInterval:        opts.MinInterval,
		IdleForcedInterval: opts.IdleForcedInterval,
		MaxTrackedFiles:    opts.MaxTrackedFiles,
	})

	srv := lsp.New(lsp.Options{
		Version:       version,
		ShutdownGrace: opts.ShutdownGrace,
	}, lsp.Components{
		Editor:   editor,
		Configs:  handle,
		Engine:   engine,
		Queue:    queue,
		Notifier: notifier,
		Metrics:  collector,
		Logger:   logger,
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		logger.Info("signal received", "signal", sig.String())
		drain(srv, opts.ShutdownGrace)
		closer.Close()
		os.Exit(0)
	}()

	logger.Info("wakatime-ls started",
		"version", version,
		"config_file", cfgPath,
		"workers", opts.Workers,
		"min_interval", opts.MinInterval,
	)

	err = srv.Serve()
	drain(srv, opts.ShutdownGrace)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func drain(srv *lsp.Server, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("shutdown did not drain cleanly", "error", err)
	}
}
