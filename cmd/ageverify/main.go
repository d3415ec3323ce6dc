// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// Command ageverify reads the birthdate from an identity card and notifies a
// vending machine whether the card holder is of age.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cunicu.li/go-ageverify"
	"cunicu.li/go-ageverify/pcsc"
)

const (
	exitAllowed = 0
	exitDenied  = 1
	exitFailure = 2
)

var errUnknownCommand = errors.New("unknown command")

type cliFlags struct {
	configPath  string
	loop        bool
	metricsAddr string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, pcsc.Driver{}))
}

func run(args []string, stdout io.Writer, drv ageverify.Driver) int {
	fs := flag.NewFlagSet("ageverify", flag.ContinueOnError)

	var flags cliFlags
	fs.StringVar(&flags.configPath, "config", os.Getenv("AGEVERIFY_CONFIG"), "Path to configuration file")
	fs.BoolVar(&flags.loop, "loop", false, "Repeat verification attempts until interrupted")
	fs.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ageverify [flags] readers|verify\n\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitFailure
	}

	cfg, err := ageverify.LoadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitFailure
	}

	if flags.metricsAddr != "" {
		cfg.Metrics.Address = flags.metricsAddr
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitFailure
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd := fs.Arg(0); cmd {
	case "readers":
		return listReaders(stdout, drv, logger)

	case "verify", "":
		return verify(ctx, stdout, cfg, flags.loop, drv, logger)

	default:
		logger.Error("Invalid arguments", zap.Error(fmt.Errorf("%w: %s", errUnknownCommand, cmd)))
		fs.Usage()

		return exitFailure
	}
}

func listReaders(stdout io.Writer, drv ageverify.Driver, logger *zap.Logger) int {
	t := &ageverify.CardTransport{Driver: drv}

	readers, err := t.ListReaders()
	if err != nil {
		logger.Error("Failed to list readers", zap.Error(err))
		return exitFailure
	}

	for _, r := range readers {
		fmt.Fprintln(stdout, r)
	}

	return exitAllowed
}

func verify(ctx context.Context, stdout io.Writer, cfg *ageverify.Config, loop bool, drv ageverify.Driver, logger *zap.Logger) int {
	reg := prometheus.NewRegistry()
	metrics := ageverify.NewMetrics(reg)

	if addr := cfg.Metrics.Address; addr != "" {
		srv := serveMetrics(addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	v, err := cfg.NewVerifier(drv, logger, metrics)
	if err != nil {
		logger.Error("Failed to create verifier", zap.Error(err))
		return exitFailure
	}

	for {
		o := v.Verify(ctx)

		fmt.Fprintf(stdout, "%s allowed=%t reason=%s notification=%s\n",
			o.Result, o.Allowed(), o.Reason, o.Notification.Status)

		if !loop {
			if o.Allowed() {
				return exitAllowed
			}

			return exitDenied
		}

		select {
		case <-ctx.Done():
			logger.Info("Stopped")
			return exitAllowed

		case <-time.After(cfg.LoopInterval.Duration()):
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("address", addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return srv
}
