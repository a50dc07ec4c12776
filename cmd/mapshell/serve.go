// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mapshell/mapshell/internal/config"
	"github.com/mapshell/mapshell/internal/observability"
	"github.com/mapshell/mapshell/internal/web"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolved plugin tree over HTTP",
		Long: `Start the runtime, keep the plugin tree resolved as state changes and
modules load, and expose it to the render layer on the API address.
Metrics and health probes are served on the metrics address.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServe runs until ctx is cancelled or a signal arrives. When ready is
// non-nil it receives the bound API address once serving starts.
func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, ready chan<- string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return oops.Wrapf(err, "setting up logging")
	}
	slog.SetDefault(logger)

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return oops.Wrapf(err, "creating runtime")
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree := rt.Boot(ctx)
	logger.Info("plugin tree resolved",
		"mode", rt.Mode(),
		"root", tree.RootNames(),
		"requested", tree.Requested)

	var obs *observability.Server
	if cfg.MetricsAddr != "" {
		obs = observability.NewServer(cfg.MetricsAddr,
			observability.WithReadiness(rt.Ready),
			observability.WithRegistrars(metricRegistrars...),
			observability.WithLogger(logger))
		obsErr, err := obs.Start()
		if err != nil {
			return oops.Wrapf(err, "starting observability server")
		}
		go monitorServerErrors(ctx, stop, obsErr, "observability")
	}

	var handler http.Handler = web.NewServer(rt, web.WithLogger(logger))
	if obs != nil {
		handler = obs.Metrics().Instrument(handler)
	}
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return oops.With("addr", cfg.ListenAddr).Wrapf(err, "listening")
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.Run(gctx) })
	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.Wrapf(err, "serving API")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API shutdown failed", "error", err)
		}
		if obs != nil {
			if err := obs.Stop(shutdownCtx); err != nil {
				logger.Warn("observability shutdown failed", "error", err)
			}
		}
		return nil
	})

	logger.Info("API listening", "addr", listener.Addr().String())
	if ready != nil {
		ready <- listener.Addr().String()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// monitorServerErrors stops the process when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
