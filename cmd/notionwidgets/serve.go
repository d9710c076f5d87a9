package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/notionwidgets/internal/adapter/driving/http"
	"github.com/ericfisherdev/notionwidgets/internal/application"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background scheduler and the local control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, func(a *app) error { return serve(ctx, a) })
		},
	}
}

func serve(parent context.Context, a *app) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// 1. Remove secrets left behind by an interrupted delete.
	if removed, err := a.credentials.Reconcile(ctx); err != nil {
		slog.Warn("startup reconciliation incomplete", "error", err)
	} else if len(removed) > 0 {
		slog.Info("orphaned secrets removed", "count", len(removed))
	}

	// 2. Start the scheduler and the change follower.
	scheduler := a.newScheduler()
	health := application.NewHealthService(a.credStore, scheduler)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		a.publisher.Follow(ctx, a.changes)
	}()

	// 3. Serve the control API.
	logger := slog.Default()
	handler := httphandler.NewServeMux(
		httphandler.NewHandler(a.credentials, a.sync, a.widgets, scheduler, health, logger),
		logger,
	)

	srv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// A manual refresh waits for a full run.
		WriteTimeout: a.cfg.SyncBudget + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", "addr", a.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("notionwidgets started",
		"listen_addr", a.cfg.ListenAddr,
		"sync_interval", a.cfg.SyncInterval,
		"shared_dir", a.cfg.SharedDir,
	)

	// 4. Wait for shutdown signal or a server failure.
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// The scheduler and follower stop with ctx; wait so the database is
	// closed only after their last write.
	cancel()
	wg.Wait()

	slog.Info("shutdown complete")
	return serveErr
}
