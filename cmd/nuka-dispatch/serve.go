package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nidhogg/nuka-dispatch/internal/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP dispatch service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	if r := a.cfg.Orchestrator.Retention.Std(); r > 0 {
		go a.orch.RunJanitor(ctx, a.cfg.Orchestrator.PruneInterval.Std(), r)
		logger.Info("Retention enabled", zap.Duration("retention", r))
	}

	var archive api.Archive
	if a.store != nil {
		archive = a.store
	}
	handler := api.NewHandler(a.orch, a.workflows, a.counters, archive, logger)

	port := fmt.Sprintf("%d", a.cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Nuka Dispatch listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("Shutting down Nuka Dispatch...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
