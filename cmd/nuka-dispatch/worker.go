package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/nidhogg/nuka-dispatch/internal/bus"
	"github.com/nidhogg/nuka-dispatch/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workerStream   string
	workerTemplate string
	workerEndpoint string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Serve a worker over the Redis bus",
	Long: `Run an out-of-process worker that consumes task messages from its bus
stream and replies with the result. Pair it with a "remote" worker entry
whose config.stream (or name) matches --stream.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerStream, "stream", "", "bus stream name (required)")
	workerCmd.Flags().StringVar(&workerTemplate, "template", "echo", "local template that does the work (echo or http)")
	workerCmd.Flags().StringVar(&workerEndpoint, "endpoint", "", "endpoint for the http template")
	_ = workerCmd.MarkFlagRequired("stream")
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Redis.URL == "" {
		return fmt.Errorf("worker mode needs database.redis.url")
	}
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	mb, err := bus.Connect(ctx, cfg.Database.Redis.URL, logger)
	if err != nil {
		return err
	}
	defer mb.Close()

	dir := worker.NewDirectory(nil, logger)
	w, err := dir.Instantiate(workerTemplate, worker.TemplateArgs{
		Name:   workerStream,
		Config: map[string]string{"endpoint": workerEndpoint},
	})
	if err != nil {
		return err
	}

	logger.Info("Serving worker", zap.String("stream", workerStream), zap.String("template", workerTemplate))
	mb.Serve(ctx, workerStream, w.Executor)
	return nil
}
