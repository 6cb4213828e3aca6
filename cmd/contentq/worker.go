package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/contentq/internal/config"
)

func (c *cli) workerCmd() *cobra.Command {
	var (
		workerID    string
		workerCount int
		batchSize   int
	)

	command := &cobra.Command{
		Use:   "worker",
		Short: "Claim and execute pending tasks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			qc := &c.config.Queue
			if workerID != "" {
				qc.WorkerID = workerID
			}
			if workerCount > 0 {
				qc.WorkerCount = workerCount
			}
			if batchSize > 0 {
				qc.BatchSize = batchSize
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.work(ctx)
		},
	}
	command.Flags().StringVar(&workerID, "worker-id", "", "worker identity (overrides queue.worker_id)")
	command.Flags().IntVarP(&workerCount, "concurrency", "c", 0, "number of worker goroutines (overrides queue.worker_count)")
	command.Flags().IntVar(&batchSize, "batch-size", 0, "maximum tasks claimed per poll (overrides queue.batch_size)")
	return command
}

func (c *cli) work(ctx context.Context) error {
	if c.config.Database.Driver == config.DriverMemory {
		return fmt.Errorf("the worker needs a shared store; use serve --worker with the memory driver")
	}

	app, err := c.app(ctx)
	if err != nil {
		return err
	}
	defer app.cleanup()

	gen, err := app.generator(ctx)
	if err != nil {
		return err
	}
	runner, err := app.newRunner(ctx, gen)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start runner: %w", err)
	}
	c.logger.Info("worker running", "worker_id", runner.WorkerID())

	<-ctx.Done()
	c.logger.Info("stopping worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.config.Server.ShutdownTimeout+10*time.Second)
	defer cancel()
	runner.Stop(shutdownCtx)
	return nil
}
