package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/task"
)

func (c *cli) superviseCmd() *cobra.Command {
	var once bool

	command := &cobra.Command{
		Use:   "supervise",
		Short: "Release tasks held by workers that stopped heartbeating",
		Long: "Periodically release running tasks whose worker has no live heartbeat.\n" +
			"Heartbeats are shared through Redis, so notify.driver must be redis.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.config.Notify.Driver != config.NotifyRedis {
				return fmt.Errorf("supervise requires notify.driver=redis for worker heartbeats (got %q)", c.config.Notify.Driver)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.supervise(ctx, once)
		},
	}
	command.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return command
}

func (c *cli) supervise(ctx context.Context, once bool) error {
	app, err := c.app(ctx)
	if err != nil {
		return err
	}
	defer app.cleanup()

	sup := task.NewSupervisor(app.queue, app.liveness(), c.config.Queue.SupervisorInterval, c.logger)
	if once {
		released, err := sup.Sweep(ctx)
		if err != nil {
			return err
		}
		c.logger.Info("sweep finished", "released", released)
		return nil
	}

	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
