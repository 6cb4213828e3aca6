package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/contentq/internal/api"
	"github.com/phrazzld/contentq/internal/auth"
	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/task"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		port           int
		embeddedWorker bool
		requestTimeout time.Duration
	)

	command := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: "Start the HTTP API. Sync-mode tasks run inline when a Gemini API key is configured.\n" +
			"With --worker the process also claims and executes async tasks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port != 0 {
				c.config.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, embeddedWorker, requestTimeout)
		},
	}
	command.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	command.Flags().BoolVar(&embeddedWorker, "worker", false, "also run a task runner in this process")
	command.Flags().DurationVar(&requestTimeout, "request-timeout", 30*time.Second, "timeout for non-sync requests")
	return command
}

func (c *cli) serve(ctx context.Context, embeddedWorker bool, requestTimeout time.Duration) error {
	app, err := c.app(ctx)
	if err != nil {
		return err
	}
	defer app.cleanup()

	if !embeddedWorker && app.config.Database.Driver == config.DriverMemory {
		c.logger.Warn("in-memory store without --worker: async tasks will never run")
	}

	routerCfg := api.RouterConfig{
		Queue:          app.queue,
		Gatherer:       app.registry,
		RequestTimeout: requestTimeout,
		Logger:         c.logger,
	}

	if app.config.Auth.JWTSecret != "" {
		tokens, err := auth.NewTokenService(app.config.Auth)
		if err != nil {
			return fmt.Errorf("failed to create token service: %w", err)
		}
		routerCfg.Tokens = tokens
	} else {
		c.logger.Warn("auth.jwt_secret is empty; the API is unauthenticated")
	}

	var runner *task.Runner
	if app.config.LLM.GeminiAPIKey != "" {
		gen, err := app.generator(ctx)
		if err != nil {
			return err
		}
		routerCfg.Inline = app.inlineRunner(gen)

		if embeddedWorker {
			runner, err = app.newRunner(ctx, gen)
			if err != nil {
				return err
			}
			if err := runner.Start(ctx); err != nil {
				return fmt.Errorf("failed to start runner: %w", err)
			}
		}
	} else {
		c.logger.Warn("llm.gemini_api_key is empty; sync mode and the embedded worker are disabled")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		c.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			if runner != nil {
				runner.Stop(context.Background())
			}
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		c.logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if runner != nil {
		runner.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	c.logger.Info("server shutdown completed")
	return nil
}
