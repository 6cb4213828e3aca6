package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/phrazzld/contentq/internal/config"
	"github.com/phrazzld/contentq/internal/platform/logger"
)

// cli holds state shared by subcommands once the root pre-run has loaded it.
type cli struct {
	configFile string
	envFile    string

	config *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "contentq",
		Short:         "Task queue for AI content generation",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default ./contentq.yaml if present)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before configuration")

	root.AddCommand(
		c.serveCmd(),
		c.workerCmd(),
		c.superviseCmd(),
		c.migrateCmd(),
		c.tokenCmd(),
		c.taskCmd(),
	)
	return root
}

// load reads the dotenv file, configuration and logger.
func (c *cli) load(cmd *cobra.Command) error {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", c.envFile, err)
		}
	}

	cfg, err := config.Load(c.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.SetupWithWriter(cfg.Server, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	c.config = cfg
	c.logger = log
	return nil
}

// app wires the application for a subcommand.
func (c *cli) app(ctx context.Context) (*application, error) {
	return newApplication(logger.WithLogger(ctx, c.logger), c.config, c.logger)
}
