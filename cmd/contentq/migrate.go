package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phrazzld/contentq/internal/platform/migrations"
)

func (c *cli) migrateCmd() *cobra.Command {
	commands := []string{
		migrations.CommandUp,
		migrations.CommandDown,
		migrations.CommandReset,
		migrations.CommandStatus,
		migrations.CommandVersion,
	}

	return &cobra.Command{
		Use:       "migrate [" + strings.Join(commands, "|") + "]",
		Short:     "Manage the task store schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: commands,
		RunE: func(cmd *cobra.Command, args []string) error {
			command := migrations.CommandUp
			if len(args) == 1 {
				command = args[0]
			}

			db, dialect, err := openDB(cmd.Context(), c.config.Database)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			c.logger.Info("running migrations", "command", command, "dialect", dialect)
			if err := migrations.Run(cmd.Context(), db, dialect, command); err != nil {
				return err
			}
			c.logger.Info("migrations finished", "command", command)
			return nil
		},
	}
}
