package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/digital-library/internal/database"
)

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Apply or inspect the Postgres schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg.UseMemoryStore {
				return fmt.Errorf("migrate needs Postgres; unset USE_MEMORY_STORE")
			}
			command := database.MigrateUp
			if len(args) == 1 {
				command = database.MigrateCommand(args[0])
			}

			ctx := cmd.Context()
			pool, err := database.NewPool(ctx, e.cfg.Database, e.logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			e.logger.Info("running migrations", zap.String("command", string(command)))
			version, err := database.Migrate(ctx, pool, command)
			if err != nil {
				return err
			}
			e.logger.Info("current migration version", zap.Int64("version", version))
			return nil
		},
	}
}
