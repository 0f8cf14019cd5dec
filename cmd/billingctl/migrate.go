package main

import (
	"github.com/nimasrn/billing-engine/pkg/pg"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Apply the SQL migrations to the write database",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{pg.MigrateUp, pg.MigrateDown, pg.MigrateStatus},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			command := pg.MigrateUp
			if len(args) == 1 {
				command = args[0]
			}
			dir, _ := cmd.Flags().GetString("dir")
			return pg.Migrate(cfg.PostgresWrite(), dir, command)
		},
	}
	cmd.Flags().String("dir", "./migrations", "directory holding the goose SQL files")
	return cmd
}
