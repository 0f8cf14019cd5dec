package main

import (
	"context"
	"encoding/json"

	"github.com/nimasrn/billing-engine/internal/app"
	"github.com/nimasrn/billing-engine/pkg/budget"
	"github.com/spf13/cobra"
)

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Run one fetch pass and enqueue every due transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetDuration("budget")
			if limit <= 0 {
				limit = cfg.FetchBudget
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), limit)
			defer cancel()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			stats := a.Fetcher.Run(ctx, budget.FromContext(ctx, limit))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
	cmd.Flags().Duration("budget", 0, "time allowed for the run (defaults to FETCH_BUDGET)")
	return cmd
}
