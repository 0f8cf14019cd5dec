package main

import (
	"fmt"
	"time"

	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/internal/services"
	"github.com/spf13/cobra"
)

func nextDateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next-date <YYYY-MM-DD>",
		Short: "Print the following billing dates for an interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetString("interval")
			count, _ := cmd.Flags().GetInt("count")
			zone, _ := cmd.Flags().GetString("zone")

			loc, err := model.LoadLocation(zone)
			if err != nil {
				return fmt.Errorf("unknown zone %q: %w", zone, err)
			}
			base, err := time.ParseInLocation(time.DateOnly, args[0], loc)
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[0], err)
			}

			i := model.Interval(interval).Normalize()
			for n := 0; n < count; n++ {
				base = services.NextDate(base, i)
				fmt.Fprintln(cmd.OutOrStdout(), base.Format(time.DateOnly))
			}
			return nil
		},
	}
	cmd.Flags().StringP("interval", "i", string(model.IntervalMonthly), "recurrence interval")
	cmd.Flags().IntP("count", "n", 1, "number of dates to print")
	cmd.Flags().StringP("zone", "z", "", "IANA time zone (defaults to America/New_York)")
	return cmd
}
