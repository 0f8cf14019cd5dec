package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nimasrn/billing-engine/internal/app"
	"github.com/nimasrn/billing-engine/internal/mirror"
	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/spf13/cobra"
)

type transactionGetter interface {
	Get(ctx context.Context, id string) (*model.Transaction, error)
}

type inspection struct {
	Primary *model.Transaction `json:"primary"`
	Mirror  *model.Transaction `json:"mirror"`
	// InSync is false when the mirror is missing or disagrees on status or
	// the number of recorded attempts.
	InSync bool `json:"inSync"`
}

func inspectTransaction(ctx context.Context, primary, docs transactionGetter, id string) (*inspection, error) {
	p, err := primary.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &inspection{Primary: p}

	m, err := docs.Get(ctx, id)
	switch {
	case errors.Is(err, mirror.ErrNotFound):
		return out, nil
	case err != nil:
		return nil, err
	}
	out.Mirror = m
	out.InSync = m.Status == p.Status && len(m.PaymentAttempts) == len(p.PaymentAttempts)
	return out, nil
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <transaction-id>",
		Short: "Show a transaction from the primary store next to its mirror document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.StartupRetryTimeout+30*time.Second)
			defer cancel()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			res, err := inspectTransaction(ctx, a.Transactions, a.Mirror, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
