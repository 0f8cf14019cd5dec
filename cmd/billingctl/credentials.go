package main

import (
	"fmt"

	"github.com/nimasrn/billing-engine/internal/app"
	"github.com/nimasrn/billing-engine/internal/model"
	"github.com/nimasrn/billing-engine/internal/repository"
	"github.com/spf13/cobra"
)

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage per-tenant gateway credentials",
	}

	set := &cobra.Command{
		Use:   "set",
		Short: "Store the merchant id and private key for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			mid, _ := cmd.Flags().GetString("mid")
			key, _ := cmd.Flags().GetString("key")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := app.ConnectPostgres(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			err = repository.NewCredentialRepository(db).Save(cmd.Context(), &model.Credential{
				ManagedAcademy: tenant,
				MID:            mid,
				APIPrivateKey:  key,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credentials stored for %s\n", tenant)
			return nil
		},
	}
	set.Flags().String("tenant", "", "managed academy id")
	set.Flags().String("mid", "", "gateway merchant id")
	set.Flags().String("key", "", "gateway api private key")
	_ = set.MarkFlagRequired("tenant")
	_ = set.MarkFlagRequired("key")

	cmd.AddCommand(set)
	return cmd
}
