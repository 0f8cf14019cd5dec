package main

import (
	"fmt"
	"os"

	"github.com/nimasrn/billing-engine/internal/config"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate the recurring billing engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env", "", "dotenv file to load before reading the environment")

	root.AddCommand(migrateCmd())
	root.AddCommand(fetchCmd())
	root.AddCommand(nextDateCmd())
	root.AddCommand(credentialsCmd())
	root.AddCommand(inspectCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("env")
	return config.Load(path)
}
