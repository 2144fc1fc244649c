package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steerage-ai/steerage/pkg/governor"
)

func newResetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Zero aggregates and cooldowns (event logs are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGovernor(configPath, func(ctx context.Context, gov *governor.Governor) error {
				if err := gov.Reset(ctx); err != nil {
					return err
				}
				fmt.Println("Policy state reset.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "steerage.yaml", "path to config file")
	return cmd
}
