package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steerage-ai/steerage/pkg/governor"
	"github.com/steerage-ai/steerage/pkg/models"
)

func newModeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mode <intelligent_pacing|aggressive_fallback>",
		Short: "Set the failover fallback mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := models.ParseFallbackMode(args[0])
			if err != nil {
				return err
			}
			return withGovernor(configPath, func(ctx context.Context, gov *governor.Governor) error {
				if err := gov.SetFallbackMode(ctx, mode); err != nil {
					return err
				}
				fmt.Printf("Fallback mode set to %s\n", mode)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "steerage.yaml", "path to config file")
	return cmd
}
