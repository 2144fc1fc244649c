package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steerage-ai/steerage/pkg/config"
	"github.com/steerage-ai/steerage/pkg/governor"
	"github.com/steerage-ai/steerage/pkg/models"
	"github.com/steerage-ai/steerage/pkg/store"
)

func newProfileCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Pin or release the manual routing profile",
	}

	setCmd := &cobra.Command{
		Use:   "set <economy|balanced|performance>",
		Short: "Pin the routing profile (clamped by current severity)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := models.ParseProfile(args[0])
			if err != nil {
				return err
			}
			return withGovernor(configPath, func(ctx context.Context, gov *governor.Governor) error {
				if err := gov.SetManualProfile(ctx, &pin); err != nil {
					return err
				}
				snap := gov.Snapshot(ctx)
				fmt.Printf("Pinned %s; effective profile is %s (severity %s)\n",
					pin, snap.State.Profile, snap.State.Severity)
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Release the manual pin and return to automatic selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGovernor(configPath, func(ctx context.Context, gov *governor.Governor) error {
				if err := gov.SetManualProfile(ctx, nil); err != nil {
					return err
				}
				snap := gov.Snapshot(ctx)
				fmt.Printf("Pin released; automatic profile is %s (severity %s)\n",
					snap.State.Profile, snap.State.Severity)
				return nil
			})
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "steerage.yaml", "path to config file")
	cmd.AddCommand(setCmd, clearCmd)
	return cmd
}

// withGovernor opens the store, builds a governor, and runs fn against it.
func withGovernor(configPath string, fn func(context.Context, *governor.Governor) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	return fn(ctx, governor.New(ctx, cfg, st, governor.SystemClock(), nil, nil))
}
