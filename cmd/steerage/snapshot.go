package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/steerage-ai/steerage/pkg/config"
	"github.com/steerage-ai/steerage/pkg/governor"
	"github.com/steerage-ai/steerage/pkg/store"
)

func newSnapshotCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show budget state, severity, and cooldowns",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			gov := governor.New(ctx, cfg, st, governor.SystemClock(), nil, nil)
			snap := gov.Snapshot(ctx)

			fmt.Printf("Severity:      %s\n", snap.State.Severity)
			fmt.Printf("Profile:       %s\n", snap.State.Profile)
			if snap.State.ManualPin != nil {
				fmt.Printf("Manual pin:    %s\n", *snap.State.ManualPin)
			}
			fmt.Printf("Fallback mode: %s\n", snap.State.FallbackMode)
			fmt.Printf("Directive:     %s\n", snap.Directive.Reason)
			fmt.Printf("Daily usage:   %d requests, %d tokens (window %s)\n\n",
				snap.State.Daily.Requests, snap.State.Daily.Tokens, snap.State.Daily.Window)

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tREQUESTS\tTOKENS\tCOOLDOWN\tFAILURES")
			for _, p := range cfg.Providers {
				agg := snap.State.Providers[p.Name]
				cooldown := "-"
				failures := 0
				for _, c := range snap.Cooldowns {
					if c.Provider == p.Name {
						failures = c.ConsecutiveFailures
						if c.RemainingMs > 0 {
							cooldown = (time.Duration(c.RemainingMs) * time.Millisecond).String()
						}
					}
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\n", p.Name, agg.Requests, agg.Tokens, cooldown, failures)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "steerage.yaml", "path to config file")
	return cmd
}
