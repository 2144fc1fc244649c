package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/steerage-ai/steerage/pkg/config"
	"github.com/steerage-ai/steerage/pkg/store"
)

func newEventsCmd() *cobra.Command {
	var configPath string
	var limit int
	var transitions bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent usage or budget transition events",
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
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

			if transitions {
				events, err := st.RecentTransitions(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "TIME\tSEVERITY\tPROFILE\tREASON")
				for _, ev := range events {
					fmt.Fprintf(w, "%s\t%s -> %s\t%s -> %s\t%s\n",
						ev.CreatedAt.Format("2006-01-02 15:04:05"),
						ev.FromSeverity, ev.ToSeverity, ev.FromProfile, ev.ToProfile, ev.Reason)
				}
				return w.Flush()
			}

			events, err := st.RecentUsage(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "TIME\tPROVIDER\tMODEL\tOUTCOME\tTOKENS\tLATENCY")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%dms\n",
					ev.CreatedAt.Format("2006-01-02 15:04:05"),
					ev.Provider, ev.Model, ev.Outcome, ev.TokensUsed, ev.LatencyMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "steerage.yaml", "path to config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	cmd.Flags().BoolVar(&transitions, "transitions", false, "show budget transitions instead of usage")
	return cmd
}
