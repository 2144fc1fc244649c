package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steerage-ai/steerage/pkg/api"
	"github.com/steerage-ai/steerage/pkg/config"
	"github.com/steerage-ai/steerage/pkg/governor"
	"github.com/steerage-ai/steerage/pkg/metrics"
	"github.com/steerage-ai/steerage/pkg/store"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the governor and its diagnostics API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			slog.SetDefault(logger)

			st, err := store.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = st.Close() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			met := metrics.New()
			gov := governor.New(ctx, cfg, st, governor.SystemClock(), logger, met)
			srv := api.New(cfg.Listen, gov, met, logger)

			logger.Info("starting steerage", "config", configPath, "db", cfg.DBPath, "providers", len(cfg.Providers))

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(ctx) })
			return g.Wait()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "steerage.yaml", "path to config file")
	return cmd
}
