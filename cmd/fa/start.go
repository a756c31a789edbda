package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/fieldaudit/internal/ops"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newStartCmd() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the supervision bot",
		Long:  "Connects to the configured chat platform and runs the bot, the ops server (when enabled) and the replica sweeper until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, configPath, envPath)
		},
	}

	configFlags(cmd, &configPath, &envPath)
	return cmd
}

func runStart(cmd *cobra.Command, configPath, envPath string) error {
	cfg, err := loadConfig(configPath, envPath)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, err := createAdapter(cfg, log)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, adapter, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "fieldaudit running on %s\n", cfg.Platform)
	return a.run(ctx)
}

// run starts every component under one errgroup. The bot stopping for any
// reason stops the rest.
func (a *app) run(ctx context.Context) error {
	if n, err := a.sweeper.Sweep(); err != nil {
		a.log.Warn("startup sweep failed", zap.Error(err))
	} else if n > 0 {
		a.log.Info("startup sweep", zap.Int("removed", n))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return a.daemon.Run(ctx)
	})
	g.Go(func() error {
		return a.sweeper.Run(ctx)
	})
	if a.cfg.Ops.Enabled {
		g.Go(func() error {
			return ops.Start(ctx, ops.StartOpts{
				Sessions: a.store,
				Links:    a.registry,
				Port:     a.cfg.Ops.Port,
				Logger:   a.log.Named("ops"),
			})
		})
	}
	if a.fileStore != nil && a.cfg.Links.Watch {
		g.Go(func() error {
			return a.fileStore.Watch(ctx, func() {
				if err := a.registry.Load(ctx); err != nil {
					a.log.Warn("links reload failed", zap.Error(err))
					return
				}
				a.log.Info("links reloaded", zap.String("path", a.fileStore.Path()))
			})
		})
	}
	return g.Wait()
}
