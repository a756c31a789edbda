package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/fieldaudit/internal/logging"
	"github.com/zulandar/fieldaudit/internal/replica"
)

func newSweepCmd() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale replica files once",
		Long:  "Deletes replica files older than replica.max_age. Run it only while the bot is stopped: no session is treated as live.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath, envPath)
		},
	}

	configFlags(cmd, &configPath, &envPath)
	return cmd
}

func runSweep(cmd *cobra.Command, configPath, envPath string) error {
	cfg, err := loadConfig(configPath, envPath)
	if err != nil {
		return err
	}
	sweeper, err := replica.NewSweeper(replica.SweeperOpts{
		Dir:      replica.NewDir(cfg.Replica.Dir),
		MaxAge:   cfg.Replica.MaxAge,
		Schedule: cfg.Replica.SweepCron,
		Logger:   logging.Nop(),
	})
	if err != nil {
		return err
	}
	n, err := sweeper.Sweep()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d replica files from %s\n", n, cfg.Replica.Dir)
	return nil
}
