package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/fieldaudit/internal/logging"
	"github.com/zulandar/fieldaudit/internal/telegraph"
)

func newLinksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Inspect the evidence link registry",
	}
	cmd.AddCommand(newLinksListCmd())
	return cmd
}

func newLinksListCmd() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List evidence destinations and origin links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLinksList(cmd, configPath, envPath)
		},
	}

	configFlags(cmd, &configPath, &envPath)
	return cmd
}

func runLinksList(cmd *cobra.Command, configPath, envPath string) error {
	cfg, err := loadConfig(configPath, envPath)
	if err != nil {
		return err
	}
	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	registry, _, err := newRegistry(context.Background(), cfg, gormDB, logging.Nop())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), telegraph.FormatLinks(registry.Snapshot()))
	return nil
}
