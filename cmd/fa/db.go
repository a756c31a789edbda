package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/fieldaudit/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath, envPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQL tables",
		Long:  "Auto-migrates the supervision, template and link tables on storage.database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath, envPath)
		},
	}

	configFlags(cmd, &configPath, &envPath)
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath, envPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath, envPath)
	if err != nil {
		return err
	}
	dbCfg := cfg.Storage.Database
	gormDB, err := db.Connect(dbCfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s\n", dbCfg.Driver)
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}
