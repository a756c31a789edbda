package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fa",
		Short: "fieldaudit — guided field supervision over chat",
		Long:  "fieldaudit walks supervisors through a field audit in a chat group and forwards the evidence to the linked destination group.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newLinksCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newSweepCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fa %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// configFlags registers the flags every config-driven command shares.
func configFlags(cmd *cobra.Command, configPath, envPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", "fieldaudit.yaml", "path to fieldaudit config file")
	cmd.Flags().StringVar(envPath, "env", ".env", "optional env file loaded before the config")
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
