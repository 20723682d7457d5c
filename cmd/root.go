// Package cmd wires the omega CLI: gateway (run the bridge), migrate
// (inspect/apply the SQLite schema), and doctor (environment/config health
// check). Structure follows the teacher's cobra root-command-plus-
// subcommand-constructor-functions convention, trimmed from its many
// managed-mode/onboarding commands down to the three this gateway needs.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/omegahq/gateway/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "omega",
	Short: "Omega — personal AI agent gateway",
	Long: "Omega bridges messaging channels (Telegram, WhatsApp) to a pluggable AI " +
		"backend, with persistent memory, scheduled tasks, and a multi-phase build " +
		"orchestrator for self-directed project work.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.toml or $OMEGA_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(doctorCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("omega %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("OMEGA_CONFIG"); v != "" {
		return v
	}
	return "config.toml"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
