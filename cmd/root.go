package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ProjectCoral/Coral/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/ProjectCoral/Coral/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "coral",
	Short: "Coral — a chatbot framework",
	Long:  "Coral: an event-driven chatbot framework built around an Event Bus, a Registry, a Plugin Manager, and a many-to-many Adapter/Driver pipeline.",
	Run: func(cmd *cobra.Command, args []string) {
		runCoral()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $GORAL_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(permsCmd())
	rootCmd.AddCommand(pluginsCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coral %s (protocol %s)\n", Version, protocol.ProtocolVersion)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("GORAL_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
