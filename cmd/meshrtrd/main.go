// Command meshrtrd is an OLSRv2/NHDP mesh routing daemon: it maintains a
// per-interface neighbor state machine, floods topology advertisements,
// computes shortest paths per routing domain, and reconciles the result
// into the kernel FIB.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// Global flags shared across subcommands.
var (
	globalConfigPath string
	globalVerbose    bool
	globalLogger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "meshrtrd",
	Short: "OLSRv2/NHDP mesh routing daemon",
	Long: `meshrtrd runs an OLSRv2 (RFC 7181) mesh routing node with an NHDP
(RFC 6130) link/neighbor state machine underneath it. It floods topology
advertisements over the interfaces named in its config, computes shortest
paths per routing domain, and reconciles the result into the kernel FIB.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if globalVerbose {
			level = slog.LevelDebug
		}
		globalLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalConfigPath, "config", "", "path to config file (default: /etc/meshrtrd/meshrtrd.toml)")
	rootCmd.PersistentFlags().BoolVarP(&globalVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the meshrtrd version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
