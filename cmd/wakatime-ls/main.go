// Command wakatime-ls is a language server that reports coding activity to
// WakaTime through wakatime-cli.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/espcaa/wakatime-ls/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	flagCLIPath     string
	flagLogFile     string
	flagLogLevel    string
	flagOptions     string
	flagMetricsAddr string
)

var rootCmd = &cobra.Command{
	Use:           "wakatime-ls",
	Short:         "Language server that sends coding activity to WakaTime",
	Long:          "wakatime-ls speaks LSP over stdin/stdout and forwards editing activity to wakatime-cli.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagCLIPath, "wakatime-cli", "", "path to the wakatime-cli binary")
	f.StringVar(&flagLogFile, "log-file", logging.DefaultFile(), "log file path, empty for stderr")
	f.StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	f.StringVar(&flagOptions, "options", "", "YAML file with throttle and dispatch tuning")
	f.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wakatime-ls: %v\n", err)
		os.Exit(1)
	}
}
