package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	verbose bool
	jsonLog bool
)

// RootCmd is the base command when boxed-server is called without a
// subcommand.
var RootCmd = &cobra.Command{
	Use:   "boxed-server",
	Short: "Sandboxed code-runner API",
	Long: `boxed-server accepts a bundle of source files plus one or more
execution phases, runs each phase inside an isolate sandbox, and returns
captured stdout/stderr and resource-usage metadata per phase.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

		if !jsonLog && os.Getenv("BOXED_ENV") != "production" {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		}

		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
	},
}

// Execute runs the root command, exiting the process with status 1 on
// failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "Output logs in JSON format regardless of BOXED_ENV")
}
