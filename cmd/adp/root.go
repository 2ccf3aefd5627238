package main

import (
	"os"

	"github.com/signalsfoundry/occupancy-adp/internal/logging"
	"github.com/spf13/cobra"
)

// app carries state shared by every subcommand.
type app struct {
	logLevel  string
	logFormat string

	log logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "adp",
		Short:         "Capacity-constrained control of absorbing Markov chains",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if a.logLevel == "" {
				a.logLevel = os.Getenv("LOG_LEVEL")
			}
			if a.logFormat == "" {
				a.logFormat = os.Getenv("LOG_FORMAT")
			}
			a.log = logging.New(logging.Config{
				Level:  a.logLevel,
				Format: a.logFormat,
				Output: cmd.ErrOrStderr(),
			})
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to LOG_LEVEL")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (text or json); defaults to LOG_FORMAT")

	root.AddCommand(
		newSolveCmd(a),
		newBenchmarkCmd(a),
		newServeCmd(a),
		newRunsCmd(a),
	)
	return root
}
