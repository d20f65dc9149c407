package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	logprep "github.com/ekneg54/Logprep"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "logprep",
	Short: "Rule-triggered field enrichment for structured log events",
	Long: `Logprep receives structured log events, applies declarative enrichment
rules through an ordered processor pipeline and delivers the enriched
events to an output.`,
	Version:      logprep.Version(),
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(dryrunCmd)
}

func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(handler))
	return nil
}
