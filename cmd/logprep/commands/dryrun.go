package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	logprep "github.com/ekneg54/Logprep"
)

var dryrunConfigPath string

var dryrunCmd = &cobra.Command{
	Use:   "dryrun <events.jsonl>",
	Short: "Process a JSONL event file once and print the results",
	Long: `Dryrun replaces the configured connectors with a JSONL file input and
a console output, runs the configured processor chain over the file
once and prints a per-processor summary. Rule sets can be tried out
this way without touching the production transports.`,
	Args: cobra.ExactArgs(1),
	RunE: runDryrun,
}

func init() {
	dryrunCmd.Flags().StringVar(&dryrunConfigPath, "config", "", "path to the pipeline configuration file")
	_ = dryrunCmd.MarkFlagRequired("config")
}

func runDryrun(cmd *cobra.Command, args []string) error {
	cfg, err := logprep.LoadConfig(dryrunConfigPath)
	if err != nil {
		return err
	}

	// Only the processor chain is taken from the configuration.
	cfg.Input = logprep.InputConfig{Type: "jsonl", Path: args[0]}
	cfg.Output = logprep.OutputConfig{Type: "console"}
	cfg.Metrics = logprep.MetricsConfig{}

	pipeline, err := logprep.BuildPipeline(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := pipeline.Run(ctx); err != nil {
		return err
	}

	for _, s := range pipeline.Stats() {
		slog.Info("processor summary",
			"processor", s.Processor,
			"type", s.Type,
			"processed", s.Processed,
			"matches", s.Matches,
			"warnings", s.Warnings,
			"errors", s.Errors)
	}
	return nil
}
