package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	logprep "github.com/ekneg54/Logprep"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the enrichment pipeline",
	Long: `Run builds the pipeline described by the configuration file and
processes events until the input is exhausted or the process receives
SIGINT or SIGTERM.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to the pipeline configuration file")
	_ = runCmd.MarkFlagRequired("config")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := logprep.LoadConfig(runConfigPath)
	if err != nil {
		return err
	}
	pipeline, err := logprep.BuildPipeline(cfg)
	if err != nil {
		return err
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		slog.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	slog.Info("pipeline starting",
		"input", cfg.Input.Type,
		"output", cfg.Output.Type,
		"processors", len(cfg.Pipeline))

	if err := pipeline.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
