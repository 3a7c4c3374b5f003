package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-botnet/internal/engine"
	"github.com/miradorstack/mirador-botnet/internal/models"
	"github.com/miradorstack/mirador-botnet/internal/report"
)

type runFlags struct {
	sources           []string
	sizeThreshold     float64
	intervalThreshold float64
	intervalMode      string
	requestThreshold  float64
	outputDir         string
	top               int
}

func newRunCmd(global *globalFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one detection pass and print a summary",
		Long: `Load the configured (or given) shards, derive feature views, apply the
threshold rules and write the results to every enabled sink.`,
		Example: `  # Detect over two scenario shards with a stricter size rule
  botnet-detector run --source data/shards/capture-42.csv.gz --source data/shards/capture-43.csv.gz --size-threshold 1200`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetection(cmd, global, flags)
		},
	}

	cmd.Flags().StringArrayVar(&flags.sources, "source", nil, "Shard path (repeatable); defaults to ingest.sources")
	cmd.Flags().Float64Var(&flags.sizeThreshold, "size-threshold", 0, "Override the high-volume size threshold in bytes")
	cmd.Flags().Float64Var(&flags.intervalThreshold, "interval-threshold", 0, "Override the repeated-interval threshold in seconds")
	cmd.Flags().StringVar(&flags.intervalMode, "interval-mode", "", "Override the repeated-interval mode (at_most or exact)")
	cmd.Flags().Float64Var(&flags.requestThreshold, "request-threshold", 0, "Override the frequent-requester threshold")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "Override the file sink output directory")
	cmd.Flags().IntVar(&flags.top, "top", 5, "Rows shown in the pair and destination tables")

	return cmd
}

func runDetection(cmd *cobra.Command, global *globalFlags, flags *runFlags) error {
	cfg, logger, err := loadConfig(global)
	if err != nil {
		return err
	}
	if flags.outputDir != "" {
		cfg.Sinks.File.OutputDir = flags.outputDir
	}

	req := models.RunRequest{Sources: flags.sources}
	if cmd.Flags().Changed("size-threshold") {
		req.Overrides.SizeThreshold = &flags.sizeThreshold
	}
	if cmd.Flags().Changed("interval-threshold") {
		req.Overrides.IntervalThreshold = &flags.intervalThreshold
	}
	if cmd.Flags().Changed("request-threshold") {
		req.Overrides.RequestThreshold = &flags.requestThreshold
	}
	req.Overrides.IntervalMode = flags.intervalMode

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := pipeline.Run(ctx, req)
	var delivery *engine.DeliveryError
	if err != nil && !errors.As(err, &delivery) {
		return err
	}
	if renderErr := report.Render(cmd.OutOrStdout(), result, report.Options{TopN: flags.top}); renderErr != nil {
		return renderErr
	}
	if cfg.Sinks.File.Enabled {
		fmt.Fprintf(cmd.OutOrStdout(), "results written to %s\n", filepath.Join(cfg.Sinks.File.OutputDir, result.RunID))
	}
	if delivery != nil {
		return delivery
	}
	return nil
}
