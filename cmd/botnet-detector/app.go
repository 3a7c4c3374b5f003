package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/engine"
	"github.com/miradorstack/mirador-botnet/internal/evaluator"
	"github.com/miradorstack/mirador-botnet/internal/features"
	"github.com/miradorstack/mirador-botnet/internal/ingest"
	"github.com/miradorstack/mirador-botnet/internal/sinks"
)

// buildPipeline wires ingestion, features, rules, evaluation and the enabled
// sinks. Unreachable remote sinks are logged and skipped.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine.Pipeline, func(), error) {
	ruleEngine, err := engine.NewRuleEngine(cfg.Rules, logger)
	if err != nil {
		return nil, nil, err
	}

	var (
		resultSinks []engine.Sink
		closers     []io.Closer
	)
	if cfg.Sinks.File.Enabled {
		resultSinks = append(resultSinks, sinks.NewFileSink(cfg.Sinks.File.OutputDir))
	}
	if cfg.Sinks.ClickHouse.Enabled {
		ch, err := sinks.NewClickHouseSink(ctx, cfg.Sinks.ClickHouse, logger)
		if err != nil {
			logger.Warn("clickhouse sink unavailable", slog.Any("error", err))
		} else {
			resultSinks = append(resultSinks, ch)
			closers = append(closers, ch)
		}
	}
	if cfg.Sinks.NATS.Enabled {
		ns, err := sinks.NewNATSSink(cfg.Sinks.NATS, logger)
		if err != nil {
			logger.Warn("nats sink unavailable", slog.Any("error", err))
		} else {
			resultSinks = append(resultSinks, ns)
			closers = append(closers, ns)
		}
	}

	pipeline := engine.NewPipeline(
		logger,
		ingest.NewLoader(logger),
		features.NewDeriver(cfg.Features),
		ruleEngine,
		evaluator.New(cfg.Evaluation),
		cfg.Ingest.Sources,
		resultSinks...,
	)
	cleanup := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("sink close failed", slog.Any("error", err))
			}
		}
	}
	return pipeline, cleanup, nil
}
