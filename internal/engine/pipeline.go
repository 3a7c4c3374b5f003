package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-botnet/internal/evaluator"
	"github.com/miradorstack/mirador-botnet/internal/ingest"
	"github.com/miradorstack/mirador-botnet/internal/metrics"
	"github.com/miradorstack/mirador-botnet/internal/models"
)

// RecordLoader defines the ingestion behaviour used by the pipeline.
type RecordLoader interface {
	Load(ctx context.Context, sources ...ingest.Source) (ingest.Batch, error)
}

// FeatureDeriver computes the derived views of a record set.
type FeatureDeriver interface {
	Derive(records []models.TrafficRecord) models.FeatureViews
}

// Sink receives the result of every completed run.
type Sink interface {
	Name() string
	Write(ctx context.Context, result models.RunResult) error
}

// ErrNoSources is returned when neither the request nor the configuration names a source.
var ErrNoSources = errors.New("no ingestion sources configured")

// DeliveryError wraps sink failures of an otherwise completed run.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string { return "deliver results: " + e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }

// Pipeline orchestrates ingestion, feature derivation, rule evaluation,
// aggregation and result delivery.
type Pipeline struct {
	logger         *slog.Logger
	loader         RecordLoader
	deriver        FeatureDeriver
	rules          *RuleEngine
	evaluator      *evaluator.Evaluator
	sinks          []Sink
	defaultSources []string
	newRunID       func() string
}

// NewPipeline constructs a new detection pipeline.
func NewPipeline(
	logger *slog.Logger,
	loader RecordLoader,
	deriver FeatureDeriver,
	rules *RuleEngine,
	eval *evaluator.Evaluator,
	defaultSources []string,
	sinks ...Sink,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if loader == nil {
		loader = ingest.NewLoader(logger)
	}
	if rules == nil {
		rules = NewRuleEngineFromRules(logger)
	}
	return &Pipeline{
		logger:         logger,
		loader:         loader,
		deriver:        deriver,
		rules:          rules,
		evaluator:      eval,
		sinks:          sinks,
		defaultSources: append([]string(nil), defaultSources...),
		newRunID:       uuid.NewString,
	}
}

// Run executes one detection pass. A sink failure does not discard the result:
// the result is returned together with the joined sink errors.
func (p *Pipeline) Run(ctx context.Context, req models.RunRequest) (models.RunResult, error) {
	result := models.RunResult{RunID: p.newRunID(), StartedAt: time.Now().UTC()}
	log := p.logger.With(slog.String("run_id", result.RunID))

	paths := req.Sources
	if len(paths) == 0 {
		paths = p.defaultSources
	}
	sources := ingest.FileSources(paths...)
	if len(sources) == 0 {
		return result, ErrNoSources
	}

	rules := p.rules
	if overridesSet(req.Overrides) {
		var err error
		if rules, err = p.rules.WithOverrides(req.Overrides); err != nil {
			return result, fmt.Errorf("apply overrides: %w", err)
		}
	}

	batch, err := p.loader.Load(ctx, sources...)
	result.Ingest = batch.Report
	if err != nil {
		return result, fmt.Errorf("ingest: %w", err)
	}
	metrics.ObserveIngest(batch.Report, len(batch.Records))
	for _, w := range batch.Report.Warnings {
		log.Warn("ingestion warning", slog.String("warning", w))
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	if p.deriver != nil {
		result.Views = p.deriver.Derive(batch.Records)
	}

	verdicts, err := rules.Evaluate(ctx, Input{Records: batch.Records})
	if err != nil {
		return result, fmt.Errorf("evaluate rules: %w", err)
	}
	result.Verdicts = verdicts

	if p.evaluator != nil {
		evaluation, err := p.evaluator.Evaluate(result.RunID, batch.Records, verdicts)
		result.Summary = evaluation.Summary
		result.Flagged = evaluation.Flagged
		if err != nil {
			result.FinishedAt = time.Now().UTC()
			return result, fmt.Errorf("evaluate: %w", err)
		}
	}
	result.Summary.RunID = result.RunID
	result.FinishedAt = time.Now().UTC()
	metrics.ObserveSummary(result.Summary)

	log.Info("detection run complete",
		slog.Int("records", result.Summary.TotalRecords),
		slog.Int("flagged", result.Summary.FlaggedRecords),
		slog.Float64("detection_rate", result.Summary.DetectionRate),
		slog.Bool("fpr_is_proxy", result.Summary.FalsePositiveRateIsProxy),
	)

	return result, p.deliver(ctx, log, result)
}

func (p *Pipeline) deliver(ctx context.Context, log *slog.Logger, result models.RunResult) error {
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Write(ctx, result); err != nil {
			log.Warn("sink write failed", slog.String("sink", sink.Name()), slog.Any("error", err))
			metrics.ObserveSinkFailure(sink.Name())
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &DeliveryError{Err: errors.Join(errs...)}
}

func overridesSet(o models.ThresholdOverrides) bool {
	return o.SizeThreshold != nil || o.IntervalThreshold != nil || o.RequestThreshold != nil || o.IntervalMode != ""
}
