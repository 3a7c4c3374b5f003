package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/engine"
	"github.com/miradorstack/mirador-botnet/internal/ingest"
	"github.com/miradorstack/mirador-botnet/internal/metrics"
	"github.com/miradorstack/mirador-botnet/internal/models"
	"github.com/miradorstack/mirador-botnet/internal/repo"
	"github.com/miradorstack/mirador-botnet/internal/utils"
)

// Runner executes one detection pass.
type Runner interface {
	Run(ctx context.Context, req models.RunRequest) (models.RunResult, error)
}

// RunRepo stores completed runs for later retrieval.
type RunRepo interface {
	Save(ctx context.Context, result models.RunResult) error
	Get(ctx context.Context, runID string) (models.RunResult, error)
	List(ctx context.Context, limit int) ([]models.RunInfo, error)
}

// DetectionService is the facade shared by the gRPC and HTTP APIs. Errors are
// returned as gRPC status values.
type DetectionService struct {
	logger    *slog.Logger
	runner    Runner
	runs      RunRepo
	sources   *ingest.SourcePolicy
	durations *utils.DurationTracker
}

// NewDetectionService constructs the service facade. Request sources are
// checked against sources; a nil policy rejects every request that names any.
func NewDetectionService(logger *slog.Logger, runner Runner, runs RunRepo, sources *ingest.SourcePolicy) *DetectionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetectionService{
		logger:    logger,
		runner:    runner,
		runs:      runs,
		sources:   sources,
		durations: utils.NewDurationTracker(1024),
	}
}

// Run executes a detection pass and stores the result. Sink failures are
// logged; the completed run is still stored and returned.
func (s *DetectionService) Run(ctx context.Context, req models.RunRequest) (models.RunResult, error) {
	if s.runner == nil {
		return models.RunResult{}, status.Error(codes.FailedPrecondition, "pipeline not configured")
	}
	if err := validateOverrides(req.Overrides); err != nil {
		return models.RunResult{}, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(req.Sources) > 0 {
		resolved, err := s.sources.Resolve(req.Sources)
		if err != nil {
			return models.RunResult{}, status.Error(codes.InvalidArgument, err.Error())
		}
		req.Sources = resolved
	}

	start := time.Now()
	result, err := s.runner.Run(ctx, req)
	duration := time.Since(start)

	var delivery *engine.DeliveryError
	if err != nil && !errors.As(err, &delivery) {
		metrics.ObserveRun(duration, metrics.OutcomeError)
		s.logger.Error("detection run failed", slog.String("run_id", result.RunID), slog.Any("error", err))
		return result, runError(err)
	}
	if delivery != nil {
		s.logger.Warn("run completed with sink failures", slog.String("run_id", result.RunID), slog.Any("error", delivery))
	}

	s.durations.Observe(duration)
	metrics.ObserveRun(duration, metrics.OutcomeSuccess)
	if count := s.durations.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("run latency", slog.Duration("p95", s.durations.Percentile(95)), slog.Int("samples", count))
	}

	if s.runs != nil {
		if err := s.runs.Save(ctx, result); err != nil {
			s.logger.Error("store run failed", slog.String("run_id", result.RunID), slog.Any("error", err))
			return result, status.Error(codes.Internal, "failed to store run")
		}
	}
	return result, nil
}

// Get returns a stored run.
func (s *DetectionService) Get(ctx context.Context, runID string) (models.RunResult, error) {
	if runID == "" {
		return models.RunResult{}, status.Error(codes.InvalidArgument, "run_id is required")
	}
	if s.runs == nil {
		return models.RunResult{}, status.Error(codes.FailedPrecondition, "run history not configured")
	}
	result, err := s.runs.Get(ctx, runID)
	if errors.Is(err, repo.ErrRunNotFound) {
		return models.RunResult{}, status.Errorf(codes.NotFound, "run %s not found", runID)
	}
	if err != nil {
		return models.RunResult{}, runError(err)
	}
	return result, nil
}

// List returns recent runs, newest first.
func (s *DetectionService) List(ctx context.Context, limit int) ([]models.RunInfo, error) {
	if limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	if s.runs == nil {
		return nil, status.Error(codes.FailedPrecondition, "run history not configured")
	}
	infos, err := s.runs.List(ctx, limit)
	if err != nil {
		return nil, runError(err)
	}
	return infos, nil
}

// Flagged returns up to limit flagged records of a run plus the total count.
func (s *DetectionService) Flagged(ctx context.Context, runID string, limit int) ([]models.TrafficRecord, int, error) {
	if limit < 0 {
		return nil, 0, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	result, err := s.Get(ctx, runID)
	if err != nil {
		return nil, 0, err
	}
	records := result.Flagged
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, len(result.Flagged), nil
}

// LatencyP95 returns the current p95 run duration.
func (s *DetectionService) LatencyP95() time.Duration {
	if s.durations == nil {
		return 0
	}
	return s.durations.Percentile(95)
}

func validateOverrides(o models.ThresholdOverrides) error {
	if o.IntervalMode != "" {
		if err := config.ValidateIntervalMode(o.IntervalMode); err != nil {
			return err
		}
	}
	thresholds := []struct {
		name  string
		value *float64
	}{
		{"size_threshold", o.SizeThreshold},
		{"interval_threshold", o.IntervalThreshold},
		{"request_threshold", o.RequestThreshold},
	}
	for _, th := range thresholds {
		if th.value != nil && *th.value < 0 {
			return fmt.Errorf("%s must not be negative", th.name)
		}
	}
	return nil
}

// runError maps pipeline failures onto status codes.
func runError(err error) error {
	var (
		noData        *models.NoDataError
		missingLabels *models.MissingLabelsError
	)
	switch {
	case errors.As(err, &noData), errors.As(err, &missingLabels), errors.Is(err, engine.ErrNoSources):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
