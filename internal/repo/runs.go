package repo

import (
	"context"
	"errors"
	"sync"

	"github.com/miradorstack/mirador-botnet/internal/models"
)

// ErrRunNotFound signals that a run id is unknown or has been evicted.
var ErrRunNotFound = errors.New("run not found")

const defaultMaxRuns = 64

// RunStore keeps the most recent run results in memory. The oldest run is
// evicted once the store is full.
type RunStore struct {
	mu      sync.RWMutex
	maxRuns int
	order   []string
	runs    map[string]models.RunResult
}

// NewRunStore constructs a store that keeps at most maxRuns results.
func NewRunStore(maxRuns int) *RunStore {
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}
	return &RunStore{
		maxRuns: maxRuns,
		runs:    make(map[string]models.RunResult, maxRuns),
	}
}

// Save stores a result, replacing an earlier one with the same id.
func (s *RunStore) Save(ctx context.Context, result models.RunResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if result.RunID == "" {
		return errors.New("run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[result.RunID]; exists {
		s.runs[result.RunID] = result
		return nil
	}
	for len(s.order) >= s.maxRuns {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
	}
	s.order = append(s.order, result.RunID)
	s.runs[result.RunID] = result
	return nil
}

// Get returns a stored result.
func (s *RunStore) Get(ctx context.Context, runID string) (models.RunResult, error) {
	if err := ctx.Err(); err != nil {
		return models.RunResult{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.runs[runID]
	if !ok {
		return models.RunResult{}, ErrRunNotFound
	}
	return result, nil
}

// List returns up to limit runs, newest first. A non-positive limit returns all.
func (s *RunStore) List(ctx context.Context, limit int) ([]models.RunInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	infos := make([]models.RunInfo, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(infos) < limit; i-- {
		infos = append(infos, Info(s.runs[s.order[i]]))
	}
	return infos, nil
}

// Len reports the number of stored runs.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Info builds the listing form of a result.
func Info(result models.RunResult) models.RunInfo {
	return models.RunInfo{
		RunID:          result.RunID,
		StartedAt:      result.StartedAt,
		FinishedAt:     result.FinishedAt,
		TotalRecords:   result.Summary.TotalRecords,
		FlaggedRecords: result.Summary.FlaggedRecords,
		DetectionRate:  result.Summary.DetectionRate,
	}
}
