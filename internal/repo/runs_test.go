package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/miradorstack/mirador-botnet/internal/models"
)

func runResult(id string, flagged int) models.RunResult {
	return models.RunResult{
		RunID:   id,
		Summary: models.DetectionSummary{RunID: id, TotalRecords: 10, FlaggedRecords: flagged, DetectionRate: float64(flagged) * 10},
	}
}

func TestRunStoreSaveAndGet(t *testing.T) {
	store := NewRunStore(4)
	ctx := context.Background()
	if err := store.Save(ctx, runResult("a", 3)); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Summary.FlaggedRecords != 3 {
		t.Fatalf("expected 3 flagged records, got %d", got.Summary.FlaggedRecords)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.Save(ctx, models.RunResult{}); err == nil {
		t.Fatalf("expected error for empty run id")
	}
}

func TestRunStoreEvictsOldest(t *testing.T) {
	store := NewRunStore(2)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, runResult(id, 1)); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
	}
	if _, err := store.Get(ctx, "a"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected oldest run evicted, got %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 runs, got %d", store.Len())
	}
}

func TestRunStoreListNewestFirst(t *testing.T) {
	store := NewRunStore(8)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		_ = store.Save(ctx, runResult(id, i))
	}
	// replacing keeps the original position
	_ = store.Save(ctx, runResult("a", 9))

	infos, err := store.List(ctx, 0)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(infos) != 3 || infos[0].RunID != "c" || infos[2].RunID != "a" {
		t.Fatalf("unexpected order %+v", infos)
	}
	if infos[2].FlaggedRecords != 9 || infos[2].DetectionRate != 90 {
		t.Fatalf("expected replaced run summary, got %+v", infos[2])
	}

	limited, _ := store.List(ctx, 2)
	if len(limited) != 2 || limited[1].RunID != "b" {
		t.Fatalf("unexpected limited list %+v", limited)
	}
}

func TestRunStoreConcurrentSaves(t *testing.T) {
	store := NewRunStore(16)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.Save(ctx, runResult(fmt.Sprintf("run-%d", i), i))
			_, _ = store.List(ctx, 5)
		}(i)
	}
	wg.Wait()
	if store.Len() != 16 {
		t.Fatalf("expected store capped at 16, got %d", store.Len())
	}
}

func TestRunStoreHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewRunStore(1).Save(ctx, runResult("a", 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
