package engine

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/evaluator"
	"github.com/miradorstack/mirador-botnet/internal/features"
	"github.com/miradorstack/mirador-botnet/internal/ingest"
	"github.com/miradorstack/mirador-botnet/internal/models"
)

type fakeLoader struct {
	batch   ingest.Batch
	err     error
	sources []string
}

func (f *fakeLoader) Load(ctx context.Context, sources ...ingest.Source) (ingest.Batch, error) {
	for _, s := range sources {
		f.sources = append(f.sources, s.Name())
	}
	return f.batch, f.err
}

type fakeSink struct {
	name    string
	err     error
	results []models.RunResult
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Write(ctx context.Context, result models.RunResult) error {
	f.results = append(f.results, result)
	return f.err
}

func fakeBatch() ingest.Batch {
	src := netip.MustParseAddr("147.32.84.165")
	dst := netip.MustParseAddr("147.32.80.9")
	records := []models.TrafficRecord{
		{ID: 0, SrcAddress: src, DstAddress: dst, SizeBytes: 1500, InterArrivalSeconds: 1, Timestamp: t0},
		{ID: 1, SrcAddress: src, DstAddress: dst, SizeBytes: 60, InterArrivalSeconds: 0.01, Timestamp: t0.Add(time.Second)},
		{ID: 2, SrcAddress: dst, DstAddress: src, SizeBytes: 80, InterArrivalSeconds: 2, Timestamp: t0.Add(2 * time.Second)},
		{ID: 3, SrcAddress: dst, DstAddress: src, SizeBytes: 90, InterArrivalSeconds: 3, Timestamp: t0.Add(5 * time.Second)},
	}
	return ingest.Batch{Records: records, Report: models.IngestReport{Loaded: []string{"a.csv"}}}
}

func newTestPipeline(t *testing.T, loader RecordLoader, sinks ...Sink) *Pipeline {
	t.Helper()
	cfg := config.Default()
	cfg.Rules.Path = ""
	rules, err := NewRuleEngine(cfg.Rules, nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	return NewPipeline(nil, loader, features.NewDeriver(cfg.Features), rules, evaluator.New(cfg.Evaluation), []string{"a.csv"}, sinks...)
}

func TestPipelineRun(t *testing.T) {
	loader := &fakeLoader{batch: fakeBatch()}
	sink := &fakeSink{name: "memory"}
	pipeline := newTestPipeline(t, loader, sink)

	result, err := pipeline.Run(context.Background(), models.RunRequest{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.RunID == "" || result.Summary.RunID != result.RunID {
		t.Fatalf("expected run id propagated to summary, got %q/%q", result.RunID, result.Summary.RunID)
	}
	if len(loader.sources) != 1 || loader.sources[0] != "a.csv" {
		t.Fatalf("expected default sources, got %v", loader.sources)
	}
	if result.Summary.FlaggedRecords != 2 || result.Summary.DetectionRate != 50 {
		t.Fatalf("expected 2 flagged records at 50%%, got %d at %v", result.Summary.FlaggedRecords, result.Summary.DetectionRate)
	}
	if len(result.Verdicts) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(result.Verdicts))
	}
	if len(result.Views.Pairs) != 2 {
		t.Fatalf("expected feature views, got %d pairs", len(result.Views.Pairs))
	}
	if len(sink.results) != 1 {
		t.Fatalf("expected sink to receive the result")
	}
}

func TestPipelineRunOverrides(t *testing.T) {
	loader := &fakeLoader{batch: fakeBatch()}
	pipeline := newTestPipeline(t, loader)
	size := 2000.0
	result, err := pipeline.Run(context.Background(), models.RunRequest{
		Sources:   []string{"b.csv"},
		Overrides: models.ThresholdOverrides{SizeThreshold: &size},
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if loader.sources[0] != "b.csv" {
		t.Fatalf("expected request sources, got %v", loader.sources)
	}
	if result.Summary.FlaggedRecords != 1 {
		t.Fatalf("expected only the interval flag with raised size threshold, got %d", result.Summary.FlaggedRecords)
	}
	if result.Verdicts[0].ThresholdUsed != 2000 {
		t.Fatalf("expected override recorded in verdict, got %v", result.Verdicts[0].ThresholdUsed)
	}
}

func TestPipelineRunSinkFailureKeepsResult(t *testing.T) {
	failing := &fakeSink{name: "broken", err: errors.New("disk full")}
	ok := &fakeSink{name: "ok"}
	pipeline := newTestPipeline(t, &fakeLoader{batch: fakeBatch()}, failing, ok)

	result, err := pipeline.Run(context.Background(), models.RunRequest{})
	var delivery *DeliveryError
	if !errors.As(err, &delivery) {
		t.Fatalf("expected DeliveryError, got %v", err)
	}
	if result.Summary.TotalRecords != 4 {
		t.Fatalf("expected result despite sink failure")
	}
	if len(ok.results) != 1 {
		t.Fatalf("expected later sinks to still run")
	}
}

func TestPipelineRunNoData(t *testing.T) {
	loader := &fakeLoader{err: &models.NoDataError{Attempted: 1}}
	pipeline := newTestPipeline(t, loader)
	_, err := pipeline.Run(context.Background(), models.RunRequest{})
	var noData *models.NoDataError
	if !errors.As(err, &noData) {
		t.Fatalf("expected NoDataError, got %v", err)
	}
}

func TestPipelineRunWithoutSources(t *testing.T) {
	pipeline := NewPipeline(nil, &fakeLoader{}, nil, nil, nil, nil)
	if _, err := pipeline.Run(context.Background(), models.RunRequest{}); !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
}

func TestPipelineEndToEndFromShard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.csv")
	shard := "frame.time_epoch,ip.src,ip.dst,ip.proto,frame.len\n" +
		"1312970813.0,147.32.84.165,147.32.80.9,17,1200\n" +
		"1312970813.02,147.32.84.165,147.32.80.9,17,300\n" +
		"1312970815.0,147.32.84.191,74.125.232.195,6,900\n" +
		"1312970815.0,147.32.84.191,74.125.232.195,6,900\n"
	if err := os.WriteFile(path, []byte(shard), 0o600); err != nil {
		t.Fatalf("write shard: %v", err)
	}

	pipeline := newTestPipeline(t, ingest.NewLoader(nil))
	result, err := pipeline.Run(context.Background(), models.RunRequest{Sources: []string{path}})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.Ingest.DuplicatesRemoved != 1 || result.Summary.TotalRecords != 3 {
		t.Fatalf("expected 3 records after dedup, got %d", result.Summary.TotalRecords)
	}
	// Record 0 is large, record 1 follows 20ms later.
	if result.Summary.FlaggedRecords != 2 {
		t.Fatalf("expected 2 flagged records, got %d", result.Summary.FlaggedRecords)
	}
	if !result.Summary.FalsePositiveRateIsProxy {
		t.Fatalf("expected proxy false-positive rate for unlabeled shard")
	}
}
