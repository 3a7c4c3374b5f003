package sinks

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-botnet/internal/features"
	"github.com/miradorstack/mirador-botnet/internal/models"
)

func sampleResult() models.RunResult {
	start := time.Date(2011, 8, 10, 9, 46, 0, 0, time.UTC)
	records := []models.TrafficRecord{
		{ID: 0, Source: "a.csv", Timestamp: start, SrcAddress: netip.MustParseAddr("147.32.84.165"), DstAddress: netip.MustParseAddr("147.32.80.9"), Protocol: models.ProtocolUDP, SizeBytes: 1500},
		{ID: 1, Source: "a.csv", Timestamp: start.Add(2 * time.Minute), SrcAddress: netip.MustParseAddr("147.32.84.191"), DstAddress: netip.MustParseAddr("147.32.80.9"), Protocol: models.ProtocolTCP, SizeBytes: 60, InterArrivalSeconds: 0.01},
	}
	return models.RunResult{
		RunID:      "run-42",
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
		Views: models.FeatureViews{
			Pairs:          features.CommunicationFrequency(records),
			Centralization: features.Centralization(records, 10),
			Volume:         features.TrafficVolume(records, time.Minute),
			VolumeSmoothed: features.Smooth(features.TrafficVolume(records, time.Minute), 5),
			PacketSizes:    features.PacketSizes(records, 2000, 50),
		},
		Summary: models.DetectionSummary{
			RunID:                    "run-42",
			TotalRecords:             2,
			FlaggedRecords:           1,
			FlaggedUniqueSources:     1,
			TotalUniqueSources:       2,
			DetectionRate:            50,
			FlagRateByUniqueSources:  50,
			FalsePositiveRate:        5,
			FalsePositiveRateIsProxy: true,
			RuleOutcomes: []models.RuleOutcome{
				{RuleName: "high_volume", RuleType: "high_volume", Kind: models.VerdictKindRecord, Threshold: 1000, FlaggedKeys: 1, FlaggedRecords: 1, UniqueSources: 1},
				{RuleName: "frequent_requester", RuleType: "frequent_requester", Kind: models.VerdictKindGroup, Threshold: 5},
			},
		},
		Flagged: records[:1],
	}
}

func TestFileSinkWritesArtifacts(t *testing.T) {
	root := t.TempDir()
	sink := NewFileSink(root)
	if err := sink.Write(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	dir := filepath.Join(root, "run-42")
	for _, name := range []string{SummaryCSV, FlaggedCSV, FrequencyCSV, CentralizationCSV, VolumeCSV, PacketSizesCSV, SummaryJSON} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}

	f, err := os.Open(filepath.Join(dir, SummaryCSV))
	if err != nil {
		t.Fatalf("open summary: %v", err)
	}
	defer f.Close()
	df := dataframe.ReadCSV(f, dataframe.DetectTypes(false), dataframe.DefaultType(series.String))
	if df.Err != nil {
		t.Fatalf("read summary: %v", df.Err)
	}
	if df.Nrow() != 3 {
		t.Fatalf("expected 2 rule rows and 1 aggregate row, got %d", df.Nrow())
	}
	names := df.Col("rule_name").Records()
	if names[2] != "all" {
		t.Fatalf("expected aggregate row last, got %v", names)
	}
	if proxy := df.Col("false_positive_rate_is_proxy").Records(); proxy[2] != "true" {
		t.Fatalf("expected proxy flag on aggregate row, got %v", proxy)
	}

	volume, err := os.ReadFile(filepath.Join(dir, VolumeCSV))
	if err != nil {
		t.Fatalf("read volume: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(volume)), "\n"); len(lines) != 4 {
		t.Fatalf("expected header and 3 buckets, got %d lines", len(lines))
	}

	summary, err := os.ReadFile(filepath.Join(dir, SummaryJSON))
	if err != nil {
		t.Fatalf("read summary json: %v", err)
	}
	if !strings.Contains(string(summary), "false_positive_rate_is_proxy") {
		t.Fatalf("expected proxy flag in summary json")
	}
}

func TestFileSinkEmptyFlaggedStillHasHeader(t *testing.T) {
	root := t.TempDir()
	result := sampleResult()
	result.Flagged = nil
	if err := NewFileSink(root).Write(context.Background(), result); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "run-42", FlaggedCSV))
	if err != nil {
		t.Fatalf("read flagged: %v", err)
	}
	if strings.TrimSpace(string(data)) != strings.Join(recordHeader, ",") {
		t.Fatalf("expected header only, got %q", data)
	}
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
	drained bool
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return f.err
}

func (f *fakePublisher) Drain() error {
	f.drained = true
	return nil
}

func TestNATSSinkPublishesProtobuf(t *testing.T) {
	pub := &fakePublisher{}
	sink := newNATSSink(pub, "mirador.botnet.runs", nil)
	if err := sink.Write(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if pub.subject != "mirador.botnet.runs" {
		t.Fatalf("unexpected subject %q", pub.subject)
	}
	var msg structpb.Struct
	if err := proto.Unmarshal(pub.data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.GetFields()["run_id"].GetStringValue() != "run-42" {
		t.Fatalf("unexpected payload %v", msg.GetFields())
	}
	if err := sink.Close(); err != nil || !pub.drained {
		t.Fatalf("expected drain on close")
	}

	pub.err = errors.New("no responders")
	if err := sink.Write(context.Background(), sampleResult()); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestClickHouseRows(t *testing.T) {
	result := sampleResult()
	rows := summaryRowsCH(result)
	if len(rows) != 3 {
		t.Fatalf("expected 3 summary rows, got %d", len(rows))
	}
	last := rows[2]
	if last[2] != "all" || last[13] != uint8(1) {
		t.Fatalf("unexpected aggregate row %v", last)
	}
	if len(last) != 14 {
		t.Fatalf("expected 14 columns, got %d", len(last))
	}
	flagged := flaggedRowsCH(result)
	if len(flagged) != 1 || flagged[0][4] != "147.32.84.165" || flagged[0][1] != uint64(0) {
		t.Fatalf("unexpected flagged rows %v", flagged)
	}
}
