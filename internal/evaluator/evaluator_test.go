package evaluator

import (
	"errors"
	"math"
	"net/netip"
	"testing"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/models"
)

func rec(id int, src string, label models.Label) models.TrafficRecord {
	return models.TrafficRecord{ID: id, SrcAddress: netip.MustParseAddr(src), DstAddress: netip.MustParseAddr("147.32.84.165"), Label: label}
}

func TestEvaluateEmptyInputYieldsZeroRates(t *testing.T) {
	ev, err := New(config.EvaluationConfig{}).Evaluate("run", nil, nil)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	s := ev.Summary
	if s.DetectionRate != 0 || s.FlagRateByUniqueSources != 0 || s.FalsePositiveRate != 0 {
		t.Fatalf("expected zero rates, got %+v", s)
	}
	if !s.FalsePositiveRateIsProxy {
		t.Fatalf("expected proxy false-positive rate without labels")
	}
}

func TestEvaluateDeduplicatesOverlappingVerdicts(t *testing.T) {
	records := []models.TrafficRecord{
		rec(0, "10.0.0.1", models.LabelUnknown),
		rec(1, "10.0.0.1", models.LabelUnknown),
		rec(2, "10.0.0.2", models.LabelUnknown),
		rec(3, "10.0.0.3", models.LabelUnknown),
	}
	verdicts := []models.RuleVerdict{
		{RuleName: "high_volume", Kind: models.VerdictKindRecord, RecordIDs: []int{0, 1}},
		{RuleName: "repeated_interval", Kind: models.VerdictKindRecord, RecordIDs: []int{1, 2}},
	}
	ev, err := New(config.EvaluationConfig{ProxyFactor: 0.1}).Evaluate("run", records, verdicts)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	s := ev.Summary
	if s.FlaggedRecords != 3 || len(ev.Flagged) != 3 {
		t.Fatalf("expected 3 flagged records, got %d", s.FlaggedRecords)
	}
	if s.DetectionRate != 75 {
		t.Fatalf("expected detection rate 75, got %v", s.DetectionRate)
	}
	if s.FlaggedUniqueSources != 2 || s.TotalUniqueSources != 3 {
		t.Fatalf("unexpected source counts %d/%d", s.FlaggedUniqueSources, s.TotalUniqueSources)
	}
	if math.Abs(s.FalsePositiveRate-7.5) > 1e-9 || !s.FalsePositiveRateIsProxy {
		t.Fatalf("expected proxy fpr 7.5, got %v (proxy=%v)", s.FalsePositiveRate, s.FalsePositiveRateIsProxy)
	}
	if len(s.RuleOutcomes) != 2 || s.RuleOutcomes[0].UniqueSources != 1 || s.RuleOutcomes[1].UniqueSources != 2 {
		t.Fatalf("unexpected rule outcomes %+v", s.RuleOutcomes)
	}
	if _, err := ev.Metric(MetricPrecision); !errors.As(err, new(*models.MissingLabelsError)) {
		t.Fatalf("expected MissingLabelsError for precision, got %v", err)
	}
}

func TestEvaluateGroupVerdictsOptIn(t *testing.T) {
	records := []models.TrafficRecord{rec(0, "10.0.0.1", ""), rec(1, "10.0.0.2", "")}
	verdicts := []models.RuleVerdict{
		{RuleName: "frequent_requester", Kind: models.VerdictKindGroup, FlaggedKeys: []string{"k"}, RecordIDs: []int{0, 1}},
	}
	ev, _ := New(config.EvaluationConfig{}).Evaluate("run", records, verdicts)
	if ev.Summary.FlaggedRecords != 0 {
		t.Fatalf("expected group verdicts excluded by default, got %d flagged", ev.Summary.FlaggedRecords)
	}
	if ev.Summary.RuleOutcomes[0].FlaggedKeys != 1 || ev.Summary.RuleOutcomes[0].FlaggedRecords != 2 {
		t.Fatalf("expected group outcome still reported, got %+v", ev.Summary.RuleOutcomes[0])
	}
	ev, _ = New(config.EvaluationConfig{IncludeGroupRules: true}).Evaluate("run", records, verdicts)
	if ev.Summary.FlaggedRecords != 2 {
		t.Fatalf("expected group verdicts included, got %d flagged", ev.Summary.FlaggedRecords)
	}
}

func TestEvaluateWithLabels(t *testing.T) {
	records := []models.TrafficRecord{
		rec(0, "10.0.0.1", models.LabelMalicious),
		rec(1, "10.0.0.1", models.LabelMalicious),
		rec(2, "10.0.0.2", models.LabelBenign),
		rec(3, "10.0.0.3", models.LabelBenign),
		rec(4, "10.0.0.4", models.LabelUnknown),
	}
	verdicts := []models.RuleVerdict{{Kind: models.VerdictKindRecord, RecordIDs: []int{0, 2, 4}}}
	ev, err := New(config.EvaluationConfig{RequireLabels: true}).Evaluate("run", records, verdicts)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	c := ev.Summary.Classification
	if c == nil {
		t.Fatalf("expected classification report")
	}
	want := models.ConfusionMatrix{TruePositives: 1, FalsePositives: 1, TrueNegatives: 1, FalseNegatives: 1}
	if c.Matrix != want || c.LabeledRecords != 4 {
		t.Fatalf("unexpected matrix %+v", c.Matrix)
	}
	for name, expected := range map[string]float64{MetricPrecision: 0.5, MetricRecall: 0.5, MetricF1: 0.5, MetricAccuracy: 0.5} {
		got, err := ev.Metric(name)
		if err != nil || got != expected {
			t.Fatalf("metric %s: expected %v, got %v (%v)", name, expected, got, err)
		}
	}
	if ev.Summary.FalsePositiveRateIsProxy || ev.Summary.FalsePositiveRate != 50 {
		t.Fatalf("expected measured fpr 50, got %v", ev.Summary.FalsePositiveRate)
	}
}

func TestEvaluateRequireLabelsWithoutLabels(t *testing.T) {
	records := []models.TrafficRecord{rec(0, "10.0.0.1", models.LabelUnknown)}
	ev, err := New(config.EvaluationConfig{RequireLabels: true}).Evaluate("run", records, nil)
	var missing *models.MissingLabelsError
	if !errors.As(err, &missing) || missing.Metric != MetricClassification {
		t.Fatalf("expected MissingLabelsError naming classification, got %v", err)
	}
	if ev.Summary.TotalRecords != 1 {
		t.Fatalf("expected summary returned alongside error")
	}
}

func TestRateBounds(t *testing.T) {
	if Rate(0, 0) != 0 || Rate(5, 0) != 0 {
		t.Fatalf("expected zero for zero denominators")
	}
	if Rate(1, 4) != 25 {
		t.Fatalf("expected 25, got %v", Rate(1, 4))
	}
}
