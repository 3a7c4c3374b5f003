package evaluator

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/models"
)

// Metric names accepted by Evaluation.Metric.
const (
	MetricDetectionRate  = "detection_rate"
	MetricSourceFlagRate = "flag_rate_by_unique_sources"
	MetricFalsePositive  = "false_positive_rate"
	MetricPrecision      = "precision"
	MetricRecall         = "recall"
	MetricF1             = "f1"
	MetricAccuracy       = "accuracy"
	MetricClassification = "classification"
)

const defaultProxyFactor = 0.1

// Evaluator merges rule verdicts and computes detection statistics.
type Evaluator struct {
	includeGroups bool
	proxyFactor   float64
	requireLabels bool
}

// New constructs an Evaluator.
func New(cfg config.EvaluationConfig) *Evaluator {
	factor := cfg.ProxyFactor
	if factor <= 0 {
		factor = defaultProxyFactor
	}
	return &Evaluator{
		includeGroups: cfg.IncludeGroupRules,
		proxyFactor:   factor,
		requireLabels: cfg.RequireLabels,
	}
}

// Evaluation is the aggregated outcome of a run.
type Evaluation struct {
	Summary models.DetectionSummary
	Flagged []models.TrafficRecord
}

// Metric returns a named metric. Label-dependent metrics fail with
// MissingLabelsError when the record set had no ground truth.
func (ev Evaluation) Metric(name string) (float64, error) {
	s := ev.Summary
	switch name {
	case MetricDetectionRate:
		return s.DetectionRate, nil
	case MetricSourceFlagRate:
		return s.FlagRateByUniqueSources, nil
	case MetricFalsePositive:
		return s.FalsePositiveRate, nil
	case MetricPrecision, MetricRecall, MetricF1, MetricAccuracy:
		if s.Classification == nil {
			return 0, &models.MissingLabelsError{Metric: name}
		}
		c := s.Classification
		switch name {
		case MetricPrecision:
			return c.Precision, nil
		case MetricRecall:
			return c.Recall, nil
		case MetricF1:
			return c.F1, nil
		default:
			return c.Accuracy, nil
		}
	default:
		return 0, fmt.Errorf("unknown metric %q", name)
	}
}

// Union returns the sorted, deduplicated record ids flagged by the verdicts.
// Group verdicts only contribute when includeGroups is set.
func Union(verdicts []models.RuleVerdict, includeGroups bool) []int {
	seen := make(map[int]struct{})
	for _, v := range verdicts {
		if v.Kind == models.VerdictKindGroup && !includeGroups {
			continue
		}
		for _, id := range v.RecordIDs {
			seen[id] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Evaluate unions the verdicts and computes rates against records. Verdicts are
// only read. When labels are required but absent the evaluation is still
// returned along with a MissingLabelsError.
func (e *Evaluator) Evaluate(runID string, records []models.TrafficRecord, verdicts []models.RuleVerdict) (Evaluation, error) {
	byID := make(map[int]int, len(records))
	allSources := make(map[netip.Addr]struct{})
	labeled := false
	for i, rec := range records {
		byID[rec.ID] = i
		allSources[rec.SrcAddress] = struct{}{}
		if rec.Label.Known() {
			labeled = true
		}
	}

	ids := Union(verdicts, e.includeGroups)
	flagged := make([]models.TrafficRecord, 0, len(ids))
	flaggedSet := make(map[int]struct{}, len(ids))
	flaggedSources := make(map[netip.Addr]struct{})
	for _, id := range ids {
		idx, ok := byID[id]
		if !ok {
			continue
		}
		rec := records[idx]
		flagged = append(flagged, rec)
		flaggedSet[rec.ID] = struct{}{}
		flaggedSources[rec.SrcAddress] = struct{}{}
	}

	summary := models.DetectionSummary{
		RunID:                   runID,
		TotalRecords:            len(records),
		FlaggedRecords:          len(flagged),
		FlaggedUniqueSources:    len(flaggedSources),
		TotalUniqueSources:      len(allSources),
		DetectionRate:           Rate(len(flagged), len(records)),
		FlagRateByUniqueSources: Rate(len(flaggedSources), len(allSources)),
		RuleOutcomes:            e.ruleOutcomes(records, byID, verdicts),
	}

	if labeled {
		report := classify(records, flaggedSet)
		summary.Classification = &report
		summary.FalsePositiveRate = Rate(report.Matrix.FalsePositives, report.Matrix.FalsePositives+report.Matrix.TrueNegatives)
	} else {
		summary.FalsePositiveRate = summary.DetectionRate * e.proxyFactor
		summary.FalsePositiveRateIsProxy = true
	}

	ev := Evaluation{Summary: summary, Flagged: flagged}
	if !labeled && e.requireLabels {
		return ev, &models.MissingLabelsError{Metric: MetricClassification}
	}
	return ev, nil
}

func (e *Evaluator) ruleOutcomes(records []models.TrafficRecord, byID map[int]int, verdicts []models.RuleVerdict) []models.RuleOutcome {
	outcomes := make([]models.RuleOutcome, 0, len(verdicts))
	for _, v := range verdicts {
		ids := make(map[int]struct{}, len(v.RecordIDs))
		sources := make(map[netip.Addr]struct{})
		for _, id := range v.RecordIDs {
			idx, ok := byID[id]
			if !ok {
				continue
			}
			ids[id] = struct{}{}
			sources[records[idx].SrcAddress] = struct{}{}
		}
		keys := len(v.FlaggedKeys)
		if v.Kind != models.VerdictKindGroup {
			keys = len(ids)
		}
		outcomes = append(outcomes, models.RuleOutcome{
			RuleName:       v.RuleName,
			RuleType:       v.RuleType,
			Kind:           v.Kind,
			Mode:           v.Mode,
			Threshold:      v.ThresholdUsed,
			FlaggedKeys:    keys,
			FlaggedRecords: len(ids),
			UniqueSources:  len(sources),
		})
	}
	return outcomes
}

// classify treats flagged records as positive predictions and compares them
// with ground truth on labeled records only.
func classify(records []models.TrafficRecord, flagged map[int]struct{}) models.ClassificationReport {
	var m models.ConfusionMatrix
	for _, rec := range records {
		if !rec.Label.Known() {
			continue
		}
		_, predicted := flagged[rec.ID]
		actual := rec.Label == models.LabelMalicious
		switch {
		case predicted && actual:
			m.TruePositives++
		case predicted && !actual:
			m.FalsePositives++
		case !predicted && !actual:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
	}
	labeled := m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
	report := models.ClassificationReport{
		Matrix:         m,
		LabeledRecords: labeled,
		Precision:      ratio(m.TruePositives, m.TruePositives+m.FalsePositives),
		Recall:         ratio(m.TruePositives, m.TruePositives+m.FalseNegatives),
		Accuracy:       ratio(m.TruePositives+m.TrueNegatives, labeled),
	}
	if report.Precision+report.Recall > 0 {
		report.F1 = 2 * report.Precision * report.Recall / (report.Precision + report.Recall)
	}
	return report
}

// Rate returns num/den as a percentage, 0 when den is 0.
func Rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) * 100 / float64(den)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
