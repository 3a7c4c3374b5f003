package models

import "time"

// VerdictKind tells whether a verdict flags individual records or groups of records.
type VerdictKind string

const (
	VerdictKindRecord VerdictKind = "record"
	VerdictKindGroup  VerdictKind = "group"
)

// RuleVerdict is the output of a single rule evaluation.
type RuleVerdict struct {
	RuleName      string
	RuleType      string
	Kind          VerdictKind
	Mode          string
	ThresholdUsed float64
	FlaggedKeys   []string
	RecordIDs     []int
}

// RuleOutcome is the per-rule line of a detection summary.
type RuleOutcome struct {
	RuleName       string
	RuleType       string
	Kind           VerdictKind
	Mode           string
	Threshold      float64
	FlaggedKeys    int
	FlaggedRecords int
	UniqueSources  int
}

// ConfusionMatrix counts predictions against ground truth, flagged meaning positive.
type ConfusionMatrix struct {
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
}

// ClassificationReport holds label-dependent metrics.
type ClassificationReport struct {
	Matrix         ConfusionMatrix
	LabeledRecords int
	Precision      float64
	Recall         float64
	F1             float64
	Accuracy       float64
}

// DetectionSummary is the terminal artifact of a pipeline run.
type DetectionSummary struct {
	RunID                    string
	TotalRecords             int
	FlaggedRecords           int
	FlaggedUniqueSources     int
	TotalUniqueSources       int
	DetectionRate            float64
	FlagRateByUniqueSources  float64
	FalsePositiveRate        float64
	FalsePositiveRateIsProxy bool
	Classification           *ClassificationReport
	RuleOutcomes             []RuleOutcome
}

// IngestReport describes what happened while loading sources.
type IngestReport struct {
	Loaded            []string
	Skipped           []string
	Warnings          []string
	RowsRead          int
	DuplicatesRemoved int
	ImputedSizes      int
	ImputedIntervals  int
	SanitizedAddrs    int
}

// RunResult carries everything a pipeline run produced.
type RunResult struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Ingest     IngestReport
	Views      FeatureViews
	Verdicts   []RuleVerdict
	Summary    DetectionSummary
	Flagged    []TrafficRecord
}

// RunRequest parameterises a pipeline run. Zero values fall back to configuration.
type RunRequest struct {
	Sources   []string
	Overrides ThresholdOverrides
}

// ThresholdOverrides replace configured rule parameters for one run.
type ThresholdOverrides struct {
	SizeThreshold     *float64
	IntervalThreshold *float64
	IntervalMode      string
	RequestThreshold  *float64
}

// RunInfo is the compact listing form of a stored run.
type RunInfo struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	TotalRecords   int
	FlaggedRecords int
	DetectionRate  float64
}
