// Package wire maps domain values to protobuf Struct messages shared by the
// gRPC service, the HTTP API and the NATS sink.
package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-botnet/internal/models"
)

// SummaryToStruct converts a detection summary.
func SummaryToStruct(s models.DetectionSummary) (*structpb.Struct, error) {
	return structpb.NewStruct(summaryMap(s))
}

// RunResultToStruct converts a run result. Flagged records are omitted; they
// are served separately and can be large.
func RunResultToStruct(r models.RunResult) (*structpb.Struct, error) {
	verdicts := make([]any, 0, len(r.Verdicts))
	for _, v := range r.Verdicts {
		verdicts = append(verdicts, map[string]any{
			"rule_name":       v.RuleName,
			"rule_type":       v.RuleType,
			"kind":            string(v.Kind),
			"mode":            v.Mode,
			"threshold":       v.ThresholdUsed,
			"flagged_keys":    len(v.FlaggedKeys),
			"flagged_records": len(v.RecordIDs),
		})
	}
	centralization := make([]any, 0, len(r.Views.Centralization))
	for _, d := range r.Views.Centralization {
		centralization = append(centralization, map[string]any{
			"dst_address":    d.Dst.String(),
			"inbound_count":  d.InboundCount,
			"unique_sources": d.UniqueSources,
			"share_percent":  d.SharePercent,
		})
	}
	return structpb.NewStruct(map[string]any{
		"run_id":         r.RunID,
		"started_at":     formatTime(r.StartedAt),
		"finished_at":    formatTime(r.FinishedAt),
		"ingest":         ingestMap(r.Ingest),
		"summary":        summaryMap(r.Summary),
		"verdicts":       verdicts,
		"centralization": centralization,
	})
}

// RunInfoToStruct converts a run listing entry.
func RunInfoToStruct(info models.RunInfo) (*structpb.Struct, error) {
	return structpb.NewStruct(runInfoMap(info))
}

// RunListToStruct converts a list of runs into {"runs": [...]}.
func RunListToStruct(infos []models.RunInfo) (*structpb.Struct, error) {
	runs := make([]any, 0, len(infos))
	for _, info := range infos {
		runs = append(runs, runInfoMap(info))
	}
	return structpb.NewStruct(map[string]any{"runs": runs})
}

// RecordsToStruct converts flagged records into {"run_id": id, "records": [...], "total": n}.
func RecordsToStruct(runID string, records []models.TrafficRecord, total int) (*structpb.Struct, error) {
	out := make([]any, 0, len(records))
	for _, rec := range records {
		out = append(out, RecordMap(rec))
	}
	return structpb.NewStruct(map[string]any{"run_id": runID, "records": out, "total": total})
}

// RecordMap flattens a record into structpb-compatible values.
func RecordMap(rec models.TrafficRecord) map[string]any {
	return map[string]any{
		"id":                    rec.ID,
		"source":                rec.Source,
		"timestamp":             formatTime(rec.Timestamp),
		"src_address":           rec.SrcAddress.String(),
		"dst_address":           rec.DstAddress.String(),
		"protocol":              string(rec.Protocol),
		"size_bytes":            rec.SizeBytes,
		"inter_arrival_seconds": rec.InterArrivalSeconds,
		"label":                 labelString(rec.Label),
	}
}

// RunRequestFromStruct reads an optional run request. Recognised fields are
// sources, size_threshold, interval_threshold, interval_mode and request_threshold.
func RunRequestFromStruct(s *structpb.Struct) (models.RunRequest, error) {
	var req models.RunRequest
	if s == nil {
		return req, nil
	}
	fields := s.GetFields()
	if v, ok := fields["sources"]; ok {
		list := v.GetListValue()
		if list == nil {
			return req, fmt.Errorf("sources must be a list of strings")
		}
		for i, item := range list.GetValues() {
			str, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return req, fmt.Errorf("sources[%d] must be a string", i)
			}
			req.Sources = append(req.Sources, str.StringValue)
		}
	}
	var err error
	if req.Overrides.SizeThreshold, err = optionalNumber(fields, "size_threshold"); err != nil {
		return req, err
	}
	if req.Overrides.IntervalThreshold, err = optionalNumber(fields, "interval_threshold"); err != nil {
		return req, err
	}
	if req.Overrides.RequestThreshold, err = optionalNumber(fields, "request_threshold"); err != nil {
		return req, err
	}
	if v, ok := fields["interval_mode"]; ok {
		str, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return req, fmt.Errorf("interval_mode must be a string")
		}
		req.Overrides.IntervalMode = str.StringValue
	}
	return req, nil
}

// StringField returns a string field or "" when absent or not a string.
func StringField(s *structpb.Struct, name string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[name].GetStringValue()
}

// IntField returns a numeric field truncated to int, or fallback when absent.
func IntField(s *structpb.Struct, name string, fallback int) int {
	if s == nil {
		return fallback
	}
	v, ok := s.GetFields()[name]
	if !ok {
		return fallback
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return fallback
	}
	return int(v.GetNumberValue())
}

func optionalNumber(fields map[string]*structpb.Value, name string) (*float64, error) {
	v, ok := fields[name]
	if !ok {
		return nil, nil
	}
	if _, isNull := v.GetKind().(*structpb.Value_NullValue); isNull {
		return nil, nil
	}
	num, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	if num.NumberValue < 0 {
		return nil, fmt.Errorf("%s must be non-negative", name)
	}
	f := num.NumberValue
	return &f, nil
}

func summaryMap(s models.DetectionSummary) map[string]any {
	outcomes := make([]any, 0, len(s.RuleOutcomes))
	for _, o := range s.RuleOutcomes {
		outcomes = append(outcomes, map[string]any{
			"rule_name":       o.RuleName,
			"rule_type":       o.RuleType,
			"kind":            string(o.Kind),
			"mode":            o.Mode,
			"threshold":       o.Threshold,
			"flagged_keys":    o.FlaggedKeys,
			"flagged_records": o.FlaggedRecords,
			"unique_sources":  o.UniqueSources,
		})
	}
	m := map[string]any{
		"run_id":                       s.RunID,
		"total_records":                s.TotalRecords,
		"flagged_records":              s.FlaggedRecords,
		"flagged_unique_sources":       s.FlaggedUniqueSources,
		"total_unique_sources":         s.TotalUniqueSources,
		"detection_rate":               s.DetectionRate,
		"flag_rate_by_unique_sources":  s.FlagRateByUniqueSources,
		"false_positive_rate":          s.FalsePositiveRate,
		"false_positive_rate_is_proxy": s.FalsePositiveRateIsProxy,
		"rule_outcomes":                outcomes,
	}
	if c := s.Classification; c != nil {
		m["classification"] = map[string]any{
			"true_positives":  c.Matrix.TruePositives,
			"false_positives": c.Matrix.FalsePositives,
			"true_negatives":  c.Matrix.TrueNegatives,
			"false_negatives": c.Matrix.FalseNegatives,
			"labeled_records": c.LabeledRecords,
			"precision":       c.Precision,
			"recall":          c.Recall,
			"f1":              c.F1,
			"accuracy":        c.Accuracy,
		}
	}
	return m
}

func ingestMap(r models.IngestReport) map[string]any {
	return map[string]any{
		"loaded":              stringList(r.Loaded),
		"skipped":             stringList(r.Skipped),
		"warnings":            stringList(r.Warnings),
		"rows_read":           r.RowsRead,
		"duplicates_removed":  r.DuplicatesRemoved,
		"imputed_sizes":       r.ImputedSizes,
		"imputed_intervals":   r.ImputedIntervals,
		"sanitized_addresses": r.SanitizedAddrs,
	}
}

func runInfoMap(info models.RunInfo) map[string]any {
	return map[string]any{
		"run_id":          info.RunID,
		"started_at":      formatTime(info.StartedAt),
		"finished_at":     formatTime(info.FinishedAt),
		"total_records":   info.TotalRecords,
		"flagged_records": info.FlaggedRecords,
		"detection_rate":  info.DetectionRate,
	}
}

func stringList(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}

func labelString(l models.Label) string {
	if l == models.LabelUnknown {
		return "unknown"
	}
	return string(l)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
