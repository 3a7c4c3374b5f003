package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/miradorstack/mirador-botnet/internal/models"
	"github.com/miradorstack/mirador-botnet/internal/wire"
)

// Artifact file names written under <root>/<run_id>/.
const (
	SummaryCSV        = "detection_summary.csv"
	FlaggedCSV        = "flagged_records.csv"
	FrequencyCSV      = "communication_frequency.csv"
	CentralizationCSV = "centralization.csv"
	VolumeCSV         = "traffic_volume.csv"
	PacketSizesCSV    = "packet_sizes.csv"
	SummaryJSON       = "summary.json"
)

// FileSink writes CSV tables and a JSON summary per run.
type FileSink struct {
	root string
}

// NewFileSink creates a sink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{root: dir}
}

// Name identifies the sink in logs and metrics.
func (s *FileSink) Name() string { return "file" }

// Dir returns the directory used for a run.
func (s *FileSink) Dir(runID string) string {
	return filepath.Join(s.root, runID)
}

// Write materialises every artifact of the run.
func (s *FileSink) Write(ctx context.Context, result models.RunResult) error {
	dir := s.Dir(result.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	tables := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{SummaryCSV, summaryHeader, SummaryRows(result.Summary)},
		{FlaggedCSV, recordHeader, RecordRows(result.Flagged)},
		{FrequencyCSV, []string{"src_address", "dst_address", "count"}, frequencyRows(result.Views.Pairs)},
		{CentralizationCSV, []string{"dst_address", "inbound_count", "unique_sources", "share_percent"}, centralizationRows(result.Views.Centralization)},
		{VolumeCSV, []string{"bucket_start", "total_bytes", "packet_count", "packet_count_smooth", "total_bytes_smooth"}, volumeRows(result.Views)},
		{PacketSizesCSV, []string{"bin_start", "bin_end", "count"}, sizeRows(result.Views.PacketSizes)},
	}
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeTable(filepath.Join(dir, table.name), table.header, table.rows); err != nil {
			return fmt.Errorf("write %s: %w", table.name, err)
		}
	}

	summary, err := wire.RunResultToStruct(result)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SummaryJSON), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", SummaryJSON, err)
	}
	return nil
}

func writeTable(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := encodeTable(f, header, rows); err != nil {
		return err
	}
	return f.Close()
}

// encodeTable renders rows through a gota DataFrame. An empty table still gets its header.
func encodeTable(w io.Writer, header []string, rows [][]string) error {
	if len(rows) == 0 {
		_, err := io.WriteString(w, strings.Join(header, ",")+"\n")
		return err
	}
	records := make([][]string, 0, len(rows)+1)
	records = append(records, header)
	records = append(records, rows...)
	df := dataframe.LoadRecords(records,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return df.Err
	}
	return df.WriteCSV(w)
}

var summaryHeader = []string{
	"rule_name", "rule_type", "kind", "mode", "threshold", "flagged_keys", "flagged_records", "unique_sources",
	"total_records", "detection_rate", "flag_rate_by_unique_sources", "false_positive_rate", "false_positive_rate_is_proxy",
}

// SummaryRows renders one row per rule outcome followed by the aggregate "all" row.
// Rule rows carry their own detection rate; the false-positive columns only apply to the aggregate.
func SummaryRows(s models.DetectionSummary) [][]string {
	rows := make([][]string, 0, len(s.RuleOutcomes)+1)
	for _, o := range s.RuleOutcomes {
		rows = append(rows, []string{
			o.RuleName, o.RuleType, string(o.Kind), o.Mode, formatFloat(o.Threshold),
			strconv.Itoa(o.FlaggedKeys), strconv.Itoa(o.FlaggedRecords), strconv.Itoa(o.UniqueSources),
			strconv.Itoa(s.TotalRecords), formatFloat(rate(o.FlaggedRecords, s.TotalRecords)),
			formatFloat(rate(o.UniqueSources, s.TotalUniqueSources)), "", "",
		})
	}
	rows = append(rows, []string{
		"all", "union", "", "", "",
		strconv.Itoa(s.FlaggedRecords), strconv.Itoa(s.FlaggedRecords), strconv.Itoa(s.FlaggedUniqueSources),
		strconv.Itoa(s.TotalRecords), formatFloat(s.DetectionRate), formatFloat(s.FlagRateByUniqueSources),
		formatFloat(s.FalsePositiveRate), strconv.FormatBool(s.FalsePositiveRateIsProxy),
	})
	return rows
}

var recordHeader = []string{
	"id", "source", "timestamp", "src_address", "dst_address", "protocol", "size_bytes", "inter_arrival_seconds", "label",
}

// RecordRows renders flagged records in the shard column naming.
func RecordRows(records []models.TrafficRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		label := string(rec.Label)
		if label == "" {
			label = "unknown"
		}
		rows = append(rows, []string{
			strconv.Itoa(rec.ID), rec.Source, rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.SrcAddress.String(), rec.DstAddress.String(), string(rec.Protocol),
			strconv.FormatUint(rec.SizeBytes, 10), formatFloat(rec.InterArrivalSeconds), label,
		})
	}
	return rows
}

func frequencyRows(pairs []models.CommunicationPair) [][]string {
	rows := make([][]string, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, []string{p.Src.String(), p.Dst.String(), strconv.Itoa(p.Count)})
	}
	return rows
}

func centralizationRows(loads []models.DestinationLoad) [][]string {
	rows := make([][]string, 0, len(loads))
	for _, d := range loads {
		rows = append(rows, []string{d.Dst.String(), strconv.Itoa(d.InboundCount), strconv.Itoa(d.UniqueSources), formatFloat(d.SharePercent)})
	}
	return rows
}

func volumeRows(views models.FeatureViews) [][]string {
	rows := make([][]string, 0, len(views.Volume))
	for i, b := range views.Volume {
		var countSmooth, bytesSmooth float64
		if i < len(views.VolumeSmoothed) {
			countSmooth = views.VolumeSmoothed[i].PacketCountSmooth
			bytesSmooth = views.VolumeSmoothed[i].TotalBytesSmooth
		}
		rows = append(rows, []string{
			b.Start.UTC().Format(time.RFC3339), strconv.FormatUint(b.TotalBytes, 10), strconv.FormatUint(b.PacketCount, 10),
			formatFloat(countSmooth), formatFloat(bytesSmooth),
		})
	}
	return rows
}

func sizeRows(view models.PacketSizeView) [][]string {
	rows := make([][]string, 0, len(view.Histogram))
	for i, count := range view.Histogram {
		upper := view.Dividers[i+1]
		if i == len(view.Histogram)-1 {
			upper = float64(view.Cap)
		}
		rows = append(rows, []string{formatFloat(view.Dividers[i]), formatFloat(upper), formatFloat(count)})
	}
	return rows
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) * 100 / float64(den)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
