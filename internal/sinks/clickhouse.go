package sinks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/models"
)

const createSummariesTableStatement = `
CREATE TABLE IF NOT EXISTS detection_summaries (
    RunID                    String,
    FinishedAt               DateTime64(3),
    RuleName                 String,
    RuleType                 String,
    Kind                     String,
    Mode                     String,
    Threshold                Float64,
    FlaggedRecords           UInt64,
    UniqueSources            UInt64,
    TotalRecords             UInt64,
    DetectionRate            Float64,
    FlagRateByUniqueSources  Float64,
    FalsePositiveRate        Float64,
    FalsePositiveRateIsProxy UInt8
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(FinishedAt)
ORDER BY (RunID, RuleName);
`

const createFlaggedTableStatement = `
CREATE TABLE IF NOT EXISTS flagged_records (
    RunID               String,
    RecordID            UInt64,
    Source              String,
    Timestamp           DateTime64(9),
    SrcAddress          String,
    DstAddress          String,
    Protocol            String,
    SizeBytes           UInt64,
    InterArrivalSeconds Float64,
    Label               String
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (RunID, RecordID);
`

// ClickHouseSink stores per-rule summaries and flagged records for later analysis.
type ClickHouseSink struct {
	conn   driver.Conn
	logger *slog.Logger
}

// NewClickHouseSink connects, pings and makes sure both tables exist.
func NewClickHouseSink(ctx context.Context, cfg config.ClickHouseSinkConfig, logger *slog.Logger) (*ClickHouseSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	for _, stmt := range []string{createSummariesTableStatement, createFlaggedTableStatement} {
		if err := conn.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create clickhouse table: %w", err)
		}
	}
	logger.Info("clickhouse sink ready", slog.Any("addr", cfg.Addr), slog.String("database", cfg.Database))
	return &ClickHouseSink{conn: conn, logger: logger}, nil
}

// Name identifies the sink in logs and metrics.
func (s *ClickHouseSink) Name() string { return "clickhouse" }

// Write inserts the run summary rows and the flagged records in two batches.
func (s *ClickHouseSink) Write(ctx context.Context, result models.RunResult) error {
	if err := s.insert(ctx, "INSERT INTO detection_summaries", summaryRowsCH(result)); err != nil {
		return fmt.Errorf("detection_summaries: %w", err)
	}
	if err := s.insert(ctx, "INSERT INTO flagged_records", flaggedRowsCH(result)); err != nil {
		return fmt.Errorf("flagged_records: %w", err)
	}
	s.logger.Debug("wrote run to clickhouse", slog.String("run_id", result.RunID), slog.Int("flagged", len(result.Flagged)))
	return nil
}

// Close releases the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

func (s *ClickHouseSink) insert(ctx context.Context, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// summaryRowsCH builds detection_summaries rows: one per rule plus the "all" aggregate.
func summaryRowsCH(result models.RunResult) [][]any {
	s := result.Summary
	finished := result.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	proxy := uint8(0)
	if s.FalsePositiveRateIsProxy {
		proxy = 1
	}
	rows := make([][]any, 0, len(s.RuleOutcomes)+1)
	for _, o := range s.RuleOutcomes {
		rows = append(rows, []any{
			result.RunID, finished, o.RuleName, o.RuleType, string(o.Kind), o.Mode, o.Threshold,
			uint64(o.FlaggedRecords), uint64(o.UniqueSources), uint64(s.TotalRecords),
			rate(o.FlaggedRecords, s.TotalRecords), rate(o.UniqueSources, s.TotalUniqueSources), 0.0, uint8(0),
		})
	}
	rows = append(rows, []any{
		result.RunID, finished, "all", "union", "", "", 0.0,
		uint64(s.FlaggedRecords), uint64(s.FlaggedUniqueSources), uint64(s.TotalRecords),
		s.DetectionRate, s.FlagRateByUniqueSources, s.FalsePositiveRate, proxy,
	})
	return rows
}

func flaggedRowsCH(result models.RunResult) [][]any {
	rows := make([][]any, 0, len(result.Flagged))
	for _, rec := range result.Flagged {
		rows = append(rows, []any{
			result.RunID, uint64(rec.ID), rec.Source, rec.Timestamp.UTC(),
			rec.SrcAddress.String(), rec.DstAddress.String(), string(rec.Protocol),
			rec.SizeBytes, rec.InterArrivalSeconds, string(rec.Label),
		})
	}
	return rows
}
