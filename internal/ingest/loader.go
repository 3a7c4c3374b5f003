package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/netip"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/miradorstack/mirador-botnet/internal/models"
	"github.com/miradorstack/mirador-botnet/internal/utils"
)

// Batch is the unified, deduplicated record set of one ingestion pass.
type Batch struct {
	Records []models.TrafficRecord
	Report  models.IngestReport
}

// Loader turns tabular shards into Traffic Records.
type Loader struct {
	logger *slog.Logger
}

// NewLoader constructs a Loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

type rawRow struct {
	timestamp   time.Time
	tsValid     bool
	src         netip.Addr
	dst         netip.Addr
	protocol    models.Protocol
	size        float64
	sizeValid   bool
	interval    float64
	intervValid bool
	label       models.Label
}

type parsedSource struct {
	name         string
	rows         []rawRow
	hasTimestamp bool
	hasInterval  bool
}

// Load reads every source, skipping the ones that fail, then concatenates,
// imputes, deduplicates and numbers the records.
func (l *Loader) Load(ctx context.Context, sources ...Source) (Batch, error) {
	var report models.IngestReport
	parsed := make([]parsedSource, 0, len(sources))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		ps, sanitized, err := l.readSource(ctx, src)
		if err != nil {
			warning := fmt.Sprintf("skipped source %s: %v", src.Name(), err)
			l.logger.Warn("skipping ingestion source", "source", src.Name(), "op", utils.ErrorOp(err), "error", err)
			report.Skipped = append(report.Skipped, src.Name())
			report.Warnings = append(report.Warnings, warning)
			continue
		}
		report.Loaded = append(report.Loaded, src.Name())
		report.RowsRead += len(ps.rows)
		report.SanitizedAddrs += sanitized
		parsed = append(parsed, ps)
	}

	if len(parsed) == 0 {
		return Batch{Report: report}, &models.NoDataError{Attempted: len(sources), Skipped: report.Skipped}
	}

	for i := range parsed {
		if parsed[i].hasTimestamp && !parsed[i].hasInterval {
			deriveIntervals(parsed[i].rows)
		}
	}

	report.ImputedSizes, report.ImputedIntervals = imputeMedians(parsed)

	for i := range parsed {
		if !parsed[i].hasTimestamp {
			synthesizeTimestamps(parsed[i].rows)
		}
	}

	records := make([]models.TrafficRecord, 0, report.RowsRead)
	seen := make(map[models.DedupKey]struct{}, report.RowsRead)
	for _, ps := range parsed {
		for _, row := range ps.rows {
			rec := models.TrafficRecord{
				Source:              ps.name,
				Timestamp:           row.timestamp,
				SrcAddress:          row.src,
				DstAddress:          row.dst,
				Protocol:            row.protocol,
				SizeBytes:           uint64(math.Round(row.size)),
				InterArrivalSeconds: row.interval,
				Label:               row.label,
			}
			key := rec.Key()
			if _, dup := seen[key]; dup {
				report.DuplicatesRemoved++
				continue
			}
			seen[key] = struct{}{}
			rec.ID = len(records)
			records = append(records, rec)
		}
	}

	l.logger.Info("ingestion complete",
		"sources_loaded", len(report.Loaded),
		"sources_skipped", len(report.Skipped),
		"records", len(records),
		"duplicates_removed", report.DuplicatesRemoved,
	)
	return Batch{Records: records, Report: report}, nil
}

func (l *Loader) readSource(ctx context.Context, src Source) (parsedSource, int, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return parsedSource{}, 0, utils.NewAppError("ingest.open", src.Name(), err)
	}
	defer rc.Close()

	df := dataframe.ReadCSV(rc,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return parsedSource{}, 0, utils.NewAppError("ingest.parse", src.Name(), df.Err)
	}
	if df.Nrow() == 0 {
		return parsedSource{}, 0, utils.NewAppError("ingest.parse", src.Name(), errors.New("source has no rows"))
	}

	cols := resolveColumns(df.Names())
	for _, required := range []string{colSrc, colDst, colSize} {
		if _, ok := cols[required]; !ok {
			return parsedSource{}, 0, &models.SchemaError{Source: src.Name(), Column: required}
		}
	}
	_, hasTimestamp := cols[colTimestamp]
	_, hasInterval := cols[colInterval]
	if !hasTimestamp && !hasInterval {
		return parsedSource{}, 0, &models.SchemaError{Source: src.Name(), Column: colTimestamp + "|" + colInterval}
	}

	column := func(canonical string) []string {
		name, ok := cols[canonical]
		if !ok {
			return nil
		}
		return df.Col(name).Records()
	}
	timestamps := column(colTimestamp)
	srcs := column(colSrc)
	dsts := column(colDst)
	protocols := column(colProtocol)
	sizes := column(colSize)
	intervals := column(colInterval)
	labels := column(colLabel)

	rows := make([]rawRow, df.Nrow())
	sanitized := 0
	badTimestamps := 0
	for i := range rows {
		row := &rows[i]
		var dirty bool
		row.src, dirty = parseAddress(srcs[i])
		if dirty {
			sanitized++
		}
		row.dst, dirty = parseAddress(dsts[i])
		if dirty {
			sanitized++
		}
		row.size, row.sizeValid = parseNumber(sizes[i])
		if intervals != nil {
			row.interval, row.intervValid = parseNumber(intervals[i])
		}
		if timestamps != nil {
			ts, err := utils.ParseTimestamp(timestamps[i])
			if err == nil {
				row.timestamp, row.tsValid = ts, true
			} else {
				row.timestamp = time.Unix(0, 0).UTC()
				badTimestamps++
			}
		}
		row.protocol = models.ProtocolOther
		if protocols != nil {
			row.protocol = models.ParseProtocol(protocols[i])
		}
		if labels != nil {
			row.label = models.ParseLabel(labels[i])
		}
	}
	if badTimestamps > 0 {
		l.logger.Warn("unparsable timestamps mapped to epoch", "source", src.Name(), "count", badTimestamps)
	}

	return parsedSource{
		name:         src.Name(),
		rows:         rows,
		hasTimestamp: hasTimestamp,
		hasInterval:  hasInterval,
	}, sanitized, nil
}

// deriveIntervals fills intervals from successive timestamp differences. The
// first row and rows next to an unparsable timestamp stay missing or zero.
func deriveIntervals(rows []rawRow) {
	for i := range rows {
		if i == 0 {
			rows[i].interval, rows[i].intervValid = 0, true
			continue
		}
		prev, cur := rows[i-1], rows[i]
		if !prev.tsValid || !cur.tsValid {
			continue
		}
		delta := cur.timestamp.Sub(prev.timestamp).Seconds()
		if delta < 0 {
			delta = 0
		}
		rows[i].interval, rows[i].intervValid = delta, true
	}
}

// synthesizeTimestamps places rows on the Unix axis by accumulating intervals.
func synthesizeTimestamps(rows []rawRow) {
	var elapsed float64
	for i := range rows {
		if i > 0 {
			elapsed += rows[i].interval
		}
		rows[i].timestamp = utils.EpochSeconds(elapsed)
		rows[i].tsValid = true
	}
}

// imputeMedians fills missing sizes and intervals with the median over the
// whole concatenated batch.
func imputeMedians(parsed []parsedSource) (int, int) {
	var sizes, intervals []float64
	for _, ps := range parsed {
		for _, row := range ps.rows {
			if row.sizeValid {
				sizes = append(sizes, row.size)
			}
			if row.intervValid {
				intervals = append(intervals, row.interval)
			}
		}
	}
	sizeFill, intervalFill := median(sizes), median(intervals)

	var filledSizes, filledIntervals int
	for i := range parsed {
		rows := parsed[i].rows
		for j := range rows {
			if !rows[j].sizeValid {
				rows[j].size, rows[j].sizeValid = sizeFill, true
				filledSizes++
			}
			if !rows[j].intervValid {
				rows[j].interval, rows[j].intervValid = intervalFill, true
				filledIntervals++
			}
		}
	}
	return filledSizes, filledIntervals
}
