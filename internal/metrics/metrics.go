package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-botnet/internal/models"
)

const (
	// OutcomeSuccess labels successful detection runs.
	OutcomeSuccess = "success"
	// OutcomeError labels failed runs (no data, invalid overrides, sink failures).
	OutcomeError = "error"

	sourceLoaded  = "loaded"
	sourceSkipped = "skipped"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_botnet",
			Name:      "runs_total",
			Help:      "Total number of detection runs, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_botnet",
			Name:      "run_seconds",
			Help:      "Detection run latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	sourcesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_botnet",
			Name:      "sources_total",
			Help:      "Ingestion sources processed, partitioned by status.",
		},
		[]string{"status"},
	)

	recordsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_botnet",
			Name:      "records_ingested_total",
			Help:      "Traffic records ingested after deduplication.",
		},
	)

	flaggedRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mirador_botnet",
			Name:      "flagged_records",
			Help:      "Records flagged by each rule in the latest run.",
		},
		[]string{"rule"},
	)

	detectionRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_botnet",
			Name:      "detection_rate_percent",
			Help:      "Detection rate of the latest run in percent.",
		},
	)

	sinkFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_botnet",
			Name:      "sink_failures_total",
			Help:      "Result sink write failures, partitioned by sink.",
		},
		[]string{"sink"},
	)
)

// Register attaches mirador-botnet collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		sourcesTotal,
		recordsIngestedTotal,
		flaggedRecords,
		detectionRate,
		sinkFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a run duration and outcome label.
func ObserveRun(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	runsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveIngest records source outcomes and the ingested record count.
func ObserveIngest(report models.IngestReport, records int) {
	sourcesTotal.WithLabelValues(sourceLoaded).Add(float64(len(report.Loaded)))
	sourcesTotal.WithLabelValues(sourceSkipped).Add(float64(len(report.Skipped)))
	recordsIngestedTotal.Add(float64(records))
}

// ObserveSummary publishes per-rule flagged counts and the detection rate.
func ObserveSummary(summary models.DetectionSummary) {
	for _, outcome := range summary.RuleOutcomes {
		flaggedRecords.WithLabelValues(outcome.RuleName).Set(float64(outcome.FlaggedRecords))
	}
	detectionRate.Set(summary.DetectionRate)
}

// ObserveSinkFailure counts a failed sink write.
func ObserveSinkFailure(sink string) {
	sinkFailuresTotal.WithLabelValues(sink).Inc()
}
