package report

import (
	"bytes"
	"net/netip"
	"regexp"
	"strings"
	"testing"

	"github.com/miradorstack/mirador-botnet/internal/models"
)

var ansi = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func plain(s string) string { return ansi.ReplaceAllString(s, "") }

func sampleResult() models.RunResult {
	bot := netip.MustParseAddr("147.32.84.165")
	cc := netip.MustParseAddr("147.32.96.69")
	return models.RunResult{
		RunID: "run-9",
		Ingest: models.IngestReport{
			Loaded:   []string{"a.csv"},
			Skipped:  []string{"b.csv"},
			Warnings: []string{"skipped source b.csv: missing"},
			RowsRead: 12,
		},
		Views: models.FeatureViews{
			Pairs: []models.CommunicationPair{
				{Src: bot, Dst: cc, Count: 10},
				{Src: cc, Dst: bot, Count: 2},
			},
			Centralization: []models.DestinationLoad{{Dst: cc, InboundCount: 10, UniqueSources: 1, SharePercent: 83.33}},
		},
		Summary: models.DetectionSummary{
			RunID:                    "run-9",
			TotalRecords:             12,
			FlaggedRecords:           4,
			FlaggedUniqueSources:     1,
			TotalUniqueSources:       2,
			DetectionRate:            33.33,
			FlagRateByUniqueSources:  50,
			FalsePositiveRate:        3.33,
			FalsePositiveRateIsProxy: true,
			RuleOutcomes: []models.RuleOutcome{
				{RuleName: "large_packets", RuleType: "high_volume", Kind: models.VerdictKindRecord, Threshold: 1000, FlaggedRecords: 4, UniqueSources: 1},
				{RuleName: "chatty", RuleType: "frequent_requester", Kind: models.VerdictKindGroup, Threshold: 5, FlaggedKeys: 2, FlaggedRecords: 12, UniqueSources: 1},
				{RuleName: "fast", RuleType: "repeated_interval", Kind: models.VerdictKindRecord, Threshold: 0.05, Mode: "at_most"},
			},
		},
	}
}

func TestSummaryContents(t *testing.T) {
	out := plain(Summary(sampleResult(), Options{TopN: 1}))
	for _, want := range []string{
		"Detection run run-9",
		"33.33%",
		"(proxy, no labels)",
		"large_packets",
		"2 groups",
		"0.05 at_most",
		"147.32.84.165",
		"83.33%",
		"1 loaded, 1 skipped",
		"! skipped source b.csv: missing",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in summary:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Classification") {
		t.Fatalf("expected no classification section without labels")
	}
}

func TestSummaryClassification(t *testing.T) {
	result := sampleResult()
	result.Summary.FalsePositiveRateIsProxy = false
	result.Summary.Classification = &models.ClassificationReport{
		Matrix:         models.ConfusionMatrix{TruePositives: 3, FalsePositives: 1, TrueNegatives: 7, FalseNegatives: 1},
		LabeledRecords: 12,
		Precision:      0.75,
		Recall:         0.75,
		F1:             0.75,
		Accuracy:       10.0 / 12.0,
	}
	out := plain(Summary(result, Options{}))
	for _, want := range []string{"Classification", "3 / 1", "7 / 1", "0.750", "0.833"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in summary:\n%s", want, out)
		}
	}
	if strings.Contains(out, "proxy") {
		t.Fatalf("expected measured false positive rate")
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, sampleResult(), Options{}); err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") || !strings.Contains(plain(buf.String()), "Rules") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestRenderPairsHonoursTopN(t *testing.T) {
	out := plain(renderPairs(sampleResult().Views.Pairs, 1))
	if lines := strings.Split(out, "\n"); len(lines) != 3 {
		t.Fatalf("expected title, header and one pair, got %q", out)
	}
}

func TestTrimFloat(t *testing.T) {
	for in, want := range map[float64]string{1000: "1000", 0.05: "0.05", 0: "0"} {
		if got := trimFloat(in); got != want {
			t.Fatalf("trimFloat(%v): expected %q, got %q", in, want, got)
		}
	}
}

func TestRenderTableAlignsColumns(t *testing.T) {
	out := plain(renderTable([][]string{{"a", "b"}, {"long", "x"}}))
	lines := strings.Split(out, "\n")
	if len(lines) != 2 || strings.Index(lines[0], "b") != strings.Index(lines[1], "x") {
		t.Fatalf("expected aligned columns, got %q", out)
	}
}
