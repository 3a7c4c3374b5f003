// Package report renders a run result as a terminal summary.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/miradorstack/mirador-botnet/internal/models"
)

const defaultTopN = 5

// Options tunes the rendered summary.
type Options struct {
	// TopN limits the pair and destination tables.
	TopN int
}

type kv struct {
	key   string
	value string
}

// Render writes the summary of result to w.
func Render(w io.Writer, result models.RunResult, opts Options) error {
	_, err := io.WriteString(w, Summary(result, opts)+"\n")
	return err
}

// Summary returns the rendered summary.
func Summary(result models.RunResult, opts Options) string {
	topN := opts.TopN
	if topN <= 0 {
		topN = defaultTopN
	}

	sections := []string{
		titleStyle.Render("Detection run " + result.RunID),
		panelStyle.Render(renderKV(summaryPairs(result.Summary))),
		panelStyle.Render(renderRules(result.Summary.RuleOutcomes)),
	}
	if c := result.Summary.Classification; c != nil {
		sections = append(sections, panelStyle.Render(renderClassification(*c)))
	}
	if len(result.Views.Pairs) > 0 {
		sections = append(sections, panelStyle.Render(renderPairs(result.Views.Pairs, topN)))
	}
	if len(result.Views.Centralization) > 0 {
		sections = append(sections, panelStyle.Render(renderCentralization(result.Views.Centralization, topN)))
	}
	sections = append(sections, panelStyle.Render(renderIngest(result.Ingest)))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func summaryPairs(s models.DetectionSummary) []kv {
	fpr := fmt.Sprintf("%.2f%%", s.FalsePositiveRate)
	if s.FalsePositiveRateIsProxy {
		fpr += dimStyle.Render(" (proxy, no labels)")
	}
	return []kv{
		{"Records", fmt.Sprintf("%d", s.TotalRecords)},
		{"Flagged", fmt.Sprintf("%d", s.FlaggedRecords)},
		{"Detection rate", rateColor(s.DetectionRate).Render(fmt.Sprintf("%.2f%%", s.DetectionRate))},
		{"Flagged sources", fmt.Sprintf("%d of %d (%.2f%%)", s.FlaggedUniqueSources, s.TotalUniqueSources, s.FlagRateByUniqueSources)},
		{"False positive rate", fpr},
	}
}

func renderKV(pairs []kv) string {
	width := 0
	for _, p := range pairs {
		width = max(width, lipgloss.Width(p.key))
	}
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		key := labelStyle.Render(p.key + ":")
		lines = append(lines, pad(key, width+2)+valueStyle.Render(p.value))
	}
	return strings.Join(lines, "\n")
}

func renderRules(outcomes []models.RuleOutcome) string {
	rows := [][]string{{"rule", "type", "threshold", "flagged", "sources"}}
	for _, o := range outcomes {
		threshold := trimFloat(o.Threshold)
		if o.Mode != "" {
			threshold += " " + o.Mode
		}
		flagged := fmt.Sprintf("%d", o.FlaggedRecords)
		if o.Kind == models.VerdictKindGroup {
			flagged = fmt.Sprintf("%d groups", o.FlaggedKeys)
		}
		rows = append(rows, []string{o.RuleName, o.RuleType, threshold, flagged, fmt.Sprintf("%d", o.UniqueSources)})
	}
	return headerStyle.Render("Rules") + "\n" + renderTable(rows)
}

func renderClassification(c models.ClassificationReport) string {
	m := c.Matrix
	return headerStyle.Render("Classification") + "\n" + renderKV([]kv{
		{"Labeled", fmt.Sprintf("%d", c.LabeledRecords)},
		{"TP / FP", fmt.Sprintf("%d / %d", m.TruePositives, m.FalsePositives)},
		{"TN / FN", fmt.Sprintf("%d / %d", m.TrueNegatives, m.FalseNegatives)},
		{"Precision", fmt.Sprintf("%.3f", c.Precision)},
		{"Recall", fmt.Sprintf("%.3f", c.Recall)},
		{"F1", fmt.Sprintf("%.3f", c.F1)},
		{"Accuracy", fmt.Sprintf("%.3f", c.Accuracy)},
	})
}

func renderPairs(pairs []models.CommunicationPair, topN int) string {
	rows := [][]string{{"source", "destination", "packets"}}
	for _, p := range pairs[:min(topN, len(pairs))] {
		rows = append(rows, []string{p.Src.String(), p.Dst.String(), fmt.Sprintf("%d", p.Count)})
	}
	return headerStyle.Render("Top pairs") + "\n" + renderTable(rows)
}

func renderCentralization(loads []models.DestinationLoad, topN int) string {
	rows := [][]string{{"destination", "inbound", "sources", "share"}}
	for _, d := range loads[:min(topN, len(loads))] {
		rows = append(rows, []string{d.Dst.String(), fmt.Sprintf("%d", d.InboundCount), fmt.Sprintf("%d", d.UniqueSources), fmt.Sprintf("%.2f%%", d.SharePercent)})
	}
	return headerStyle.Render("Top destinations") + "\n" + renderTable(rows)
}

func renderIngest(r models.IngestReport) string {
	pairs := []kv{
		{"Sources", fmt.Sprintf("%d loaded, %d skipped", len(r.Loaded), len(r.Skipped))},
		{"Rows read", fmt.Sprintf("%d", r.RowsRead)},
		{"Duplicates", fmt.Sprintf("%d", r.DuplicatesRemoved)},
		{"Imputed", fmt.Sprintf("%d sizes, %d intervals", r.ImputedSizes, r.ImputedIntervals)},
	}
	out := headerStyle.Render("Ingestion") + "\n" + renderKV(pairs)
	for _, warning := range r.Warnings {
		out += "\n" + warnStyle.Render("!") + " " + warning
	}
	return out
}

// renderTable left-aligns cells; the first row is the header.
func renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	lines := make([]string, 0, len(rows))
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			style := valueStyle
			if r == 0 {
				style = labelStyle
			}
			cells[i] = pad(style.Render(cell), widths[i])
		}
		lines = append(lines, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
	return strings.Join(lines, "\n")
}

// pad pads a styled string to the given visual width.
func pad(styled string, width int) string {
	visW := lipgloss.Width(styled)
	if visW >= width {
		return styled
	}
	return styled + strings.Repeat(" ", width-visW)
}

func trimFloat(f float64) string {
	s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", f), "0"), ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
