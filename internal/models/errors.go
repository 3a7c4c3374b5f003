package models

import (
	"fmt"
	"strings"
)

// NoDataError is returned when no ingestion source produced records.
type NoDataError struct {
	Attempted int
	Skipped   []string
}

func (e *NoDataError) Error() string {
	if len(e.Skipped) == 0 {
		return fmt.Sprintf("no data: none of %d source(s) produced records", e.Attempted)
	}
	return fmt.Sprintf("no data: none of %d source(s) produced records (skipped: %s)", e.Attempted, strings.Join(e.Skipped, ", "))
}

// SchemaError reports a source that lacks a required column.
type SchemaError struct {
	Source string
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("source %s: missing required column %q", e.Source, e.Column)
}

// MissingLabelsError is returned when a label-dependent metric is requested but
// the record set carries no ground truth.
type MissingLabelsError struct {
	Metric string
}

func (e *MissingLabelsError) Error() string {
	return fmt.Sprintf("metric %q requires ground-truth labels, none present", e.Metric)
}
