package utils

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	cases := map[string]time.Time{
		"1313583848.5":                         time.Unix(1313583848, 500000000).UTC(),
		"2011-08-17T12:24:08Z":                 time.Date(2011, 8, 17, 12, 24, 8, 0, time.UTC),
		"2011-08-17 12:24:08.250":              time.Date(2011, 8, 17, 12, 24, 8, 250000000, time.UTC),
		"Aug 17, 2011 12:24:08.000 UTC":        time.Date(2011, 8, 17, 12, 24, 8, 0, time.UTC),
		// CTU-13 captures were taken in Prague
		"Aug 10, 2011 09:46:53.047277000 CEST": time.Date(2011, 8, 10, 7, 46, 53, 47277000, time.UTC),
		"Aug  9, 2011 23:00:00.5 CET":          time.Date(2011, 8, 9, 22, 0, 0, 500000000, time.UTC),
		"Aug 10, 2011 09:46:53":                time.Date(2011, 8, 10, 9, 46, 53, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) returned error: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q): expected %v, got %v", in, want, got)
		}
	}

	for _, bad := range []string{"", "yesterday", "NaN", "Aug 10, 2011 09:46:53.0 XYZT"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFloorTime(t *testing.T) {
	ts := time.Date(2011, 8, 17, 12, 24, 38, 900, time.UTC)
	if got := FloorTime(ts, time.Minute); !got.Equal(time.Date(2011, 8, 17, 12, 24, 0, 0, time.UTC)) {
		t.Fatalf("unexpected minute floor %v", got)
	}
	if got := FloorTime(ts, time.Second); !got.Equal(time.Date(2011, 8, 17, 12, 24, 38, 0, time.UTC)) {
		t.Fatalf("unexpected second floor %v", got)
	}
	before := time.Unix(-1, 0)
	if got := FloorTime(before, time.Minute); !got.Equal(time.Unix(-60, 0).UTC()) {
		t.Fatalf("expected floor toward negative infinity, got %v", got)
	}
}
