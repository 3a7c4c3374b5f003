package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006/01/02 15:04:05.999999999",
}

// tshark frame.time without the trailing zone abbreviation.
const frameTimeLayout = "Jan _2, 2006 15:04:05.999999999"

// zoneOffsets maps the abbreviations tshark prints to UTC offsets in seconds.
// time.Parse gives unknown abbreviations a zero offset, so they are resolved here.
var zoneOffsets = map[string]int{
	"UTC":  0,
	"GMT":  0,
	"WET":  0,
	"WEST": 1 * 3600,
	"BST":  1 * 3600,
	"CET":  1 * 3600,
	"CEST": 2 * 3600,
	"EET":  2 * 3600,
	"EEST": 3 * 3600,
	"EST":  -5 * 3600,
	"EDT":  -4 * 3600,
	"CST":  -6 * 3600,
	"CDT":  -5 * 3600,
	"MST":  -7 * 3600,
	"MDT":  -6 * 3600,
	"PST":  -8 * 3600,
	"PDT":  -7 * 3600,
	"JST":  9 * 3600,
}

// ParseTimestamp accepts Unix epoch seconds (fractional allowed) or a handful of
// textual layouts, including the tshark frame.time format. Results are UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("parse time: invalid epoch %q", value)
		}
		return EpochSeconds(f), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	if t, ok, err := parseFrameTime(value); ok {
		return t, err
	}
	return time.Time{}, fmt.Errorf("parse time: unsupported format %q", value)
}

// parseFrameTime handles "Aug 10, 2011 09:46:53.047277000 CEST". ok is false
// when value does not look like a tshark frame.time.
func parseFrameTime(value string) (time.Time, bool, error) {
	idx := strings.LastIndexByte(value, ' ')
	if idx < 0 {
		return time.Time{}, false, nil
	}
	body, zone := value[:idx], value[idx+1:]
	if !isZoneAbbrev(zone) {
		body, zone = value, ""
	}
	t, err := time.Parse(frameTimeLayout, body)
	if err != nil {
		return time.Time{}, false, nil
	}
	if zone == "" {
		return t.UTC(), true, nil
	}
	offset, known := zoneOffsets[strings.ToUpper(zone)]
	if !known {
		return time.Time{}, true, fmt.Errorf("parse time: unknown time zone %q in %q", zone, value)
	}
	t, _ = time.ParseInLocation(frameTimeLayout, body, time.FixedZone(zone, offset))
	return t.UTC(), true, nil
}

func isZoneAbbrev(s string) bool {
	if len(s) < 2 || len(s) > 5 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// EpochSeconds converts fractional Unix seconds to a UTC time.
func EpochSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// FloorTime truncates t to a multiple of width on the Unix axis.
func FloorTime(t time.Time, width time.Duration) time.Time {
	if width <= 0 {
		return t.UTC()
	}
	ns := t.UnixNano()
	w := int64(width)
	floored := ns - ns%w
	if ns%w < 0 {
		floored -= w
	}
	return time.Unix(0, floored).UTC()
}
