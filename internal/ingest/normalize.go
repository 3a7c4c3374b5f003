package ingest

import (
	"math"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-botnet/internal/models"
)

// parseAddress sanitizes an address cell. The bool result reports whether the
// value had to be cleaned or replaced by the sentinel.
func parseAddress(cell string) (netip.Addr, bool) {
	value := strings.TrimSpace(cell)
	if isMissing(value) {
		return models.UnspecifiedAddr, true
	}
	sanitized := false
	// tshark emits tunnelled headers as "outer,inner"; keep the outer one.
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
		sanitized = true
	}
	if addr, ok := asIPv4(value); ok {
		return addr, sanitized
	}

	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, value)
	cleaned = strings.Trim(cleaned, ".")
	if addr, ok := asIPv4(cleaned); ok {
		return addr, true
	}
	if cleaned != "" && !strings.Contains(cleaned, ".") {
		if n, err := strconv.ParseUint(cleaned, 10, 32); err == nil {
			return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}), sanitized || cleaned != value
		}
	}
	// Integer-encoded values can arrive as floats ("3232235777.0").
	if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 && f <= math.MaxUint32 && f == math.Trunc(f) {
		n := uint32(f)
		return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}), true
	}
	return models.UnspecifiedAddr, true
}

func asIPv4(value string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, false
	}
	return addr, true
}

// parseNumber returns the value and whether it is usable. Negative, NaN and
// non-numeric cells are reported as missing.
func parseNumber(cell string) (float64, bool) {
	if isMissing(cell) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

// median of the observed values; the mean of the two middle values on even
// counts and 0 when nothing was observed.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
