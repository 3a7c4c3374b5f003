package ingest

import "strings"

const (
	colTimestamp = "timestamp"
	colSrc       = "src_address"
	colDst       = "dst_address"
	colProtocol  = "protocol"
	colSize      = "size_bytes"
	colInterval  = "inter_arrival_seconds"
	colLabel     = "label"
)

// columnAliases maps canonical columns to the header spellings seen in tshark
// extracts, CTU-13 binetflow files and earlier pipeline outputs. Order matters:
// the first alias present in a header wins.
var columnAliases = map[string][]string{
	colTimestamp: {"timestamp", "frame.time_epoch", "frame.time", "starttime", "time"},
	colSrc:       {"src_address", "src_ip", "ip.src", "srcaddr", "source"},
	colDst:       {"dst_address", "dst_ip", "ip.dst", "dstaddr", "destination"},
	colProtocol:  {"protocol", "ip.proto", "proto"},
	colSize:      {"size_bytes", "packet_size", "frame.len", "frame length", "totbytes", "length"},
	colInterval:  {"inter_arrival_seconds", "time_interval", "frame.time_delta", "time_delta"},
	colLabel:     {"label", "is_malicious", "is_botnet"},
}

// resolveColumns returns canonical column -> header name for the columns present.
func resolveColumns(headers []string) map[string]string {
	normalized := make(map[string]string, len(headers))
	for _, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, ok := normalized[key]; !ok {
			normalized[key] = h
		}
	}
	resolved := make(map[string]string, len(columnAliases))
	for canonical, aliases := range columnAliases {
		for _, alias := range aliases {
			if header, ok := normalized[alias]; ok {
				resolved[canonical] = header
				break
			}
		}
	}
	return resolved
}

func isMissing(cell string) bool {
	switch strings.TrimSpace(cell) {
	case "", "NaN", "nan", "NA", "<nil>", "null", "NULL":
		return true
	}
	return false
}
