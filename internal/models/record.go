package models

import (
	"net/netip"
	"strings"
	"time"
)

// UnspecifiedAddr is the sentinel used for null or unparsable addresses.
var UnspecifiedAddr = netip.IPv4Unspecified()

// TrafficRecord is a single ingested packet/flow row. Records are immutable once ingested.
type TrafficRecord struct {
	ID                  int
	Source              string
	Timestamp           time.Time
	SrcAddress          netip.Addr
	DstAddress          netip.Addr
	Protocol            Protocol
	SizeBytes           uint64
	InterArrivalSeconds float64
	Label               Label
}

// DedupKey identifies exact duplicate rows.
type DedupKey struct {
	Timestamp int64
	Src       netip.Addr
	Dst       netip.Addr
	Size      uint64
}

// Key returns the duplicate-detection key of the record.
func (r TrafficRecord) Key() DedupKey {
	return DedupKey{
		Timestamp: r.Timestamp.UnixNano(),
		Src:       r.SrcAddress,
		Dst:       r.DstAddress,
		Size:      r.SizeBytes,
	}
}

// Protocol enumerates transport protocols of interest.
type Protocol string

const (
	ProtocolTCP   Protocol = "TCP"
	ProtocolUDP   Protocol = "UDP"
	ProtocolOther Protocol = "other"
)

// ParseProtocol accepts names ("tcp") and IANA numbers ("6").
func ParseProtocol(value string) Protocol {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "tcp", "6":
		return ProtocolTCP
	case "udp", "17":
		return ProtocolUDP
	default:
		return ProtocolOther
	}
}

// Label is the ground-truth outcome of a record when known.
type Label string

const (
	LabelUnknown   Label = ""
	LabelBenign    Label = "benign"
	LabelMalicious Label = "malicious"
)

// Known reports whether the label carries ground truth.
func (l Label) Known() bool {
	return l == LabelBenign || l == LabelMalicious
}

// ParseLabel reconciles the legacy label encodings into a Label. It accepts boolean
// is_botnet/is_malicious cells as well as string labels, including CTU-13 flow labels
// such as "flow=From-Botnet-V42-UDP-DNS" or "flow=Background-TCP-Established".
func ParseLabel(value string) Label {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "", "nan", "na", "<nil>", "null":
		return LabelUnknown
	case "1", "1.0", "true", "t", "yes", "malicious", "botnet", "bot", "attack":
		return LabelMalicious
	case "0", "0.0", "false", "f", "no", "benign", "normal", "background":
		return LabelBenign
	}
	switch {
	case strings.Contains(v, "botnet"), strings.Contains(v, "malicious"):
		return LabelMalicious
	case strings.Contains(v, "normal"), strings.Contains(v, "background"), strings.Contains(v, "benign"):
		return LabelBenign
	default:
		return LabelUnknown
	}
}
