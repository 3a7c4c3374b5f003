package features

import (
	"net/netip"
	"sort"

	"github.com/miradorstack/mirador-botnet/internal/models"
)

type pairKey struct {
	src netip.Addr
	dst netip.Addr
}

// CommunicationFrequency counts records per (src, dst) pair, most frequent first.
// Ties are ordered by source then destination so the output is deterministic.
func CommunicationFrequency(records []models.TrafficRecord) []models.CommunicationPair {
	counts := make(map[pairKey]int)
	for _, rec := range records {
		counts[pairKey{rec.SrcAddress, rec.DstAddress}]++
	}
	pairs := make([]models.CommunicationPair, 0, len(counts))
	for k, c := range counts {
		pairs = append(pairs, models.CommunicationPair{Src: k.src, Dst: k.dst, Count: c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		if c := pairs[i].Src.Compare(pairs[j].Src); c != 0 {
			return c < 0
		}
		return pairs[i].Dst.Compare(pairs[j].Dst) < 0
	})
	return pairs
}

// Centralization returns the topN destinations by inbound record count. Heavily
// shared destinations are the usual C2 candidates.
func Centralization(records []models.TrafficRecord, topN int) []models.DestinationLoad {
	if len(records) == 0 || topN <= 0 {
		return nil
	}
	inbound := make(map[netip.Addr]int)
	sources := make(map[netip.Addr]map[netip.Addr]struct{})
	for _, rec := range records {
		inbound[rec.DstAddress]++
		set, ok := sources[rec.DstAddress]
		if !ok {
			set = make(map[netip.Addr]struct{})
			sources[rec.DstAddress] = set
		}
		set[rec.SrcAddress] = struct{}{}
	}

	loads := make([]models.DestinationLoad, 0, len(inbound))
	total := float64(len(records))
	for dst, count := range inbound {
		loads = append(loads, models.DestinationLoad{
			Dst:           dst,
			InboundCount:  count,
			UniqueSources: len(sources[dst]),
			SharePercent:  float64(count) * 100 / total,
		})
	}
	sort.Slice(loads, func(i, j int) bool {
		if loads[i].InboundCount != loads[j].InboundCount {
			return loads[i].InboundCount > loads[j].InboundCount
		}
		return loads[i].Dst.Compare(loads[j].Dst) < 0
	})
	if len(loads) > topN {
		loads = loads[:topN]
	}
	return loads
}
