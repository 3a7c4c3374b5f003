package features

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-botnet/internal/models"
	"github.com/miradorstack/mirador-botnet/internal/utils"
)

// maxFilledBuckets bounds gap filling. A stray epoch timestamp next to real
// capture times would otherwise expand into millions of empty buckets.
const maxFilledBuckets = 1 << 20

// TrafficVolume aggregates bytes and packets per fixed-width bucket on the Unix
// axis. Empty buckets between the first and last one are emitted as zeros.
func TrafficVolume(records []models.TrafficRecord, width time.Duration) []models.TimeBucket {
	if len(records) == 0 || width <= 0 {
		return nil
	}
	agg := make(map[int64]*models.TimeBucket)
	for _, rec := range records {
		start := utils.FloorTime(rec.Timestamp, width)
		key := start.UnixNano()
		b, ok := agg[key]
		if !ok {
			b = &models.TimeBucket{Start: start}
			agg[key] = b
		}
		b.TotalBytes += rec.SizeBytes
		b.PacketCount++
	}

	keys := make([]int64, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	first, last := keys[0], keys[len(keys)-1]
	span := (last-first)/int64(width) + 1
	if span > maxFilledBuckets {
		out := make([]models.TimeBucket, 0, len(keys))
		for _, k := range keys {
			out = append(out, *agg[k])
		}
		return out
	}

	out := make([]models.TimeBucket, 0, span)
	for k := first; k <= last; k += int64(width) {
		if b, ok := agg[k]; ok {
			out = append(out, *b)
			continue
		}
		out = append(out, models.TimeBucket{Start: time.Unix(0, k).UTC()})
	}
	return out
}

// Smooth applies a trailing moving average over window buckets. Leading
// buckets average over whatever history exists.
func Smooth(buckets []models.TimeBucket, window int) []models.SmoothedBucket {
	if len(buckets) == 0 {
		return nil
	}
	if window < 1 {
		window = 1
	}
	counts := make([]float64, len(buckets))
	bytes := make([]float64, len(buckets))
	for i, b := range buckets {
		counts[i] = float64(b.PacketCount)
		bytes[i] = float64(b.TotalBytes)
	}

	out := make([]models.SmoothedBucket, len(buckets))
	for i, b := range buckets {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = models.SmoothedBucket{
			Start:             b.Start,
			PacketCountSmooth: stat.Mean(counts[lo:i+1], nil),
			TotalBytesSmooth:  stat.Mean(bytes[lo:i+1], nil),
		}
	}
	return out
}
