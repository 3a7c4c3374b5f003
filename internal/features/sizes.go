package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-botnet/internal/models"
)

// PacketSizes returns the packet-size distribution restricted to sizes <= sizeCap.
// Larger packets are left out of the view only; they are not filtered from detection.
func PacketSizes(records []models.TrafficRecord, sizeCap uint64, bins int) models.PacketSizeView {
	if bins < 1 {
		bins = 1
	}
	view := models.PacketSizeView{Cap: sizeCap}
	values := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.SizeBytes > sizeCap {
			view.Truncated++
			continue
		}
		view.Sizes = append(view.Sizes, rec.SizeBytes)
		values = append(values, float64(rec.SizeBytes))
	}

	view.Dividers = floats.Span(make([]float64, bins+1), 0, float64(sizeCap))
	// Upper edge is exclusive in stat.Histogram; nudge it so sizeCap lands in the last bin.
	view.Dividers[bins] = math.Nextafter(float64(sizeCap), math.Inf(1))

	sort.Float64s(values)
	view.Histogram = stat.Histogram(nil, view.Dividers, values, nil)
	if len(values) > 0 {
		view.Mean = stat.Mean(values, nil)
	}
	if len(values) > 1 {
		view.StdDev = stat.StdDev(values, nil)
	}
	return view
}
