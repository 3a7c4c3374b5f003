package features

import (
	"time"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/models"
)

// Deriver computes the feature views with configured parameters. It never
// mutates the records it is given.
type Deriver struct {
	bucketWidth  time.Duration
	smoothWindow int
	topN         int
	sizeCap      uint64
	bins         int
}

// NewDeriver builds a Deriver, falling back to defaults for unset values.
func NewDeriver(cfg config.FeaturesConfig) *Deriver {
	d := &Deriver{
		bucketWidth:  cfg.BucketWidth,
		smoothWindow: cfg.SmoothWindow,
		topN:         cfg.TopDestinations,
		sizeCap:      cfg.PacketSizeCap,
		bins:         cfg.HistogramBins,
	}
	if d.bucketWidth <= 0 {
		d.bucketWidth = time.Minute
	}
	if d.smoothWindow < 1 {
		d.smoothWindow = 5
	}
	if d.topN <= 0 {
		d.topN = 10
	}
	if d.sizeCap == 0 {
		d.sizeCap = 2000
	}
	if d.bins < 1 {
		d.bins = 50
	}
	return d
}

// Derive bundles the communication, volume and packet-size views.
func (d *Deriver) Derive(records []models.TrafficRecord) models.FeatureViews {
	volume := TrafficVolume(records, d.bucketWidth)
	return models.FeatureViews{
		Pairs:          CommunicationFrequency(records),
		Centralization: Centralization(records, d.topN),
		Volume:         volume,
		VolumeSmoothed: Smooth(volume, d.smoothWindow),
		PacketSizes:    PacketSizes(records, d.sizeCap, d.bins),
		BucketWidth:    d.bucketWidth,
		SmoothWindow:   d.smoothWindow,
	}
}
