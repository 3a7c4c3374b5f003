package models

import (
	"net/netip"
	"time"
)

// CommunicationPair counts records exchanged between a source and a destination.
type CommunicationPair struct {
	Src   netip.Addr
	Dst   netip.Addr
	Count int
}

// DestinationLoad summarises inbound traffic concentration on one destination.
type DestinationLoad struct {
	Dst           netip.Addr
	InboundCount  int
	UniqueSources int
	SharePercent  float64
}

// TimeBucket aggregates volume over a fixed-width slice of the timestamp axis.
type TimeBucket struct {
	Start       time.Time
	TotalBytes  uint64
	PacketCount uint64
}

// SmoothedBucket is a TimeBucket after moving-average smoothing.
type SmoothedBucket struct {
	Start             time.Time
	PacketCountSmooth float64
	TotalBytesSmooth  float64
}

// PacketSizeView is the render-oriented packet size distribution.
// Sizes above Cap are dropped from the view; this is a lossy display simplification,
// not a detection filter.
type PacketSizeView struct {
	Cap       uint64
	Sizes     []uint64
	Truncated int
	Dividers  []float64
	Histogram []float64
	Mean      float64
	StdDev    float64
}

// FeatureViews bundles the derived views of one record set.
type FeatureViews struct {
	Pairs          []CommunicationPair
	Centralization []DestinationLoad
	Volume         []TimeBucket
	VolumeSmoothed []SmoothedBucket
	PacketSizes    PacketSizeView
	BucketWidth    time.Duration
	SmoothWindow   int
}
