package engine

import (
	"fmt"
	"net/netip"
	"sort"
	"time"

	"github.com/miradorstack/mirador-botnet/internal/config"
	"github.com/miradorstack/mirador-botnet/internal/models"
	"github.com/miradorstack/mirador-botnet/internal/utils"
)

// Rule types understood by the engine.
const (
	RuleTypeHighVolume        = "high_volume"
	RuleTypeRepeatedInterval  = "repeated_interval"
	RuleTypeFrequentRequester = "frequent_requester"
)

// Input is the immutable record set every rule reads.
type Input struct {
	Records []models.TrafficRecord
}

// Rule is a pure threshold predicate over the record set.
type Rule interface {
	Name() string
	Type() string
	Threshold() float64
	Evaluate(in Input) models.RuleVerdict
}

// HighVolumeRule flags records strictly larger than Limit bytes.
type HighVolumeRule struct {
	RuleName string
	Limit    float64
}

func (r HighVolumeRule) Name() string       { return r.RuleName }
func (r HighVolumeRule) Type() string       { return RuleTypeHighVolume }
func (r HighVolumeRule) Threshold() float64 { return r.Limit }

// Evaluate flags size_bytes > Limit; a size equal to the limit is not flagged.
func (r HighVolumeRule) Evaluate(in Input) models.RuleVerdict {
	v := recordVerdict(r)
	for _, rec := range in.Records {
		if float64(rec.SizeBytes) > r.Limit {
			v.RecordIDs = append(v.RecordIDs, rec.ID)
		}
	}
	return v
}

// RepeatedIntervalRule flags records arriving at a suspiciously regular cadence.
// Mode is either config.IntervalModeAtMost (interval <= Limit) or
// config.IntervalModeExact (interval == Limit).
type RepeatedIntervalRule struct {
	RuleName string
	Limit    float64
	Mode     string
}

func (r RepeatedIntervalRule) Name() string       { return r.RuleName }
func (r RepeatedIntervalRule) Type() string       { return RuleTypeRepeatedInterval }
func (r RepeatedIntervalRule) Threshold() float64 { return r.Limit }

// Evaluate applies the configured comparison to each record's inter-arrival time.
func (r RepeatedIntervalRule) Evaluate(in Input) models.RuleVerdict {
	v := recordVerdict(r)
	v.Mode = r.Mode
	exact := r.Mode == config.IntervalModeExact
	for _, rec := range in.Records {
		iv := rec.InterArrivalSeconds
		if (exact && iv == r.Limit) || (!exact && iv <= r.Limit) {
			v.RecordIDs = append(v.RecordIDs, rec.ID)
		}
	}
	return v
}

// FrequentRequesterRule flags (time bucket, source) groups with more than Limit records.
type FrequentRequesterRule struct {
	RuleName string
	Limit    float64
	Bucket   time.Duration
}

func (r FrequentRequesterRule) Name() string       { return r.RuleName }
func (r FrequentRequesterRule) Type() string       { return RuleTypeFrequentRequester }
func (r FrequentRequesterRule) Threshold() float64 { return r.Limit }

type requesterKey struct {
	bucket int64
	src    netip.Addr
}

// Evaluate groups records by floored timestamp and source address. Flagged keys
// have the form "<bucket start RFC3339>|<src>" and RecordIDs lists every member.
func (r FrequentRequesterRule) Evaluate(in Input) models.RuleVerdict {
	bucket := r.Bucket
	if bucket <= 0 {
		bucket = time.Second
	}
	v := models.RuleVerdict{
		RuleName:      r.RuleName,
		RuleType:      r.Type(),
		Kind:          models.VerdictKindGroup,
		ThresholdUsed: r.Limit,
	}

	groups := make(map[requesterKey][]int)
	for _, rec := range in.Records {
		k := requesterKey{bucket: utils.FloorTime(rec.Timestamp, bucket).UnixNano(), src: rec.SrcAddress}
		groups[k] = append(groups[k], rec.ID)
	}

	flagged := make([]requesterKey, 0)
	for k, ids := range groups {
		if float64(len(ids)) > r.Limit {
			flagged = append(flagged, k)
		}
	}
	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].bucket != flagged[j].bucket {
			return flagged[i].bucket < flagged[j].bucket
		}
		return flagged[i].src.Compare(flagged[j].src) < 0
	})

	for _, k := range flagged {
		start := time.Unix(0, k.bucket).UTC()
		v.FlaggedKeys = append(v.FlaggedKeys, fmt.Sprintf("%s|%s", start.Format(time.RFC3339Nano), k.src))
		v.RecordIDs = append(v.RecordIDs, groups[k]...)
	}
	sort.Ints(v.RecordIDs)
	return v
}

func recordVerdict(r Rule) models.RuleVerdict {
	return models.RuleVerdict{
		RuleName:      r.Name(),
		RuleType:      r.Type(),
		Kind:          models.VerdictKindRecord,
		ThresholdUsed: r.Threshold(),
	}
}
