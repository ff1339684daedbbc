// Package aggregate implements the Aggregator (C7): series/dashboard/
// summary read queries over persisted MetricRows, per spec.md §4.7.
//
// Percentile computation is grounded on the teacher's internal/metrics.
// Collector, which records latencies into an HdrHistogram and reads
// ValueAtQuantile; here the same histogram is used over scaled percentage
// and rate values instead of request latencies.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/cwatcher/cwatcher/internal/cwerrors"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/store"
)

// Range is one of the fixed dashboard ranges (§4.7).
type Range string

const (
	Range1h  Range = "1h"
	Range6h  Range = "6h"
	Range24h Range = "24h"
	Range7d  Range = "7d"
	Range30d Range = "30d"
)

// bucketInterval is the fixed bucketing per range (§4.7).
func bucketInterval(r Range) (time.Duration, error) {
	switch r {
	case Range1h:
		return time.Minute, nil
	case Range6h:
		return 5 * time.Minute, nil
	case Range24h:
		return 15 * time.Minute, nil
	case Range7d:
		return 60 * time.Minute, nil
	case Range30d:
		return 240 * time.Minute, nil
	default:
		return 0, fmt.Errorf("unknown range %q", r)
	}
}

func rangeDuration(r Range) (time.Duration, error) {
	switch r {
	case Range1h:
		return time.Hour, nil
	case Range6h:
		return 6 * time.Hour, nil
	case Range24h:
		return 24 * time.Hour, nil
	case Range7d:
		return 7 * 24 * time.Hour, nil
	case Range30d:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown range %q", r)
	}
}

// Agg is one of the supported per-bucket aggregate functions (§4.7).
type Agg string

const (
	AggAvg   Agg = "avg"
	AggMax   Agg = "max"
	AggMin   Agg = "min"
	AggSum   Agg = "sum"
	AggCount Agg = "count"
	AggP95   Agg = "p95"
)

// Field names the row column a series/summary is computed over.
type Field string

const (
	FieldCPUUsage      Field = "cpu_usage_percent"
	FieldMemoryUsage   Field = "memory_usage_percent"
	FieldDiskUsage     Field = "disk_usage_percent"
	FieldNetworkRxRate Field = "network_rx_bytes_ps"
	FieldNetworkTxRate Field = "network_tx_bytes_ps"
)

func extract(row models.MetricRow, field Field) *float64 {
	switch field {
	case FieldCPUUsage:
		return row.CPUUsagePercent
	case FieldMemoryUsage:
		return row.MemoryUsagePercent
	case FieldDiskUsage:
		return row.DiskUsagePercent
	case FieldNetworkRxRate:
		return row.NetworkRxBytesPS
	case FieldNetworkTxRate:
		return row.NetworkTxBytesPS
	default:
		return nil
	}
}

func fieldUnit(field Field) string {
	switch field {
	case FieldCPUUsage, FieldMemoryUsage, FieldDiskUsage:
		return "percent"
	case FieldNetworkRxRate, FieldNetworkTxRate:
		return "bytes_per_second"
	default:
		return ""
	}
}

// Point is one bucketed {t, v} pair (§4.7).
type Point struct {
	T time.Time
	V float64
}

// Trend is the direction/percent comparison of first/last 25% of rows (§4.7).
type Trend struct {
	Direction string // "up" | "down" | "stable"
	Percent   float64
}

// ChartSummary is the `summary` sub-object of ChartData (§4.7).
type ChartSummary struct {
	Current float64
	Avg     float64
	Max     float64
	Min     float64
	P95     float64
	Samples int
	Trend   Trend
}

// ChartData is the return shape of series() (§4.7).
type ChartData struct {
	Field   Field
	Range   Range
	Unit    string
	Points  []Point
	Summary ChartSummary
}

// Aggregator is the Aggregator component (C7).
type Aggregator struct {
	store store.Store
}

// New constructs an Aggregator over s.
func New(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// percentile computes the p-th percentile (0-100) of values using an
// HdrHistogram, the same approach as the teacher's metrics.Collector.
// Values are scaled by 100 (two decimal digits of precision) before
// recording since HdrHistogram only tracks integers; this trades exact
// sorted-array linear interpolation for O(1) memory over an unbounded
// sample count, at the cost of the histogram's bucket-width approximation
// error (<1% for the 1..1_000_000_000_000 scaled range used here, i.e.
// values up to 10^10, wide enough for byte rates as well as percentages).
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	h := hdrhistogram.New(1, 1_000_000_000_000, 3)
	for _, v := range values {
		scaled := int64(v * 100)
		if scaled < h.LowestTrackableValue() {
			scaled = h.LowestTrackableValue()
		}
		if scaled > h.HighestTrackableValue() {
			scaled = h.HighestTrackableValue()
		}
		_ = h.RecordValue(scaled)
	}
	return float64(h.ValueAtQuantile(p)) / 100
}

func aggregate(values []float64, agg Agg) float64 {
	if len(values) == 0 {
		return 0
	}
	switch agg {
	case AggMax:
		m := values[0]
		for _, v := range values {
			if v > m {
				m = v
			}
		}
		return m
	case AggMin:
		m := values[0]
		for _, v := range values {
			if v < m {
				m = v
			}
		}
		return m
	case AggSum:
		var s float64
		for _, v := range values {
			s += v
		}
		return s
	case AggCount:
		return float64(len(values))
	case AggP95:
		return percentile(values, 95)
	default: // avg
		var s float64
		for _, v := range values {
			s += v
		}
		return s / float64(len(values))
	}
}

// Series computes series(target_id, field, range, agg) → ChartData (§4.7).
func (a *Aggregator) Series(ctx context.Context, targetID int64, field Field, rng Range, agg Agg) (ChartData, error) {
	interval, err := bucketInterval(rng)
	if err != nil {
		return ChartData{}, cwerrors.Validation("aggregate.series", "", err)
	}
	span, err := rangeDuration(rng)
	if err != nil {
		return ChartData{}, cwerrors.Validation("aggregate.series", "", err)
	}

	from := time.Now().Add(-span)
	rows, err := a.store.QueryRows(ctx, store.Filter{TargetID: targetID, From: from})
	if err != nil {
		return ChartData{}, cwerrors.Storage("aggregate.series", "", err)
	}

	buckets := make(map[int64][]float64)
	var bucketOrder []int64
	seen := make(map[int64]bool)
	for _, row := range rows {
		v := extract(row, field)
		if v == nil {
			continue
		}
		key := row.Timestamp.Truncate(interval).Unix()
		if !seen[key] {
			seen[key] = true
			bucketOrder = append(bucketOrder, key)
		}
		buckets[key] = append(buckets[key], *v)
	}
	sort.Slice(bucketOrder, func(i, j int) bool { return bucketOrder[i] < bucketOrder[j] })

	points := make([]Point, 0, len(bucketOrder))
	var allValues []float64
	for _, key := range bucketOrder {
		vals := buckets[key]
		points = append(points, Point{T: time.Unix(key, 0).UTC(), V: aggregate(vals, agg)})
		allValues = append(allValues, vals...)
	}

	summary := ChartSummary{Samples: len(allValues)}
	if len(allValues) > 0 {
		summary.Current = allValues[len(allValues)-1]
		summary.Avg = aggregate(allValues, AggAvg)
		summary.Max = aggregate(allValues, AggMax)
		summary.Min = aggregate(allValues, AggMin)
		summary.P95 = percentile(allValues, 95)
		summary.Trend = computeTrend(allValues)
	}

	return ChartData{Field: field, Range: rng, Unit: fieldUnit(field), Points: points, Summary: summary}, nil
}

// computeTrend compares the mean of the first 25% of values to the last
// 25%; |Δ|<5% ⇒ stable (§4.7). Ranges with fewer than 4 points report
// stable/0 to avoid divide-by-zero and noise on sparse series
// (SPEC_FULL.md §C).
func computeTrend(values []float64) Trend {
	if len(values) < 4 {
		return Trend{Direction: "stable", Percent: 0}
	}
	quarter := len(values) / 4
	firstMean := mean(values[:quarter])
	lastMean := mean(values[len(values)-quarter:])

	if firstMean == 0 {
		if lastMean == 0 {
			return Trend{Direction: "stable", Percent: 0}
		}
		return Trend{Direction: "up", Percent: 100}
	}

	pct := (lastMean - firstMean) / firstMean * 100
	if pct < 0 {
		pct = -pct
	}
	direction := "stable"
	if lastMean-firstMean > 0 && pct >= 5 {
		direction = "up"
	} else if lastMean-firstMean < 0 && pct >= 5 {
		direction = "down"
	} else {
		pct = 0
	}
	return Trend{Direction: direction, Percent: pct}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var s float64
	for _, v := range values {
		s += v
	}
	return s / float64(len(values))
}
