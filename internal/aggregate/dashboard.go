package aggregate

import (
	"context"
	"time"

	"github.com/cwatcher/cwatcher/internal/cwerrors"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/store"
)

// DashboardStatus is the derived overall status of dashboard() (§4.7).
type DashboardStatus string

const (
	StatusNormal   DashboardStatus = "normal"
	StatusWarning  DashboardStatus = "warning"
	StatusCritical DashboardStatus = "critical"
	StatusUnknown  DashboardStatus = "unknown"
)

// Dashboard is the return shape of dashboard() (§4.7).
type Dashboard struct {
	TargetID      int64
	Range         Range
	Timestamp     time.Time
	Charts        map[Field]ChartData
	CurrentValues map[Field]*float64
	Status        DashboardStatus
}

// Dashboard computes dashboard(target_id, range) (§4.7). status is derived
// from the latest row: critical if cpu≥90 ∨ mem≥95 ∨ disk≥95; warning if
// cpu≥80 ∨ mem≥85 ∨ disk≥90; else normal. Absent data ⇒ unknown.
func (a *Aggregator) Dashboard(ctx context.Context, targetID int64, rng Range) (Dashboard, error) {
	fields := []Field{FieldCPUUsage, FieldMemoryUsage, FieldDiskUsage}
	charts := make(map[Field]ChartData, len(fields))
	for _, f := range fields {
		cd, err := a.Series(ctx, targetID, f, rng, AggAvg)
		if err != nil {
			return Dashboard{}, err
		}
		charts[f] = cd
	}

	latest, found, err := a.store.LatestRow(ctx, targetID)
	if err != nil {
		return Dashboard{}, cwerrors.Storage("aggregate.dashboard", "", err)
	}

	current := map[Field]*float64{
		FieldCPUUsage:    nil,
		FieldMemoryUsage: nil,
		FieldDiskUsage:   nil,
	}
	status := StatusUnknown
	if found {
		current[FieldCPUUsage] = latest.CPUUsagePercent
		current[FieldMemoryUsage] = latest.MemoryUsagePercent
		current[FieldDiskUsage] = latest.DiskUsagePercent
		status = dashboardStatus(latest)
	}

	return Dashboard{
		TargetID: targetID, Range: rng, Timestamp: time.Now().UTC(),
		Charts: charts, CurrentValues: current, Status: status,
	}, nil
}

func dashboardStatus(row models.MetricRow) DashboardStatus {
	level := row.OverallAlertLevel(90, 95, 95, 80, 85, 90)
	switch level {
	case models.AlertCritical:
		return StatusCritical
	case models.AlertWarning:
		return StatusWarning
	case models.AlertUnknown:
		return StatusUnknown
	default:
		return StatusNormal
	}
}

// Totals is the return shape of summary() (§4.7).
type Totals struct {
	Samples   int
	Averages  map[Field]float64
	Peaks     map[Field]float64
}

// maxSummaryWindow caps summary()'s query window at one year (§4.7).
const maxSummaryWindow = 365 * 24 * time.Hour

// Summary computes summary(target_id, from, to) with a 1-year query cap
// (§4.7).
func (a *Aggregator) Summary(ctx context.Context, targetID int64, from, to time.Time) (Totals, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.Before(to.Add(-maxSummaryWindow)) {
		from = to.Add(-maxSummaryWindow)
	}

	rows, err := a.store.QueryRows(ctx, store.Filter{TargetID: targetID, From: from, To: to})
	if err != nil {
		return Totals{}, cwerrors.Storage("aggregate.summary", "", err)
	}

	fields := []Field{FieldCPUUsage, FieldMemoryUsage, FieldDiskUsage}
	averages := make(map[Field]float64, len(fields))
	peaks := make(map[Field]float64, len(fields))
	for _, f := range fields {
		var values []float64
		for _, row := range rows {
			if v := extract(row, f); v != nil {
				values = append(values, *v)
			}
		}
		averages[f] = aggregate(values, AggAvg)
		peaks[f] = aggregate(values, AggMax)
	}

	return Totals{Samples: len(rows), Averages: averages, Peaks: peaks}, nil
}
