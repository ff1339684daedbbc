package collectors

import (
	"context"
	"time"

	"github.com/cwatcher/cwatcher/internal/executor"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/sshpool"
)

// CPUCollector implements the CPU collector of §4.4.
type CPUCollector struct {
	runner     Runner
	snapshots  *SnapshotStore
	thresholds Thresholds
}

// NewCPUCollector constructs a CPUCollector.
func NewCPUCollector(r Runner, snapshots *SnapshotStore, th Thresholds) *CPUCollector {
	return &CPUCollector{runner: r, snapshots: snapshots, thresholds: th}
}

// Collect issues /proc/stat, lscpu, /proc/loadavg and uptime in parallel
// and folds them into a CPU MetricSample. Usage% is computed against a
// per-target previous /proc/stat snapshot; the first call after process
// start returns usage=0 and stores the snapshot (§4.4).
func (c *CPUCollector) Collect(ctx context.Context, cfg sshpool.AuthConfig, targetID int64, cc CallerContext) models.MetricSample {
	started := time.Now()
	results := runParallel(ctx, c.runner, cfg, cc, "proc_stat", "lscpu", "loadavg", "uptime")

	sample := models.MetricSample{TargetID: targetID, Kind: models.MetricCPU, CollectionSuccess: true, CollectionTime: time.Since(started)}
	cpu := &models.CPUMetrics{}

	statRes := results["proc_stat"]
	if statRes.Status != executor.StatusSuccess || statRes.Parsed == nil {
		sample.CollectionSuccess = false
		sample.ErrorMessage = "proc_stat: " + statRes.Error
	} else {
		total := statRes.Parsed["total"].(int64)
		idle := statRes.Parsed["idle"].(int64)
		prev, had := c.snapshots.swapCPU(targetID, total, idle, time.Now())
		usage := 0.0
		if had {
			dTotal := total - prev.total
			dIdle := idle - prev.idle
			if dTotal > 0 {
				usage = clamp(float64(dTotal-dIdle)/float64(dTotal)*100, 0, 100)
			}
		}
		cpu.UsagePercent = floatPtr(usage)
	}

	if r := results["loadavg"]; r.Status == executor.StatusSuccess && r.Parsed != nil {
		cpu.Load1 = floatPtr(r.Parsed["load1"].(float64))
		cpu.Load5 = floatPtr(r.Parsed["load5"].(float64))
		cpu.Load15 = floatPtr(r.Parsed["load15"].(float64))
	}

	if r := results["lscpu"]; r.Status == executor.StatusSuccess && r.Parsed != nil {
		if cores, ok := r.Parsed["cores"].(int); ok {
			cpu.Cores = intPtr(cores)
		}
		if mhz, ok := r.Parsed["max_mhz"].(float64); ok {
			cpu.MaxMHz = floatPtr(mhz)
		}
		if name, ok := r.Parsed["model_name"].(string); ok {
			cpu.ModelName = name
		}
	}

	sample.CPU = cpu
	sample.AlertLevel = c.alertLevel(sample)
	return sample
}

func (c *CPUCollector) alertLevel(s models.MetricSample) models.AlertLevel {
	if !s.CollectionSuccess || s.CPU == nil || s.CPU.UsagePercent == nil {
		return models.AlertUnknown
	}
	level := classify(*s.CPU.UsagePercent, c.thresholds.CPUWarn, c.thresholds.CPUCrit)
	if s.CPU.Load1 != nil {
		level = level.Max(classify(*s.CPU.Load1, c.thresholds.LoadWarn, c.thresholds.LoadCrit))
	}
	return level
}
