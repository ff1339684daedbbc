package collectors

import (
	"context"
	"time"

	"github.com/cwatcher/cwatcher/internal/executor"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/sshpool"
)

// MemoryCollector implements the memory collector of §4.4.
type MemoryCollector struct {
	runner     Runner
	thresholds Thresholds
}

// NewMemoryCollector constructs a MemoryCollector.
func NewMemoryCollector(r Runner, th Thresholds) *MemoryCollector {
	return &MemoryCollector{runner: r, thresholds: th}
}

// Collect issues /proc/meminfo and free -b in parallel. Used = Total -
// Available; usage% = Used/Total*100; swap identically (§4.4).
func (c *MemoryCollector) Collect(ctx context.Context, cfg sshpool.AuthConfig, targetID int64, cc CallerContext) models.MetricSample {
	started := time.Now()
	results := runParallel(ctx, c.runner, cfg, cc, "meminfo", "free")

	sample := models.MetricSample{TargetID: targetID, Kind: models.MetricMemory, CollectionSuccess: true, CollectionTime: time.Since(started)}
	mem := &models.MemoryMetrics{}

	// Prefer /proc/meminfo (byte-accurate), fall back to free -b.
	meminfo := results["meminfo"]
	free := results["free"]

	if meminfo.Status == executor.StatusSuccess && meminfo.Parsed != nil {
		total, hasTotal := meminfo.Parsed["MemTotal"].(float64)
		avail, hasAvail := meminfo.Parsed["MemAvailable"].(float64)
		if hasTotal && hasAvail && total > 0 {
			used := total - avail
			mem.TotalMB = floatPtr(total / 1e6)
			mem.UsedMB = floatPtr(used / 1e6)
			mem.AvailableMB = floatPtr(avail / 1e6)
			mem.UsagePercent = floatPtr(clamp(used/total*100, 0, 100))
		}
	}
	if mem.TotalMB == nil && free.Status == executor.StatusSuccess && free.Parsed != nil {
		total, _ := free.Parsed["mem_total"].(float64)
		avail, hasAvail := free.Parsed["mem_available"].(float64)
		if !hasAvail {
			avail, _ = free.Parsed["mem_free"].(float64)
		}
		if total > 0 {
			used := total - avail
			mem.TotalMB = floatPtr(total / 1e6)
			mem.UsedMB = floatPtr(used / 1e6)
			mem.AvailableMB = floatPtr(avail / 1e6)
			mem.UsagePercent = floatPtr(clamp(used/total*100, 0, 100))
		}
	}
	if free.Status == executor.StatusSuccess && free.Parsed != nil {
		swapTotal, hasSwap := free.Parsed["swap_total"].(float64)
		swapUsed, hasUsed := free.Parsed["swap_used"].(float64)
		if hasSwap && hasUsed {
			mem.SwapTotalMB = floatPtr(swapTotal / 1e6)
			mem.SwapUsedMB = floatPtr(swapUsed / 1e6)
			if swapTotal > 0 {
				mem.SwapUsagePct = floatPtr(clamp(swapUsed/swapTotal*100, 0, 100))
			} else {
				mem.SwapUsagePct = floatPtr(0)
			}
		}
	}

	if mem.TotalMB == nil {
		sample.CollectionSuccess = false
		errMsg := "meminfo: " + meminfo.Error
		if free.Error != "" {
			errMsg += "; free: " + free.Error
		}
		sample.ErrorMessage = errMsg
	}

	sample.Memory = mem
	sample.AlertLevel = c.alertLevel(sample)
	return sample
}

func (c *MemoryCollector) alertLevel(s models.MetricSample) models.AlertLevel {
	if !s.CollectionSuccess || s.Memory == nil || s.Memory.UsagePercent == nil {
		return models.AlertUnknown
	}
	return classify(*s.Memory.UsagePercent, c.thresholds.MemWarn, c.thresholds.MemCrit)
}
