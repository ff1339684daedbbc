package collectors

import (
	"bufio"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cwatcher/cwatcher/internal/executor"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/sshpool"
)

// DiskCollector implements the disk collector of §4.4.
type DiskCollector struct {
	runner     Runner
	snapshots  *SnapshotStore
	thresholds Thresholds
}

// NewDiskCollector constructs a DiskCollector.
func NewDiskCollector(r Runner, snapshots *SnapshotStore, th Thresholds) *DiskCollector {
	return &DiskCollector{runner: r, snapshots: snapshots, thresholds: th}
}

const diskstatsSectorBytes = 512

// Collect issues df -B1, lsblk and the iostat/diskstats pair in parallel.
// Overall usage% is aggregate used/total across retained filesystems.
// I/O rates: read directly from iostat when present, otherwise computed as
// Δcounter against a per-target previous diskstats snapshot using the true
// elapsed wall-clock time between samples (SPEC_FULL.md §E.1), not a fixed
// 1-second assumption.
func (c *DiskCollector) Collect(ctx context.Context, cfg sshpool.AuthConfig, targetID int64, cc CallerContext) models.MetricSample {
	started := time.Now()
	results := runParallel(ctx, c.runner, cfg, cc, "df", "lsblk", "diskstats")

	sample := models.MetricSample{TargetID: targetID, Kind: models.MetricDisk, CollectionSuccess: true, CollectionTime: time.Since(started)}
	disk := &models.DiskMetrics{}

	dfRes := results["df"]
	if dfRes.Status != executor.StatusSuccess || dfRes.Parsed == nil {
		sample.CollectionSuccess = false
		sample.ErrorMessage = "df: " + dfRes.Error
	} else {
		rows, _ := dfRes.Parsed["filesystems"].([]executor.DFRow)
		var totalBytes, usedBytes int64
		for _, row := range rows {
			disk.Filesystems = append(disk.Filesystems, models.DiskFilesystem{
				Device: row.Device, MountPoint: row.MountPoint, TotalBytes: row.TotalBytes, UsedBytes: row.UsedBytes,
			})
			totalBytes += row.TotalBytes
			usedBytes += row.UsedBytes
		}
		if totalBytes > 0 {
			disk.TotalGB = floatPtr(round2(float64(totalBytes) / 1e9))
			disk.UsedGB = floatPtr(round2(float64(usedBytes) / 1e9))
			disk.UsagePercent = floatPtr(clamp(float64(usedBytes)/float64(totalBytes)*100, 0, 100))
		}
	}

	ioRes := results["diskstats"]
	if ioRes.Status == executor.StatusSuccess {
		if readKBps, writeKBps, ok := parseIostatRates(ioRes.Stdout); ok {
			disk.ReadBytesPS = floatPtr(readKBps * 1024)
			disk.WriteBytesPS = floatPtr(writeKBps * 1024)
		} else if ioRes.Parsed != nil {
			rows, _ := ioRes.Parsed["devices"].([]executor.DiskstatsRow)
			var readSectors, writeSectors int64
			for _, row := range rows {
				readSectors += row.SectorsRead
				writeSectors += row.SectorsWritten
			}
			now := time.Now()
			prev, had := c.snapshots.swapDisk(targetID, readSectors, writeSectors, now)
			if had {
				elapsed := now.Sub(prev.at).Seconds()
				if elapsed > 0 {
					dRead := float64(readSectors-prev.readSectors) * diskstatsSectorBytes / elapsed
					dWrite := float64(writeSectors-prev.writeSectors) * diskstatsSectorBytes / elapsed
					disk.ReadBytesPS = floatPtr(dRead)
					disk.WriteBytesPS = floatPtr(dWrite)
				}
			} else {
				disk.ReadBytesPS = floatPtr(0)
				disk.WriteBytesPS = floatPtr(0)
			}
		}
	}

	sample.Disk = disk
	sample.AlertLevel = c.alertLevel(sample)
	return sample
}

// parseIostatRates reads aggregate rkB/s and wkB/s columns directly from
// `iostat -x` output when that branch of the collector command succeeded,
// summing across device rows. Returns ok=false when the output looks like
// the /proc/diskstats fallback instead (no "Device" header row).
func parseIostatRates(stdout string) (readKBps, writeKBps float64, ok bool) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	var rIdx, wIdx = -1, -1
	found := false
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "Device" {
			for i, f := range fields {
				switch f {
				case "rkB/s":
					rIdx = i
				case "wkB/s":
					wIdx = i
				}
			}
			found = rIdx >= 0 && wIdx >= 0
			continue
		}
		if !found {
			continue
		}
		if rIdx >= len(fields) || wIdx >= len(fields) {
			continue
		}
		r, e1 := strconv.ParseFloat(fields[rIdx], 64)
		w, e2 := strconv.ParseFloat(fields[wIdx], 64)
		if e1 == nil && e2 == nil {
			readKBps += r
			writeKBps += w
		}
	}
	return readKBps, writeKBps, found
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func (c *DiskCollector) alertLevel(s models.MetricSample) models.AlertLevel {
	if !s.CollectionSuccess || s.Disk == nil || s.Disk.UsagePercent == nil {
		return models.AlertUnknown
	}
	return classify(*s.Disk.UsagePercent, c.thresholds.DiskWarn, c.thresholds.DiskCrit)
}
