// Package normalize implements the Normalizer/Validator (C5): it folds one
// MetricSample per collector kind for a target into a single persisted
// models.MetricRow, per spec.md §4.5.
//
// Grounded on the teacher's internal/threshold — a small validation
// function returning a typed error — generalized from "validate one
// performance assertion string" to "validate and coerce one row of
// collected metrics".
package normalize

import (
	"strings"
	"time"

	"github.com/cwatcher/cwatcher/internal/cwerrors"
	"github.com/cwatcher/cwatcher/internal/models"
)

// timestampTolerance bounds how far in the past/future an incoming
// timestamp may be before it is rejected (§4.5 "reject any incoming
// timestamp beyond tolerance windows"); CWatcher's own samples are always
// stamped server-side so this only guards against a malformed caller.
const timestampTolerance = 5 * time.Minute

// Normalize folds cpu/memory/disk/network samples (any may be nil if that
// collector didn't run) into a MetricRow. incomingTimestamp, if non-zero,
// is validated against timestampTolerance; the row's own Timestamp is
// always set to the server's now (UTC) per §4.5.
func Normalize(targetID int64, cpu, mem, disk, net *models.MetricSample, incomingTimestamp time.Time) (models.MetricRow, error) {
	if targetID == 0 {
		return models.MetricRow{}, cwerrors.Validation("normalize", "", nil)
	}

	now := time.Now().UTC()
	if !incomingTimestamp.IsZero() {
		delta := now.Sub(incomingTimestamp)
		if delta < -timestampTolerance || delta > timestampTolerance {
			return models.MetricRow{}, cwerrors.Validation("normalize", "", nil)
		}
	}

	row := models.MetricRow{TargetID: targetID, Timestamp: now, CollectionSuccess: true}
	if row.Timestamp.IsZero() {
		return models.MetricRow{}, cwerrors.Validation("normalize", "", nil)
	}

	var errMsgs []string
	var totalDurationMS int64

	if cpu != nil {
		row.CollectionSuccess = row.CollectionSuccess && cpu.CollectionSuccess
		totalDurationMS += cpu.CollectionTime.Milliseconds()
		if cpu.CPU != nil {
			row.CPUUsagePercent = validPercent(cpu.CPU.UsagePercent)
			row.Load1 = cpu.CPU.Load1
			row.Load5 = cpu.CPU.Load5
			row.Load15 = cpu.CPU.Load15
		}
		if !cpu.CollectionSuccess && cpu.ErrorMessage != "" {
			errMsgs = append(errMsgs, "cpu: "+cpu.ErrorMessage)
		}
	}

	if mem != nil {
		row.CollectionSuccess = row.CollectionSuccess && mem.CollectionSuccess
		totalDurationMS += mem.CollectionTime.Milliseconds()
		if mem.Memory != nil {
			row.MemoryUsedMB = mem.Memory.UsedMB
			row.MemoryUsagePercent = validPercent(mem.Memory.UsagePercent)
			row.SwapUsedMB = mem.Memory.SwapUsedMB
			row.SwapUsagePercent = validPercent(mem.Memory.SwapUsagePct)
		}
		if !mem.CollectionSuccess && mem.ErrorMessage != "" {
			errMsgs = append(errMsgs, "memory: "+mem.ErrorMessage)
		}
	}

	if disk != nil {
		row.CollectionSuccess = row.CollectionSuccess && disk.CollectionSuccess
		totalDurationMS += disk.CollectionTime.Milliseconds()
		if disk.Disk != nil {
			row.DiskUsagePercent = validPercent(disk.Disk.UsagePercent)
			row.DiskUsedGB = disk.Disk.UsedGB
			row.DiskReadBytesPS = disk.Disk.ReadBytesPS
			row.DiskWriteBytesPS = disk.Disk.WriteBytesPS
		}
		if !disk.CollectionSuccess && disk.ErrorMessage != "" {
			errMsgs = append(errMsgs, "disk: "+disk.ErrorMessage)
		}
	}

	if net != nil {
		row.CollectionSuccess = row.CollectionSuccess && net.CollectionSuccess
		totalDurationMS += net.CollectionTime.Milliseconds()
		if net.Network != nil {
			row.NetworkRxBytesPS = net.Network.RxBytesPS
			row.NetworkTxBytesPS = net.Network.TxBytesPS
			row.PrimaryInterface = net.Network.PrimaryInterface
		}
		if !net.CollectionSuccess && net.ErrorMessage != "" {
			errMsgs = append(errMsgs, "network: "+net.ErrorMessage)
		}
	}

	row.ErrorMessage = strings.Join(errMsgs, "; ")
	row.CollectionDurationMS = totalDurationMS

	return row, nil
}

// validPercent range-validates a percentage field (§4.5: "invalid entries
// become null, not clipped"); collectors already clamp computed values
// into [0,100], so this only catches a collector bug or malformed input.
func validPercent(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > 100 {
		return nil
	}
	return v
}
