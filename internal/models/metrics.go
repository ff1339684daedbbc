package models

import "time"

// MetricKind names the four collector families (§4.4).
type MetricKind string

const (
	MetricCPU     MetricKind = "cpu"
	MetricMemory  MetricKind = "memory"
	MetricDisk    MetricKind = "disk"
	MetricNetwork MetricKind = "network"
)

// CPUMetrics is the closed struct a CPU MetricSample carries (§9: "runtime
// dictionaries with free-form shape" are replaced by closed structs with
// optional fields represented via pointers).
type CPUMetrics struct {
	UsagePercent *float64
	Load1        *float64
	Load5        *float64
	Load15       *float64
	Cores        *int
	MaxMHz       *float64
	ModelName    string
}

// MemoryMetrics carries memory+swap fields (§3).
type MemoryMetrics struct {
	TotalMB       *float64
	UsedMB        *float64
	FreeMB        *float64
	AvailableMB   *float64
	UsagePercent  *float64
	SwapTotalMB   *float64
	SwapUsedMB    *float64
	SwapUsagePct  *float64
}

// DiskFilesystem is one retained filesystem row from `df -B1`.
type DiskFilesystem struct {
	Device     string
	MountPoint string
	TotalBytes int64
	UsedBytes  int64
}

// DiskMetrics carries disk+io fields (§3).
type DiskMetrics struct {
	UsagePercent  *float64
	TotalGB       *float64
	UsedGB        *float64
	ReadBytesPS   *float64
	WriteBytesPS  *float64
	Filesystems   []DiskFilesystem
}

// NetworkInterfaceInfo describes one non-loopback interface.
type NetworkInterfaceInfo struct {
	Name  string
	State string
	MTU   int
}

// NetworkMetrics carries network+interface fields (§3).
type NetworkMetrics struct {
	PrimaryInterface string
	RxBytesPS        *float64
	TxBytesPS        *float64
	RxErrors         *int64
	TxErrors         *int64
	RxDropped        *int64
	TxDropped        *int64
	Interfaces       []NetworkInterfaceInfo
}

// MetricSample is the in-memory dual of a MetricRow plus per-metric alert
// classification (§3), the canonical shape published over WebSocket and
// consumed by the normalizer.
type MetricSample struct {
	TargetID int64
	Kind     MetricKind

	CollectionSuccess bool
	ErrorMessage      string
	CollectionTime    time.Duration

	CPU     *CPUMetrics
	Memory  *MemoryMetrics
	Disk    *DiskMetrics
	Network *NetworkMetrics

	AlertLevel   AlertLevel
	AlertMessage string
}

// MetricRow is one persisted time-series record (§3).
type MetricRow struct {
	TargetID  int64
	Timestamp time.Time

	CPUUsagePercent *float64
	Load1           *float64
	Load5           *float64
	Load15          *float64

	MemoryUsedMB      *float64
	MemoryUsagePercent *float64
	SwapUsedMB        *float64
	SwapUsagePercent  *float64

	DiskUsagePercent *float64
	DiskUsedGB       *float64
	DiskReadBytesPS  *float64
	DiskWriteBytesPS *float64

	NetworkRxBytesPS *float64
	NetworkTxBytesPS *float64
	PrimaryInterface string

	CollectionSuccess    bool
	ErrorMessage         string
	CollectionDurationMS int64
}

// OverallAlertLevel classifies the row using the thresholds.dashboard rule
// of §4.7: critical if cpu>=90 or mem>=95 or disk>=95; warning if
// cpu>=80 or mem>=85 or disk>=90; else normal; missing data => unknown.
func (r MetricRow) OverallAlertLevel(cpuCrit, memCrit, diskCrit, cpuWarn, memWarn, diskWarn float64) AlertLevel {
	if !r.CollectionSuccess {
		return AlertUnknown
	}
	has := r.CPUUsagePercent != nil || r.MemoryUsagePercent != nil || r.DiskUsagePercent != nil
	if !has {
		return AlertUnknown
	}
	if (r.CPUUsagePercent != nil && *r.CPUUsagePercent >= cpuCrit) ||
		(r.MemoryUsagePercent != nil && *r.MemoryUsagePercent >= memCrit) ||
		(r.DiskUsagePercent != nil && *r.DiskUsagePercent >= diskCrit) {
		return AlertCritical
	}
	if (r.CPUUsagePercent != nil && *r.CPUUsagePercent >= cpuWarn) ||
		(r.MemoryUsagePercent != nil && *r.MemoryUsagePercent >= memWarn) ||
		(r.DiskUsagePercent != nil && *r.DiskUsagePercent >= diskWarn) {
		return AlertWarning
	}
	return AlertOk
}
