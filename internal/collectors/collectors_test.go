package collectors

import (
	"context"
	"testing"

	"github.com/cwatcher/cwatcher/internal/executor"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/sshpool"
)

// fakeRunner returns a scripted CommandResult per predefined command name,
// mirroring runner.fakeRequester in the teacher's test suite.
type fakeRunner struct {
	byCommand map[string]executor.CommandResult
}

func (f *fakeRunner) Execute(_ context.Context, _ sshpool.AuthConfig, _ string, spec executor.CommandSpec, _, _ string, _, _ bool) executor.CommandResult {
	if res, ok := f.byCommand[spec.Name]; ok {
		return res
	}
	return executor.CommandResult{Status: executor.StatusFailed, Error: "no script for " + spec.Name}
}

func testCallerContext() CallerContext {
	return CallerContext{TargetKey: "t1", SourceIP: "127.0.0.1", User: "monitor", Registry: executor.ByName(executor.DefaultRegistry())}
}

func TestCPUCollector_FirstCallReturnsZeroUsage(t *testing.T) {
	runner := &fakeRunner{byCommand: map[string]executor.CommandResult{
		"proc_stat": {Status: executor.StatusSuccess, Parsed: map[string]any{"total": int64(1000), "idle": int64(800)}},
		"lscpu":     {Status: executor.StatusSuccess, Parsed: map[string]any{"cores": 4, "max_mhz": 3200.0, "model_name": "Test CPU"}},
		"loadavg":   {Status: executor.StatusSuccess, Parsed: map[string]any{"load1": 0.5, "load5": 0.4, "load15": 0.3}},
		"uptime":    {Status: executor.StatusSuccess, Parsed: map[string]any{"load1": 0.5, "load5": 0.4, "load15": 0.3, "uptime": "5 days"}},
	}}
	c := NewCPUCollector(runner, NewSnapshotStore(), DefaultThresholds())

	sample := c.Collect(context.Background(), sshpool.AuthConfig{}, 1, testCallerContext())
	if !sample.CollectionSuccess {
		t.Fatalf("expected success: %s", sample.ErrorMessage)
	}
	if *sample.CPU.UsagePercent != 0 {
		t.Fatalf("expected usage=0 on first sample, got %v", *sample.CPU.UsagePercent)
	}
}

func TestCPUCollector_SecondCallComputesDelta(t *testing.T) {
	snapshots := NewSnapshotStore()
	runner1 := &fakeRunner{byCommand: map[string]executor.CommandResult{
		"proc_stat": {Status: executor.StatusSuccess, Parsed: map[string]any{"total": int64(1000), "idle": int64(800)}},
		"lscpu":     {Status: executor.StatusSuccess, Parsed: map[string]any{}},
		"loadavg":   {Status: executor.StatusSuccess, Parsed: map[string]any{"load1": 0.1, "load5": 0.1, "load15": 0.1}},
		"uptime":    {Status: executor.StatusSuccess, Parsed: map[string]any{}},
	}}
	c := NewCPUCollector(runner1, snapshots, DefaultThresholds())
	c.Collect(context.Background(), sshpool.AuthConfig{}, 1, testCallerContext())

	runner2 := &fakeRunner{byCommand: map[string]executor.CommandResult{
		"proc_stat": {Status: executor.StatusSuccess, Parsed: map[string]any{"total": int64(2000), "idle": int64(1200)}},
		"lscpu":     {Status: executor.StatusSuccess, Parsed: map[string]any{}},
		"loadavg":   {Status: executor.StatusSuccess, Parsed: map[string]any{"load1": 0.1, "load5": 0.1, "load15": 0.1}},
		"uptime":    {Status: executor.StatusSuccess, Parsed: map[string]any{}},
	}}
	c.runner = runner2
	sample := c.Collect(context.Background(), sshpool.AuthConfig{}, 1, testCallerContext())

	// Δtotal=1000, Δidle=400 → usage = 600/1000*100 = 60
	if *sample.CPU.UsagePercent != 60 {
		t.Fatalf("expected usage=60, got %v", *sample.CPU.UsagePercent)
	}
}

func TestMemoryCollector_UsesMeminfo(t *testing.T) {
	runner := &fakeRunner{byCommand: map[string]executor.CommandResult{
		"meminfo": {Status: executor.StatusSuccess, Parsed: map[string]any{"MemTotal": 8e9, "MemAvailable": 5.5e9}},
		"free":    {Status: executor.StatusSuccess, Parsed: map[string]any{"swap_total": 1e9, "swap_used": 0.0}},
	}}
	c := NewMemoryCollector(runner, DefaultThresholds())
	sample := c.Collect(context.Background(), sshpool.AuthConfig{}, 1, testCallerContext())

	if !sample.CollectionSuccess {
		t.Fatalf("expected success: %s", sample.ErrorMessage)
	}
	want := (8e9 - 5.5e9) / 8e9 * 100
	if *sample.Memory.UsagePercent != want {
		t.Fatalf("expected usage %v, got %v", want, *sample.Memory.UsagePercent)
	}
}

func TestDiskCollector_AggregatesFilesystemsAndUsesDiskstatsFallback(t *testing.T) {
	snapshots := NewSnapshotStore()
	dfRows := []executor.DFRow{
		{Device: "/dev/sda1", MountPoint: "/", TotalBytes: 1000, UsedBytes: 500},
		{Device: "/dev/sdb1", MountPoint: "/data", TotalBytes: 1000, UsedBytes: 250},
	}
	runner := &fakeRunner{byCommand: map[string]executor.CommandResult{
		"df":        {Status: executor.StatusSuccess, Parsed: map[string]any{"filesystems": dfRows}},
		"lsblk":     {Status: executor.StatusSuccess},
		"diskstats": {Status: executor.StatusSuccess, Stdout: "8 0 sda 1 1 1000 1 1 1 1000 1 0 1 1\n", Parsed: map[string]any{"devices": []executor.DiskstatsRow{{Device: "sda", SectorsRead: 1000, SectorsWritten: 1000}}}},
	}}
	c := NewDiskCollector(runner, snapshots, DefaultThresholds())
	sample := c.Collect(context.Background(), sshpool.AuthConfig{}, 1, testCallerContext())

	if !sample.CollectionSuccess {
		t.Fatalf("expected success: %s", sample.ErrorMessage)
	}
	if *sample.Disk.UsagePercent != 37.5 {
		t.Fatalf("expected aggregate usage 37.5, got %v", *sample.Disk.UsagePercent)
	}
	// First sample: no prior snapshot, rates default to 0.
	if *sample.Disk.ReadBytesPS != 0 || *sample.Disk.WriteBytesPS != 0 {
		t.Fatalf("expected zero rates on first sample, got %v/%v", *sample.Disk.ReadBytesPS, *sample.Disk.WriteBytesPS)
	}
}

func TestDiskCollector_PrefersIostatWhenPresent(t *testing.T) {
	iostatOutput := "avg-cpu:  %user   %nice %system\nDevice            r/s     w/s     rkB/s     wkB/s\nsda              1.00    2.00     40.00     80.00\n"
	runner := &fakeRunner{byCommand: map[string]executor.CommandResult{
		"df":        {Status: executor.StatusSuccess, Parsed: map[string]any{"filesystems": []executor.DFRow{}}},
		"lsblk":     {Status: executor.StatusSuccess},
		"diskstats": {Status: executor.StatusSuccess, Stdout: iostatOutput},
	}}
	c := NewDiskCollector(runner, NewSnapshotStore(), DefaultThresholds())
	sample := c.Collect(context.Background(), sshpool.AuthConfig{}, 1, testCallerContext())

	if *sample.Disk.ReadBytesPS != 40*1024 || *sample.Disk.WriteBytesPS != 80*1024 {
		t.Fatalf("expected iostat-derived rates, got %v/%v", *sample.Disk.ReadBytesPS, *sample.Disk.WriteBytesPS)
	}
}

func TestNetworkCollector_PicksLargestTrafficNonLoopbackInterface(t *testing.T) {
	rows := []executor.NetDevRow{
		{Name: "lo", RxBytes: 1e9, TxBytes: 1e9},
		{Name: "eth0", RxBytes: 500, TxBytes: 500},
		{Name: "eth1", RxBytes: 5000, TxBytes: 5000},
	}
	runner := &fakeRunner{byCommand: map[string]executor.CommandResult{
		"netdev": {Status: executor.StatusSuccess, Parsed: map[string]any{"interfaces": rows}},
		"ipaddr": {Status: executor.StatusSuccess, Parsed: map[string]any{"interfaces": []executor.IPAddrInterface{}}},
		"ss":     {Status: executor.StatusSuccess},
	}}
	c := NewNetworkCollector(runner, NewSnapshotStore(), DefaultThresholds())
	sample := c.Collect(context.Background(), sshpool.AuthConfig{}, 1, testCallerContext())

	if sample.Network.PrimaryInterface != "eth1" {
		t.Fatalf("expected eth1 as primary interface, got %s", sample.Network.PrimaryInterface)
	}
}

func TestCollectors_UnknownWhenCommandSetFails(t *testing.T) {
	runner := &fakeRunner{byCommand: map[string]executor.CommandResult{}}
	c := NewMemoryCollector(runner, DefaultThresholds())
	sample := c.Collect(context.Background(), sshpool.AuthConfig{}, 1, testCallerContext())

	if sample.CollectionSuccess {
		t.Fatalf("expected collection failure when no commands succeed")
	}
	if sample.AlertLevel != models.AlertUnknown {
		t.Fatalf("expected AlertUnknown, got %v", sample.AlertLevel)
	}
}
