package collectors

import (
	"context"
	"time"

	"github.com/cwatcher/cwatcher/internal/executor"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/sshpool"
)

// NetworkCollector implements the network collector of §4.4.
type NetworkCollector struct {
	runner     Runner
	snapshots  *SnapshotStore
	thresholds Thresholds
}

// NewNetworkCollector constructs a NetworkCollector.
func NewNetworkCollector(r Runner, snapshots *SnapshotStore, th Thresholds) *NetworkCollector {
	return &NetworkCollector{runner: r, snapshots: snapshots, thresholds: th}
}

// Collect issues /proc/net/dev, ip addr show and ss -s in parallel.
// The primary interface is the non-loopback interface with the largest
// lifetime traffic (§4.4). Rx/tx speeds are computed as Δbytes against a
// per-target previous /proc/net/dev snapshot for the primary interface
// only; no rate is computed for any other interface.
func (c *NetworkCollector) Collect(ctx context.Context, cfg sshpool.AuthConfig, targetID int64, cc CallerContext) models.MetricSample {
	started := time.Now()
	results := runParallel(ctx, c.runner, cfg, cc, "netdev", "ipaddr", "ss")

	sample := models.MetricSample{TargetID: targetID, Kind: models.MetricNetwork, CollectionSuccess: true, CollectionTime: time.Since(started)}
	net := &models.NetworkMetrics{}

	netdevRes := results["netdev"]
	if netdevRes.Status != executor.StatusSuccess || netdevRes.Parsed == nil {
		sample.CollectionSuccess = false
		sample.ErrorMessage = "netdev: " + netdevRes.Error
		sample.Network = net
		sample.AlertLevel = c.alertLevel(sample)
		return sample
	}

	rows, _ := netdevRes.Parsed["interfaces"].([]executor.NetDevRow)
	var primary executor.NetDevRow
	var primaryTraffic int64 = -1
	for _, row := range rows {
		if row.Name == "lo" {
			continue
		}
		traffic := row.RxBytes + row.TxBytes
		if traffic > primaryTraffic {
			primary = row
			primaryTraffic = traffic
		}
	}

	if primaryTraffic >= 0 {
		net.PrimaryInterface = primary.Name
		now := time.Now()
		prev, had := c.snapshots.swapNet(targetID, primary.RxBytes, primary.TxBytes, now)
		if had {
			elapsed := now.Sub(prev.at).Seconds()
			if elapsed > 0 {
				net.RxBytesPS = floatPtr(float64(primary.RxBytes-prev.rxBytes) / elapsed)
				net.TxBytesPS = floatPtr(float64(primary.TxBytes-prev.txBytes) / elapsed)
			}
		} else {
			net.RxBytesPS = floatPtr(0)
			net.TxBytesPS = floatPtr(0)
		}
		net.RxErrors = int64Ptr(primary.RxErrors)
		net.TxErrors = int64Ptr(primary.TxErrors)
		net.RxDropped = int64Ptr(primary.RxDropped)
		net.TxDropped = int64Ptr(primary.TxDropped)
	}

	if ipRes := results["ipaddr"]; ipRes.Status == executor.StatusSuccess && ipRes.Parsed != nil {
		ifaces, _ := ipRes.Parsed["interfaces"].([]executor.IPAddrInterface)
		for _, iface := range ifaces {
			if iface.Name == "lo" {
				continue
			}
			net.Interfaces = append(net.Interfaces, models.NetworkInterfaceInfo{Name: iface.Name, State: iface.State, MTU: iface.MTU})
		}
	}

	sample.Network = net
	sample.AlertLevel = c.alertLevel(sample)
	return sample
}

func (c *NetworkCollector) alertLevel(s models.MetricSample) models.AlertLevel {
	if !s.CollectionSuccess {
		return models.AlertUnknown
	}
	return models.AlertOk
}
