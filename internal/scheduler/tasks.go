package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cwatcher/cwatcher/internal/auth"
	"github.com/cwatcher/cwatcher/internal/batch"
	"github.com/cwatcher/cwatcher/internal/collectors"
	"github.com/cwatcher/cwatcher/internal/executor"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/push"
	"github.com/cwatcher/cwatcher/internal/retention"
	"github.com/cwatcher/cwatcher/internal/sshpool"
	"github.com/cwatcher/cwatcher/internal/store"
	"github.com/cwatcher/cwatcher/internal/wshub"
)

// storageWarnFraction/storageCritFraction gate storage_monitor (§4.11).
const (
	storageWarnFraction = 0.80
	storageCritFraction = 0.90
)

// Deps bundles every collaborator the default §4.11 task table drives. Not
// every Scheduler needs all eight default tasks wired — cmd/cwatcherd
// passes one Deps and gets back the full table via DefaultTasks.
type Deps struct {
	Store    store.Store
	Push     *push.Service
	Hub      *wshub.Hub
	Writer   *batch.Writer
	Archiver *retention.Archiver
	Runner   collectors.Runner
	Registry map[string]executor.CommandSpec
	Sealer   auth.Sealer
}

// DefaultTasks builds the eight named tasks of §4.11's default table,
// ready to Register on a Scheduler.
func DefaultTasks(d Deps) ([]Task, error) {
	weeklyCron, err := NewCron("0 3 * * 0")
	if err != nil {
		return nil, err
	}
	dailyCron, err := NewCron("0 2 * * *")
	if err != nil {
		return nil, err
	}

	return []Task{
		{ID: "monitoring_collection", Trigger: NewInterval(30 * time.Second), Fn: d.monitoringCollection},
		{ID: "websocket_push", Trigger: NewInterval(30 * time.Second), Fn: d.websocketPush},
		{ID: "system_info_update", Trigger: NewInterval(5 * time.Minute), Fn: d.systemInfoUpdate},
		{ID: "buffer_flush", Trigger: NewInterval(2 * time.Minute), Fn: d.bufferFlush},
		{ID: "system_health_check", Trigger: NewInterval(5 * time.Minute), Fn: d.systemHealthCheck},
		{ID: "storage_monitor", Trigger: NewInterval(30 * time.Minute), Fn: d.storageMonitor},
		{ID: "daily_data_cleanup", Trigger: dailyCron, Fn: d.dailyDataCleanup},
		{ID: "weekly_archive_cleanup", Trigger: weeklyCron, Fn: d.weeklyArchiveCleanup},
	}, nil
}

// monitoringCollection drives C10 across every active target (§4.11).
func (d Deps) monitoringCollection(ctx context.Context) (map[string]any, error) {
	targets, err := d.Store.ListTargets(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	if err := d.Push.PushAllNow(ctx); err != nil {
		return nil, err
	}
	return map[string]any{"targets_pushed": len(targets)}, nil
}

// websocketPush is a no-op when there are no live WebSocket connections
// (§4.11) — the Hub's own delivery goroutine already flushes its broadcast
// queue asynchronously; this task is the scheduled probe that surfaces
// connection count into ExecutionResult history for observability.
func (d Deps) websocketPush(ctx context.Context) (map[string]any, error) {
	n := d.Hub.ConnectionCount()
	return map[string]any{"connections": n, "flushed": n > 0}, nil
}

// systemInfoUpdate refreshes SystemInfo for every active target via C4's
// fast path (§4.11): hostname/uname/lscpu/ip-addr only, never the full
// metric sample set monitoring_collection drives.
func (d Deps) systemInfoUpdate(ctx context.Context) (map[string]any, error) {
	targets, err := d.Store.ListTargets(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	updated := 0
	var errs []string
	for _, t := range targets {
		info, err := d.refreshSystemInfo(ctx, t)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", t.Name, err))
			continue
		}
		if err := d.Store.PutSystemInfo(ctx, info); err != nil {
			errs = append(errs, fmt.Sprintf("%s: store: %v", t.Name, err))
			continue
		}
		updated++
	}
	res := map[string]any{"updated": updated, "total": len(targets)}
	if len(errs) > 0 {
		res["errors"] = errs
	}
	return res, nil
}

func (d Deps) refreshSystemInfo(ctx context.Context, target models.Target) (models.SystemInfo, error) {
	cfg, err := resolveAuthConfig(ctx, target, d.Sealer)
	if err != nil {
		return models.SystemInfo{}, err
	}
	cc := collectors.CallerContext{TargetKey: target.Key(), SourceIP: "127.0.0.1", User: target.User, Registry: d.Registry}

	info := models.SystemInfo{TargetID: target.ID, CollectedAt: time.Now().UTC()}

	if spec, ok := d.Registry["hostname"]; ok {
		res := d.Runner.Execute(ctx, cfg, target.Key(), spec, cc.SourceIP, cc.User, true, true)
		if res.Status == executor.StatusSuccess {
			info.Hostname = strings.TrimSpace(res.Stdout)
		}
	}
	if spec, ok := d.Registry["uname"]; ok {
		res := d.Runner.Execute(ctx, cfg, target.Key(), spec, cc.SourceIP, cc.User, true, true)
		if res.Status == executor.StatusSuccess {
			info.Kernel = strings.TrimSpace(res.Stdout)
		}
	}
	if spec, ok := d.Registry["lscpu"]; ok {
		res := d.Runner.Execute(ctx, cfg, target.Key(), spec, cc.SourceIP, cc.User, true, true)
		if res.Status == executor.StatusSuccess && res.Parsed != nil {
			if cores, ok := res.Parsed["cores"].(int); ok {
				info.CPUCores = cores
			}
			if mhz, ok := res.Parsed["max_mhz"].(float64); ok {
				info.CPUMaxMHz = mhz
			}
			if name, ok := res.Parsed["model_name"].(string); ok {
				info.CPUModel = name
			}
		}
	}
	if spec, ok := d.Registry["ipaddr"]; ok {
		res := d.Runner.Execute(ctx, cfg, target.Key(), spec, cc.SourceIP, cc.User, true, true)
		if res.Status == executor.StatusSuccess && res.Parsed != nil {
			if ifaces, ok := res.Parsed["interfaces"].([]executor.IPAddrInterface); ok {
				for _, iface := range ifaces {
					if iface.Name == "lo" || iface.State != "UP" {
						continue
					}
					for _, addr := range iface.Addresses {
						if addr.Family == "inet" {
							info.PrimaryIface = iface.Name
							info.PrimaryIP = addr.Address
							break
						}
					}
					if info.PrimaryIP != "" {
						break
					}
				}
			}
		}
	}
	return info, nil
}

// bufferFlush forces a C6 flush regardless of size/time triggers (§4.11).
func (d Deps) bufferFlush(ctx context.Context) (map[string]any, error) {
	res, err := d.Writer.Flush(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"total": res.Total, "valid": res.Valid, "invalid": res.Invalid, "duplicates": res.Duplicates}, nil
}

// systemHealthCheck probes C9's live connection count, C6's buffer depth
// and C8's storage usage (§4.11). Probing C1 pool health per target would
// require resolving every target's credentials here too; that's left to
// monitoring_collection's own cycles, which already surface connect
// failures through Status — this task stays a lightweight aggregate view.
func (d Deps) systemHealthCheck(ctx context.Context) (map[string]any, error) {
	res := map[string]any{
		"websocket_connections": d.Hub.ConnectionCount(),
		"buffer_depth":          d.Writer.BufferLen(),
	}
	if d.Archiver != nil {
		info, err := d.Archiver.StorageInfo(ctx)
		if err == nil {
			res["storage_db_bytes"] = info.DBBytes
			res["storage_archive_bytes"] = info.ArchiveBytes
			res["storage_free_bytes"] = info.FreeBytes
		}
	}
	return res, nil
}

// storageMonitor compares used storage against the warning/critical
// fractions of total volume capacity (§4.11).
func (d Deps) storageMonitor(ctx context.Context) (map[string]any, error) {
	info, err := d.Archiver.StorageInfo(ctx)
	if err != nil {
		return nil, err
	}
	var usedFraction float64
	if info.TotalBytes > 0 {
		usedFraction = float64(info.TotalBytes-info.FreeBytes) / float64(info.TotalBytes)
	}
	level := "ok"
	switch {
	case usedFraction >= storageCritFraction:
		level = "critical"
	case usedFraction >= storageWarnFraction:
		level = "warning"
	}
	return map[string]any{
		"used_fraction": usedFraction,
		"level":         level,
		"total_bytes":   info.TotalBytes,
		"free_bytes":    info.FreeBytes,
	}, nil
}

// dailyDataCleanup runs C8's Basic policy (§4.11).
func (d Deps) dailyDataCleanup(ctx context.Context) (map[string]any, error) {
	res, err := d.Archiver.Cleanup(ctx, retention.NamedPolicy(retention.PolicyBasic))
	if err != nil {
		return nil, err
	}
	return map[string]any{"cleaned": res.Cleaned, "archived": res.Archived, "cleanup_time_s": res.CleanupTimeS}, nil
}

// weeklyArchiveCleanup prunes dated archive directories past the default
// retention window (§4.11). Depends on daily_data_cleanup per §4.12's
// static dependency edge — cmd/cwatcherd registers both tasks so the
// Coordinator can enforce the ordering; the Scheduler itself runs tasks
// independently of one another.
func (d Deps) weeklyArchiveCleanup(_ context.Context) (map[string]any, error) {
	pruned, err := d.Archiver.PruneArchives(time.Now(), 90*24*time.Hour)
	if err != nil {
		return nil, err
	}
	return map[string]any{"pruned_dirs": len(pruned)}, nil
}

// resolveAuthConfig mirrors push.Service.resolveAuth — duplicated rather
// than shared because it is a three-field credential unwrap, not worth an
// exported method on Service just to avoid repeating it here.
func resolveAuthConfig(ctx context.Context, target models.Target, sealer auth.Sealer) (sshpool.AuthConfig, error) {
	cfg := sshpool.AuthConfig{
		User: target.User, Host: target.IP, Port: target.Port,
		ConnectTimeout: target.ConnectTimeout, CommandTimeout: target.CommandTimeout, PoolCap: target.PoolCap,
	}
	if len(target.Credentials.SealedPassword) > 0 {
		pw, err := sealer.Open(ctx, target.Credentials.SealedPassword)
		if err != nil {
			return cfg, err
		}
		cfg.Password = string(pw)
	}
	if len(target.Credentials.SealedPrivateKey) > 0 {
		key, err := sealer.Open(ctx, target.Credentials.SealedPrivateKey)
		if err != nil {
			return cfg, err
		}
		cfg.PrivateKeyPEM = key
	}
	if len(target.Credentials.SealedPassphrase) > 0 {
		pass, err := sealer.Open(ctx, target.Credentials.SealedPassphrase)
		if err != nil {
			return cfg, err
		}
		cfg.KeyPassphrase = string(pass)
	}
	return cfg, nil
}
