// Command cwatcherd is the CWatcher fleet-monitoring daemon: it dials out
// to every configured target over SSH, collects and stores metrics, serves
// the WebSocket push feed, and runs the background scheduler — all in one
// process, per spec.md §1/§5.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwatcher/cwatcher/internal/auth"
	"github.com/cwatcher/cwatcher/internal/batch"
	"github.com/cwatcher/cwatcher/internal/collectors"
	"github.com/cwatcher/cwatcher/internal/config"
	"github.com/cwatcher/cwatcher/internal/coordinator"
	"github.com/cwatcher/cwatcher/internal/executor"
	"github.com/cwatcher/cwatcher/internal/logging"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/push"
	"github.com/cwatcher/cwatcher/internal/retention"
	"github.com/cwatcher/cwatcher/internal/scheduler"
	"github.com/cwatcher/cwatcher/internal/security"
	"github.com/cwatcher/cwatcher/internal/sshpool"
	"github.com/cwatcher/cwatcher/internal/store"
	"github.com/cwatcher/cwatcher/internal/tracing"
	"github.com/cwatcher/cwatcher/internal/wshub"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return
		}
		fmt.Fprintf(os.Stderr, "cwatcherd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	s := store.NewMemory()
	sealer := auth.PlaintextSealer{}

	if err := seedTargets(ctx, s, sealer, cfg.Targets); err != nil {
		return fmt.Errorf("seed targets: %w", err)
	}

	pool := sshpool.New(log)
	defer func() {
		if err := pool.Close(); err != nil {
			log.Warnf("ssh pool close: %v", err)
		}
	}()

	// Config exposes one connection rate/burst pair; the command rate
	// keeps the Gate's own built-in 4x ratio (5/20 conn/cmd, 10/40 burst).
	gate := security.NewGate(security.RateLimits{
		ConnectionsPerSecond: cfg.Security.RateLimitPerSourceIP,
		ConnectionBurst:      cfg.Security.RateLimitBurst,
		CommandsPerSecond:    cfg.Security.RateLimitPerSourceIP * 4,
		CommandBurst:         cfg.Security.RateLimitBurst * 4,
	}, nil, nil)
	gate.SetCriticalSink(func(ev models.SecurityEvent) {
		log.Warnf("security event: kind=%s severity=%s source=%s target=%s", ev.Kind, ev.Severity, ev.SourceIP, ev.TargetHost)
		_ = s.PutSecurityEvent(context.Background(), ev)
	})

	exec := executor.New(pool, gate)
	registrySpecs := executor.DefaultRegistry()
	registry := executor.ByName(registrySpecs)

	th := collectors.Thresholds{
		CPUWarn: cfg.Thresholds.CPU.Warn, CPUCrit: cfg.Thresholds.CPU.Crit,
		MemWarn: cfg.Thresholds.Memory.Warn, MemCrit: cfg.Thresholds.Memory.Crit,
		DiskWarn: cfg.Thresholds.Disk.Warn, DiskCrit: cfg.Thresholds.Disk.Crit,
		LoadWarn: cfg.Thresholds.Load.Warn, LoadCrit: cfg.Thresholds.Load.Crit,
	}
	snapshots := collectors.NewSnapshotStore()
	cpuCollector := collectors.NewCPUCollector(exec, snapshots, th)
	memCollector := collectors.NewMemoryCollector(exec, th)
	diskCollector := collectors.NewDiskCollector(exec, snapshots, th)
	netCollector := collectors.NewNetworkCollector(exec, snapshots, th)

	writer := batch.New(s, cfg.Batch.Size, cfg.Batch.FlushInterval)
	// aggregate.New(s) backs the series()/dashboard() calls of §6's REST
	// boundary; that façade is an external collaborator (spec.md §1) and
	// constructs its own Aggregator from the same store, so cwatcherd has
	// no call site for one itself.

	archiver := retention.New(s, cfg.Retention.ArchiveDir)

	hub := wshub.New(log)
	hub.Run()
	defer hub.Stop()

	pushSvc := push.New(s, push.Collectors{
		CPU: cpuCollector, Memory: memCollector, Disk: diskCollector, Network: netCollector,
	}, registry, sealer, writer, hub, log)

	sched := scheduler.New(log)
	sched.OnDisable(func(taskID string, consecutiveFails int) {
		log.Warnf("task %s auto-disabled after %d consecutive failures", taskID, consecutiveFails)
		_ = s.PutSecurityEvent(context.Background(), models.SecurityEvent{
			Kind:     "task_auto_disabled",
			Severity: models.SeverityCritical,
			Detail:   map[string]string{"task_id": taskID, "consecutive_fails": fmt.Sprint(consecutiveFails)},
		})
	})

	tasks, err := scheduler.DefaultTasks(scheduler.Deps{
		Store: s, Push: pushSvc, Hub: hub, Writer: writer, Archiver: archiver,
		Runner: exec, Registry: registry, Sealer: sealer,
	})
	if err != nil {
		return fmt.Errorf("build scheduler tasks: %w", err)
	}
	for _, t := range tasks {
		sched.Register(t)
	}

	probe := &loadProbe{writer: writer, hub: hub, sched: sched, bufferCap: cfg.Batch.Size}
	coord := coordinator.New(sched, probe, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Upgrade(w, r); err != nil {
			log.Warnf("websocket upgrade: %v", err)
		}
	})
	httpSrv := &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}

	var loops errGroup
	loops.Go(func() error {
		pushSvc.Run(ctx)
		return nil
	})
	loops.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	loops.Go(func() error {
		coord.Run(ctx)
		return nil
	})
	var wg errGroup
	wg.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	log.Infof("cwatcherd listening on %s", cfg.Server.ListenAddr)

	<-ctx.Done()
	log.Infof("shutdown signal received, draining in order: scheduler -> push -> batch -> hub -> pools")

	// §6's shutdown order: stop Scheduler, stop Push, flush C6, stop Hub,
	// close pools. The component Run loops above exit on ctx.Done; waiting
	// for them here keeps the final flush after their last rows are added.
	loopsErr := loops.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if _, err := writer.Flush(shutdownCtx); err != nil {
		log.Warnf("final batch flush: %v", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http server shutdown: %v", err)
	}

	if err := wg.Wait(); err != nil {
		return err
	}
	return loopsErr
}

func newLogger(level string) logging.Logger {
	log := logging.NewStderr()
	return log.With("level", level)
}

// seedTargets bootstraps §6's targets list into the store ahead of any
// register_target call through the (out-of-scope) REST façade, resolving
// each SeedTarget's password/private-key source into sealed Credentials.
func seedTargets(ctx context.Context, s store.Store, sealer auth.Sealer, seeds []config.SeedTarget) error {
	for _, seed := range seeds {
		t := models.DefaultTarget()
		t.Name = seed.Name
		t.IP = seed.IP
		t.User = seed.User
		t.Tags = seed.Tags
		if seed.Port != 0 {
			t.Port = seed.Port
		}
		if seed.MonitoringInterval != 0 {
			t.MonitoringInterval = seed.MonitoringInterval
		}

		if seed.PasswordEnv != "" {
			plaintext := os.Getenv(seed.PasswordEnv)
			sealed, err := sealer.Seal(ctx, []byte(plaintext))
			if err != nil {
				return fmt.Errorf("target %s: seal password: %w", seed.Name, err)
			}
			t.Credentials.SealedPassword = sealed
		}
		if seed.PrivateKeyPath != "" {
			keyBytes, err := os.ReadFile(seed.PrivateKeyPath)
			if err != nil {
				return fmt.Errorf("target %s: read private key: %w", seed.Name, err)
			}
			sealed, err := sealer.Seal(ctx, keyBytes)
			if err != nil {
				return fmt.Errorf("target %s: seal private key: %w", seed.Name, err)
			}
			t.Credentials.SealedPrivateKey = sealed
		}
		if seed.PassphraseEnv != "" {
			plaintext := os.Getenv(seed.PassphraseEnv)
			sealed, err := sealer.Seal(ctx, []byte(plaintext))
			if err != nil {
				return fmt.Errorf("target %s: seal passphrase: %w", seed.Name, err)
			}
			t.Credentials.SealedPassphrase = sealed
		}

		if !t.Credentials.HasMaterial() {
			return fmt.Errorf("target %s: no credential material resolved", seed.Name)
		}

		if _, err := s.UpsertTarget(ctx, t); err != nil {
			return fmt.Errorf("target %s: %w", seed.Name, err)
		}
	}
	return nil
}

// loadProbe adapts the batch writer's buffer depth, the hub's connection
// count and the scheduler's due-task count into the coordinator.LoadProbe
// shape (§4.12).
type loadProbe struct {
	writer    *batch.Writer
	hub       *wshub.Hub
	sched     *scheduler.Scheduler
	bufferCap int
}

func (p *loadProbe) Snapshot() coordinator.LoadSnapshot {
	bufferCap := p.bufferCap
	if bufferCap <= 0 {
		bufferCap = 1
	}
	pending := 0
	now := time.Now()
	for _, id := range p.sched.TaskIDs() {
		if next, ok := p.sched.NextRun(id); ok && !next.After(now) {
			pending++
		}
	}
	return coordinator.LoadSnapshot{
		BufferFraction: float64(p.writer.BufferLen()) / float64(bufferCap),
		Connections:    p.hub.ConnectionCount(),
		PendingTasks:   pending,
	}
}

// errGroup launches each goroutine immediately and reports the first
// non-nil error on Wait, grounded on the teacher's runner goroutine-fan-in
// shape (one per simulated user, collected at the end of Run).
type errGroup struct {
	n    int
	errs chan error
}

func (g *errGroup) Go(fn func() error) {
	if g.errs == nil {
		g.errs = make(chan error, 8)
	}
	g.n++
	go func() { g.errs <- fn() }()
}

func (g *errGroup) Wait() error {
	var first error
	for i := 0; i < g.n; i++ {
		if err := <-g.errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}
