package push

import (
	"context"
	"sync"
	"time"

	"github.com/cwatcher/cwatcher/internal/auth"
	"github.com/cwatcher/cwatcher/internal/batch"
	"github.com/cwatcher/cwatcher/internal/collectors"
	"github.com/cwatcher/cwatcher/internal/executor"
	"github.com/cwatcher/cwatcher/internal/logging"
	"github.com/cwatcher/cwatcher/internal/models"
	"github.com/cwatcher/cwatcher/internal/normalize"
	"github.com/cwatcher/cwatcher/internal/sshpool"
	"github.com/cwatcher/cwatcher/internal/store"
	"github.com/cwatcher/cwatcher/internal/wshub"
)

// tickInterval is the main loop's wake cadence (§4.10).
const tickInterval = 5 * time.Second

// Collectors bundles the four C4 collectors the Push Service drives each
// cycle.
type Collectors struct {
	CPU     *collectors.CPUCollector
	Memory  *collectors.MemoryCollector
	Disk    *collectors.DiskCollector
	Network *collectors.NetworkCollector
}

// Broadcaster is the subset of *wshub.Hub the Push Service needs, narrowed
// the same way collectors.Runner narrows *executor.Executor.
type Broadcaster interface {
	Broadcast(item wshub.BroadcastItem) bool
}

// Service is the Push Service component (C10).
type Service struct {
	store      store.Store
	collectors Collectors
	registry   map[string]executor.CommandSpec
	sealer     auth.Sealer
	writer     *batch.Writer
	hub        Broadcaster
	log        logging.Logger

	states *stateStore

	mu      sync.Mutex
	running map[int64]bool // targets currently mid-cycle, to avoid overlap
}

// New constructs a Service.
func New(s store.Store, c Collectors, registry map[string]executor.CommandSpec, sealer auth.Sealer, w *batch.Writer, hub Broadcaster, log logging.Logger) *Service {
	if log == nil {
		log = logging.NewStderr()
	}
	return &Service{
		store: s, collectors: c, registry: registry, sealer: sealer, writer: w, hub: hub, log: log,
		states: newStateStore(), running: make(map[int64]bool),
	}
}

// Run blocks, waking every tickInterval to launch due targets' cycles
// concurrently, until ctx is cancelled (§4.10).
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	targets, err := s.store.ListTargets(ctx, true)
	if err != nil {
		s.log.Errorf("push: list targets: %v", err)
		return
	}
	due := s.states.dueTargets(targets, time.Now())
	for _, t := range due {
		if !s.claim(t.ID) {
			continue // previous cycle for this target still in flight
		}
		go func(target models.Target) {
			defer s.release(target.ID)
			s.Cycle(ctx, target)
		}(t)
	}
}

func (s *Service) claim(targetID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[targetID] {
		return false
	}
	s.running[targetID] = true
	return true
}

func (s *Service) release(targetID int64) {
	s.mu.Lock()
	delete(s.running, targetID)
	s.mu.Unlock()
}

// PushNow runs one cycle for a single target outside the interval gate
// (§4.10's push_now).
func (s *Service) PushNow(ctx context.Context, target models.Target) {
	s.Cycle(ctx, target)
}

// PushAllNow runs one cycle for every active target outside the interval
// gate (§4.10's batch immediate-push).
func (s *Service) PushAllNow(ctx context.Context) error {
	targets, err := s.store.ListTargets(ctx, true)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(target models.Target) {
			defer wg.Done()
			s.Cycle(ctx, target)
		}(t)
	}
	wg.Wait()
	return nil
}

// Cycle runs steps 1-6 of §4.10 for one target.
func (s *Service) Cycle(ctx context.Context, target models.Target) {
	cfg, err := s.resolveAuth(ctx, target)
	if err != nil {
		s.finishFailure(ctx, target, "credential resolution: "+err.Error())
		return
	}

	cc := collectors.CallerContext{TargetKey: target.Key(), SourceIP: "127.0.0.1", User: target.User, Registry: s.registry}

	cpu := s.collectors.CPU.Collect(ctx, cfg, target.ID, cc)
	mem := s.collectors.Memory.Collect(ctx, cfg, target.ID, cc)
	disk := s.collectors.Disk.Collect(ctx, cfg, target.ID, cc)
	net := s.collectors.Network.Collect(ctx, cfg, target.ID, cc)

	row, err := normalize.Normalize(target.ID, &cpu, &mem, &disk, &net, time.Now())
	if err != nil {
		s.finishFailure(ctx, target, "normalize: "+err.Error())
		return
	}

	overall := cpu.AlertLevel.Max(mem.AlertLevel).Max(disk.AlertLevel).Max(net.AlertLevel)
	newStatus := deriveStatus(row.CollectionSuccess, overall)

	s.writer.Add(ctx, row)

	oldStatus, changed, deactivated := s.states.recordResult(target.ID, time.Now(), row.CollectionSuccess, newStatus)
	if changed {
		s.broadcastStatusChange(target.ID, oldStatus, newStatus)
	}
	s.broadcastMonitoringUpdate(target.ID, row, overall)

	if deactivated {
		s.log.Warnf("push: target %d deactivated after %d consecutive failures", target.ID, maxConsecutiveFailures)
	}
}

func (s *Service) finishFailure(ctx context.Context, target models.Target, reason string) {
	row := models.MetricRow{TargetID: target.ID, Timestamp: time.Now().UTC(), CollectionSuccess: false, ErrorMessage: reason}
	s.writer.Add(ctx, row)

	oldStatus, changed, deactivated := s.states.recordResult(target.ID, time.Now(), false, models.StatusOffline)
	if changed {
		s.broadcastStatusChange(target.ID, oldStatus, models.StatusOffline)
	}
	s.broadcastMonitoringUpdate(target.ID, row, models.AlertUnknown)
	if deactivated {
		s.log.Warnf("push: target %d deactivated after %d consecutive failures", target.ID, maxConsecutiveFailures)
	}
}

// deriveStatus implements §4.10 step 3: success with Critical ⇒ error;
// Warning ⇒ warning; Ok ⇒ online; Unknown or outright failure ⇒ offline.
func deriveStatus(success bool, overall models.AlertLevel) models.Status {
	if !success {
		return models.StatusOffline
	}
	switch overall {
	case models.AlertCritical:
		return models.StatusError
	case models.AlertWarning:
		return models.StatusWarning
	case models.AlertOk:
		return models.StatusOnline
	default:
		return models.StatusOffline
	}
}

func (s *Service) resolveAuth(ctx context.Context, target models.Target) (sshpool.AuthConfig, error) {
	cfg := sshpool.AuthConfig{
		User: target.User, Host: target.IP, Port: target.Port,
		ConnectTimeout: target.ConnectTimeout, CommandTimeout: target.CommandTimeout, PoolCap: target.PoolCap,
	}
	if len(target.Credentials.SealedPassword) > 0 {
		pw, err := s.sealer.Open(ctx, target.Credentials.SealedPassword)
		if err != nil {
			return cfg, err
		}
		cfg.Password = string(pw)
	}
	if len(target.Credentials.SealedPrivateKey) > 0 {
		key, err := s.sealer.Open(ctx, target.Credentials.SealedPrivateKey)
		if err != nil {
			return cfg, err
		}
		cfg.PrivateKeyPEM = key
	}
	if len(target.Credentials.SealedPassphrase) > 0 {
		pass, err := s.sealer.Open(ctx, target.Credentials.SealedPassphrase)
		if err != nil {
			return cfg, err
		}
		cfg.KeyPassphrase = string(pass)
	}
	return cfg, nil
}

func (s *Service) broadcastStatusChange(targetID int64, oldStatus, newStatus models.Status) {
	env, err := wshub.NewEnvelope(wshub.MsgStatusChange, map[string]string{
		"old_status": string(oldStatus), "new_status": string(newStatus),
	})
	if err != nil {
		return
	}
	tid := targetID
	s.hub.Broadcast(wshub.BroadcastItem{Message: env, TargetID: &tid})
}

func (s *Service) broadcastMonitoringUpdate(targetID int64, row models.MetricRow, overall models.AlertLevel) {
	env, err := wshub.NewEnvelope(wshub.MsgMonitoringUpdate, map[string]any{
		"target_id": targetID, "row": row, "overall_alert_level": overall.String(),
	})
	if err != nil {
		return
	}
	tid := targetID
	kind := overall.String()
	s.hub.Broadcast(wshub.BroadcastItem{Message: env, TargetID: &tid, AlertLevel: &kind})
}
