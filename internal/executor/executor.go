package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cwatcher/cwatcher/internal/cwerrors"
	"github.com/cwatcher/cwatcher/internal/security"
	"github.com/cwatcher/cwatcher/internal/sshpool"
)

// Status is a CommandResult's outcome (§4.3).
type Status string

const (
	StatusSuccess         Status = "Success"
	StatusFailed          Status = "Failed"
	StatusTimeout         Status = "Timeout"
	StatusSecurityBlocked Status = "SecurityBlocked"
)

// CommandResult is the output of execute() (§4.3).
type CommandResult struct {
	Command   string
	Kind      Kind
	Status    Status
	Stdout    string
	Stderr    string
	ExitCode  int
	DurationS float64
	StartedAt time.Time
	Parsed    map[string]any
	FromCache bool
	Error     string
}

// Counters is the monotonic per-outcome counter snapshot (SPEC_FULL.md §C).
type Counters struct {
	Success         int64
	Failed          int64
	Timeout         int64
	SecurityBlocked int64
	CacheHit        int64
}

type cacheEntry struct {
	result  CommandResult
	cached  time.Time
}

// Executor is the Command Executor component (C3).
type Executor struct {
	pool  *sshpool.Pool
	gate  *security.Gate
	cache *lru.LRU[string, cacheEntry]

	countSuccess, countFailed, countTimeout, countBlocked, countCacheHit int64
}

// defaultCacheTTL bounds the expirable LRU's global sweep interval; actual
// per-entry freshness is still checked against each CommandSpec's own TTL
// in Execute, since the cache stores entries from specs with different TTLs.
const (
	defaultCacheTTL  = 5 * time.Minute
	defaultCacheSize = 4096
)

// New constructs an Executor over pool and gate.
func New(pool *sshpool.Pool, gate *security.Gate) *Executor {
	return &Executor{
		pool:  pool,
		gate:  gate,
		cache: lru.NewLRU[string, cacheEntry](defaultCacheSize, nil, defaultCacheTTL),
	}
}

func cacheKey(targetKey, command string) string {
	h := sha256.Sum256([]byte(targetKey + "||" + command))
	return hex.EncodeToString(h[:])
}

// Execute runs spec's command against cfg per §4.3's flow: gate, cache
// probe, C1 execute, exit-code mapping, parser, cache insert. sourceIP and
// user identify the caller for the Security Gate's event log; trusted
// marks a predefined registry command (bypasses the ad-hoc syntax veto,
// see internal/security.CheckCommand).
func (e *Executor) Execute(ctx context.Context, cfg sshpool.AuthConfig, targetKey string, spec CommandSpec, sourceIP, user string, useCache bool, trusted bool) CommandResult {
	started := time.Now()

	decision := e.gate.CheckCommandFor(sourceIP, cfg.Host, user, spec.Command, trusted)
	if !decision.Allowed {
		atomic.AddInt64(&e.countBlocked, 1)
		return CommandResult{
			Command: spec.Command, Kind: spec.Kind, Status: StatusSecurityBlocked,
			StartedAt: started, DurationS: time.Since(started).Seconds(), Error: decision.Reason,
		}
	}

	key := cacheKey(targetKey, spec.Command)
	if useCache && spec.TTL > 0 {
		if entry, ok := e.cache.Get(key); ok && time.Since(entry.cached) < spec.TTL {
			atomic.AddInt64(&e.countCacheHit, 1)
			res := entry.result
			res.FromCache = true
			return res
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = cfg.CommandTimeout
	}

	execResult, err := e.pool.Execute(ctx, cfg, spec.Command, timeout)
	duration := time.Since(started).Seconds()

	if err != nil {
		if cwerrors.Is(err, cwerrors.KindTimeout) {
			atomic.AddInt64(&e.countTimeout, 1)
			return CommandResult{Command: spec.Command, Kind: spec.Kind, Status: StatusTimeout, StartedAt: started, DurationS: duration, Error: err.Error()}
		}
		atomic.AddInt64(&e.countFailed, 1)
		return CommandResult{Command: spec.Command, Kind: spec.Kind, Status: StatusFailed, StartedAt: started, DurationS: duration, Error: err.Error()}
	}

	result := CommandResult{
		Command: spec.Command, Kind: spec.Kind, StartedAt: started, DurationS: duration,
		Stdout: execResult.Stdout, Stderr: execResult.Stderr, ExitCode: execResult.ExitCode,
	}

	if execResult.ExitCode != 0 {
		result.Status = StatusFailed
		atomic.AddInt64(&e.countFailed, 1)
		return result
	}

	result.Status = StatusSuccess
	atomic.AddInt64(&e.countSuccess, 1)

	if spec.Parser != nil {
		parsed, perr := spec.Parser(execResult.Stdout)
		if perr != nil {
			result.Parsed = map[string]any{"raw_output": execResult.Stdout}
		} else {
			result.Parsed = parsed
		}
	}

	if spec.TTL > 0 {
		e.cache.Add(key, cacheEntry{result: result, cached: time.Now()})
	}

	return result
}

// Snapshot returns the current outcome counters (SPEC_FULL.md §C).
func (e *Executor) Snapshot() Counters {
	return Counters{
		Success:         atomic.LoadInt64(&e.countSuccess),
		Failed:          atomic.LoadInt64(&e.countFailed),
		Timeout:         atomic.LoadInt64(&e.countTimeout),
		SecurityBlocked: atomic.LoadInt64(&e.countBlocked),
		CacheHit:        atomic.LoadInt64(&e.countCacheHit),
	}
}
