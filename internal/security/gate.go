package security

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cwatcher/cwatcher/internal/models"
)

// LimitKind names a rate-limited action class (§4.2).
type LimitKind string

const (
	LimitConnection LimitKind = "connection"
	LimitCommand    LimitKind = "command"
)

// bruteForceThreshold and bruteForceWindow implement "5 failed auths from
// one source within 10 minutes" (§4.2).
const (
	bruteForceThreshold = 5
	bruteForceWindow    = 10 * time.Minute
	bruteForceBlock     = 1 * time.Hour
	eventRingCapacity   = 2048
)

// RateLimits configures the token buckets per LimitKind; r is the refill
// rate in events/sec, burst the bucket size.
type RateLimits struct {
	ConnectionsPerSecond float64
	ConnectionBurst      int
	CommandsPerSecond    float64
	CommandBurst         int
}

func (rl RateLimits) connRate() float64 {
	if rl.ConnectionsPerSecond <= 0 {
		return 5
	}
	return rl.ConnectionsPerSecond
}

func (rl RateLimits) connBurst() int {
	if rl.ConnectionBurst <= 0 {
		return 10
	}
	return rl.ConnectionBurst
}

func (rl RateLimits) cmdRate() float64 {
	if rl.CommandsPerSecond <= 0 {
		return 20
	}
	return rl.CommandsPerSecond
}

func (rl RateLimits) cmdBurst() int {
	if rl.CommandBurst <= 0 {
		return 40
	}
	return rl.CommandBurst
}

// authFailure records one auth failure's timestamp for brute-force
// detection, pruned lazily as the window slides.
type authFailure struct {
	at time.Time
}

type sourceState struct {
	connLimiter *rate.Limiter
	cmdLimiter  *rate.Limiter
	failures    []authFailure
	blockedUntil time.Time
}

// Gate is the Security Gate component (C2): it holds per-source rate
// limiters, the brute-force detector state, an optional IP allow-list, and
// the SecurityEvent ring buffer. Grounded on the teacher's
// clientmetrics.Collector — one mutex-guarded struct aggregating counters
// keyed by a caller-supplied dimension, here the source IP instead of a URL.
type Gate struct {
	mu        sync.Mutex
	allowlist []*net.IPNet
	allowExact map[string]bool
	limits    RateLimits
	sources   map[string]*sourceState

	events   []models.SecurityEvent
	eventPos int
	eventLen int

	// criticalSink persists critical events outside the ring buffer (§C
	// "critical persistence") so a restart doesn't lose the brute-force
	// trail. Nil until SetCriticalSink is called.
	criticalSink func(models.SecurityEvent)
}

// SetCriticalSink registers a callback invoked for every critical-severity
// SecurityEvent, in addition to it being appended to the ring buffer. The
// cmd/cwatcherd wiring passes a closure that writes to the Store under a
// distinct kind.
func (g *Gate) SetCriticalSink(sink func(models.SecurityEvent)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.criticalSink = sink
}

// NewGate constructs a Gate. allowCIDRs/allowIPs may both be empty, in
// which case every source IP is connection-allowed (subject to rate
// limiting and brute-force blocking).
func NewGate(limits RateLimits, allowCIDRs []string, allowIPs []string) *Gate {
	g := &Gate{
		limits:     limits,
		sources:    make(map[string]*sourceState),
		allowExact: make(map[string]bool),
		events:     make([]models.SecurityEvent, eventRingCapacity),
	}
	for _, ip := range allowIPs {
		g.allowExact[ip] = true
	}
	for _, cidr := range allowCIDRs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			g.allowlist = append(g.allowlist, n)
		}
	}
	return g
}

func (g *Gate) ipAllowed(sourceIP string) bool {
	if len(g.allowExact) == 0 && len(g.allowlist) == 0 {
		return true
	}
	if g.allowExact[sourceIP] {
		return true
	}
	ip := net.ParseIP(sourceIP)
	if ip == nil {
		return false
	}
	for _, n := range g.allowlist {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (g *Gate) stateFor(sourceIP string) *sourceState {
	s, ok := g.sources[sourceIP]
	if !ok {
		s = &sourceState{
			connLimiter: rate.NewLimiter(rate.Limit(g.limits.connRate()), g.limits.connBurst()),
			cmdLimiter:  rate.NewLimiter(rate.Limit(g.limits.cmdRate()), g.limits.cmdBurst()),
		}
		g.sources[sourceIP] = s
	}
	return s
}

// CheckConnection evaluates a new connection attempt from sourceIP against
// the allow-list, the brute-force block list, and the connection rate
// limiter (§4.2), emitting the matching SecurityEvent either way.
func (g *Gate) CheckConnection(sourceIP, targetHost, user string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.ipAllowed(sourceIP) {
		d := Decision{Allowed: false, Reason: "source ip not in allow-list"}
		g.emitLocked(models.EventConnectionRejected, models.SeverityMedium, sourceIP, targetHost, user, d.Reason)
		return d
	}

	s := g.stateFor(sourceIP)
	now := time.Now()
	if now.Before(s.blockedUntil) {
		d := Decision{Allowed: false, Reason: "source ip blocked after repeated auth failures"}
		g.emitLocked(models.EventConnectionRejected, models.SeverityHigh, sourceIP, targetHost, user, d.Reason)
		return d
	}

	if !s.connLimiter.Allow() {
		d := Decision{Allowed: false, Reason: "connection rate limit exceeded"}
		g.emitLocked(models.EventRateLimited, models.SeverityMedium, sourceIP, targetHost, user, d.Reason)
		return d
	}

	g.emitLocked(models.EventConnectionAccepted, models.SeverityLow, sourceIP, targetHost, user, "")
	return Decision{Allowed: true}
}

// RecordAuthFailure records an authentication failure from sourceIP and
// blocks the source for bruteForceBlock once bruteForceThreshold failures
// land inside bruteForceWindow, emitting BruteForceDetected (§4.2).
func (g *Gate) RecordAuthFailure(sourceIP, targetHost, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.stateFor(sourceIP)
	now := time.Now()
	cutoff := now.Add(-bruteForceWindow)

	kept := s.failures[:0:0]
	for _, f := range s.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	kept = append(kept, authFailure{at: now})
	s.failures = kept

	if len(s.failures) >= bruteForceThreshold {
		s.blockedUntil = now.Add(bruteForceBlock)
		s.failures = nil
		g.emitLocked(models.EventBruteForceDetected, models.SeverityCritical, sourceIP, targetHost, user, "blocked for 1h after repeated auth failures")
	}
}

// CheckCommandFor runs CheckCommand and also applies the per-source command
// rate limit, emitting the matching SecurityEvent (§4.2).
func (g *Gate) CheckCommandFor(sourceIP, targetHost, user, command string, trusted bool) Decision {
	g.mu.Lock()
	s := g.stateFor(sourceIP)
	limited := !s.cmdLimiter.Allow()
	g.mu.Unlock()

	if limited {
		g.mu.Lock()
		g.emitLocked(models.EventRateLimited, models.SeverityMedium, sourceIP, targetHost, user, "command rate limit exceeded")
		g.mu.Unlock()
		return Decision{Allowed: false, Reason: "command rate limit exceeded"}
	}

	d := CheckCommand(command, trusted)
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.Allowed {
		g.emitLocked(models.EventCommandAccepted, models.SeverityLow, sourceIP, targetHost, user, command)
	} else {
		g.emitLocked(models.EventCommandRejected, models.SeverityHigh, sourceIP, targetHost, user, d.Reason)
	}
	return d
}

// emitLocked appends a SecurityEvent to the ring buffer; caller must hold g.mu.
func (g *Gate) emitLocked(kind models.SecurityEventKind, sev models.Severity, sourceIP, targetHost, user, detail string) {
	ev := models.SecurityEvent{
		Kind:       kind,
		Severity:   sev,
		SourceIP:   sourceIP,
		TargetHost: targetHost,
		User:       user,
		Detail:     map[string]string{"detail": detail},
		Timestamp:  time.Now(),
	}
	g.events[g.eventPos] = ev
	g.eventPos = (g.eventPos + 1) % eventRingCapacity
	if g.eventLen < eventRingCapacity {
		g.eventLen++
	}
	if sev == models.SeverityCritical && g.criticalSink != nil {
		g.criticalSink(ev)
	}
}

// RecentEvents returns up to n most recent SecurityEvents, newest last. A
// critical event (brute-force) is additionally expected to be persisted by
// the caller outside the ring buffer (SPEC_FULL.md §C); the ring buffer
// alone is a bounded in-memory view for the dashboard/WebSocket feed.
func (g *Gate) RecentEvents(n int) []models.SecurityEvent {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n <= 0 || n > g.eventLen {
		n = g.eventLen
	}
	out := make([]models.SecurityEvent, n)
	start := (g.eventPos - n + eventRingCapacity) % eventRingCapacity
	for i := 0; i < n; i++ {
		out[i] = g.events[(start+i)%eventRingCapacity]
	}
	return out
}
