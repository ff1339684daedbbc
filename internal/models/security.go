package models

import "time"

// SecurityEventKind enumerates §4.2's event kinds.
type SecurityEventKind string

const (
	EventCommandAccepted    SecurityEventKind = "command_accepted"
	EventCommandRejected    SecurityEventKind = "command_rejected"
	EventConnectionAccepted SecurityEventKind = "connection_accepted"
	EventConnectionRejected SecurityEventKind = "connection_rejected"
	EventRateLimited        SecurityEventKind = "rate_limited"
	EventBruteForceDetected SecurityEventKind = "brute_force_detected"
)

// Severity is the SecurityEvent's severity (§3).
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is an immutable record (§3). Detail is a free-form map,
// but it must never carry credential material (invariant 4) — callers are
// responsible for only putting command text, reasons, and identifiers in it.
type SecurityEvent struct {
	Kind      SecurityEventKind
	Severity  Severity
	SourceIP  string
	TargetHost string
	User      string
	Detail    map[string]string
	Timestamp time.Time
}

// PushState is the mutable per-Target push bookkeeping of §3.
type PushState struct {
	TargetID         int64
	Interval         time.Duration
	LastPush         time.Time
	LastStatus       Status
	ConsecutiveFails int
	TotalPushes      int64
	Active           bool
	DeactivatedAt    time.Time
}
