// Package retention implements the Retention/Archiver (C8): policy-driven
// deletion of MetricRows past a TTL, with optional JSON archival before
// delete, per spec.md §4.8.
package retention

import "time"

// PolicyName is one of the three named levels (§4.8).
type PolicyName string

const (
	PolicyBasic      PolicyName = "basic"
	PolicyAggressive PolicyName = "aggressive"
	PolicyEmergency  PolicyName = "emergency"
)

// Policy is the cleanup() parameter shape (§4.8).
type Policy struct {
	Name                PolicyName
	RetentionDays       int
	ArchiveBeforeDelete bool
	BatchSize           int
	OnlyFailed          bool // Emergency: only collection_success=false rows
}

// defaultBatchSize is used when a Policy's BatchSize is unset.
const defaultBatchSize = 500

// NamedPolicy returns one of the three fixed levels §4.8 defines.
func NamedPolicy(name PolicyName) Policy {
	switch name {
	case PolicyAggressive:
		return Policy{Name: PolicyAggressive, RetentionDays: 7, ArchiveBeforeDelete: false, BatchSize: defaultBatchSize}
	case PolicyEmergency:
		return Policy{Name: PolicyEmergency, RetentionDays: 1, ArchiveBeforeDelete: false, BatchSize: defaultBatchSize, OnlyFailed: true}
	default:
		return Policy{Name: PolicyBasic, RetentionDays: 30, ArchiveBeforeDelete: true, BatchSize: defaultBatchSize}
	}
}

func (p Policy) cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.RetentionDays)
}
