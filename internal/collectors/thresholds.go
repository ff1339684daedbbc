package collectors

import "github.com/cwatcher/cwatcher/internal/models"

// Thresholds holds the configurable warn/critical cutoffs of §4.4.
// DefaultThresholds returns the stated defaults; zero fields in a value
// built by hand are used as-is.
type Thresholds struct {
	CPUWarn, CPUCrit   float64
	MemWarn, MemCrit   float64
	DiskWarn, DiskCrit float64
	LoadWarn, LoadCrit float64
}

// DefaultThresholds returns the §4.4 defaults: cpu 80/90, memory 85/95,
// disk 85/95, load 5/10.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUWarn: 80, CPUCrit: 90,
		MemWarn: 85, MemCrit: 95,
		DiskWarn: 85, DiskCrit: 95,
		LoadWarn: 5, LoadCrit: 10,
	}
}

// classify maps a numeric observation to an alert level given its warn/crit
// cutoffs (§4.4). A nil value (command set failed) maps to Unknown by the
// caller, not here — this only handles a concrete float64.
func classify(value, warn, crit float64) models.AlertLevel {
	switch {
	case value >= crit:
		return models.AlertCritical
	case value >= warn:
		return models.AlertWarning
	default:
		return models.AlertOk
	}
}
