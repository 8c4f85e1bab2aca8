// Package types contains shared types used across the mailsift analysis engine.
package types

import (
	"time"
)

// AnalysisUnit is one email-derived text unit submitted for analysis.
// Units are immutable once submitted.
type AnalysisUnit struct {
	// IdentityKey is the stable unique identifier for this unit,
	// typically a message id.
	IdentityKey string `json:"identity_key"`

	// TextBody is the already-extracted plain text to analyze.
	TextBody string `json:"text_body"`

	// SubmittedAt is when the unit entered the engine.
	SubmittedAt time.Time `json:"submitted_at"`
}

// ErrorKind classifies a per-unit failure.
type ErrorKind string

// Per-unit error kinds.
const (
	ErrKindSecurityBlocked ErrorKind = "security_blocked"
	ErrKindPoolTimeout     ErrorKind = "pool_timeout"
	ErrKindInference       ErrorKind = "inference_failure"
)

// UnitError describes why a single unit failed without aborting its batch.
type UnitError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// UnitResult is the outcome of analyzing a single unit.
type UnitResult struct {
	IdentityKey string        `json:"identity_key"`
	Payload     string        `json:"payload,omitempty"`
	FromCache   bool          `json:"from_cache"`
	Latency     time.Duration `json:"latency"`
	Err         *UnitError    `json:"error,omitempty"`
}

// Failed reports whether the unit produced an error instead of a payload.
func (r UnitResult) Failed() bool {
	return r.Err != nil
}

// BatchResult summarizes one batch submission. Total always equals
// Succeeded + Failed, even under partial failure.
type BatchResult struct {
	ID          string        `json:"id"`
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Elapsed     time.Duration `json:"elapsed"`
	Throughput  float64       `json:"throughput"` // succeeded units per minute
	SubmittedAt time.Time     `json:"submitted_at"`
	Results     []UnitResult  `json:"results"`
}

// Severity ranks how block-worthy a matched security pattern is.
type Severity string

// Pattern severities.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// SecurityLevel controls how aggressively the gate blocks matched content.
type SecurityLevel string

// Security levels.
const (
	LevelStrict     SecurityLevel = "strict"
	LevelNormal     SecurityLevel = "normal"
	LevelPermissive SecurityLevel = "permissive"
)

// Valid reports whether l is a known security level.
func (l SecurityLevel) Valid() bool {
	switch l {
	case LevelStrict, LevelNormal, LevelPermissive:
		return true
	}
	return false
}

// VerdictAction is the gate's decision for one unit.
type VerdictAction string

// Verdict actions.
const (
	ActionAllow VerdictAction = "allow"
	ActionWarn  VerdictAction = "warn"
	ActionBlock VerdictAction = "block"
)

// SecurityVerdict is produced per unit before any cache lookup or
// inference call.
type SecurityVerdict struct {
	PatternName    string        `json:"pattern_name,omitempty"`
	Severity       Severity      `json:"severity,omitempty"`
	Action         VerdictAction `json:"action"`
	MatchedExcerpt string        `json:"matched_excerpt,omitempty"`
}

// Blocked reports whether the verdict stops further processing.
func (v SecurityVerdict) Blocked() bool {
	return v.Action == ActionBlock
}

// SecurityNotification is the structured event surfaced to display and
// logging layers when the gate blocks a unit. It never carries full
// message content.
type SecurityNotification struct {
	IdentityKey string    `json:"identity_key"`
	PatternName string    `json:"pattern_name"`
	Severity    Severity  `json:"severity"`
	Message     string    `json:"message"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// HardwareTier is a coarse capability classification driving default
// concurrency settings.
type HardwareTier string

// Hardware tiers from weakest to strongest.
const (
	TierInsufficient HardwareTier = "insufficient"
	TierMinimum      HardwareTier = "minimum"
	TierRecommended  HardwareTier = "recommended"
	TierOptimal      HardwareTier = "optimal"
)

// HardwareProfile describes detected machine capabilities. It is
// computed once per process lifetime.
type HardwareProfile struct {
	CPUCores     int          `json:"cpu_cores"`
	RAMAvailable int64        `json:"ram_available"`
	RAMTotal     int64        `json:"ram_total"`
	GPUPresent   bool         `json:"gpu_present"`
	VRAM         int64        `json:"vram"`
	Tier         HardwareTier `json:"tier"`
}

// PoolSize maps the tier deterministically to the default connection
// pool and worker size.
func (p HardwareProfile) PoolSize() int {
	switch p.Tier {
	case TierOptimal:
		return 5
	case TierRecommended:
		return 3
	case TierMinimum:
		return 2
	default:
		return 1
	}
}

// MemoryPressure describes the monitor's current assessment.
type MemoryPressure int

// Pressure states from calm to critical.
const (
	PressureNormal MemoryPressure = iota
	PressureWarning
	PressureCritical
)

// String returns the pressure state name.
func (p MemoryPressure) String() string {
	switch p {
	case PressureNormal:
		return "normal"
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}
