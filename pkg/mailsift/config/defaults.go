// Package config provides configuration management for the mailsift
// analysis engine.
package config

// Default configuration values for mailsift.
const (
	// DefaultSecurityLevel is the default security gate level.
	DefaultSecurityLevel = "normal"

	// DefaultInferenceURL is the default local inference endpoint.
	DefaultInferenceURL = "http://127.0.0.1:8080"

	// DefaultModelVersion identifies the active model for cache keying.
	DefaultModelVersion = "default"

	// DefaultUnitTimeoutSeconds is the per-unit inference timeout.
	DefaultUnitTimeoutSeconds = 30

	// DefaultAcquireTimeoutSeconds bounds connection pool acquisition.
	DefaultAcquireTimeoutSeconds = 10

	// DefaultMemoryWarningFraction triggers dispatcher throttling.
	DefaultMemoryWarningFraction = 0.85

	// DefaultMemoryCriticalFraction triggers submission rejection.
	DefaultMemoryCriticalFraction = 0.90

	// DefaultAuditRetentionDays is how long audit records are kept.
	DefaultAuditRetentionDays = 90
)
