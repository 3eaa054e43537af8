package domain

import "strings"

// DegradationPolicyMode enumerates how guard checks behave when their backing store is unreachable.
type DegradationPolicyMode string

const (
	// DegradationPolicyModeLenient lets the request proceed without the guard.
	DegradationPolicyModeLenient DegradationPolicyMode = "lenient"
	// DegradationPolicyModeStrict rejects the request when the guard cannot be consulted.
	DegradationPolicyModeStrict DegradationPolicyMode = "strict"
)

// DegradationReason names the guard that could not be consulted.
type DegradationReason string

const (
	// DegradationReasonMFAGuardUnavailable denotes the TOTP attempt counter or replay set failed.
	DegradationReasonMFAGuardUnavailable DegradationReason = "mfa_guard_unavailable"
	// DegradationReasonRateLimitUnavailable denotes the sliding-window store failed.
	DegradationReasonRateLimitUnavailable DegradationReason = "rate_limit_unavailable"
	// DegradationReasonRevocationCacheUnavailable denotes the revocation cache lookup failed.
	// The session store stays authoritative, so this reason always falls back.
	DegradationReasonRevocationCacheUnavailable DegradationReason = "revocation_cache_unavailable"
)

// DegradationPolicy centralises how the service responds when a Redis-backed guard is down.
type DegradationPolicy struct {
	mode DegradationPolicyMode
}

// NewDegradationPolicy constructs a policy with the provided mode, defaulting to lenient when unspecified.
func NewDegradationPolicy(mode DegradationPolicyMode) DegradationPolicy {
	if mode != DegradationPolicyModeStrict {
		mode = DegradationPolicyModeLenient
	}
	return DegradationPolicy{mode: mode}
}

// ParseDegradationPolicyMode normalises textual input into a supported policy mode.
func ParseDegradationPolicyMode(value string) DegradationPolicyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DegradationPolicyModeStrict):
		return DegradationPolicyModeStrict
	default:
		return DegradationPolicyModeLenient
	}
}

// Mode returns the underlying policy mode.
func (p DegradationPolicy) Mode() DegradationPolicyMode {
	return p.mode
}

// IsStrict indicates whether the policy rejects degraded states.
func (p DegradationPolicy) IsStrict() bool {
	return p.mode == DegradationPolicyModeStrict
}

// AllowsFallback determines if the policy permits continuing when the supplied reason occurs.
func (p DegradationPolicy) AllowsFallback(reason DegradationReason) bool {
	if reason == DegradationReasonRevocationCacheUnavailable {
		return true
	}
	return !p.IsStrict()
}
