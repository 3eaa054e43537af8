package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Login outcome labels.
const (
	LoginResultSuccess            = "success"
	LoginResultInvalidCredentials = "invalid_credentials"
	LoginResultLocked             = "locked"
	LoginResultInactive           = "inactive"
	LoginResultDeviceLimit        = "device_limit"
	LoginResultMFARequired        = "mfa_required"
	LoginResultInvalidToken       = "invalid_token"
	LoginResultError              = "error"
)

// AuthMetrics groups the counters emitted by the session core. A nil *AuthMetrics is a no-op.
type AuthMetrics struct {
	logins          *prometheus.CounterVec
	lockouts        prometheus.Counter
	mfaVerification *prometheus.CounterVec
	revocations     *prometheus.CounterVec
	pruned          *prometheus.CounterVec
	prunerRuns      *prometheus.CounterVec
}

// NewAuthMetrics registers the session core collectors on reg (prometheus.DefaultRegisterer when nil).
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &AuthMetrics{
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "auth",
			Name:      "login_total",
			Help:      "Login attempts partitioned by outcome.",
		}, []string{"result"}),
		lockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "auth",
			Name:      "lockouts_total",
			Help:      "Accounts placed under lockout after repeated failures.",
		}),
		mfaVerification: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "auth",
			Name:      "mfa_verifications_total",
			Help:      "TOTP verifications partitioned by outcome.",
		}, []string{"result"}),
		revocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "auth",
			Name:      "sessions_revoked_total",
			Help:      "Sessions deactivated partitioned by reason.",
		}, []string{"reason"}),
		pruned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "auth",
			Name:      "sessions_pruned_total",
			Help:      "Sessions affected by the retention sweep.",
		}, []string{"action"}),
		prunerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "auth",
			Name:      "pruner_runs_total",
			Help:      "Retention sweeps partitioned by outcome.",
		}, []string{"result"}),
	}
}

// ObserveLogin records a login outcome.
func (m *AuthMetrics) ObserveLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// ObserveLockout records an account entering lockout.
func (m *AuthMetrics) ObserveLockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// ObserveMFAVerification records a TOTP check result.
func (m *AuthMetrics) ObserveMFAVerification(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.mfaVerification.WithLabelValues(result).Inc()
}

// ObserveRevocations adds count revocations for reason.
func (m *AuthMetrics) ObserveRevocations(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.revocations.WithLabelValues(reason).Add(float64(count))
}

// ObservePrune records a completed or failed sweep.
func (m *AuthMetrics) ObservePrune(deactivated, purged int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.prunerRuns.WithLabelValues("failure").Inc()
		return
	}
	m.prunerRuns.WithLabelValues("success").Inc()
	m.pruned.WithLabelValues("deactivated").Add(float64(deactivated))
	m.pruned.WithLabelValues("purged").Add(float64(purged))
}
