package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/telemetry"
)

// PrunerPolicy configures the retention sweep.
type PrunerPolicy struct {
	Interval      time.Duration
	RetentionDays int
	// PurgeAfterDays hard-deletes inactive sessions older than this; 0 disables purging.
	PurgeAfterDays int
}

// PruneResult summarizes a single sweep.
type PruneResult struct {
	Cutoff      time.Time
	Deactivated int
	Purged      int
}

// SessionPruner periodically deactivates sessions older than the retention window.
type SessionPruner struct {
	sessions port.SessionRepository
	events   port.EventPublisher
	metrics  *telemetry.AuthMetrics
	policy   PrunerPolicy
	logger   *zap.Logger
	now      func() time.Time
}

// NewSessionPruner constructs a SessionPruner.
func NewSessionPruner(sessions port.SessionRepository, policy PrunerPolicy, logger *zap.Logger) *SessionPruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Interval <= 0 {
		policy.Interval = 24 * time.Hour
	}
	if policy.RetentionDays <= 0 {
		policy.RetentionDays = 30
	}
	return &SessionPruner{
		sessions: sessions,
		policy:   policy,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents enables sessions.pruned publication.
func (p *SessionPruner) WithEvents(events port.EventPublisher) *SessionPruner {
	p.events = events
	return p
}

// WithMetrics enables sweep counters.
func (p *SessionPruner) WithMetrics(metrics *telemetry.AuthMetrics) *SessionPruner {
	p.metrics = metrics
	return p
}

// WithClock overrides the internal clock for deterministic tests.
func (p *SessionPruner) WithClock(clock func() time.Time) *SessionPruner {
	if clock != nil {
		p.now = clock
	}
	return p
}

// Run sweeps immediately and then once per interval until ctx is cancelled.
// A failed sweep is logged and retried on the next tick.
func (p *SessionPruner) Run(ctx context.Context) {
	p.logger.Info("session pruner started",
		zap.Duration("interval", p.policy.Interval),
		zap.Int("retention_days", p.policy.RetentionDays),
		zap.Int("purge_after_days", p.policy.PurgeAfterDays),
	)

	ticker := time.NewTicker(p.policy.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.Sweep(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("session prune sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("session pruner stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep deactivates active sessions created before the retention cutoff and,
// when configured, purges old inactive rows. Re-running it is harmless.
func (p *SessionPruner) Sweep(ctx context.Context) (PruneResult, error) {
	now := p.now()
	result := PruneResult{Cutoff: now.AddDate(0, 0, -p.policy.RetentionDays)}

	deactivated, err := p.sessions.PruneOlderThan(ctx, result.Cutoff, now)
	if err != nil {
		p.metrics.ObservePrune(0, 0, err)
		return result, infraError("prune sessions", err)
	}
	result.Deactivated = deactivated

	if p.policy.PurgeAfterDays > 0 {
		purgeCutoff := now.AddDate(0, 0, -p.policy.PurgeAfterDays)
		purged, err := p.sessions.PurgeInactiveOlderThan(ctx, purgeCutoff)
		if err != nil {
			p.metrics.ObservePrune(deactivated, 0, err)
			return result, infraError("purge sessions", err)
		}
		result.Purged = purged
	}

	p.metrics.ObservePrune(result.Deactivated, result.Purged, nil)
	p.logger.Info("session prune sweep completed",
		zap.Time("cutoff", result.Cutoff),
		zap.Int("deactivated", result.Deactivated),
		zap.Int("purged", result.Purged),
	)

	if p.events != nil && (result.Deactivated > 0 || result.Purged > 0) {
		event := domain.SessionsPrunedEvent{
			EventID:       uuid.NewString(),
			Cutoff:        result.Cutoff,
			RetentionDays: p.policy.RetentionDays,
			Deactivated:   result.Deactivated,
			Purged:        result.Purged,
			SweptAt:       now,
		}
		if err := p.events.PublishSessionsPruned(ctx, event); err != nil {
			p.logger.Warn("publish sessions pruned event failed", zap.Error(err))
		}
	}
	return result, nil
}
