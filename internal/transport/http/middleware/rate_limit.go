package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/logger"
)

const (
	rateLimitProblemType  = "https://portal.muni.example.gov/problems/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// IdentifierFunc extracts the value a rule is scoped to, such as the client IP.
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule caps requests per identifier within a sliding window.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

func (r RateLimitRule) valid() bool {
	return r.Identifier != nil && r.Limit > 0 && r.Window > 0
}

// ProblemDetails is the RFC 9457 body returned with 429 responses.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after"`
	TraceID    string `json:"trace_id,omitempty"`
}

// windowState is the outcome of one rule for one request.
type windowState struct {
	limit     int
	remaining int
	reset     time.Time
	blocked   bool
}

func (w windowState) retryAfterSeconds(now time.Time) int {
	return max(int(math.Ceil(w.reset.Sub(now).Seconds())), 0)
}

// RateLimiter guards the credential endpoints against guessing. A store failure
// lets the request through unless the degradation policy is strict.
type RateLimiter struct {
	store       port.RateLimitStore
	logger      *zap.Logger
	now         func() time.Time
	degradation domain.DegradationPolicy
}

// NewRateLimiter constructs a RateLimiter over store.
func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		store:       store,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		degradation: domain.NewDegradationPolicy(domain.DegradationPolicyModeLenient),
	}
}

// WithDegradationPolicy decides whether requests pass while the store is unreachable.
func (rl *RateLimiter) WithDegradationPolicy(policy domain.DegradationPolicy) *RateLimiter {
	rl.degradation = policy
	return rl
}

// WithClock overrides the internal clock for deterministic tests.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// ClientIPIdentifier scopes a rule to the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		return ip, ip != ""
	}
}

// RateLimit returns a middleware enforcing every valid rule. The most
// constrained window is reported in the X-RateLimit-* headers.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	active := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.valid() {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		active = append(active, rule)
	}

	return func(c *gin.Context) {
		if len(active) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var tightest *windowState

		for _, rule := range active {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			state, err := rl.consume(c.Request.Context(), rule, rule.Name+":"+identifier, now)
			if err != nil {
				rl.logger.Warn("rate limit store unavailable",
					zap.String("rule", rule.Name),
					zap.String("client_ip", logger.MaskIP(identifier)),
					zap.Error(err),
				)
				if !rl.degradation.AllowsFallback(domain.DegradationReasonRateLimitUnavailable) {
					c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(c, "service temporarily unavailable"))
					return
				}
				continue
			}

			if state.blocked {
				rl.logger.Info("rate limit exceeded",
					zap.String("rule", rule.Name),
					zap.String("client_ip", logger.MaskIP(identifier)),
				)
				setRateLimitHeaders(c, state, now)
				rl.reject(c, state, now)
				return
			}
			if tightest == nil || state.remaining < tightest.remaining {
				tightest = &state
			}
		}

		if tightest != nil {
			setRateLimitHeaders(c, *tightest, now)
		}
		c.Next()
	}
}

// consume checks the window for key and records the attempt when it fits.
func (rl *RateLimiter) consume(ctx context.Context, rule RateLimitRule, key string, now time.Time) (windowState, error) {
	if err := rl.store.TrimWindow(ctx, key, rule.Window, now); err != nil {
		return windowState{}, fmt.Errorf("trim window: %w", err)
	}
	count, err := rl.store.CountAttempts(ctx, key, rule.Window, now)
	if err != nil {
		return windowState{}, fmt.Errorf("count attempts: %w", err)
	}
	oldest, hasAttempts, err := rl.store.OldestAttempt(ctx, key, rule.Window, now)
	if err != nil {
		return windowState{}, fmt.Errorf("oldest attempt: %w", err)
	}

	state := windowState{limit: rule.Limit, reset: now.Add(rule.Window)}
	if hasAttempts {
		state.reset = oldest.Add(rule.Window)
	}
	if count >= rule.Limit {
		state.blocked = true
		return state, nil
	}

	if err := rl.store.RecordAttempt(ctx, key, now); err != nil {
		return windowState{}, fmt.Errorf("record attempt: %w", err)
	}
	state.remaining = max(rule.Limit-count-1, 0)
	return state, nil
}

func setRateLimitHeaders(c *gin.Context, state windowState, now time.Time) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(state.limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(state.remaining))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(state.reset.Unix(), 10))
	if state.blocked {
		headers.Set("Retry-After", strconv.Itoa(state.retryAfterSeconds(now)))
	}
}

func (rl *RateLimiter) reject(c *gin.Context, state windowState, now time.Time) {
	retry := state.retryAfterSeconds(now)
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}

	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many sign-in attempts from this address. Try again in %d seconds.", retry),
		Instance:   instance,
		RetryAfter: retry,
		TraceID:    GetTraceID(c),
	})
}
