package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/muniportal/portal-auth/internal/infra/telemetry"
)

const (
	// TraceIDHeader carries the correlation id echoed back to clients.
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the gin context key for the trace id.
	TraceIDKey = "trace_id"
	// UserIDKey is the gin context key for the authenticated account id.
	UserIDKey = "user_id"
	// SessionIDKey is the gin context key for the session behind the bearer token.
	SessionIDKey = "session_id"
	// ClaimsKey is the gin context key for verified token claims.
	ClaimsKey = "claims"

	requestContextKey = "request_context"
)

// RequestContext holds request-scoped information.
type RequestContext struct {
	TraceID   string
	UserID    string
	IP        string
	UserAgent string
}

// EnrichContext assigns a trace id and records client details for the request.
// An active OpenTelemetry span wins over the inbound header.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := telemetry.TraceIDFromContext(c.Request.Context())
		if traceID == "" {
			traceID = c.GetHeader(TraceIDHeader)
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

// GetTraceID retrieves the trace id from the context.
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// GetRequestContext retrieves the request details, never nil.
func GetRequestContext(c *gin.Context) *RequestContext {
	if raw, exists := c.Get(requestContextKey); exists {
		if reqCtx, ok := raw.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}
