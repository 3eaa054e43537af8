package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/muniportal/portal-auth/internal/transport/http/middleware"
	"github.com/muniportal/portal-auth/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response carrying the request trace id.
func NewErrorResponse(c *gin.Context, message string) ErrorResponse {
	return ErrorResponse{Error: message, TraceID: middleware.GetTraceID(c)}
}

// CredentialErrorResponse reports a rejected credential with the attempts left before lockout.
type CredentialErrorResponse struct {
	Error             string `json:"error"`
	RemainingAttempts int    `json:"remainingAttempts"`
	TraceID           string `json:"trace_id,omitempty"`
}

// DeviceLimitResponse lists the sessions occupying the device slots.
type DeviceLimitResponse struct {
	Error    string            `json:"error"`
	Limit    int               `json:"limit"`
	Sessions []SessionResponse `json:"sessions"`
	TraceID  string            `json:"trace_id,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Identifier string            `json:"identifier" binding:"required"`
	Password   string            `json:"password"`
	Device     map[string]string `json:"device"`
	MFAOnly    bool              `json:"mfaOnly"`
	MFAToken   string            `json:"mfaToken"`
}

// LoginResponse is returned once a session has been issued.
type LoginResponse struct {
	Token     string    `json:"token"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CredentialsRequest re-proves identity for the token-less session endpoints.
type CredentialsRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// SessionResponse describes one active session.
type SessionResponse struct {
	SessionID     string            `json:"sessionId"`
	CreatedAt     time.Time         `json:"createdAt"`
	LastSeenAt    time.Time         `json:"lastSeenAt"`
	DeviceSummary string            `json:"deviceSummary"`
	Device        map[string]string `json:"device,omitempty"`
	IPAddress     string            `json:"ipAddress,omitempty"`
	Current       bool              `json:"current,omitempty"`
}

// SessionsResponse wraps a session listing.
type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// RevokeResponse reports how many sessions a logout revoked.
type RevokeResponse struct {
	OK      bool `json:"ok"`
	Revoked int  `json:"revoked"`
}

// MFASetupResponse carries a freshly provisioned TOTP secret.
type MFASetupResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
}

// MFAVerifyRequest is the body of POST /auth/mfa/verify.
type MFAVerifyRequest struct {
	Token string `json:"token" binding:"required"`
}

// MFAVerifyResponse reports the MFA state after a successful verification.
type MFAVerifyResponse struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
}

// MFADisableRequest is the body of POST /auth/mfa/disable.
type MFADisableRequest struct {
	Password string `json:"password" binding:"required"`
}

// OKResponse is the minimal success payload.
type OKResponse struct {
	OK bool `json:"ok"`
}

// HealthResponse describes liveness state.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func newSessionResponses(views []usecase.SessionView) []SessionResponse {
	out := make([]SessionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, SessionResponse{
			SessionID:     v.SessionID,
			CreatedAt:     v.CreatedAt,
			LastSeenAt:    v.LastSeenAt,
			DeviceSummary: v.DeviceSummary,
			Device:        v.Device,
			IPAddress:     v.IPAddress,
			Current:       v.Current,
		})
	}
	return out
}
