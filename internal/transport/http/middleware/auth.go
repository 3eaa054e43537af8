package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/usecase"
)

// Authenticator verifies a bearer token and the session bound to it.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*port.AccessClaims, *domain.Session, error)
}

// ErrorResponse matches handlers.ErrorResponse.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, message string) ErrorResponse {
	return ErrorResponse{Error: message, TraceID: GetTraceID(c)}
}

// RequireAuth validates the bearer token and confirms its session is still active.
func RequireAuth(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(c, "authentication unavailable"))
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "missing or malformed bearer token"))
			return
		}

		claims, session, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrExpiredAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "access token expired"))
			case errors.Is(err, usecase.ErrInvalidAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "invalid access token"))
			case errors.Is(err, usecase.ErrSessionRevoked), errors.Is(err, usecase.ErrSessionNotFound):
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "session is no longer active"))
			case errors.Is(err, usecase.ErrInfrastructure):
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(c, "service temporarily unavailable"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
			}
			return
		}

		c.Set(ClaimsKey, claims)
		c.Set(UserIDKey, claims.UserID)
		c.Set(SessionIDKey, session.ID)
		GetRequestContext(c).UserID = claims.UserID

		c.Next()
	}
}

// GetAuthenticatedUserID returns the account id set by RequireAuth.
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	id := c.GetString(UserIDKey)
	return id, id != ""
}

// GetSessionID returns the session id set by RequireAuth.
func GetSessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}

// GetClaims returns the verified token claims, or nil outside RequireAuth.
func GetClaims(c *gin.Context) *port.AccessClaims {
	raw, exists := c.Get(ClaimsKey)
	if !exists {
		return nil
	}
	claims, _ := raw.(*port.AccessClaims)
	return claims
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
