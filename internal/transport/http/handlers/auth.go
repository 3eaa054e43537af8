package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/transport/http/middleware"
	"github.com/muniportal/portal-auth/internal/usecase"
)

// LoginService issues sessions for verified credentials.
type LoginService interface {
	Login(ctx context.Context, req usecase.LoginRequest) (*usecase.LoginResult, error)
}

// CurrentSessionRevoker revokes the session behind a presented token.
type CurrentSessionRevoker interface {
	LogoutCurrent(ctx context.Context, userID, sessionID string) (bool, error)
}

// AuthHandler exposes login and logout endpoints.
type AuthHandler struct {
	login    LoginService
	sessions CurrentSessionRevoker
}

// NewAuthHandler constructs an auth handler.
func NewAuthHandler(login LoginService, sessions CurrentSessionRevoker) *AuthHandler {
	return &AuthHandler{login: login, sessions: sessions}
}

// RegisterRoutes wires the public login route and the authenticated logout route.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc, loginMiddlewares ...gin.HandlerFunc) {
	loginHandlers := append([]gin.HandlerFunc{}, loginMiddlewares...)
	loginHandlers = append(loginHandlers, h.Login)
	r.POST("/login", loginHandlers...)
	r.POST("/logout", authMiddleware, h.Logout)
}

// Login godoc
// @Summary Authenticate and open a device session
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login payload"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} CredentialErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} DeviceLimitResponse
// @Failure 423 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}
	if !req.MFAOnly && req.Password == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "password is required"))
		return
	}

	result, err := h.login.Login(c.Request.Context(), usecase.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		Device:     domain.DeviceMetadata(req.Device),
		UserAgent:  c.Request.UserAgent(),
		ClientIP:   c.ClientIP(),
		MFAOnly:    req.MFAOnly,
		MFAToken:   req.MFAToken,
	})
	if err != nil {
		respondLoginError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     result.Token,
		SessionID: result.SessionID,
		ExpiresAt: result.ExpiresAt,
	})
}

// Logout godoc
// @Summary Revoke the current session
// @Tags Auth
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}
	sessionID := middleware.GetSessionID(c)

	if _, err := h.sessions.LogoutCurrent(c.Request.Context(), userID, sessionID); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusUnauthorized, Message: "session not found"},
		}, http.StatusInternalServerError, "failed to logout")
		return
	}

	c.Status(http.StatusNoContent)
}

func respondLoginError(c *gin.Context, err error) {
	if respondCredentialError(c, err) || respondDeviceLimit(c, err) {
		return
	}

	switch {
	case errors.Is(err, usecase.ErrMFARequired):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "mfa token required"))
	case errors.Is(err, usecase.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid mfa token"))
	case errors.Is(err, usecase.ErrMFAThrottled):
		c.JSON(http.StatusTooManyRequests, NewErrorResponse(c, "too many mfa attempts, try again later"))
	case errors.Is(err, usecase.ErrMFAOnlyDisabled):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
	default:
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to login")
	}
}
