package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/transport/http/middleware"
	"github.com/muniportal/portal-auth/internal/usecase"
)

// MFAService manages TOTP enrollment for the authenticated account.
type MFAService interface {
	Setup(ctx context.Context, accountID string) (port.TOTPKey, error)
	Verify(ctx context.Context, accountID, token string) (domain.MFAState, error)
	Disable(ctx context.Context, accountID, password string) error
}

// MFAHandler exposes the TOTP enrollment endpoints.
type MFAHandler struct {
	mfa MFAService
}

// NewMFAHandler constructs an MFA handler.
func NewMFAHandler(mfa MFAService) *MFAHandler {
	return &MFAHandler{mfa: mfa}
}

// RegisterRoutes wires the MFA routes. The group must already require authentication.
func (h *MFAHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/setup", h.Setup)
	r.POST("/verify", h.Verify)
	r.POST("/disable", h.Disable)
}

// Setup godoc
// @Summary Provision a TOTP secret
// @Tags MFA
// @Security BearerAuth
// @Produce json
// @Success 200 {object} MFASetupResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/mfa/setup [post]
func (h *MFAHandler) Setup(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	key, err := h.mfa.Setup(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrMFAAlreadyEnabled, Status: http.StatusConflict, Message: "mfa already enabled"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusUnauthorized, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to set up mfa")
		return
	}

	c.JSON(http.StatusOK, MFASetupResponse{Secret: key.Secret, OTPAuthURL: key.OTPAuthURL})
}

// Verify godoc
// @Summary Verify a TOTP and enable MFA
// @Tags MFA
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body MFAVerifyRequest true "TOTP"
// @Success 200 {object} MFAVerifyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/mfa/verify [post]
func (h *MFAHandler) Verify(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req MFAVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	state, err := h.mfa.Verify(c.Request.Context(), userID, req.Token)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidToken, Status: http.StatusBadRequest, Message: "invalid mfa token"},
			{Err: usecase.ErrMFANotConfigured, Status: http.StatusConflict, Message: "mfa not configured"},
			{Err: usecase.ErrMFAThrottled, Status: http.StatusTooManyRequests, Message: "too many mfa attempts, try again later"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusUnauthorized, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to verify mfa")
		return
	}

	c.JSON(http.StatusOK, MFAVerifyResponse{OK: true, State: string(state)})
}

// Disable godoc
// @Summary Disable MFA after password re-entry
// @Tags MFA
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body MFADisableRequest true "Current password"
// @Success 200 {object} OKResponse
// @Failure 401 {object} ErrorResponse
// @Failure 423 {object} ErrorResponse
// @Router /auth/mfa/disable [post]
func (h *MFAHandler) Disable(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req MFADisableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	err := h.mfa.Disable(c.Request.Context(), userID, req.Password)
	if err != nil {
		var credErr *usecase.CredentialError
		if errors.As(err, &credErr) && credErr.Locked {
			c.JSON(http.StatusLocked, NewErrorResponse(c, "account locked, try again later"))
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidPassword, Status: http.StatusUnauthorized, Message: "invalid password"},
			{Err: usecase.ErrAccountLocked, Status: http.StatusLocked, Message: "account locked, try again later"},
			{Err: usecase.ErrAccountInactive, Status: http.StatusForbidden, Message: "account is not active"},
			{Err: usecase.ErrAccountNotFound, Status: http.StatusUnauthorized, Message: "account not found"},
		}, http.StatusInternalServerError, "failed to disable mfa")
		return
	}

	c.JSON(http.StatusOK, OKResponse{OK: true})
}
