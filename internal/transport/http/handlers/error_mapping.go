package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/muniportal/portal-auth/internal/transport/http/middleware"
	"github.com/muniportal/portal-auth/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	if errors.Is(err, usecase.ErrInfrastructure) {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "service temporarily unavailable"))
		return
	}

	_ = c.Error(err)
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

// respondCredentialError renders the shared credential rejections. It returns false
// when err is not a credential rejection.
func respondCredentialError(c *gin.Context, err error) bool {
	var credErr *usecase.CredentialError
	if !errors.As(err, &credErr) {
		return false
	}

	if credErr.Locked {
		c.JSON(http.StatusLocked, NewErrorResponse(c, "account locked, try again later"))
		return true
	}

	c.JSON(http.StatusUnauthorized, CredentialErrorResponse{
		Error:             "invalid credentials",
		RemainingAttempts: credErr.RemainingAttempts,
		TraceID:           middleware.GetTraceID(c),
	})
	return true
}

// respondDeviceLimit renders the 409 listing the sessions holding the device slots.
func respondDeviceLimit(c *gin.Context, err error) bool {
	var limitErr *usecase.DeviceLimitError
	if !errors.As(err, &limitErr) {
		return false
	}

	c.JSON(http.StatusConflict, DeviceLimitResponse{
		Error:    "device limit reached",
		Limit:    limitErr.Limit,
		Sessions: newSessionResponses(limitErr.Sessions),
		TraceID:  middleware.GetTraceID(c),
	})
	return true
}

var credentialCases = []ErrorCase{
	{Err: usecase.ErrAccountLocked, Status: http.StatusLocked, Message: "account locked, try again later"},
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
	{Err: usecase.ErrAccountInactive, Status: http.StatusForbidden, Message: "account is not active"},
}
