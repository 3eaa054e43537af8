package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/muniportal/portal-auth/internal/transport/http/middleware"
	"github.com/muniportal/portal-auth/internal/usecase"
)

// SessionService lists and revokes device sessions.
type SessionService interface {
	ListActive(ctx context.Context, userID, currentSessionID string) ([]usecase.SessionView, error)
	ListWithCredentials(ctx context.Context, identifier, password string) ([]usecase.SessionView, error)
	LogoutWithCredentials(ctx context.Context, identifier, password, sessionID string) (bool, error)
	LogoutOthers(ctx context.Context, userID, currentSessionID string) (int, error)
	LogoutAll(ctx context.Context, userID string) (int, error)
}

// SessionHandler exposes device session management.
type SessionHandler struct {
	sessions SessionService
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// CredentialRouteMiddlewares holds the middlewares, typically rate limits, placed in
// front of the token-less session routes.
type CredentialRouteMiddlewares struct {
	List   []gin.HandlerFunc
	Logout []gin.HandlerFunc
}

// RegisterRoutes wires the session routes. Bearer routes take authMiddleware.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc, credential CredentialRouteMiddlewares) {
	r.GET("", authMiddleware, h.List)
	r.POST("/logout-others", authMiddleware, h.LogoutOthers)
	r.POST("/logout-all", authMiddleware, h.LogoutAll)

	listHandlers := append([]gin.HandlerFunc{}, credential.List...)
	r.POST("/list", append(listHandlers, h.ListWithCredentials)...)

	logoutHandlers := append([]gin.HandlerFunc{}, credential.Logout...)
	r.POST("/:id/logout-credential", append(logoutHandlers, h.LogoutWithCredentials)...)
}

// List godoc
// @Summary List the caller's active sessions
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Success 200 {object} SessionsResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}
	sessionID := middleware.GetSessionID(c)

	views, err := h.sessions.ListActive(c.Request.Context(), userID, sessionID)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	c.JSON(http.StatusOK, SessionsResponse{Sessions: newSessionResponses(views)})
}

// ListWithCredentials godoc
// @Summary List active sessions by re-proving credentials
// @Tags Sessions
// @Accept json
// @Produce json
// @Param request body CredentialsRequest true "Credentials"
// @Success 200 {object} SessionsResponse
// @Failure 401 {object} CredentialErrorResponse
// @Failure 423 {object} ErrorResponse
// @Router /auth/sessions/list [post]
func (h *SessionHandler) ListWithCredentials(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	views, err := h.sessions.ListWithCredentials(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		if respondCredentialError(c, err) {
			return
		}
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	c.JSON(http.StatusOK, SessionsResponse{Sessions: newSessionResponses(views)})
}

// LogoutWithCredentials godoc
// @Summary Revoke one session by re-proving credentials
// @Tags Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body CredentialsRequest true "Credentials"
// @Success 200 {object} RevokeResponse
// @Failure 401 {object} CredentialErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /auth/sessions/{id}/logout-credential [post]
func (h *SessionHandler) LogoutWithCredentials(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("id"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session id is required"))
		return
	}

	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	revoked, err := h.sessions.LogoutWithCredentials(c.Request.Context(), req.Identifier, req.Password, sessionID)
	if err != nil {
		if respondCredentialError(c, err) {
			return
		}
		cases := append([]ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
		}, credentialCases...)
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to revoke session")
		return
	}

	count := 0
	if revoked {
		count = 1
	}
	c.JSON(http.StatusOK, RevokeResponse{OK: true, Revoked: count})
}

// LogoutOthers godoc
// @Summary Revoke every session except the current one
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Success 200 {object} RevokeResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/sessions/logout-others [post]
func (h *SessionHandler) LogoutOthers(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}
	sessionID := middleware.GetSessionID(c)

	revoked, err := h.sessions.LogoutOthers(c.Request.Context(), userID, sessionID)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusUnauthorized, Message: "session not found"},
		}, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}

	c.JSON(http.StatusOK, RevokeResponse{OK: true, Revoked: revoked})
}

// LogoutAll godoc
// @Summary Revoke every session including the current one
// @Tags Sessions
// @Security BearerAuth
// @Produce json
// @Success 200 {object} RevokeResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/sessions/logout-all [post]
func (h *SessionHandler) LogoutAll(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	revoked, err := h.sessions.LogoutAll(c.Request.Context(), userID)
	if err != nil {
		RespondWithMappedError(c, err, nil, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}

	c.JSON(http.StatusOK, RevokeResponse{OK: true, Revoked: revoked})
}
