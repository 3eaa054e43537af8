package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/usecase"
)

type fakeAuthenticator struct {
	err       error
	lastToken string
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (*port.AccessClaims, *domain.Session, error) {
	f.lastToken = token
	if f.err != nil {
		return nil, nil, f.err
	}
	claims := &port.AccessClaims{UserID: "acc-1", SessionID: "sess-1", ExpiresAt: time.Now().Add(time.Minute)}
	return claims, &domain.Session{ID: "sess-1", UserID: "acc-1", IsActive: true}, nil
}

func serveAuthenticated(t *testing.T, auth Authenticator, header string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EnrichContext())
	router.GET("/auth/sessions", RequireAuth(auth), func(c *gin.Context) {
		userID, _ := GetAuthenticatedUserID(c)
		claims := GetClaims(c)
		if claims == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user":    userID,
			"session": GetSessionID(c),
			"ctxUser": GetRequestContext(c).UserID,
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRequireAuthAcceptsActiveSession(t *testing.T) {
	auth := &fakeAuthenticator{}
	rr := serveAuthenticated(t, auth, "bearer  token-abc ")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if auth.lastToken != "token-abc" {
		t.Fatalf("expected trimmed token, got %q", auth.lastToken)
	}
	body := rr.Body.String()
	for _, want := range []string{`"user":"acc-1"`, `"session":"sess-1"`, `"ctxUser":"acc-1"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in body %s", want, body)
		}
	}
}

func TestRequireAuthRejections(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer ", status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer t", err: usecase.ErrExpiredAccessToken, status: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer t", err: usecase.ErrInvalidAccessToken, status: http.StatusUnauthorized},
		{name: "revoked", header: "Bearer t", err: usecase.ErrSessionRevoked, status: http.StatusUnauthorized},
		{name: "unknown session", header: "Bearer t", err: usecase.ErrSessionNotFound, status: http.StatusUnauthorized},
		{name: "store down", header: "Bearer t", err: &usecase.InfrastructureError{Op: "lookup session", Err: errors.New("timeout")}, status: http.StatusServiceUnavailable},
		{name: "unexpected", header: "Bearer t", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serveAuthenticated(t, &fakeAuthenticator{err: tc.err}, tc.header)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if strings.Contains(rr.Body.String(), "timeout") || strings.Contains(rr.Body.String(), "boom") {
				t.Fatalf("internal error text leaked: %s", rr.Body.String())
			}
		})
	}
}

func TestRequireAuthWithoutAuthenticator(t *testing.T) {
	rr := serveAuthenticated(t, nil, "Bearer t")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
