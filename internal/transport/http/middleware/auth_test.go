package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

type fakeAuthenticator struct {
	results  map[string]domain.ValidationResult
	live     map[string]bool
	touchErr error
	touched  []domain.SessionActivity
}

func (f *fakeAuthenticator) ValidateAccessToken(_ context.Context, token string) domain.ValidationResult {
	if result, ok := f.results[token]; ok {
		return result
	}
	return domain.ValidationResult{Error: "token is invalid"}
}

func (f *fakeAuthenticator) TouchSession(_ context.Context, sessionID string, activity domain.SessionActivity) (bool, error) {
	if f.touchErr != nil {
		return false, f.touchErr
	}
	f.touched = append(f.touched, activity)
	return f.live[sessionID], nil
}

func newAuthRouter(t *testing.T, auth SessionAuthenticator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EnrichContext())
	router.GET("/me", RequireAuth(auth, zaptest.NewLogger(t)), func(c *gin.Context) {
		subjectID, sessionID, ok := AuthenticatedSubject(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"subject": subjectID,
			"session": sessionID,
			"role":    AccessClaims(c).Role,
			"token":   AccessToken(c),
		})
	})
	return router
}

func TestRequireAuthAcceptsLiveSession(t *testing.T) {
	auth := &fakeAuthenticator{
		results: map[string]domain.ValidationResult{
			"good": {IsValid: true, Access: &domain.AccessPayload{SubjectID: "u-1", SessionID: "s-1", Role: "student"}},
		},
		live: map[string]bool{"s-1": true},
	}
	router := newAuthRouter(t, auth)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set("User-Agent", "test-agent")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["subject"] != "u-1" || body["session"] != "s-1" || body["role"] != "student" || body["token"] != "good" {
		t.Fatalf("unexpected context values: %v", body)
	}
	if len(auth.touched) != 1 || auth.touched[0].UserAgent != "test-agent" {
		t.Fatalf("expected the session to be touched once, got %+v", auth.touched)
	}
}

func TestRequireAuthRejectsUniformly(t *testing.T) {
	auth := &fakeAuthenticator{
		results: map[string]domain.ValidationResult{
			"expired":     {IsExpired: true, Error: "token has expired"},
			"blacklisted": {IsBlacklisted: true, Error: "token has been revoked"},
			"orphan":      {IsValid: true, Access: &domain.AccessPayload{SubjectID: "u-1", SessionID: "gone"}},
		},
		live: map[string]bool{},
	}
	router := newAuthRouter(t, auth)

	headers := []string{"", "Basic abc", "Bearer", "Bearer garbage", "Bearer expired", "Bearer blacklisted", "Bearer orphan"}

	var firstBody string
	for _, header := range headers {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(TraceIDHeader, "trace-fixed")
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%q: expected 401, got %d", header, rr.Code)
		}
		if firstBody == "" {
			firstBody = rr.Body.String()
			continue
		}
		if rr.Body.String() != firstBody {
			t.Fatalf("%q: expected identical rejection body, got %s vs %s", header, rr.Body.String(), firstBody)
		}
	}
}

func TestRequireAuthStoreFailure(t *testing.T) {
	auth := &fakeAuthenticator{
		results: map[string]domain.ValidationResult{
			"good": {IsValid: true, Access: &domain.AccessPayload{SubjectID: "u-1", SessionID: "s-1"}},
		},
		touchErr: errors.New("store down"),
	}
	router := newAuthRouter(t, auth)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
