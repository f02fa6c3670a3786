package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/transport/http/middleware"
	"github.com/arklim/academy-sessions/internal/usecase"
)

const adminRole = "admin"

// SessionHandler exposes login, logout and session management endpoints.
type SessionHandler struct {
	manager *usecase.SessionManager
	now     func() time.Time
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(manager *usecase.SessionManager) *SessionHandler {
	return &SessionHandler{manager: manager, now: func() time.Time { return time.Now().UTC() }}
}

// RegisterRoutes binds the authenticated session routes to the provided router group.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.POST("/logout", h.Logout)
	r.GET("", h.ListSessions)
	r.GET("/stats", h.Stats)
	r.GET("/:id", h.GetSession)
	r.PATCH("/:id/activity", h.RecordActivity)
	r.DELETE("/:id", h.TerminateSession)
	r.DELETE("", h.TerminateAll)
}

// CreateSession exchanges a verified identity token for a session and token pair.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "identity_token is required"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	issued, err := h.manager.IssueFromIdentityToken(c.Request.Context(), req.IdentityToken, domain.SessionRequest{
		DeviceInfo:        req.DeviceInfo.toDomain(),
		DeviceFingerprint: strings.TrimSpace(req.DeviceFingerprint),
		IPAddress:         reqCtx.IP,
		UserAgent:         reqCtx.UserAgent,
		LoginMethod:       strings.TrimSpace(req.LoginMethod),
	})
	if err != nil {
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to create session")
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{
		TokenPairResponse: newTokenPairResponse(issued.TokenPair, h.now()),
		SessionID:         issued.Session.ID,
		IsNewDevice:       issued.IsNewDevice,
	})
}

// Logout revokes the presented credentials and ends the current session.
func (h *SessionHandler) Logout(c *gin.Context) {
	_, sessionID, ok := middleware.AuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.UnauthorizedMessage))
		return
	}

	var req LogoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid logout payload"))
			return
		}
	}

	ctx := c.Request.Context()
	h.manager.BlacklistTokenPair(ctx, middleware.AccessToken(c), strings.TrimSpace(req.RefreshToken), domain.TerminationLogout)
	if err := h.manager.TerminateSession(ctx, sessionID, domain.TerminationLogout); err != nil {
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to logout")
		return
	}

	c.Status(http.StatusNoContent)
}

// ListSessions returns the caller's live sessions, flagging the current one.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	subjectID, sessionID, ok := middleware.AuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.UnauthorizedMessage))
		return
	}

	sessions, err := h.manager.ListSessionsForSubject(c.Request.Context(), subjectID)
	if err != nil {
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	payload := make([]SessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payload = append(payload, newSessionPayload(session, sessionID))
	}

	c.JSON(http.StatusOK, SessionListResponse{Sessions: payload, Total: len(payload)})
}

// GetSession returns one of the caller's sessions. Sessions of other subjects read as missing.
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, currentID, ok := h.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newSessionPayload(*session, currentID))
}

// RecordActivity extends the idle window of one of the caller's sessions.
func (h *SessionHandler) RecordActivity(c *gin.Context) {
	session, _, ok := h.ownedSession(c)
	if !ok {
		return
	}

	var req SessionActivityRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid activity payload"))
			return
		}
	}

	reqCtx := middleware.GetRequestContext(c)
	activity := domain.SessionActivity{IPAddress: req.IPAddress, UserAgent: req.UserAgent}
	if activity.IPAddress == "" {
		activity.IPAddress = reqCtx.IP
	}
	if activity.UserAgent == "" {
		activity.UserAgent = reqCtx.UserAgent
	}

	touched, err := h.manager.TouchSession(c.Request.Context(), session.ID, activity)
	if err != nil {
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to record activity")
		return
	}
	if !touched {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		return
	}

	c.Status(http.StatusNoContent)
}

// TerminateSession ends one of the caller's sessions.
func (h *SessionHandler) TerminateSession(c *gin.Context) {
	session, _, ok := h.ownedSession(c)
	if !ok {
		return
	}

	if err := h.manager.TerminateSession(c.Request.Context(), session.ID, domain.TerminationLogout); err != nil {
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to terminate session")
		return
	}

	c.Status(http.StatusNoContent)
}

// TerminateAll ends every session of the caller, the current one included.
func (h *SessionHandler) TerminateAll(c *gin.Context) {
	subjectID, _, ok := middleware.AuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.UnauthorizedMessage))
		return
	}

	count, err := h.manager.TerminateAllSessionsForSubject(c.Request.Context(), subjectID, domain.TerminationLogoutAll)
	if err != nil {
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to terminate sessions")
		return
	}

	c.JSON(http.StatusOK, TerminateAllResponse{TerminatedCount: count})
}

// Stats reports session statistics for the caller. Admins may pass scope=all for process-wide figures.
func (h *SessionHandler) Stats(c *gin.Context) {
	subjectID, _, ok := middleware.AuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.UnauthorizedMessage))
		return
	}

	if c.Query("scope") == "all" {
		claims := middleware.AccessClaims(c)
		if claims == nil || claims.Role != adminRole {
			c.JSON(http.StatusForbidden, NewErrorResponse(c, "insufficient permissions"))
			return
		}
		subjectID = ""
	}

	stats, err := h.manager.GetSessionStats(c.Request.Context(), subjectID)
	if err != nil {
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to compute statistics")
		return
	}

	c.JSON(http.StatusOK, SessionStatsResponse{
		GeneratedAt:    stats.GeneratedAt,
		TotalSessions:  stats.TotalSessions,
		ActiveSessions: stats.ActiveSessions,
		TrackedDevices: stats.TrackedDevices,
		NewDevices:     stats.NewDevices,
		ByPlatform:     stats.ByPlatform,
		ByBrowser:      stats.ByBrowser,
		ByOS:           stats.ByOS,
		ByLoginMethod:  stats.ByLoginMethod,
		ByLocation:     stats.ByLocation,
		OldestActivity: stats.OldestActivity,
		NewestActivity: stats.NewestActivity,
		BlacklistSize:  stats.BlacklistSize,
	})
}

// ownedSession loads the :id session and writes a 404 unless it belongs to the caller.
func (h *SessionHandler) ownedSession(c *gin.Context) (*domain.Session, string, bool) {
	subjectID, currentID, ok := middleware.AuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.UnauthorizedMessage))
		return nil, "", false
	}

	session, err := h.manager.GetSession(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, usecase.ErrSessionNotFound), errors.Is(err, usecase.ErrInvalidInput):
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		return nil, "", false
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load session"))
		return nil, "", false
	}

	if session.SubjectID != subjectID {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "session not found"))
		return nil, "", false
	}
	return session, currentID, true
}
