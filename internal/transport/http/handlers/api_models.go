package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/infra/logger"
	"github.com/arklim/academy-sessions/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response carrying the request trace ID.
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// DeviceInfoPayload is the client-reported device description.
type DeviceInfoPayload struct {
	Platform         string `json:"platform"`
	Browser          string `json:"browser,omitempty"`
	OS               string `json:"os,omitempty"`
	ScreenResolution string `json:"screen_resolution,omitempty"`
	Timezone         string `json:"timezone,omitempty"`
	Language         string `json:"language,omitempty"`
	IsMobile         bool   `json:"is_mobile"`
	IsTablet         bool   `json:"is_tablet"`
	IsDesktop        bool   `json:"is_desktop"`
}

func (p DeviceInfoPayload) toDomain() domain.DeviceInfo {
	platform := domain.Platform(p.Platform)
	switch platform {
	case domain.PlatformWeb, domain.PlatformIOS, domain.PlatformAndroid, domain.PlatformDesktop:
	default:
		platform = domain.PlatformUnknown
	}
	return domain.DeviceInfo{
		Platform:         platform,
		Browser:          p.Browser,
		OS:               p.OS,
		ScreenResolution: p.ScreenResolution,
		Timezone:         p.Timezone,
		Language:         p.Language,
		IsMobile:         p.IsMobile,
		IsTablet:         p.IsTablet,
		IsDesktop:        p.IsDesktop,
	}
}

func newDeviceInfoPayload(info domain.DeviceInfo) DeviceInfoPayload {
	return DeviceInfoPayload{
		Platform:         string(info.Platform),
		Browser:          info.Browser,
		OS:               info.OS,
		ScreenResolution: info.ScreenResolution,
		Timezone:         info.Timezone,
		Language:         info.Language,
		IsMobile:         info.IsMobile,
		IsTablet:         info.IsTablet,
		IsDesktop:        info.IsDesktop,
	}
}

// CreateSessionRequest exchanges an identity-provider token for a session and token pair.
type CreateSessionRequest struct {
	IdentityToken     string            `json:"identity_token" binding:"required"`
	DeviceInfo        DeviceInfoPayload `json:"device_info"`
	DeviceFingerprint string            `json:"device_fingerprint"`
	LoginMethod       string            `json:"login_method"`
}

// TokenPairResponse carries a freshly issued access/refresh pair.
type TokenPairResponse struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	TokenType             string    `json:"token_type"`
	ExpiresIn             int       `json:"expires_in"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

func newTokenPairResponse(pair domain.TokenPair, now time.Time) TokenPairResponse {
	return TokenPairResponse{
		AccessToken:           pair.AccessToken,
		RefreshToken:          pair.RefreshToken,
		TokenType:             "Bearer",
		ExpiresIn:             max(int(pair.AccessTokenExpiresAt.Sub(now).Seconds()), 0),
		AccessTokenExpiresAt:  pair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: pair.RefreshTokenExpiresAt,
	}
}

// CreateSessionResponse is returned after a successful login.
type CreateSessionResponse struct {
	TokenPairResponse
	SessionID   string `json:"session_id"`
	IsNewDevice bool   `json:"is_new_device"`
}

// TokenRefreshRequest represents the payload to rotate a refresh token.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenValidateRequest asks whether an access token is currently honoured.
type TokenValidateRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
}

// AccessClaimsPayload is the introspected view of a valid access token.
type AccessClaimsPayload struct {
	SubjectID   string    `json:"subject_id"`
	SessionID   string    `json:"session_id"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenValidateResponse carries the claims of a valid token or a single generic error.
type TokenValidateResponse struct {
	Valid  bool                 `json:"valid"`
	Error  string               `json:"error,omitempty"`
	Claims *AccessClaimsPayload `json:"claims,omitempty"`
}

// LogoutRequest optionally names the refresh token to revoke alongside the access token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SessionActivityRequest carries optional metadata for an activity ping.
type SessionActivityRequest struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
}

// SessionPayload is the API view of a session.
type SessionPayload struct {
	ID             string            `json:"id"`
	DeviceInfo     DeviceInfoPayload `json:"device_info"`
	LoginMethod    string            `json:"login_method"`
	MaskedIP       string            `json:"masked_ip,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	ActivityCount  int64             `json:"activity_count"`
	IsCurrent      bool              `json:"is_current"`
}

func newSessionPayload(session domain.Session, currentSessionID string) SessionPayload {
	return SessionPayload{
		ID:             session.ID,
		DeviceInfo:     newDeviceInfoPayload(session.DeviceInfo),
		LoginMethod:    session.LoginMethod,
		MaskedIP:       logger.MaskIP(session.IPAddress),
		CreatedAt:      session.CreatedAt,
		LastActivityAt: session.LastActivityAt,
		ExpiresAt:      session.ExpiresAt,
		ActivityCount:  session.ActivityCount,
		IsCurrent:      session.ID == currentSessionID,
	}
}

// SessionListResponse wraps the caller's sessions.
type SessionListResponse struct {
	Sessions []SessionPayload `json:"sessions"`
	Total    int              `json:"total"`
}

// TerminateAllResponse reports how many sessions a logout-everywhere ended.
type TerminateAllResponse struct {
	TerminatedCount int `json:"terminated_count"`
}

// DevicePayload is the API view of a tracked device.
type DevicePayload struct {
	Fingerprint  string            `json:"fingerprint"`
	DeviceInfo   DeviceInfoPayload `json:"device_info"`
	FirstSeenAt  time.Time         `json:"first_seen_at"`
	LastSeenAt   time.Time         `json:"last_seen_at"`
	SessionCount int               `json:"session_count"`
	IsTrusted    bool              `json:"is_trusted"`
	RiskLevel    string            `json:"risk_level"`
}

// DeviceListResponse wraps a subject's device history.
type DeviceListResponse struct {
	Devices []DevicePayload `json:"devices"`
	Total   int             `json:"total"`
}

// SessionStatsResponse is the API view of domain.SessionStats.
type SessionStatsResponse struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	TotalSessions  int            `json:"total_sessions"`
	ActiveSessions int            `json:"active_sessions"`
	TrackedDevices int            `json:"tracked_devices"`
	NewDevices     int            `json:"new_devices"`
	ByPlatform     map[string]int `json:"by_platform"`
	ByBrowser      map[string]int `json:"by_browser"`
	ByOS           map[string]int `json:"by_os"`
	ByLoginMethod  map[string]int `json:"by_login_method"`
	ByLocation     map[string]int `json:"by_location"`
	OldestActivity *time.Time     `json:"oldest_activity,omitempty"`
	NewestActivity *time.Time     `json:"newest_activity,omitempty"`
	BlacklistSize  int            `json:"blacklist_size,omitempty"`
}

// HealthResponse describes the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadyResponse lists the outcome of each readiness check.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
