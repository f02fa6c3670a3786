package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/academy-sessions/internal/core/domain"
	"github.com/arklim/academy-sessions/internal/transport/http/middleware"
	"github.com/arklim/academy-sessions/internal/usecase"
)

// TokenHandler exposes refresh rotation and access token introspection.
type TokenHandler struct {
	manager *usecase.SessionManager
	now     func() time.Time
}

func NewTokenHandler(manager *usecase.SessionManager) *TokenHandler {
	return &TokenHandler{manager: manager, now: func() time.Time { return time.Now().UTC() }}
}

// RegisterRoutes binds token endpoints, each behind its own middleware chain.
// The validate chain is expected to authenticate the caller.
func (h *TokenHandler) RegisterRoutes(r *gin.RouterGroup, refreshMiddlewares, validateMiddlewares []gin.HandlerFunc) {
	refresh := append(append([]gin.HandlerFunc{}, refreshMiddlewares...), h.RefreshToken)
	r.POST("/refresh", refresh...)

	validate := append(append([]gin.HandlerFunc{}, validateMiddlewares...), h.ValidateToken)
	r.POST("/validate", validate...)
}

// RefreshToken rotates a refresh token into a new pair for the same session.
func (h *TokenHandler) RefreshToken(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh_token is required"))
		return
	}

	reqCtx := middleware.GetRequestContext(c)
	pair, err := h.manager.RefreshTokenPair(c.Request.Context(), req.RefreshToken, domain.SessionActivity{
		IPAddress: reqCtx.IP,
		UserAgent: reqCtx.UserAgent,
	})
	if err != nil {
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	c.JSON(http.StatusOK, newTokenPairResponse(pair, h.now()))
}

// ValidateToken reports whether an access token would currently be honoured. Every rejection
// produces the same body, so revoked, expired and unknown tokens cannot be told apart.
func (h *TokenHandler) ValidateToken(c *gin.Context) {
	var req TokenValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "access_token is required"))
		return
	}

	result := h.manager.ValidateAccessToken(c.Request.Context(), req.AccessToken)
	if !result.IsValid || result.Access == nil {
		c.JSON(http.StatusOK, TokenValidateResponse{Valid: false, Error: middleware.UnauthorizedMessage})
		return
	}

	c.JSON(http.StatusOK, TokenValidateResponse{
		Valid: true,
		Claims: &AccessClaimsPayload{
			SubjectID:   result.Access.SubjectID,
			SessionID:   result.Access.SessionID,
			Role:        result.Access.Role,
			Permissions: result.Access.Permissions,
			IssuedAt:    result.Access.IssuedAt,
			ExpiresAt:   result.Access.ExpiresAt,
		},
	})
}
