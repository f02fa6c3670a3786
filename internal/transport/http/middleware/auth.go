package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

// UnauthorizedMessage is returned for every rejected credential so callers cannot tell
// expired, revoked and unknown tokens apart.
const UnauthorizedMessage = "invalid or expired token"

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// SessionAuthenticator is the slice of the session manager the auth middleware needs.
type SessionAuthenticator interface {
	ValidateAccessToken(ctx context.Context, token string) domain.ValidationResult
	TouchSession(ctx context.Context, sessionID string, activity domain.SessionActivity) (bool, error)
}

// RequireAuth validates the bearer access token, records activity on its session and stores
// the caller's subject, session and claims on the gin context.
func RequireAuth(sessions SessionAuthenticator, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c)
			return
		}

		ctx := c.Request.Context()
		result := sessions.ValidateAccessToken(ctx, token)
		if !result.IsValid || result.Access == nil {
			abortUnauthorized(c)
			return
		}
		claims := result.Access

		touched, err := sessions.TouchSession(ctx, claims.SessionID, domain.SessionActivity{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		if err != nil {
			log.Error("touch session during authentication", zap.String("session_id", claims.SessionID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, newErrorResponse(c, "authentication failed"))
			return
		}
		if !touched {
			abortUnauthorized(c)
			return
		}

		c.Set(SubjectIDKey, claims.SubjectID)
		c.Set(SessionIDKey, claims.SessionID)
		c.Set(accessClaimsKey, claims)
		c.Set(accessTokenKey, token)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.SubjectID = claims.SubjectID
			reqCtx.SessionID = claims.SessionID
		}

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, UnauthorizedMessage))
}
