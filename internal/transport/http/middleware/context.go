package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arklim/academy-sessions/internal/core/domain"
)

const (
	// TraceIDHeader is the HTTP header name for trace ID
	TraceIDHeader = "X-Trace-ID"
	// TraceIDKey is the context key for trace ID
	TraceIDKey = "trace_id"
	// SubjectIDKey is the context key for the authenticated subject.
	SubjectIDKey = "subject_id"
	// SessionIDKey is the context key for the session bound to the presented access token.
	SessionIDKey = "session_id"

	accessClaimsKey   = "access_claims"
	accessTokenKey    = "access_token"
	requestContextKey = "request_context"
)

// RequestContext holds request-scoped information
type RequestContext struct {
	TraceID   string
	SubjectID string
	SessionID string
	IP        string
	UserAgent string
}

// EnrichContext adds trace ID and request context to each request
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(TraceIDKey, traceID)
		c.Header(TraceIDHeader, traceID)

		c.Set(requestContextKey, &RequestContext{
			TraceID:   traceID,
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})

		c.Next()
	}
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(c *gin.Context) string {
	return c.GetString(TraceIDKey)
}

// GetRequestContext retrieves the full request context
func GetRequestContext(c *gin.Context) *RequestContext {
	if ctx, exists := c.Get(requestContextKey); exists {
		if reqCtx, ok := ctx.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{}
}

// AuthenticatedSubject returns the subject and session attached by RequireAuth.
func AuthenticatedSubject(c *gin.Context) (subjectID, sessionID string, ok bool) {
	subjectID = c.GetString(SubjectIDKey)
	sessionID = c.GetString(SessionIDKey)
	return subjectID, sessionID, subjectID != "" && sessionID != ""
}

// AccessClaims returns the decoded access token of an authenticated request.
func AccessClaims(c *gin.Context) *domain.AccessPayload {
	if value, exists := c.Get(accessClaimsKey); exists {
		if claims, ok := value.(*domain.AccessPayload); ok {
			return claims
		}
	}
	return nil
}

// AccessToken returns the raw bearer token of an authenticated request.
func AccessToken(c *gin.Context) string {
	return c.GetString(accessTokenKey)
}
