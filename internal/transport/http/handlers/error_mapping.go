package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/academy-sessions/internal/transport/http/middleware"
	"github.com/arklim/academy-sessions/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// credentialCases share one message so expired, revoked and forged tokens look alike.
var credentialCases = []ErrorCase{
	{Err: usecase.ErrTokenBlacklisted, Status: http.StatusUnauthorized, Message: middleware.UnauthorizedMessage},
	{Err: usecase.ErrTokenExpired, Status: http.StatusUnauthorized, Message: middleware.UnauthorizedMessage},
	{Err: usecase.ErrInvalidToken, Status: http.StatusUnauthorized, Message: middleware.UnauthorizedMessage},
	{Err: usecase.ErrSessionNotFound, Status: http.StatusUnauthorized, Message: middleware.UnauthorizedMessage},
	{Err: usecase.ErrSessionExpired, Status: http.StatusUnauthorized, Message: middleware.UnauthorizedMessage},
	{Err: usecase.ErrEmailNotVerified, Status: http.StatusForbidden, Message: "email address is not verified"},
	{Err: usecase.ErrInvalidInput, Status: http.StatusBadRequest, Message: "invalid request"},
	{Err: usecase.ErrIdentityUnavailable, Status: http.StatusServiceUnavailable, Message: "identity provider unavailable"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}
	_ = c.Error(err)

	for _, cs := range cases {
		if cs.Err != nil && errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}
