package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/academy-sessions/internal/transport/http/middleware"
	"github.com/arklim/academy-sessions/internal/usecase"
)

// DeviceHandler lists the devices observed for the caller.
type DeviceHandler struct {
	manager *usecase.SessionManager
}

func NewDeviceHandler(manager *usecase.SessionManager) *DeviceHandler {
	return &DeviceHandler{manager: manager}
}

func (h *DeviceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.ListDevices)
}

// ListDevices returns the caller's device history, most recently seen first.
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	subjectID, _, ok := middleware.AuthenticatedSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.UnauthorizedMessage))
		return
	}

	devices, err := h.manager.DeviceHistory(c.Request.Context(), subjectID)
	if err != nil {
		RespondWithMappedError(c, err, credentialCases, http.StatusInternalServerError, "failed to list devices")
		return
	}

	payload := make([]DevicePayload, 0, len(devices))
	for _, device := range devices {
		payload = append(payload, DevicePayload{
			Fingerprint:  device.Fingerprint,
			DeviceInfo:   newDeviceInfoPayload(device.DeviceInfo),
			FirstSeenAt:  device.FirstSeenAt,
			LastSeenAt:   device.LastSeenAt,
			SessionCount: device.SessionCount,
			IsTrusted:    device.IsTrusted,
			RiskLevel:    string(device.RiskLevel),
		})
	}

	c.JSON(http.StatusOK, DeviceListResponse{Devices: payload, Total: len(payload)})
}
