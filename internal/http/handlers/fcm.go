package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AutoEver-4Ever/ever-gateway/internal/clients/alarm"
	"github.com/AutoEver-4Ever/ever-gateway/internal/http/response"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
	"github.com/AutoEver-4Ever/ever-gateway/internal/requestdata"
)

type FcmTokenHandler struct {
	log         *logger.Logger
	alarmClient *alarm.Client
}

func NewFcmTokenHandler(log *logger.Logger, alarmClient *alarm.Client) *FcmTokenHandler {
	return &FcmTokenHandler{
		log:         log.With("handler", "FcmTokenHandler"),
		alarmClient: alarmClient,
	}
}

type fcmTokenRequest struct {
	FcmToken   string `json:"fcmToken" binding:"required"`
	DeviceInfo string `json:"deviceInfo"`
}

// Register forwards a device push token registration to the alarm server.
func (h *FcmTokenHandler) Register(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return
	}
	var req fcmTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	raw, err := h.alarmClient.RegisterFcmToken(c.Request.Context(), rd.UserID, req.FcmToken, req.DeviceInfo)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	h.log.Info("fcm token registered", "user_id", rd.UserID)
	response.RespondRaw(c, raw)
}
