package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AutoEver-4Ever/ever-gateway/internal/clients/alarm"
	"github.com/AutoEver-4Ever/ever-gateway/internal/http/response"
	"github.com/AutoEver-4Ever/ever-gateway/internal/notify"
	"github.com/AutoEver-4Ever/ever-gateway/internal/platform/logger"
	"github.com/AutoEver-4Ever/ever-gateway/internal/requestdata"
)

const maxPageSize = 100

var (
	allowedSources  = map[string]bool{"PR": true, "SD": true, "IM": true, "FCM": true, "HRM": true, "PP": true, "CUS": true, "SUP": true}
	allowedStatuses = map[string]bool{"READ": true, "UNREAD": true}
)

// AlarmHandler serves the notification API: the SSE subscription endpoint
// backed by the connection registry, and the query/mark-read endpoints
// proxied to the alarm server.
type AlarmHandler struct {
	log         *logger.Logger
	registry    *notify.ConnectionRegistry
	alarmClient *alarm.Client
}

func NewAlarmHandler(log *logger.Logger, registry *notify.ConnectionRegistry, alarmClient *alarm.Client) *AlarmHandler {
	return &AlarmHandler{
		log:         log.With("handler", "AlarmHandler"),
		registry:    registry,
		alarmClient: alarmClient,
	}
}

// Subscribe upgrades the request to a server-sent-event stream and
// registers the caller in the connection registry. The handler parks until
// the connection reaches a terminal state or the client goes away; a
// client disconnect completes the connection normally.
func (h *AlarmHandler) Subscribe(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return
	}

	transport, err := newSSETransport(c.Writer)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "streaming_unsupported", err)
		return
	}
	writeSSEHeaders(c.Writer)

	h.log.Info("alarm subscription opened", "user_id", rd.UserID, "remote_addr", c.ClientIP())
	conn := h.registry.Register(rd.UserID, transport)

	// Initial frame so the client knows the stream is live.
	if err := conn.Send(notify.EventKeepalive, []byte(`{"status":"connected"}`)); err != nil {
		conn.CloseWithError(err)
		h.registry.Remove(rd.UserID, conn)
		return
	}

	select {
	case <-c.Request.Context().Done():
		conn.Close()
	case <-conn.Done():
	}
	h.log.Info("alarm subscription closed", "user_id", rd.UserID, "state", conn.State().String())
}

// List proxies the paginated notification list query.
func (h *AlarmHandler) List(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return
	}

	sortBy := c.DefaultQuery("sortBy", "createdAt")
	if !strings.EqualFold(sortBy, "createdAt") {
		response.RespondError(c, http.StatusBadRequest, "invalid_sort", fmt.Errorf("sortBy only supports createdAt"))
		return
	}
	order := strings.ToLower(c.DefaultQuery("order", "desc"))
	if order != "asc" && order != "desc" {
		response.RespondError(c, http.StatusBadRequest, "invalid_order", fmt.Errorf("order must be asc or desc"))
		return
	}
	source := strings.ToUpper(strings.TrimSpace(c.Query("source")))
	if source != "" && !allowedSources[source] {
		response.RespondError(c, http.StatusBadRequest, "invalid_source", fmt.Errorf("invalid source value %q", source))
		return
	}
	page, err := parseBoundedInt(c.DefaultQuery("page", "0"), 0, -1)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_page", fmt.Errorf("page must be a non-negative integer"))
		return
	}
	size, err := parseBoundedInt(c.DefaultQuery("size", "20"), 1, maxPageSize)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_size", fmt.Errorf("size must be between 1 and %d", maxPageSize))
		return
	}

	raw, err := h.alarmClient.ListNotifications(c.Request.Context(), rd.UserID, alarm.ListParams{
		SortBy: "createdAt",
		Order:  order,
		Source: source,
		Page:   page,
		Size:   size,
	})
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondRaw(c, raw)
}

// Count proxies the per-status notification count query.
func (h *AlarmHandler) Count(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return
	}

	status := strings.ToUpper(strings.TrimSpace(c.Query("status")))
	if status != "" && !allowedStatuses[status] {
		response.RespondError(c, http.StatusBadRequest, "invalid_status", fmt.Errorf("status must be READ or UNREAD"))
		return
	}

	raw, err := h.alarmClient.CountNotifications(c.Request.Context(), rd.UserID, status)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondRaw(c, raw)
}

type markReadRequest struct {
	NotificationID []string `json:"notificationId" binding:"required,min=1"`
}

// MarkReadList proxies bulk mark-read for an explicit ID list.
func (h *AlarmHandler) MarkReadList(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return
	}
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	raw, err := h.alarmClient.MarkReadList(c.Request.Context(), rd.UserID, req.NotificationID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondRaw(c, raw)
}

// MarkReadAll proxies mark-read for every notification of the caller.
func (h *AlarmHandler) MarkReadAll(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return
	}

	raw, err := h.alarmClient.MarkReadAll(c.Request.Context(), rd.UserID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondRaw(c, raw)
}

// MarkReadOne proxies mark-read for a single notification.
func (h *AlarmHandler) MarkReadOne(c *gin.Context) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", fmt.Errorf("not authenticated"))
		return
	}
	notificationID := strings.TrimSpace(c.Param("notificationId"))
	if notificationID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", fmt.Errorf("missing notificationId"))
		return
	}

	raw, err := h.alarmClient.MarkReadOne(c.Request.Context(), rd.UserID, notificationID)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	response.RespondRaw(c, raw)
}

func parseBoundedInt(s string, min, max int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < min {
		return 0, fmt.Errorf("value %d below minimum %d", v, min)
	}
	if max >= 0 && v > max {
		return 0, fmt.Errorf("value %d above maximum %d", v, max)
	}
	return v, nil
}
