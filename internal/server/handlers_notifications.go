package server

import (
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/qna/internal/notifications"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opHTTPListNotifications = "server.list_notifications"
	opHTTPMarkRead          = "server.mark_read"
)

type listNotificationsQuery struct {
	UnreadOnly bool `form:"unreadOnly"`
	Page       int  `form:"page" binding:"omitempty,min=1"`
	Limit      int  `form:"limit" binding:"omitempty,min=1,max=100"`
}

type markReadPayload struct {
	NotificationIDs []string `json:"notificationIds" binding:"required,min=1,dive,required"`
}

type notificationEventPayload struct {
	Notification notifications.Notification `json:"notification"`
	Source       string                     `json:"source"`
	Timestamp    time.Time                  `json:"timestamp"`
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	var query listNotificationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.invalidRequest(c, opHTTPListNotifications, err)
		return
	}
	result, err := h.notifications.List(c.Request.Context(), viewerID(c), notifications.ListOptions{
		UnreadOnly: query.UnreadOnly,
		Page:       query.Page,
		Limit:      query.Limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"notifications": result.Notifications,
		"unreadCount":   result.UnreadCount,
		"total":         result.Total,
		"page":          result.Page,
		"limit":         result.Limit,
	})
}

func (h *httpHandler) handleUnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": count})
}

func (h *httpHandler) handleMarkRead(c *gin.Context) {
	var payload markReadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.invalidRequest(c, opHTTPMarkRead, err)
		return
	}
	updated, err := h.notifications.MarkRead(c.Request.Context(), viewerID(c), payload.NotificationIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *httpHandler) handleMarkAllRead(c *gin.Context) {
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *httpHandler) handleDeleteNotification(c *gin.Context) {
	if err := h.notifications.Delete(c.Request.Context(), viewerID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleNotificationStream keeps a server-sent event stream open for the viewer. It emits a
// ready event carrying the unread count, then one event per new notification and periodic
// heartbeats until the client disconnects.
func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	ctx := c.Request.Context()
	userID := viewerID(c)

	unread, err := h.notifications.UnreadCount(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventReady, gin.H{"unreadCount": unread, "source": realtimeSourceBackend})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, notificationEventPayload{
				Notification: message.Notification,
				Source:       realtimeSourceBackend,
				Timestamp:    message.Timestamp.UTC(),
			})
			c.Writer.Flush()
			h.logger.Debug("realtime notification delivered",
				zap.String("user_id", userID),
				zap.String("notification_id", message.Notification.ID))
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC(), "source": realtimeSourceBackend})
			c.Writer.Flush()
		}
	}
}
