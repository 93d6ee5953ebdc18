package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type conversationEventPayload struct {
	ConversationIDs []int64 `json:"conversationIds"`
	Timestamp       string  `json:"timestamp"`
	Source          string  `json:"source"`
}

type heartbeatEventPayload struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

// handleEventStream keeps a server-sent events stream open for the session user.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	userID := currentUserID(c)
	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("event stream opened", zap.String("user_id", userID))
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, conversationEventPayload{
				ConversationIDs: message.ConversationIDs,
				Timestamp:       message.Timestamp.Format(time.RFC3339Nano),
				Source:          realtimeSourceBackend,
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatEventPayload{
				Timestamp: tick.UTC().Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("user_id", userID))
}
