package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"ruche-go/commonlib/log"
)

// =============================================================================
// Lifecycle Event Feed - websocket 推送
// =============================================================================

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API-key middleware already gated the upgrade request.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsFeed streams lifecycle events (actor started/stopped/failed/
// restarted, service down/recovered) to an observer over a websocket.
// GET /api/v1/events/ws
func (h *Handler) EventsFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", log.Err(err))
		return
	}
	defer conn.Close()

	events, cancel := h.service.Events().Subscribe(256)
	defer cancel()

	// Reader pump: we never expect client frames, but reading surfaces
	// close frames and connection loss.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
