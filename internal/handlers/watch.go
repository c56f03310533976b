package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulsecare/pulsecare/pkg/logger"
)

const watchWriteTimeout = 10 * time.Second

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The UI and API are served from the same origin.
		return true
	},
}

// Watch upgrades the connection and streams session state snapshots as JSON
// frames. The current state is sent immediately, then every transition until
// the client disconnects.
func (h *AuthHandler) Watch(c *gin.Context) {
	conn, err := watchUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WithModule("handlers").Warn("session watch upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	states, cancel := h.sessions.Observe()
	defer cancel()

	// Drain client frames so control messages are processed and the read
	// side reports disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case state, ok := <-states:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
			if err := conn.WriteJSON(state); err != nil {
				return
			}
		case <-done:
			return
		case <-c.Request.Context().Done():
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
