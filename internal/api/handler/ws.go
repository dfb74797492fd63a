package handler

import (
	"net/http"

	"supportdesk/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from other origins; access is gated by the token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeEvents upgrades the connection and streams routing events to it.
func (h *Handler) ServeEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	chathub.NewEventClient(h.Hub, conn).Run()
}
