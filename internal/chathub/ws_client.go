package chathub

import (
	"encoding/json"
	"time"

	"supportdesk/backend/internal/config"
	"supportdesk/backend/internal/models"

	"github.com/gorilla/websocket"
)

// EventClient is one websocket subscriber of the event stream.
type EventClient struct {
	Conn *websocket.Conn
	Hub  *EventHub
	Send chan models.RoutingEvent
}

func NewEventClient(hub *EventHub, conn *websocket.Conn) *EventClient {
	return &EventClient{
		Conn: conn,
		Hub:  hub,
		Send: make(chan models.RoutingEvent, config.WSSendBuffer),
	}
}

// Run registers the client and starts its pumps. The connection is closed
// right away when the hub has stopped.
func (c *EventClient) Run() {
	select {
	case c.Hub.RegisterCh <- c:
	case <-c.Hub.done:
		c.Conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump only services control frames; the stream is one-way.
func (c *EventClient) readPump() {
	defer func() {
		select {
		case c.Hub.UnregisterCh <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.WSMaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.WithError(err).Debug("event stream client closed unexpectedly")
			}
			return
		}
	}
}

// writePump writes events from Send as JSON text frames and keeps the
// connection alive with pings.
func (c *EventClient) writePump() {
	ticker := time.NewTicker(config.WSPingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if !ok {
				// hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(ev)
			if err != nil {
				c.Hub.log.WithError(err).Warn("failed to encode routing event")
				continue
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
