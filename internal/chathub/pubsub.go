package chathub

import (
	"context"
	"encoding/json"

	"supportdesk/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// EventHub fans routing events out to connected dashboard clients. Events come
// either straight from PublishEvent or from a Redis subscription fed by other
// bot instances.
type EventHub struct {
	clients map[*EventClient]bool

	RegisterCh   chan *EventClient
	UnregisterCh chan *EventClient
	broadcastCh  chan models.RoutingEvent
	countCh      chan chan int
	done         chan struct{}

	log logrus.FieldLogger
}

func NewEventHub(log logrus.FieldLogger) *EventHub {
	return &EventHub{
		clients:      make(map[*EventClient]bool),
		RegisterCh:   make(chan *EventClient),
		UnregisterCh: make(chan *EventClient),
		broadcastCh:  make(chan models.RoutingEvent, 256),
		countCh:      make(chan chan int),
		done:         make(chan struct{}),
		log:          log,
	}
}

// PublishEvent queues ev for local delivery. Events are dropped when the hub
// cannot keep up.
func (h *EventHub) PublishEvent(ctx context.Context, ev models.RoutingEvent) error {
	select {
	case h.broadcastCh <- ev:
	case <-ctx.Done():
		return ctx.Err()
	default:
		h.log.WithField("event", ev.Type).Warn("event hub is full, dropping event")
	}
	return nil
}

// ListenRedis forwards events received on sub until ctx is done or the
// subscription closes.
func (h *EventHub) ListenRedis(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev models.RoutingEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.log.WithError(err).Warn("bad routing event on redis")
				continue
			}
			_ = h.PublishEvent(ctx, ev)
		}
	}
}

// ClientCount returns the number of connected clients, 0 once Run has
// returned. Run must have been started.
func (h *EventHub) ClientCount() int {
	reply := make(chan int)
	select {
	case h.countCh <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// Done is closed when Run returns.
func (h *EventHub) Done() <-chan struct{} {
	return h.done
}

// Run owns the client set until ctx is done.
func (h *EventHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			return

		case client := <-h.RegisterCh:
			h.clients[client] = true

		case client := <-h.UnregisterCh:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}

		case reply := <-h.countCh:
			reply <- len(h.clients)

		case ev := <-h.broadcastCh:
			for client := range h.clients {
				select {
				case client.Send <- ev:
				default:
					// slow client
					close(client.Send)
					delete(h.clients, client)
				}
			}
		}
	}
}
