package hub

import (
	"log/slog"

	"github.com/deliverly/go-fanout/pkg/presence"
	"github.com/deliverly/go-fanout/pkg/wire"
	"github.com/tidwall/gjson"
)

// Publisher republishes locally-routed events to other hub instances.
// Implemented by the redis bridge; nil disables cross-instance fan-out.
type Publisher interface {
	Publish(ev Event)
}

// Router fans incoming domain events out to rooms, users and roles. It
// performs no business validation: events with an unknown type or an empty
// target are logged and dropped, never surfaced to producers.
type Router struct {
	hub       *Hub
	publisher Publisher
	logger    *slog.Logger
}

func NewRouter(logger *slog.Logger, h *Hub) *Router {
	return &Router{
		hub:    h,
		logger: logger.With(slog.String("component", "event_router")),
	}
}

// SetPublisher attaches the cross-instance publisher. Must be called before
// the router starts receiving events.
func (r *Router) SetPublisher(p Publisher) {
	r.publisher = p
}

// Route dispatches an event locally and, when a publisher is attached,
// republishes it for other instances.
func (r *Router) Route(ev Event) {
	r.dispatch(ev)
	if r.publisher != nil {
		r.publisher.Publish(ev)
	}
}

// RouteRemote dispatches an event received from another instance without
// republishing it.
func (r *Router) RouteRemote(ev Event) {
	r.dispatch(ev)
}

func (r *Router) dispatch(ev Event) {
	out, ok := wireType(ev.Type)
	if !ok {
		r.logger.Warn("dropping event with unknown type", slog.String("type", string(ev.Type)))
		return
	}
	msg, err := wire.Marshal(out, ev.Payload)
	if err != nil {
		r.logger.Error("failed to marshal outbound envelope", slog.Any("error", err))
		return
	}

	switch ev.Type {
	case EventOrderStatusChanged, EventDeliveryStatusChanged, EventDeliveryLocation:
		roomID := r.resolveRoom(ev, "order_id", "order:")
		if roomID == "" {
			return
		}
		n := r.hub.Broadcast(roomID, msg)
		r.logger.Debug("routed event to room",
			slog.String("type", string(ev.Type)),
			slog.String("roomID", roomID),
			slog.Int("recipients", n),
		)

	case EventChatMessage:
		roomID := r.resolveRoom(ev, "room_id", "chat:")
		if roomID == "" {
			return
		}
		n := r.hub.Broadcast(roomID, msg)
		r.logger.Debug("routed chat message",
			slog.String("roomID", roomID),
			slog.Int("recipients", n),
		)

	case EventNotification:
		userID := ev.Target.ID
		if userID == "" {
			userID = gjson.GetBytes(ev.Payload, "user_id").String()
		}
		if userID == "" {
			r.logger.Warn("dropping notification without a target user")
			return
		}
		n := r.hub.SendToUser(userID, msg)
		r.logger.Debug("routed notification",
			slog.String("userID", userID),
			slog.Int("recipients", n),
		)

	case EventPresenceUpdate:
		userID := gjson.GetBytes(ev.Payload, "user_id").String()
		status := presence.Status(gjson.GetBytes(ev.Payload, "status").String())
		if userID != "" {
			if !r.hub.Presence().Update(userID, status, ev.Timestamp) {
				r.logger.Debug("dropped stale presence update", slog.String("userID", userID))
			}
		}
		n := r.hub.BroadcastToRole(RoleAdmin, msg)
		r.logger.Debug("routed presence update",
			slog.String("userID", userID),
			slog.Int("recipients", n),
		)
	}
}

// resolveRoom picks the target room from the event target, falling back to
// the id field inside the payload.
func (r *Router) resolveRoom(ev Event, payloadField, prefix string) string {
	if ev.Target.Kind == TargetRoom && ev.Target.ID != "" {
		return ev.Target.ID
	}
	id := gjson.GetBytes(ev.Payload, payloadField).String()
	if id == "" {
		r.logger.Warn("dropping event without a resolvable room",
			slog.String("type", string(ev.Type)),
			slog.String("field", payloadField),
		)
		return ""
	}
	return prefix + id
}
