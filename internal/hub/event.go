package hub

import (
	"encoding/json"
	"time"

	"github.com/deliverly/go-fanout/pkg/wire"
	"github.com/google/uuid"
)

// Role of an authenticated user.
type Role string

const (
	RoleConsumer Role = "consumer"
	RoleMerchant Role = "merchant"
	RoleDriver   Role = "driver"
	RoleAdmin    Role = "admin"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleConsumer, RoleMerchant, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// EventType is the closed set of domain events the router understands.
type EventType string

const (
	EventOrderStatusChanged    EventType = "order_status_changed"
	EventDeliveryStatusChanged EventType = "delivery_status_changed"
	EventDeliveryLocation      EventType = "delivery_location_update"
	EventChatMessage           EventType = "chat_message_received"
	EventNotification          EventType = "notification_received"
	EventPresenceUpdate        EventType = "presence_update"
)

// TargetKind selects how an event is resolved to recipients.
type TargetKind string

const (
	TargetRoom          TargetKind = "room"
	TargetUser          TargetKind = "user"
	TargetRole          TargetKind = "role"
	TargetAdminMonitors TargetKind = "admin_monitors"
)

// Target names the delivery scope of one event. ID holds the room or user
// id depending on Kind.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	Role Role       `json:"role,omitempty"`
}

// Event is an immutable fact handed to the router by a producer. The router
// copies it to destinations and never mutates it.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Target    Target          `json:"target"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent stamps a producer fact with an id and receipt time.
func NewEvent(t EventType, payload json.RawMessage, target Target) Event {
	return Event{
		ID:        uuid.New(),
		Type:      t,
		Payload:   payload,
		Target:    target,
		Timestamp: time.Now(),
	}
}

// wireType maps a domain event type to its outbound envelope type.
func wireType(t EventType) (string, bool) {
	switch t {
	case EventOrderStatusChanged:
		return wire.OrderStatusChanged, true
	case EventDeliveryStatusChanged:
		return wire.DeliveryStatusChanged, true
	case EventDeliveryLocation:
		return wire.DeliveryLocation, true
	case EventChatMessage:
		return wire.ChatMessageReceived, true
	case EventNotification:
		return wire.NotificationReceived, true
	case EventPresenceUpdate:
		return wire.PresenceUpdate, true
	}
	return "", false
}
