// Package wire defines the JSON framing shared by the hub and its clients.
package wire

import "encoding/json"

// Envelope is the frame exchanged over the WebSocket in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal frames a payload under the given envelope type.
func Marshal(typ string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Payload: payload})
}

// Envelope types delivered to clients.
const (
	AuthSuccess           = "auth:success"
	AuthError             = "auth:error"
	NotificationReceived  = "notification:received"
	OrderStatusChanged    = "order:status_changed"
	DeliveryStatusChanged = "delivery:status_changed"
	DeliveryLocation      = "delivery:location_update"
	ChatMessageReceived   = "chat:message_received"
	PresenceUpdate        = "presence:update"
)

// Envelope types accepted from clients.
const (
	Auth           = "auth"
	JoinRoom       = "join_room"
	LeaveRoom      = "leave_room"
	ChatMessage    = "chat_message"
	LocationUpdate = "location_update"
	OrderStatus    = "order_status"
	DeliveryStatus = "delivery_status"
	Notification   = "notification"
	Presence       = "presence"
)
