package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deliverly/go-fanout/pkg/wire"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// TokenValidator resolves an opaque credential to an identity. Supplied by
// the auth collaborator; the hub never inspects credentials itself.
type TokenValidator func(token string) (userID string, role Role, err error)

// Protocol parses client envelopes and turns client-initiated actions into
// routed domain events. It implements transport.MessageHandler via
// HandleMessage.
type Protocol struct {
	hub      *Hub
	router   *Router
	validate TokenValidator
	logger   *slog.Logger
}

func NewProtocol(logger *slog.Logger, h *Hub, r *Router, validate TokenValidator) *Protocol {
	return &Protocol{
		hub:      h,
		router:   r,
		validate: validate,
		logger:   logger.With(slog.String("component", "protocol")),
	}
}

func (p *Protocol) HandleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Warn("failed to unmarshal client envelope",
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
		return
	}

	if env.Type == wire.Auth {
		p.handleAuth(connID, env.Payload)
		return
	}

	s, ok := p.hub.Session(connID)
	if !ok {
		p.logger.Warn("message from unknown connection", slog.String("connID", connID.String()))
		return
	}
	if !s.Authenticated() {
		p.logger.Warn("dropping message from unauthenticated session",
			slog.String("connID", connID.String()),
			slog.String("type", env.Type),
		)
		return
	}

	switch env.Type {
	case wire.JoinRoom:
		roomID := roomName(env.Payload)
		if roomID == "" {
			return
		}
		if err := p.hub.Join(connID, roomID); err != nil {
			p.logger.Warn("join failed", slog.String("roomID", roomID), slog.Any("error", err))
		}

	case wire.LeaveRoom:
		roomID := roomName(env.Payload)
		if roomID == "" {
			return
		}
		if err := p.hub.Leave(connID, roomID); err != nil {
			p.logger.Warn("leave failed", slog.String("roomID", roomID), slog.Any("error", err))
		}

	case wire.ChatMessage:
		payload, err := withField(env.Payload, "sender_id", s.UserID)
		if err != nil {
			p.logger.Warn("bad chat payload", slog.Any("error", err))
			return
		}
		p.router.Route(NewEvent(EventChatMessage, payload, Target{Kind: TargetRoom}))

	case wire.LocationUpdate:
		payload, err := withField(env.Payload, "driver_id", s.UserID)
		if err != nil {
			p.logger.Warn("bad location payload", slog.Any("error", err))
			return
		}
		p.router.Route(NewEvent(EventDeliveryLocation, payload, Target{Kind: TargetRoom}))

	case wire.OrderStatus:
		p.router.Route(NewEvent(EventOrderStatusChanged, env.Payload, Target{Kind: TargetRoom}))

	case wire.DeliveryStatus:
		p.router.Route(NewEvent(EventDeliveryStatusChanged, env.Payload, Target{Kind: TargetRoom}))

	case wire.Notification:
		userID := gjson.GetBytes(env.Payload, "user_id").String()
		p.router.Route(NewEvent(EventNotification, env.Payload, Target{Kind: TargetUser, ID: userID}))

	case wire.Presence:
		payload, err := withField(env.Payload, "user_id", s.UserID)
		if err != nil {
			p.logger.Warn("bad presence payload", slog.Any("error", err))
			return
		}
		ev := NewEvent(EventPresenceUpdate, payload, Target{Kind: TargetAdminMonitors})
		if ts := gjson.GetBytes(env.Payload, "timestamp").String(); ts != "" {
			if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
				ev.Timestamp = parsed
			}
		}
		p.router.Route(ev)

	default:
		p.logger.Warn("received unknown envelope type",
			slog.String("type", env.Type),
			slog.String("connID", connID.String()),
		)
	}
}

type authPayload struct {
	Token string `json:"token"`
}

type authResult struct {
	UserID string `json:"user_id,omitempty"`
	Role   Role   `json:"role,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleAuth runs the in-band handshake. On failure the session stays open
// but unauthenticated; the client may retry with a fresh credential.
func (p *Protocol) handleAuth(connID uuid.UUID, payload json.RawMessage) {
	s, ok := p.hub.Session(connID)
	if !ok {
		return
	}

	fail := func(reason string) {
		p.logger.Warn("authentication failed",
			slog.String("connID", connID.String()),
			slog.String("reason", reason),
		)
		body, _ := json.Marshal(authResult{Error: reason})
		if msg, err := wire.Marshal(wire.AuthError, body); err == nil {
			s.Conn.Send(msg)
		}
	}

	var req authPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Token == "" {
		fail("missing credential")
		return
	}

	userID, role, err := p.validate(req.Token)
	if err != nil {
		fail(err.Error())
		return
	}

	if _, err := p.hub.Authenticate(connID, userID, role); err != nil {
		fail(err.Error())
		return
	}

	body, _ := json.Marshal(authResult{UserID: userID, Role: role})
	if msg, err := wire.Marshal(wire.AuthSuccess, body); err == nil {
		s.Conn.Send(msg)
	}
	p.logger.Info("session authenticated",
		slog.String("connID", connID.String()),
		slog.String("userID", userID),
	)
}

// roomName resolves the room a join/leave payload refers to. Clients may
// send an already qualified id ("order:5") or a bare id plus a room_type
// ("5" + "order"); both forms name the same room.
func roomName(payload json.RawMessage) string {
	roomID := gjson.GetBytes(payload, "room_id").String()
	if roomID == "" {
		return ""
	}
	if strings.Contains(roomID, ":") {
		return roomID
	}
	if roomType := gjson.GetBytes(payload, "room_type").String(); roomType != "" {
		return roomType + ":" + roomID
	}
	return roomID
}

// withField returns a copy of the JSON object payload with one extra field
// set, overwriting any client-supplied value.
func withField(payload json.RawMessage, key, value string) (json.RawMessage, error) {
	obj := make(map[string]json.RawMessage)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, fmt.Errorf("payload is not a JSON object: %w", err)
		}
	}
	v, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	obj[key] = v
	return json.Marshal(obj)
}
