package hub_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/deliverly/go-fanout/internal/hub"
	"github.com/deliverly/go-fanout/pkg/presence"
	"github.com/deliverly/go-fanout/pkg/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*hub.Router, *hub.Hub) {
	t.Helper()
	h := newTestHub()
	return hub.NewRouter(newTestLogger(), h), h
}

func joinedConn(t *testing.T, h *hub.Hub, userID string, role hub.Role, rooms ...string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	id := uuid.New()
	_, err := h.Register(id, conn, "127.0.0.1")
	require.NoError(t, err)
	_, err = h.Authenticate(id, userID, role)
	require.NoError(t, err)
	for _, room := range rooms {
		require.NoError(t, h.Join(id, room))
	}
	return conn
}

func lastEnvelope(t *testing.T, conn *fakeConn) wire.Envelope {
	t.Helper()
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.NotEmpty(t, conn.msgs)
	var env wire.Envelope
	require.NoError(t, json.Unmarshal(conn.msgs[len(conn.msgs)-1], &env))
	return env
}

func TestRouteOrderStatusToRoom(t *testing.T) {
	router, h := newTestRouter(t)
	conn := joinedConn(t, h, "user-1", hub.RoleConsumer, "order:123")

	router.Route(hub.NewEvent(
		hub.EventOrderStatusChanged,
		json.RawMessage(`{"order_id":"123","status":"CONFIRMED"}`),
		hub.Target{Kind: hub.TargetRoom},
	))

	require.Equal(t, 1, conn.received())
	env := lastEnvelope(t, conn)
	assert.Equal(t, wire.OrderStatusChanged, env.Type)
	assert.JSONEq(t, `{"order_id":"123","status":"CONFIRMED"}`, string(env.Payload))
}

func TestRouteExplicitRoomTarget(t *testing.T) {
	router, h := newTestRouter(t)
	conn := joinedConn(t, h, "user-1", hub.RoleConsumer, "order:explicit")

	router.Route(hub.NewEvent(
		hub.EventDeliveryLocation,
		json.RawMessage(`{"lat":1,"lng":2}`),
		hub.Target{Kind: hub.TargetRoom, ID: "order:explicit"},
	))

	require.Equal(t, 1, conn.received())
	assert.Equal(t, wire.DeliveryLocation, lastEnvelope(t, conn).Type)
}

func TestRouteChatMessage(t *testing.T) {
	router, h := newTestRouter(t)
	member := joinedConn(t, h, "user-1", hub.RoleConsumer, "chat:77")
	outsider := joinedConn(t, h, "user-2", hub.RoleConsumer, "chat:78")

	router.Route(hub.NewEvent(
		hub.EventChatMessage,
		json.RawMessage(`{"room_id":"77","text":"hi","sender_id":"user-1"}`),
		hub.Target{Kind: hub.TargetRoom},
	))

	require.Equal(t, 1, member.received())
	assert.Equal(t, wire.ChatMessageReceived, lastEnvelope(t, member).Type)
	assert.Equal(t, 0, outsider.received())
}

func TestRouteNotificationAllUserConnections(t *testing.T) {
	router, h := newTestRouter(t)

	web := &fakeConn{}
	mobile := &fakeConn{}
	idWeb, idMobile := uuid.New(), uuid.New()
	h.Register(idWeb, web, "1.1.1.1")
	h.Register(idMobile, mobile, "2.2.2.2")
	h.Authenticate(idWeb, "user-n", hub.RoleConsumer)
	h.Authenticate(idMobile, "user-n", hub.RoleConsumer)

	router.Route(hub.NewEvent(
		hub.EventNotification,
		json.RawMessage(`{"user_id":"user-n","title":"Order ready"}`),
		hub.Target{Kind: hub.TargetUser, ID: "user-n"},
	))

	assert.Equal(t, 1, web.received())
	assert.Equal(t, 1, mobile.received())
}

func TestRouteNotificationNoRecipients(t *testing.T) {
	router, _ := newTestRouter(t)

	// Fire-and-forget: zero live connections is not an error.
	router.Route(hub.NewEvent(
		hub.EventNotification,
		json.RawMessage(`{"user_id":"ghost"}`),
		hub.Target{Kind: hub.TargetUser, ID: "ghost"},
	))
}

func TestRoutePresenceToAdmins(t *testing.T) {
	router, h := newTestRouter(t)
	admin := joinedConn(t, h, "admin-1", hub.RoleAdmin)
	consumer := joinedConn(t, h, "user-1", hub.RoleConsumer)

	ev := hub.NewEvent(
		hub.EventPresenceUpdate,
		json.RawMessage(`{"user_id":"driver-9","status":"online"}`),
		hub.Target{Kind: hub.TargetAdminMonitors},
	)
	router.Route(ev)

	require.Equal(t, 1, admin.received())
	assert.Equal(t, wire.PresenceUpdate, lastEnvelope(t, admin).Type)
	assert.Equal(t, 0, consumer.received())

	rec, ok := h.Presence().Get("driver-9")
	require.True(t, ok)
	assert.Equal(t, presence.StatusOnline, rec.Status)
}

func TestRouteStalePresenceDropped(t *testing.T) {
	router, h := newTestRouter(t)

	newer := hub.NewEvent(
		hub.EventPresenceUpdate,
		json.RawMessage(`{"user_id":"driver-9","status":"offline"}`),
		hub.Target{Kind: hub.TargetAdminMonitors},
	)
	newer.Timestamp = time.Unix(100, 0)
	router.Route(newer)

	stale := hub.NewEvent(
		hub.EventPresenceUpdate,
		json.RawMessage(`{"user_id":"driver-9","status":"online"}`),
		hub.Target{Kind: hub.TargetAdminMonitors},
	)
	stale.Timestamp = time.Unix(90, 0)
	router.Route(stale)

	rec, ok := h.Presence().Get("driver-9")
	require.True(t, ok)
	assert.Equal(t, presence.StatusOffline, rec.Status)
	assert.Equal(t, time.Unix(100, 0), rec.LastSeen)
}

func TestRouteUnknownTypeDropped(t *testing.T) {
	router, h := newTestRouter(t)
	conn := joinedConn(t, h, "user-1", hub.RoleConsumer, "order:1")

	router.Route(hub.NewEvent(
		hub.EventType("bogus_event"),
		json.RawMessage(`{"order_id":"1"}`),
		hub.Target{Kind: hub.TargetRoom},
	))

	assert.Equal(t, 0, conn.received())
}

func TestRouteUnresolvableRoomDropped(t *testing.T) {
	router, h := newTestRouter(t)
	conn := joinedConn(t, h, "user-1", hub.RoleConsumer, "order:1")

	router.Route(hub.NewEvent(
		hub.EventOrderStatusChanged,
		json.RawMessage(`{"status":"CONFIRMED"}`),
		hub.Target{Kind: hub.TargetRoom},
	))

	assert.Equal(t, 0, conn.received())
}

func TestRoutePerRecipientOrdering(t *testing.T) {
	router, h := newTestRouter(t)
	conn := joinedConn(t, h, "user-1", hub.RoleConsumer, "order:9")

	for i, status := range []string{"pending", "confirmed", "preparing"} {
		payload, _ := json.Marshal(map[string]any{"order_id": "9", "status": status, "seq": i})
		router.Route(hub.NewEvent(hub.EventOrderStatusChanged, payload, hub.Target{Kind: hub.TargetRoom}))
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.msgs, 3)
	for i, msg := range conn.msgs {
		var env wire.Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		var body struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(env.Payload, &body))
		assert.Equal(t, i, body.Seq, "delivery order must match dispatch order")
	}
}
