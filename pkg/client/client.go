package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/deliverly/go-fanout/pkg/wire"
)

// ErrAuthRejected is returned when the hub answers the handshake with
// auth:error. The credential will not become valid by retrying.
var ErrAuthRejected = errors.New("authentication rejected by hub")

type Options struct {
	// URL of the hub's /ws endpoint.
	URL string
	// Token is the opaque credential presented during the in-band handshake.
	Token string
	// Capacities for the reconciliation buffers; zero value uses defaults.
	Capacities Capacities
	// ReconnectDelay between connection attempts. Defaults to 2s.
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

// Client maintains one hub connection and the reconciled view of events
// delivered over it. The hub does not restore room subscriptions or replay
// missed events after a drop, so the client re-authenticates and re-issues
// every join on reconnect.
type Client struct {
	opts Options
	rec  *Reconciler

	mu    sync.Mutex
	ws    *websocket.Conn
	rooms map[string]struct{}

	logger *slog.Logger
}

func New(opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.Capacities == (Capacities{}) {
		opts.Capacities = DefaultCapacities()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts:   opts,
		rec:    NewReconciler(opts.Capacities),
		rooms:  make(map[string]struct{}),
		logger: logger.With(slog.String("component", "fanout_client")),
	}
}

// Reconciler exposes the derived views over delivered events.
func (c *Client) Reconciler() *Reconciler {
	return c.rec
}

// Run connects and reads until the context is cancelled, reconnecting after
// drops. It returns early only on auth rejection.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if errors.Is(err, ErrAuthRejected) || ctx.Err() != nil {
			return err
		}
		c.logger.Warn("connection lost, reconnecting", slog.Any("error", err))

		select {
		case <-time.After(c.opts.ReconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// session runs one connect-auth-read cycle.
func (c *Client) session(ctx context.Context) error {
	ws, _, err := websocket.Dial(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer ws.Close(websocket.StatusNormalClosure, "")

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
	}()

	if err := c.sendEnvelope(ctx, wire.Auth, map[string]any{"token": c.opts.Token}); err != nil {
		return err
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("discarding malformed envelope", slog.Any("error", err))
			continue
		}

		switch env.Type {
		case wire.AuthSuccess:
			c.logger.Info("authenticated")
			if err := c.rejoinRooms(ctx); err != nil {
				return err
			}

		case wire.AuthError:
			return ErrAuthRejected

		default:
			c.rec.OnEvent(categoryFor(env.Type), env.Payload)
		}
	}
}

// rejoinRooms re-issues join_room for every room the caller subscribed to.
func (c *Client) rejoinRooms(ctx context.Context) error {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.Unlock()

	for _, roomID := range rooms {
		if err := c.sendEnvelope(ctx, wire.JoinRoom, map[string]any{"room_id": roomID}); err != nil {
			return err
		}
	}
	return nil
}

func categoryFor(envType string) Category {
	switch envType {
	case wire.NotificationReceived:
		return CategoryNotifications
	case wire.OrderStatusChanged:
		return CategoryOrders
	case wire.DeliveryStatusChanged, wire.DeliveryLocation:
		return CategoryDeliveries
	case wire.ChatMessageReceived:
		return CategoryChat
	case wire.PresenceUpdate:
		return CategoryPresence
	}
	return CategoryUpdates
}

func (c *Client) sendEnvelope(ctx context.Context, typ string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := wire.Marshal(typ, body)
	if err != nil {
		return err
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errors.New("not connected")
	}
	return ws.Write(ctx, websocket.MessageText, msg)
}

// JoinRoom subscribes to a room. The subscription survives reconnects until
// LeaveRoom is called.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
	return c.sendEnvelope(ctx, wire.JoinRoom, map[string]any{"room_id": roomID})
}

func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
	return c.sendEnvelope(ctx, wire.LeaveRoom, map[string]any{"room_id": roomID})
}

// SendChatMessage publishes a chat message into a chat room.
func (c *Client) SendChatMessage(ctx context.Context, roomID, text string) error {
	return c.sendEnvelope(ctx, wire.ChatMessage, map[string]any{
		"room_id": roomID,
		"text":    text,
	})
}

// UpdateLocation publishes the driver's position for an order.
func (c *Client) UpdateLocation(ctx context.Context, orderID, deliveryID string, lat, lng float64) error {
	return c.sendEnvelope(ctx, wire.LocationUpdate, map[string]any{
		"order_id":    orderID,
		"delivery_id": deliveryID,
		"lat":         lat,
		"lng":         lng,
	})
}

// UpdateOrderStatus publishes an order status transition.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	return c.sendEnvelope(ctx, wire.OrderStatus, map[string]any{
		"order_id": orderID,
		"status":   status,
	})
}

// UpdateDeliveryStatus publishes a delivery status transition.
func (c *Client) UpdateDeliveryStatus(ctx context.Context, orderID, deliveryID, status string) error {
	return c.sendEnvelope(ctx, wire.DeliveryStatus, map[string]any{
		"order_id":    orderID,
		"delivery_id": deliveryID,
		"status":      status,
	})
}

// SendNotification asks the hub to deliver a notification to one user.
func (c *Client) SendNotification(ctx context.Context, userID, title, body string) error {
	return c.sendEnvelope(ctx, wire.Notification, map[string]any{
		"user_id": userID,
		"title":   title,
		"body":    body,
	})
}

// UpdatePresence publishes an explicit presence change for this user.
func (c *Client) UpdatePresence(ctx context.Context, status string) error {
	return c.sendEnvelope(ctx, wire.Presence, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// MarkNotificationAsRead is local-only; no round trip to the hub.
func (c *Client) MarkNotificationAsRead(id string) bool {
	return c.rec.MarkNotificationRead(id)
}
