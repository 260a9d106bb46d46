package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/deliverly/go-fanout/pkg/config"
	"github.com/deliverly/go-fanout/pkg/presence"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Category of a delivered event, selecting which buffer it lands in.
type Category string

const (
	CategoryNotifications Category = "notifications"
	CategoryOrders        Category = "orders"
	CategoryDeliveries    Category = "deliveries"
	CategoryChat          Category = "chat"
	CategoryPresence      Category = "presence"
	CategoryUpdates       Category = "updates"
)

// Capacities holds the per-category buffer sizes.
type Capacities struct {
	Notifications int
	Orders        int
	Deliveries    int
	Chat          int
	Presence      int
	Updates       int
}

func DefaultCapacities() Capacities {
	return Capacities{
		Notifications: 50,
		Orders:        50,
		Deliveries:    50,
		Chat:          100,
		Presence:      50,
		Updates:       100,
	}
}

// CapacitiesFromConfig maps a loaded buffer section onto SDK capacities.
// Fields left at zero fall back to the defaults.
func CapacitiesFromConfig(b config.BufferConfig) Capacities {
	caps := DefaultCapacities()
	if b.Notifications > 0 {
		caps.Notifications = b.Notifications
	}
	if b.Orders > 0 {
		caps.Orders = b.Orders
	}
	if b.Deliveries > 0 {
		caps.Deliveries = b.Deliveries
	}
	if b.Chat > 0 {
		caps.Chat = b.Chat
	}
	if b.Presence > 0 {
		caps.Presence = b.Presence
	}
	if b.Updates > 0 {
		caps.Updates = b.Updates
	}
	return caps
}

// Entry records one delivered event.
type Entry struct {
	ID         string
	Category   Category
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// NotificationEntry is an Entry with the mark-as-read flag. The flag is the
// only in-place mutation buffers allow.
type NotificationEntry struct {
	Entry
	Read bool
}

// Deliveries with these statuses count as active.
var activeDeliveryStatuses = map[string]struct{}{
	"assigned":   {},
	"picked_up":  {},
	"in_transit": {},
}

// Orders with these statuses count as pending.
var pendingOrderStatuses = map[string]struct{}{
	"pending":   {},
	"confirmed": {},
	"preparing": {},
}

// Reconciler is the client-side view of delivered events: one bounded
// buffer per category plus a presence mirror. Derived views are recomputed
// from buffer snapshots on every call, never cached.
type Reconciler struct {
	mu            sync.Mutex
	notifications *Ring[*NotificationEntry]
	orders        *Ring[Entry]
	deliveries    *Ring[Entry]
	chat          *Ring[Entry]
	presenceBuf   *Ring[Entry]
	updates       *Ring[Entry]

	tracker *presence.Tracker
}

func NewReconciler(caps Capacities) *Reconciler {
	return &Reconciler{
		notifications: NewRing[*NotificationEntry](caps.Notifications),
		orders:        NewRing[Entry](caps.Orders),
		deliveries:    NewRing[Entry](caps.Deliveries),
		chat:          NewRing[Entry](caps.Chat),
		presenceBuf:   NewRing[Entry](caps.Presence),
		updates:       NewRing[Entry](caps.Updates),
		tracker:       presence.NewTracker(),
	}
}

// OnEvent appends a delivered event to its category buffer. Presence events
// additionally update the presence mirror, applying the same stale-drop
// rule the hub uses.
func (r *Reconciler) OnEvent(category Category, payload json.RawMessage) {
	entry := Entry{
		ID:         entryID(payload),
		Category:   category,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch category {
	case CategoryNotifications:
		r.notifications.Push(&NotificationEntry{Entry: entry})
	case CategoryOrders:
		r.orders.Push(entry)
	case CategoryDeliveries:
		r.deliveries.Push(entry)
	case CategoryChat:
		r.chat.Push(entry)
	case CategoryPresence:
		r.presenceBuf.Push(entry)
		r.applyPresence(payload, entry.ReceivedAt)
	default:
		r.updates.Push(entry)
	}
}

func (r *Reconciler) applyPresence(payload json.RawMessage, receivedAt time.Time) {
	userID := gjson.GetBytes(payload, "user_id").String()
	if userID == "" {
		return
	}
	status := presence.Status(gjson.GetBytes(payload, "status").String())
	ts := receivedAt
	if raw := gjson.GetBytes(payload, "timestamp").String(); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			ts = parsed
		}
	}
	r.tracker.Update(userID, status, ts)
}

// entryID prefers the producer-assigned id inside the payload so that
// mark-as-read round trips; otherwise the entry gets a fresh one.
func entryID(payload json.RawMessage) string {
	if id := gjson.GetBytes(payload, "id").String(); id != "" {
		return id
	}
	return uuid.New().String()
}

// UnreadNotificationCount counts buffered notifications not yet marked read.
func (r *Reconciler) UnreadNotificationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, n := range r.notifications.Snapshot() {
		if !n.Read {
			count++
		}
	}
	return count
}

// Notifications returns the buffered notifications, newest first.
func (r *Reconciler) Notifications() []NotificationEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.notifications.Snapshot()
	out := make([]NotificationEntry, len(snap))
	for i, n := range snap {
		out[i] = *n
	}
	return out
}

// MarkNotificationRead flips the read flag on the matching entry in place.
// Returns false if the entry was never delivered or already evicted.
func (r *Reconciler) MarkNotificationRead(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.notifications.Snapshot() {
		if n.ID == id {
			n.Read = true
			return true
		}
	}
	return false
}

// ActiveDeliveries returns the most recent update per delivery id, filtered
// to deliveries whose latest status is still in flight. Later buffer entries
// shadow earlier ones for the same id.
func (r *Reconciler) ActiveDeliveries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return dedupByStatus(r.deliveries.Snapshot(), "delivery_id", activeDeliveryStatuses)
}

// PendingOrders returns the most recent update per order id, filtered to
// orders whose latest status is still pending.
func (r *Reconciler) PendingOrders() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return dedupByStatus(r.orders.Snapshot(), "order_id", pendingOrderStatuses)
}

// dedupByStatus walks newest-to-oldest keeping the first status-bearing
// entry per id, then filters on that entry's status. Entries without a
// status field, such as location pings, do not shadow the latest status.
func dedupByStatus(entries []Entry, idField string, statuses map[string]struct{}) []Entry {
	seen := make(map[string]struct{})
	var out []Entry
	for _, e := range entries {
		id := gjson.GetBytes(e.Payload, idField).String()
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		status := gjson.GetBytes(e.Payload, "status")
		if !status.Exists() {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := statuses[status.String()]; ok {
			out = append(out, e)
		}
	}
	return out
}

// LatestLocation returns the newest buffered location payload for a
// delivery id, if any update carried coordinates.
func (r *Reconciler) LatestLocation(deliveryID string) (json.RawMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.deliveries.Snapshot() {
		if gjson.GetBytes(e.Payload, "delivery_id").String() != deliveryID {
			continue
		}
		if gjson.GetBytes(e.Payload, "lat").Exists() {
			return e.Payload, true
		}
	}
	return nil, false
}

// OnlineUsers returns the users the presence mirror currently sees online.
func (r *Reconciler) OnlineUsers() []string {
	return r.tracker.AllOnline()
}

// ChatMessages returns the buffered chat messages, newest first.
func (r *Reconciler) ChatMessages() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chat.Snapshot()
}

// OrderUpdates returns the buffered order updates, newest first.
func (r *Reconciler) OrderUpdates() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders.Snapshot()
}

// DeliveryUpdates returns the buffered delivery updates, newest first.
func (r *Reconciler) DeliveryUpdates() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveries.Snapshot()
}

// PresenceEvents returns the buffered presence updates, newest first.
func (r *Reconciler) PresenceEvents() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceBuf.Snapshot()
}

// Updates returns the generic update buffer, newest first.
func (r *Reconciler) Updates() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates.Snapshot()
}

// ClearNotifications empties the notification buffer.
func (r *Reconciler) ClearNotifications() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications.Clear()
}

// ClearUpdates empties every non-notification buffer.
func (r *Reconciler) ClearUpdates() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders.Clear()
	r.deliveries.Clear()
	r.chat.Clear()
	r.presenceBuf.Clear()
	r.updates.Clear()
}
