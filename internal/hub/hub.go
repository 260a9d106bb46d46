package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/deliverly/go-fanout/pkg/presence"
	"github.com/google/uuid"
)

var (
	ErrAlreadyRegistered = errors.New("connection is already registered")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrInvalidRole       = errors.New("invalid role")
	ErrConnectionLimit   = errors.New("too many active connections for user")
)

// Sender is the outbound half of a transport connection. The hub only needs
// to push bytes and force a close; *transport.Connection satisfies this.
type Sender interface {
	Send(msg []byte)
	Close(err error)
}

// Session is the hub's view of one live connection. A session is
// unauthenticated until Authenticate assigns a user and role; until then it
// may not join rooms and does not appear in presence.
type Session struct {
	ID        uuid.UUID
	Conn      Sender
	IPAddress string
	UserID    string
	Role      Role
	Rooms     map[string]struct{}
	CreatedAt time.Time
}

func (s *Session) Authenticated() bool {
	return s.UserID != ""
}

// LimitMode controls behavior when a user exceeds the session cap.
type LimitMode string

const (
	LimitReject LimitMode = "reject"
	LimitCycle  LimitMode = "cycle"
)

// Hub owns all connection, user and room state. One instance per process;
// every map is guarded by the single mutex so membership changes and
// broadcast snapshots are consistent with each other.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	users    map[string]map[uuid.UUID]*Session
	rooms    map[string]map[uuid.UUID]*Session

	presence *presence.Tracker

	maxPerUser int
	limitMode  LimitMode

	logger *slog.Logger
}

func New(logger *slog.Logger, tracker *presence.Tracker, maxPerUser int, limitMode LimitMode) *Hub {
	return &Hub{
		sessions:   make(map[uuid.UUID]*Session),
		users:      make(map[string]map[uuid.UUID]*Session),
		rooms:      make(map[string]map[uuid.UUID]*Session),
		presence:   tracker,
		maxPerUser: maxPerUser,
		limitMode:  limitMode,
		logger:     logger.With(slog.String("component", "hub")),
	}
}

func (h *Hub) Presence() *presence.Tracker {
	return h.presence
}

// Register tracks a new, unauthenticated session.
func (h *Hub) Register(connID uuid.UUID, conn Sender, ipAddr string) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[connID]; exists {
		return nil, ErrAlreadyRegistered
	}
	s := &Session{
		ID:        connID,
		Conn:      conn,
		IPAddress: ipAddr,
		Rooms:     make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	h.sessions[connID] = s
	h.logger.Debug("session registered", slog.String("connID", connID.String()))
	return s, nil
}

// Authenticate associates a session with a user and role. The per-user
// session cap is enforced here; in cycle mode the user's oldest session is
// closed to make room.
func (h *Hub) Authenticate(connID uuid.UUID, userID string, role Role) (*Session, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}

	var cycled *Session
	h.mu.Lock()
	s, ok := h.sessions[connID]
	if !ok {
		h.mu.Unlock()
		return nil, ErrUnknownConnection
	}

	conns := h.users[userID]
	if h.maxPerUser > 0 && len(conns) >= h.maxPerUser {
		if h.limitMode == LimitReject {
			h.mu.Unlock()
			return nil, ErrConnectionLimit
		}
		cycled = oldestSession(conns)
	}

	if conns == nil {
		conns = make(map[uuid.UUID]*Session)
		h.users[userID] = conns
	}
	s.UserID = userID
	s.Role = role
	conns[connID] = s
	ts := time.Now()
	h.mu.Unlock()

	h.presence.Update(userID, presence.StatusOnline, ts)

	if cycled != nil {
		h.logger.Info("cycling oldest session for user",
			slog.String("userID", userID),
			slog.String("connID", cycled.ID.String()),
		)
		cycled.Conn.Close(ErrConnectionLimit)
	}

	h.logger.Debug("session authenticated",
		slog.String("connID", connID.String()),
		slog.String("userID", userID),
		slog.String("role", string(role)),
	)
	return s, nil
}

func oldestSession(conns map[uuid.UUID]*Session) *Session {
	var oldest *Session
	for _, s := range conns {
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	return oldest
}

// Join adds the session to a room, creating the room on first member.
// Unauthenticated sessions are rejected; joining a room twice is a no-op.
func (h *Hub) Join(connID uuid.UUID, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if !s.Authenticated() {
		h.logger.Warn("join rejected for unauthenticated session",
			slog.String("connID", connID.String()),
			slog.String("roomID", roomID),
		)
		return nil
	}
	if _, member := s.Rooms[roomID]; member {
		return nil
	}

	room, exists := h.rooms[roomID]
	if !exists {
		room = make(map[uuid.UUID]*Session)
		h.rooms[roomID] = room
	}
	room[connID] = s
	s.Rooms[roomID] = struct{}{}

	h.logger.Debug("session joined room",
		slog.String("connID", connID.String()),
		slog.String("roomID", roomID),
	)
	return nil
}

// Leave removes the session from a room. No-op if absent. Empty rooms are
// deleted for memory hygiene.
func (h *Hub) Leave(connID uuid.UUID, roomID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[connID]
	if !ok {
		return ErrUnknownConnection
	}
	delete(s.Rooms, roomID)

	room, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, roomID)
		h.logger.Debug("removed empty room", slog.String("roomID", roomID))
	}
	return nil
}

// Deregister releases all hub state for a session. Idempotent. The user is
// marked offline when their last session goes away.
func (h *Hub) Deregister(connID uuid.UUID) {
	h.mu.Lock()

	s, ok := h.sessions[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, connID)

	for roomID := range s.Rooms {
		if room, ok := h.rooms[roomID]; ok {
			delete(room, connID)
			if len(room) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}

	var lastForUser bool
	if s.Authenticated() {
		conns := h.users[s.UserID]
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.users, s.UserID)
			lastForUser = true
		}
	}
	ts := time.Now()
	h.mu.Unlock()

	if lastForUser {
		h.presence.Update(s.UserID, presence.StatusOffline, ts)
	}
	h.logger.Debug("session deregistered", slog.String("connID", connID.String()))
}

// Broadcast delivers a message to every current member of the room. Members
// joining afterwards do not receive it; returns the recipient count.
func (h *Hub) Broadcast(roomID string, msg []byte) int {
	h.mu.RLock()
	room := h.rooms[roomID]
	targets := make([]Sender, 0, len(room))
	for _, s := range room {
		targets = append(targets, s.Conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(msg)
	}
	return len(targets)
}

// BroadcastToRole delivers to every authenticated session of a role,
// independent of room membership.
func (h *Hub) BroadcastToRole(role Role, msg []byte) int {
	h.mu.RLock()
	var targets []Sender
	for _, s := range h.sessions {
		if s.Authenticated() && s.Role == role {
			targets = append(targets, s.Conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(msg)
	}
	return len(targets)
}

// SendToUser delivers to every live session of one user. A user may hold
// zero, one or several simultaneous sessions; zero recipients is not an
// error.
func (h *Hub) SendToUser(userID string, msg []byte) int {
	h.mu.RLock()
	conns := h.users[userID]
	targets := make([]Sender, 0, len(conns))
	for _, s := range conns {
		targets = append(targets, s.Conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		conn.Send(msg)
	}
	return len(targets)
}

// Session returns the hub's record for a connection id.
func (h *Hub) Session(connID uuid.UUID) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[connID]
	return s, ok
}

// RoomMembers returns the connection ids currently joined to a room.
func (h *Hub) RoomMembers(roomID string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	room := h.rooms[roomID]
	ids := make([]uuid.UUID, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}

// Sessions returns all live sessions, used for shutdown.
func (h *Hub) Sessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}
