// Package hub tracks connected realtime clients by role and fans messages
// out to them. Sends are best-effort: a closed or slow transport drops the
// message, never blocks the caller.
package hub

import (
	"log/slog"
	"sync"

	"live-subtitler/internal/protocol"
)

// Conn is the transport half of a client. Send must be non-blocking.
type Conn interface {
	ID() string
	Send(v any) error
	Close() error
}

// Client is a connection tagged with its role and display name.
type Client struct {
	Conn Conn
	Role protocol.Role
	Name string
}

// Hub is the connection registry. It owns the client set; only the hub
// issues sends.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *slog.Logger
}

// New returns an empty hub.
func New(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connection. New connections start as spectators until an
// identify frame re-tags them.
func (h *Hub) Add(conn Conn, role protocol.Role, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn.ID()] = &Client{Conn: conn, Role: role, Name: name}
}

// Identify re-tags an existing connection with its announced role and name.
func (h *Hub) Identify(connID string, role protocol.Role, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	c.Role = role
	if name != "" {
		c.Name = name
	}
	return true
}

// Remove unregisters a connection. The transport is closed by its owner.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, connID)
}

// Get returns the client for a connection id.
func (h *Hub) Get(connID string) (Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

// SendTo delivers msg to one connection, best-effort.
func (h *Hub) SendTo(connID string, msg any) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(c.Conn, msg)
}

// Broadcast fans msg out to every client matching filter (nil means all).
// The target snapshot is taken under the lock; sends happen outside it.
func (h *Hub) Broadcast(msg any, filter func(Client) bool) {
	for _, conn := range h.snapshot(filter) {
		h.deliver(conn, msg)
	}
}

// ToAll sends msg to every connected client.
func (h *Hub) ToAll(msg any) {
	h.Broadcast(msg, nil)
}

// ToAdmins sends msg to all admin clients.
func (h *Hub) ToAdmins(msg any) {
	h.Broadcast(msg, func(c Client) bool { return c.Role == protocol.RoleAdmin })
}

// ToSubtitlers sends msg to all subtitler clients.
func (h *Hub) ToSubtitlers(msg any) {
	h.Broadcast(msg, func(c Client) bool { return c.Role == protocol.RoleSubtitler })
}

// ToSubtitlersExcept sends msg to every subtitler but the named connection,
// used to echo a caption to the rest of the team.
func (h *Hub) ToSubtitlersExcept(connID string, msg any) {
	h.Broadcast(msg, func(c Client) bool {
		return c.Role == protocol.RoleSubtitler && c.Conn.ID() != connID
	})
}

// ToSpectators sends msg to all spectator clients.
func (h *Hub) ToSpectators(msg any) {
	h.Broadcast(msg, func(c Client) bool { return c.Role == protocol.RoleSpectator })
}

// CountByRole returns the number of connected clients with the given role.
func (h *Hub) CountByRole(role protocol.Role) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.Role == role {
			n++
		}
	}
	return n
}

func (h *Hub) snapshot(filter func(Client) bool) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Conn, 0, len(h.clients))
	for _, c := range h.clients {
		if filter == nil || filter(*c) {
			out = append(out, c.Conn)
		}
	}
	return out
}

func (h *Hub) deliver(conn Conn, msg any) {
	if err := conn.Send(msg); err != nil {
		// Closed or slow transport; the read loop removes the client.
		h.log.Debug("dropped message", slog.String("conn_id", conn.ID()), slog.String("error", err.Error()))
	}
}
