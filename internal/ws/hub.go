package ws

import (
	"chatify/internal/content"
	"chatify/internal/models"
	"chatify/internal/presence"
	"fmt"
	"log/slog"
	"sync"
)

// Hub owns the presence registry and routes directed events between connections.
type Hub struct {
	registry *presence.Registry

	// Every live connection, joined or not. Presence updates go to all of them.
	conns map[string]presence.Handle

	mu sync.RWMutex
}

func NewHub(registry *presence.Registry) *Hub {
	return &Hub{
		registry: registry,
		conns:    make(map[string]presence.Handle),
	}
}

func (h *Hub) Attach(c presence.Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

// Detach forgets a closed connection and drops every identity it still owned.
func (h *Hub) Detach(c presence.Handle) {
	h.mu.Lock()
	delete(h.conns, c.ID())
	h.mu.Unlock()

	removed := h.registry.LeaveHandle(c.ID())
	if len(removed) == 0 {
		return
	}
	slog.Info("user disconnected", "identities", removed, "conn_id", c.ID())
	h.broadcastPresence()
}

// Join registers identity on the connection and broadcasts the new presence list.
func (h *Hub) Join(identity string, c presence.Handle) error {
	identity = content.SanitizeIdentity(identity)
	if err := content.ValidateIdentity(identity); err != nil {
		return fmt.Errorf("join rejected: %w", err)
	}

	if h.registry.Join(identity, c) {
		slog.Info("user rejoined", "identity", identity, "conn_id", c.ID())
	} else {
		slog.Info("user joined", "identity", identity, "conn_id", c.ID())
	}
	h.broadcastPresence()
	return nil
}

func (h *Hub) Logout(identity string) {
	if !h.registry.LeaveIdentity(content.SanitizeIdentity(identity)) {
		return
	}
	slog.Info("user logged out", "identity", identity)
	h.broadcastPresence()
}

// Relay forwards a directed event to its recipient. Events for offline
// recipients are dropped without telling the sender.
func (h *Hub) Relay(ev models.Event) bool {
	if !ev.Type.Directed() {
		slog.Warn("refusing to relay undirected event", "type", ev.Type)
		return false
	}

	route, err := models.DecodeRoute(ev)
	if err != nil {
		slog.Warn("dropping unroutable event", "type", ev.Type, "error", err)
		return false
	}

	receiver, online := h.registry.Find(route.To)
	if !online {
		slog.Debug("receiver offline, dropping event", "type", ev.Type, "from", route.From, "to", route.To)
		return false
	}

	if ev.Type == models.EventPrivateMessage {
		ev.Type = models.EventPrivateMessageReceived
	}

	if !receiver.Send(ev) {
		slog.Warn("receiver queue full, dropping event", "type", ev.Type, "to", route.To)
		return false
	}
	return true
}

func (h *Hub) Presence() models.PresenceList {
	return h.registry.Entries()
}

func (h *Hub) broadcastPresence() {
	ev, err := models.NewEvent(models.EventPresenceUpdate, h.registry.Entries())
	if err != nil {
		slog.Error("failed to encode presence list", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]presence.Handle, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.Send(ev) {
			slog.Warn("dropping presence update", "conn_id", c.ID())
		}
	}
}
