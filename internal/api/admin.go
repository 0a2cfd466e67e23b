package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"chatify/internal/models"
)

type PresenceSource interface {
	Presence() models.PresenceList
}

type AdminHandler struct {
	presence PresenceSource
}

func NewAdminHandler(presence PresenceSource) *AdminHandler {
	return &AdminHandler{presence: presence}
}

type PresenceResponse struct {
	Online int                 `json:"online"`
	Peers  models.PresenceList `json:"peers"`
}

// PresenceHandler lists the identities currently joined on the relay.
func (h *AdminHandler) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	peers := h.presence.Presence()
	if peers == nil {
		peers = models.PresenceList{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(PresenceResponse{Online: len(peers), Peers: peers}); err != nil {
		slog.Warn("failed to encode presence response", "error", err)
	}
}
