package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"hchat/internal/models"
	"hchat/internal/presence"
)

// Broker is the part of the realtime broker the admin surface reads.
type Broker interface {
	Sessions() int
	Roster(name string) models.Roster
}

type AdminHandler struct {
	broker Broker
	log    *slog.Logger
}

func NewAdminHandler(broker Broker, log *slog.Logger) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{broker: broker, log: log}
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (h *AdminHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(HealthResponse{
		Status:   "ok",
		Sessions: h.broker.Sessions(),
	}); err != nil {
		h.log.Warn("failed to encode health response", "err", err)
	}
}

// PresenceHandler serves GET /admin/rooms/{id}/presence: who is online
// in a room right now.
func (h *AdminHandler) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	online := presence.Entries(h.broker.Roster(presence.ChannelName(roomID)), h.log)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(online); err != nil {
		h.log.Warn("failed to encode presence", "room", roomID, "err", err)
	}
}
