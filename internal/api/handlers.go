package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"hchat/internal/content"
	"hchat/internal/models"
)

// Store reads the persisted messages table.
type Store interface {
	ListMessages(roomID string) ([]models.Row, error)
	// RoomActivity returns the unix nano time of the last insert.
	RoomActivity(roomID string) (int64, error)
}

type API struct {
	store Store
	log   *slog.Logger
}

func New(store Store, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{store: store, log: log}
}

// MessageView is a persisted row plus its rendered body.
type MessageView struct {
	models.Row
	HTML string `json:"html"`
}

// MessagesHandler serves GET /api/rooms/{id}/messages, oldest first.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	rows, err := a.store.ListMessages(roomID)
	if err != nil {
		a.log.Error("list messages failed", "room", roomID, "err", err)
		http.Error(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}

	views := make([]MessageView, 0, len(rows))
	for _, row := range rows {
		views = append(views, MessageView{Row: row, HTML: content.FormatMessage(row.Text)})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		a.log.Warn("failed to encode messages", "room", roomID, "err", err)
	}
}

type RoomResponse struct {
	ID           string    `json:"id"`
	LastActivity time.Time `json:"last_activity"`
}

// RoomHandler serves GET /api/rooms/{id}: when the room last saw a message.
func (a *API) RoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	ts, err := a.store.RoomActivity(roomID)
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.log.Error("room activity failed", "room", roomID, "err", err)
		http.Error(w, "Failed to load room", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(RoomResponse{
		ID:           roomID,
		LastActivity: time.Unix(0, ts).UTC(),
	}); err != nil {
		a.log.Warn("failed to encode room", "room", roomID, "err", err)
	}
}
