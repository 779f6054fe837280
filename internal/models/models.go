package models

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("closed")

	// ErrChannelUnavailable is returned when a publish is attempted on a
	// channel that is not subscribed yet or already closed.
	ErrChannelUnavailable = errors.New("channel not available")

	// ErrEmptyMessage is returned by sends with no text and no image.
	ErrEmptyMessage = errors.New("empty message")
)

// Broadcast event names.
const (
	EventImageMessage = "image_message"
	EventTyping       = "typing"
	EventReaction     = "reaction"
)

// Row is a persisted message as stored in the messages table.
type Row struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id" validate:"required"`
	Text      string    `json:"text" validate:"required"`
	UserID    string    `json:"user_id" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRow is the insert payload; id and timestamp are assigned by the store.
type NewRow struct {
	RoomID string `json:"room_id" validate:"required"`
	Text   string `json:"text" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

// Message is a timeline entry. Persisted messages come from Row,
// ephemeral ones from image broadcasts and never survive a reload.
type Message struct {
	ID          string    `json:"id"`
	RoomID      string    `json:"room_id"`
	Text        string    `json:"text"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ImageData   string    `json:"image_data,omitempty"`
	IsImageOnly bool      `json:"is_image_only,omitempty"`
	Ephemeral   bool      `json:"-"`
}

// MessageFromRow converts a persisted row into a timeline message.
func MessageFromRow(r Row) Message {
	return Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		Text:      r.Text,
		UserID:    r.UserID,
		Timestamp: r.Timestamp,
	}
}

// DisplayName is the user name, falling back to the user id prefix.
func (m Message) DisplayName() string {
	if m.UserName != "" {
		return m.UserName
	}
	for i := 0; i < len(m.UserID); i++ {
		if m.UserID[i] == '_' {
			return m.UserID[:i]
		}
	}
	return m.UserID
}

// UserID builds the per-room user id used for persisted rows.
func UserID(userName, roomID string) string {
	return userName + "_" + roomID
}

type ImageMessagePayload struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	ImageData string `json:"image_data"`
	Text      string `json:"text"`
}

type TypingPayload struct {
	User   string `json:"user"`
	Typing bool   `json:"typing"`
}

type ReactionAction string

const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

type ReactionPayload struct {
	MessageID string         `json:"messageId"`
	Emoji     string         `json:"emoji"`
	User      string         `json:"user"`
	Action    ReactionAction `json:"action"`
}

// PresenceState is what a client tracks on a presence channel.
type PresenceState struct {
	User     string `json:"user"`
	OnlineAt string `json:"online_at"` // RFC 3339
}

// Roster maps a connection key to the presences tracked under it.
type Roster map[string][]json.RawMessage

// Broadcast is an inbound broadcast event.
type Broadcast struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// PresenceDiff is delivered on presence join and leave.
type PresenceDiff struct {
	Key       string            `json:"key"`
	Presences []json.RawMessage `json:"presences"`
}
