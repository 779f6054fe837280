package models

import "encoding/json"

type FrameType string

const (
	FrameJoin      FrameType = "join"
	FrameLeave     FrameType = "leave"
	FrameBroadcast FrameType = "broadcast"
	FrameTrack     FrameType = "track"
	FrameInsert    FrameType = "insert"
	FrameQuery     FrameType = "query"

	FrameReply         FrameType = "reply"
	FramePresenceSync  FrameType = "presence_sync"
	FramePresenceJoin  FrameType = "presence_join"
	FramePresenceLeave FrameType = "presence_leave"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ClientFrame is a request sent from a client to the realtime server.
type ClientFrame struct {
	Type    FrameType       `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event,omitempty"`
	Self    bool            `json:"self,omitempty"`
	Filters []string        `json:"filters,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Row     *NewRow         `json:"row,omitempty"`
	RoomID  string          `json:"room_id,omitempty"`
}

// ServerFrame is either a reply to a ClientFrame (Ref set) or an event
// pushed to a joined topic.
type ServerFrame struct {
	Type      FrameType         `json:"type"`
	Ref       string            `json:"ref,omitempty"`
	Status    string            `json:"status,omitempty"`
	Error     string            `json:"error,omitempty"`
	Topic     string            `json:"topic,omitempty"`
	Event     string            `json:"event,omitempty"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Row       *Row              `json:"row,omitempty"`
	Rows      []Row             `json:"rows,omitempty"`
	Roster    Roster            `json:"roster,omitempty"`
	Key       string            `json:"key,omitempty"`
	Presences []json.RawMessage `json:"presences,omitempty"`
}
