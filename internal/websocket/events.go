package websocket

import (
	"encoding/json"
	"time"
)

// EventType names a frame on the wire.
type EventType string

const (
	// server -> client
	EventMessageCreated          EventType = "message-created"
	EventMessageUpdated          EventType = "message-updated"
	EventMessageDeleted          EventType = "message-deleted"
	EventMessageDeletedForAuthor EventType = "message-deleted-for-author"
	EventMessageUnsent           EventType = "message-unsent"
	EventJoined                  EventType = "joined"
	EventLeft                    EventType = "left"
	EventError                   EventType = "error"

	// both directions
	EventTypingStart EventType = "typing-start"
	EventTypingStop  EventType = "typing-stop"

	// client -> server
	EventJoin  EventType = "join"
	EventLeave EventType = "leave"
)

// Event is the envelope for every frame.
type Event struct {
	Type      EventType       `json:"type"`
	RoomID    uint64          `json:"room_id,omitempty"`
	UserID    uint64          `json:"user_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals data into an envelope. A nil data leaves Data empty.
func NewEvent(t EventType, roomID, userID uint64, data interface{}) (Event, error) {
	ev := Event{Type: t, RoomID: roomID, UserID: userID, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		ev.Data = raw
	}
	return ev, nil
}

type JoinedData struct {
	RoomID uint64   `json:"room_id"`
	Users  []uint64 `json:"users"`
}

type TypingData struct {
	UserName string `json:"user_name,omitempty"`
}

type ErrorData struct {
	Error string `json:"error"`
}
