package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnknownEvent = errors.New("unknown event type")
	ErrNoRecipient  = errors.New("event has no recipient")
)

type EventType string

const (
	EventJoin                   EventType = "join"
	EventLogout                 EventType = "logout"
	EventPresenceUpdate         EventType = "presenceUpdate"
	EventTypingStarted          EventType = "typingStarted"
	EventTypingStopped          EventType = "typingStopped"
	EventPrivateMessage         EventType = "privateMessage"
	EventPrivateMessageReceived EventType = "privateMessageReceived"
	EventImageChunk             EventType = "imageChunk"
	EventImageMetadata          EventType = "imageMetadata"
)

// Directed reports whether events of this type are addressed to a single recipient.
func (t EventType) Directed() bool {
	switch t {
	case EventTypingStarted, EventTypingStopped, EventPrivateMessage, EventImageChunk, EventImageMetadata:
		return true
	}
	return false
}

// Event is the envelope for everything that crosses the websocket.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEvent(t EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: t, Payload: data}, nil
}

// Route is the routing header every directed payload carries.
type Route struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

// Peer is a presence entry as seen by clients.
type Peer struct {
	Identity string `json:"identity"`
	Handle   string `json:"handle,omitempty"`
}

type PresenceList []Peer

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
)

// Message is a directed text or image message.
type Message struct {
	ID        string        `json:"id" validate:"required"`
	From      string        `json:"from" validate:"required"`
	To        string        `json:"to" validate:"required"`
	Type      MessageType   `json:"type" validate:"omitempty,oneof=text image"`
	Content   string        `json:"message"`
	FileName  string        `json:"fileName,omitempty"`
	FileSize  int64         `json:"fileSize,omitempty"`
	MimeType  string        `json:"mimeType,omitempty"`
	Time      string        `json:"time,omitempty"`
	Timestamp int64         `json:"timestamp"` // Unix milliseconds
	Status    MessageStatus `json:"status,omitempty"`
}

// ImageChunk is one slice of a fragmented image payload.
type ImageChunk struct {
	ID          string `json:"id,omitempty"`
	From        string `json:"from" validate:"required"`
	To          string `json:"to" validate:"required"`
	ChunkIndex  int    `json:"chunkIndex" validate:"gte=0,ltfield=TotalChunks"`
	TotalChunks int    `json:"totalChunks" validate:"gt=0"`
	Chunk       string `json:"chunk" validate:"required"`
	FileName    string `json:"fileName" validate:"required"`
	FileSize    int64  `json:"fileSize,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	IsLastChunk bool   `json:"isLastChunk"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// ImageMetadata closes a chunked transfer. It is informational only.
type ImageMetadata struct {
	From        string `json:"from" validate:"required"`
	To          string `json:"to" validate:"required"`
	TotalChunks int    `json:"totalChunks" validate:"gt=0"`
	FileName    string `json:"fileName" validate:"required"`
	FileSize    int64  `json:"fileSize,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Typing is the payload of both typing events. Active is derived from the event type.
type Typing struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to" validate:"required"`
	Active bool   `json:"-"`
}

// NewMessageID returns a globally unique, time-ordered message id.
func NewMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ClockTime renders the human readable send time carried next to the timestamp.
func ClockTime(t time.Time) string {
	return t.Format("15:04:05")
}
