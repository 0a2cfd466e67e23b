package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Inbound is the closed set of payloads a client can receive.
type Inbound interface {
	inbound()
}

func (Message) inbound()       {}
func (ImageChunk) inbound()    {}
func (ImageMetadata) inbound() {}
func (Typing) inbound()        {}
func (PresenceList) inbound()  {}

// DecodeInbound checks the event discriminant once and returns the matching payload.
func DecodeInbound(ev Event) (Inbound, error) {
	switch ev.Type {
	case EventPrivateMessage, EventPrivateMessageReceived:
		var msg Message
		if err := decode(ev, &msg); err != nil {
			return nil, err
		}
		if msg.Type == "" {
			msg.Type = MessageTypeText
		}
		return msg, nil
	case EventImageChunk:
		var c ImageChunk
		if err := decode(ev, &c); err != nil {
			return nil, err
		}
		return c, nil
	case EventImageMetadata:
		var m ImageMetadata
		if err := decode(ev, &m); err != nil {
			return nil, err
		}
		return m, nil
	case EventTypingStarted, EventTypingStopped:
		var t Typing
		if err := decode(ev, &t); err != nil {
			return nil, err
		}
		t.Active = ev.Type == EventTypingStarted
		return t, nil
	case EventPresenceUpdate:
		var list PresenceList
		if err := json.Unmarshal(ev.Payload, &list); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", ev.Type, err)
		}
		return list, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
}

// DecodeRoute reads only the routing header of a directed event.
func DecodeRoute(ev Event) (Route, error) {
	var r Route
	if err := json.Unmarshal(ev.Payload, &r); err != nil {
		return Route{}, fmt.Errorf("failed to decode route: %w", err)
	}
	if r.To == "" {
		return Route{}, ErrNoRecipient
	}
	return r, nil
}

// DecodeIdentity reads the identity string carried by join and logout events.
func DecodeIdentity(ev Event) (string, error) {
	var identity string
	if err := json.Unmarshal(ev.Payload, &identity); err != nil {
		return "", fmt.Errorf("failed to decode identity: %w", err)
	}
	return identity, nil
}

// Validate runs the struct validation rules of a payload.
func Validate(v any) error {
	return validate.Struct(v)
}

func decode(ev Event, v any) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", ev.Type, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %s: %w", ev.Type, err)
	}
	return nil
}
