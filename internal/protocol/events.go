// Package protocol defines the wire events exchanged between board clients
// and the relay hub.
//
// Every frame on the websocket is a JSON envelope carrying the event name and
// its payload:
//
//	{"event":"send-message","data":{"roomId":"dashboard-a","roomNumber":"139","type":"delay"}}
//
// Each event name maps to exactly one payload type. Decode validates the
// payload before returning it, so reducers downstream never see a
// half-shaped event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names, client to hub.
const (
	EventSendMessage     = "send-message"
	EventMessageSeen     = "message-seen"
	EventMessageResolved = "message-resolved"
	EventCancelMessage   = "cancel-message"
	EventRoomStateChange = "room-state-change"
	EventCustomMessage   = "custom-message"
	EventResetSystem     = "reset-system"
	EventRoomAction      = "room-action"
)

// Event names, hub to clients. message-seen, message-resolved,
// room-state-change and custom-message keep their names on relay.
const (
	EventMessageSent        = "message-sent"
	EventMessageCancelled   = "message-cancelled"
	EventSystemReset        = "system-reset"
	EventRoomActionResponse = "room-action-response"
	EventError              = "error"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMissingField = errors.New("missing required field")
	ErrInvalidType  = errors.New("invalid message type")
	ErrInvalidState = errors.New("invalid display state")
	ErrInvalidRoom  = errors.New("invalid room")
)

// Envelope is the frame format on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Payload is implemented by every event payload.
type Payload interface {
	Event() string
	Validate() error
}

// SendMessage asks the hub to create a new message for a room.
type SendMessage struct {
	RoomID     string      `json:"roomId"`
	RoomNumber string      `json:"roomNumber"`
	Type       MessageType `json:"type"`
	CustomText string      `json:"customText,omitempty"`
}

func (SendMessage) Event() string { return EventSendMessage }

func (p SendMessage) Validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("%w: roomId", ErrMissingField)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, p.Type)
	}
	return nil
}

// MessageSent is the hub's authoritative announcement of a new message.
type MessageSent struct {
	RoomID     string      `json:"roomId"`
	RoomNumber string      `json:"roomNumber"`
	Type       MessageType `json:"type"`
	CustomText string      `json:"customText,omitempty"`
	MessageID  string      `json:"messageId"`
}

func (MessageSent) Event() string { return EventMessageSent }

func (p MessageSent) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("%w: messageId", ErrMissingField)
	}
	return SendMessage{RoomID: p.RoomID, Type: p.Type}.Validate()
}

// MessageSeen marks a message as seen by catering.
type MessageSeen struct {
	MessageID string `json:"messageId"`
}

func (MessageSeen) Event() string { return EventMessageSeen }

func (p MessageSeen) Validate() error { return requireMessageID(p.MessageID) }

// MessageResolved closes a message.
type MessageResolved struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId,omitempty"`
}

func (MessageResolved) Event() string { return EventMessageResolved }

func (p MessageResolved) Validate() error { return requireMessageID(p.MessageID) }

// CancelMessage asks the hub to withdraw a message.
type CancelMessage struct {
	MessageID string `json:"messageId"`
}

func (CancelMessage) Event() string { return EventCancelMessage }

func (p CancelMessage) Validate() error { return requireMessageID(p.MessageID) }

// MessageCancelled is the relayed form of CancelMessage.
type MessageCancelled struct {
	MessageID string `json:"messageId"`
}

func (MessageCancelled) Event() string { return EventMessageCancelled }

func (p MessageCancelled) Validate() error { return requireMessageID(p.MessageID) }

// RoomStateChange sets the shared display state. A null state means idle.
type RoomStateChange struct {
	State DisplayState `json:"state"`
}

func (RoomStateChange) Event() string { return EventRoomStateChange }

func (p RoomStateChange) Validate() error {
	if !p.State.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, p.State)
	}
	return nil
}

// CustomMessage carries the free text shown when the display state is custom.
type CustomMessage struct {
	Message string `json:"message"`
}

func (CustomMessage) Event() string { return EventCustomMessage }

func (CustomMessage) Validate() error { return nil }

// ResetSystem asks every client to return to its initial state.
type ResetSystem struct{}

func (ResetSystem) Event() string { return EventResetSystem }

func (ResetSystem) Validate() error { return nil }

// SystemReset is the relayed form of ResetSystem.
type SystemReset struct{}

func (SystemReset) Event() string { return EventSystemReset }

func (SystemReset) Validate() error { return nil }

// RoomAction is a one-shot controller action. The hub relays it as
// RoomActionResponse without any state change.
type RoomAction struct {
	Action string `json:"action"`
}

func (RoomAction) Event() string { return EventRoomAction }

func (p RoomAction) Validate() error {
	if p.Action == "" {
		return fmt.Errorf("%w: action", ErrMissingField)
	}
	return nil
}

// RoomActionResponse is the relayed form of RoomAction.
type RoomActionResponse struct {
	Action string `json:"action"`
}

func (RoomActionResponse) Event() string { return EventRoomActionResponse }

func (p RoomActionResponse) Validate() error { return RoomAction(p).Validate() }

// Error is sent by the hub to a single client whose frame was rejected.
type Error struct {
	Message string `json:"message"`
}

func (Error) Event() string { return EventError }

func (Error) Validate() error { return nil }

func requireMessageID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: messageId", ErrMissingField)
	}
	return nil
}

var registry = map[string]func() Payload{
	EventSendMessage:        func() Payload { return &SendMessage{} },
	EventMessageSent:        func() Payload { return &MessageSent{} },
	EventMessageSeen:        func() Payload { return &MessageSeen{} },
	EventMessageResolved:    func() Payload { return &MessageResolved{} },
	EventCancelMessage:      func() Payload { return &CancelMessage{} },
	EventMessageCancelled:   func() Payload { return &MessageCancelled{} },
	EventRoomStateChange:    func() Payload { return &RoomStateChange{} },
	EventCustomMessage:      func() Payload { return &CustomMessage{} },
	EventResetSystem:        func() Payload { return &ResetSystem{} },
	EventSystemReset:        func() Payload { return &SystemReset{} },
	EventRoomAction:         func() Payload { return &RoomAction{} },
	EventRoomActionResponse: func() Payload { return &RoomActionResponse{} },
	EventError:              func() Payload { return &Error{} },
}

// Encode wraps a payload in an envelope.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Event(), err)
	}
	if string(data) == "{}" {
		data = nil
	}
	return json.Marshal(Envelope{Event: p.Event(), Data: data})
}

// Decode parses a frame and returns its validated payload. The returned
// value is the payload struct, not a pointer.
func Decode(frame []byte) (Payload, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope validates and unpacks an already parsed envelope.
func DecodeEnvelope(env Envelope) (Payload, error) {
	newPayload, ok := registry[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	ptr := newPayload()
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, ptr); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
	}
	p := deref(ptr)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", env.Event, err)
	}
	return p, nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *SendMessage:
		return *v
	case *MessageSent:
		return *v
	case *MessageSeen:
		return *v
	case *MessageResolved:
		return *v
	case *CancelMessage:
		return *v
	case *MessageCancelled:
		return *v
	case *RoomStateChange:
		return *v
	case *CustomMessage:
		return *v
	case *ResetSystem:
		return *v
	case *SystemReset:
		return *v
	case *RoomAction:
		return *v
	case *RoomActionResponse:
		return *v
	case *Error:
		return *v
	}
	return p
}
