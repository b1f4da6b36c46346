// Package store holds the client-side projections that board clients build by
// replaying the hub's broadcast stream: the per-room message lifecycle and
// the shared display state.
//
// Every client keeps its own copy. The stores are reducers, not validators:
// events for unknown messages are ignored, and a late or duplicated event
// never panics or returns an error.
package store

import (
	"sync"
	"time"

	"github.com/signalboard/signalboard/internal/protocol"
)

// Message is one service request from a room.
type Message struct {
	ID         string               `json:"id"`
	RoomID     string               `json:"roomId"`
	RoomNumber string               `json:"roomNumber"`
	Type       protocol.MessageType `json:"type"`
	CustomText string               `json:"customText,omitempty"`
	Content    string               `json:"content"`
	Timestamp  time.Time            `json:"timestamp"`
	Status     protocol.Status      `json:"status"`
}

// DisplayContent is the text the catering screen shows for m.
func (m Message) DisplayContent() string {
	if m.Type == protocol.TypeDelay {
		return protocol.DelayNotice(m.Timestamp)
	}
	return m.Content
}

// Messages tracks the full message history seen this session, the active
// subset, per-room flash flags and the catering selection.
//
// At most one message per room is active at a time: Send replaces any prior
// message for the room.
type Messages struct {
	mu       sync.RWMutex
	all      []*Message
	active   []*Message
	flash    map[string]bool
	selected string
	now      func() time.Time
}

// NewMessages returns an empty message store.
func NewMessages() *Messages {
	return &Messages{
		flash: make(map[string]bool),
		now:   time.Now,
	}
}

// Send records a new message announced by the hub. messageID must be the
// hub-assigned id.
func (s *Messages) Send(roomID, roomNumber string, typ protocol.MessageType, customText, messageID string) Message {
	msg := &Message{
		ID:         messageID,
		RoomID:     roomID,
		RoomNumber: roomNumber,
		Type:       typ,
		Content:    protocol.Content(typ, customText),
		Timestamp:  s.now(),
		Status:     protocol.StatusSent,
	}
	if typ == protocol.TypeCustom {
		msg.CustomText = customText
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.all = removeRoom(s.all, roomID)
	s.active = removeRoom(s.active, roomID)
	if s.selected != "" && s.indexOf(s.all, s.selected) < 0 {
		s.selected = ""
	}
	s.all = append(s.all, msg)
	s.active = append(s.active, msg)
	s.flash[roomID] = true
	return *msg
}

// MarkSeen moves a sent message to seen. Unknown ids and messages already
// past seen are left alone.
func (s *Messages) MarkSeen(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(s.all, messageID)
	if i < 0 {
		return false
	}
	msg := s.all[i]
	if !msg.Status.Advances(protocol.StatusSeen) {
		return false
	}
	msg.Status = protocol.StatusSeen
	return true
}

// MarkResolved closes a message. It stays in the history with status
// resolved and leaves the active subset. Resolving twice is a no-op.
func (s *Messages) MarkResolved(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(s.all, messageID)
	if i < 0 {
		return false
	}
	msg := s.all[i]
	if !msg.Status.Advances(protocol.StatusResolved) {
		return false
	}
	msg.Status = protocol.StatusResolved
	s.active = removeID(s.active, messageID)
	s.flash[msg.RoomID] = false
	if s.selected == messageID {
		s.selected = ""
	}
	return true
}

// Cancel drops a message from both the history and the active subset.
func (s *Messages) Cancel(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(s.all, messageID)
	if i < 0 {
		return false
	}
	roomID := s.all[i].RoomID
	s.all = removeID(s.all, messageID)
	s.active = removeID(s.active, messageID)
	s.flash[roomID] = false
	if s.selected == messageID {
		s.selected = ""
	}
	return true
}

// Select chooses the message shown on the catering screen. An empty id
// clears the selection.
func (s *Messages) Select(messageID string) {
	s.mu.Lock()
	s.selected = messageID
	s.mu.Unlock()
}

// Selected returns the selected message, if it is still known.
func (s *Messages) Selected() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selected == "" {
		return Message{}, false
	}
	i := s.indexOf(s.all, s.selected)
	if i < 0 {
		return Message{}, false
	}
	return *s.all[i], true
}

// Get returns a message from the history by id.
func (s *Messages) Get(messageID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(s.all, messageID)
	if i < 0 {
		return Message{}, false
	}
	return *s.all[i], true
}

// Latest returns the most recent message for a room, active or not.
func (s *Messages) Latest(roomID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.all) - 1; i >= 0; i-- {
		if s.all[i].RoomID == roomID {
			return *s.all[i], true
		}
	}
	return Message{}, false
}

// ForRoom returns every known message for a room, oldest first.
func (s *Messages) ForRoom(roomID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, m := range s.all {
		if m.RoomID == roomID {
			out = append(out, *m)
		}
	}
	return out
}

// HasActive reports whether a room has a sent or seen message.
func (s *Messages) HasActive(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.active {
		if m.RoomID == roomID {
			return true
		}
	}
	return false
}

// Active returns the active subset in arrival order.
func (s *Messages) Active() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.active)
}

// All returns the full history in arrival order.
func (s *Messages) All() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot(s.all)
}

// Flashing reports the flash flag for a room.
func (s *Messages) Flashing(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flash[roomID]
}

// FlashStates returns a copy of every room's flash flag.
func (s *Messages) FlashStates() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]bool, len(s.flash))
	for k, v := range s.flash {
		out[k] = v
	}
	return out
}

// Reset clears history, active messages, the selection and all flash flags.
func (s *Messages) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.all = nil
	s.active = nil
	s.selected = ""
	s.flash = make(map[string]bool)
}

func (s *Messages) indexOf(list []*Message, id string) int {
	for i, m := range list {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func removeRoom(list []*Message, roomID string) []*Message {
	out := list[:0]
	for _, m := range list {
		if m.RoomID != roomID {
			out = append(out, m)
		}
	}
	return out
}

func removeID(list []*Message, id string) []*Message {
	out := list[:0]
	for _, m := range list {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

func snapshot(list []*Message) []Message {
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}
