package protocol

import (
	"encoding/json"
	"time"
)

// MessageType is the kind of service request a room can send.
type MessageType string

const (
	TypeDelay  MessageType = "delay"
	TypeWater  MessageType = "water"
	TypeCancel MessageType = "cancel"
	TypeCustom MessageType = "custom"
)

// CustomPlaceholder is shown for a custom message sent without text.
const CustomPlaceholder = "Custom Message"

// DelayWindow is how long a delay request asks catering to stay away.
const DelayWindow = 10 * time.Minute

var messageContent = map[MessageType]string{
	TypeDelay:  "Delay Service",
	TypeWater:  "Refill Water",
	TypeCancel: "Cancel Order",
}

// MessageTypes lists the request kinds in display order.
func MessageTypes() []MessageType {
	return []MessageType{TypeDelay, TypeWater, TypeCancel, TypeCustom}
}

func (t MessageType) Valid() bool {
	if t == TypeCustom {
		return true
	}
	_, ok := messageContent[t]
	return ok
}

// Content returns the fixed display text for t. Custom messages use
// customText verbatim, or the placeholder when it is empty.
func Content(t MessageType, customText string) string {
	if t == TypeCustom {
		if customText == "" {
			return CustomPlaceholder
		}
		return customText
	}
	return messageContent[t]
}

// DelayNotice renders the catering-side text for a delay request sent at ts.
func DelayNotice(ts time.Time) string {
	return "Do Not Disturb Until " + ClockTime(ts.Add(DelayWindow))
}

// ClockTime formats t as a 24 hour HH:MM string in t's location.
func ClockTime(t time.Time) string {
	return t.Format("15:04")
}

// Status is a message lifecycle position.
type Status string

const (
	StatusSent     Status = "sent"
	StatusSeen     Status = "seen"
	StatusResolved Status = "resolved"
	StatusCanceled Status = "cancelled"
)

// Active reports whether a message with this status still needs catering.
func (s Status) Active() bool {
	return s == StatusSent || s == StatusSeen
}

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusSeen:
		return 2
	case StatusResolved, StatusCanceled:
		return 3
	}
	return 0
}

// Advances reports whether moving from s to next goes forward in the
// lifecycle. Skipping seen is allowed; going backwards is not.
func (s Status) Advances(next Status) bool {
	return next.rank() > s.rank()
}

// DisplayState is the shared full-screen notice. The zero value is idle and
// is encoded as JSON null.
type DisplayState string

const (
	StateIdle   DisplayState = ""
	State1      DisplayState = "state1"
	State2      DisplayState = "state2"
	State3      DisplayState = "state3"
	State4      DisplayState = "state4"
	StateCustom DisplayState = "custom"
)

func (s DisplayState) Valid() bool {
	switch s {
	case StateIdle, State1, State2, State3, State4, StateCustom:
		return true
	}
	return false
}

func (s DisplayState) MarshalJSON() ([]byte, error) {
	if s == StateIdle {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *DisplayState) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = StateIdle
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = DisplayState(v)
	return nil
}

func (s DisplayState) String() string {
	if s == StateIdle {
		return "idle"
	}
	return string(s)
}

// Notice is the full-screen text for a canned display state.
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Color   string `json:"color"`
}

// LunchLead is how far ahead the lunch notice asks for delivery.
const LunchLead = 15 * time.Minute

var notices = map[DisplayState]Notice{
	State1: {
		Title:   "Room Refresh Requested",
		Message: "A room cleaning has been requested. The cleaning team will arrive shortly to refresh this space.",
		Color:   "blue",
	},
	State2: {
		Title:   "Wrapping Up Meeting",
		Message: "We are finishing up our session. Please give us 5 more minutes to conclude and gather our materials.",
		Color:   "green",
	},
	State3: {
		Title:   "Lunch Break Time",
		Message: "We are taking a lunch break. Please bring our lunch order in 15 minutes. Thank you!",
		Color:   "purple",
	},
	State4: {
		Title:   "Do Not Disturb",
		Message: "Coffee order has been cancelled. Please do not disturb our meeting. We are in an important session.",
		Color:   "orange",
	},
}

// NoticeFor returns the canned notice for s. calculatedTime, when set, is
// substituted into the state3 template.
func NoticeFor(s DisplayState, calculatedTime string) (Notice, bool) {
	n, ok := notices[s]
	if !ok {
		return Notice{}, false
	}
	if s == State3 && calculatedTime != "" {
		n.Message = "We are taking a lunch break. Please bring our lunch order at " + calculatedTime + ". Thank you!"
	}
	return n, true
}
