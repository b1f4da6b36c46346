package relay

import (
	"time"

	"github.com/signalboard/signalboard/internal/protocol"
)

// Event is a broadcast the hub has already fanned out.
type Event struct {
	Payload  protocol.Payload
	ClientID string
	At       time.Time
}

// Observer is notified once per broadcast, from the hub loop, after every
// client has been handed the frame. Observe must not block; sinks that do
// I/O hand the event to their own goroutine.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }
