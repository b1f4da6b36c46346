package store

import (
	"sync"

	"github.com/signalboard/signalboard/internal/protocol"
)

// Display holds the single shared display state. Writes are last-write-wins.
//
// Reset callbacks let UI-local state (drafts, one-shot toggles) be cleared
// together with the shared state without the store knowing about it.
type Display struct {
	mu             sync.RWMutex
	state          protocol.DisplayState
	customMessage  string
	calculatedTime string
	resetting      bool
	callbacks      []resetCallback
}

type resetCallback struct {
	name string
	fn   func()
}

// DisplaySnapshot is a point-in-time copy of the display store.
type DisplaySnapshot struct {
	State          protocol.DisplayState `json:"state"`
	CustomMessage  string                `json:"customMessage"`
	CalculatedTime string                `json:"calculatedTime,omitempty"`
	Resetting      bool                  `json:"resetting"`
}

// NewDisplay returns an idle display store.
func NewDisplay() *Display {
	return &Display{}
}

// SetState overwrites the active state. The calculated time only belongs
// to the lunch notice and is cleared when any other state is activated.
func (d *Display) SetState(state protocol.DisplayState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state != protocol.State3 {
		d.calculatedTime = ""
	}
	d.state = state
}

// SetCustomMessage stores the text shown while the state is custom.
func (d *Display) SetCustomMessage(text string) {
	d.mu.Lock()
	d.customMessage = text
	d.mu.Unlock()
}

// SetCalculatedTime stores the precomputed clock time used by the lunch
// notice. An empty value clears it.
func (d *Display) SetCalculatedTime(value string) {
	d.mu.Lock()
	d.calculatedTime = value
	d.mu.Unlock()
}

// SetResetting marks a reset in progress.
func (d *Display) SetResetting(resetting bool) {
	d.mu.Lock()
	d.resetting = resetting
	d.mu.Unlock()
}

func (d *Display) State() protocol.DisplayState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Display) CustomMessage() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.customMessage
}

func (d *Display) CalculatedTime() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calculatedTime
}

func (d *Display) Resetting() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.resetting
}

// Snapshot returns the current values in one read.
func (d *Display) Snapshot() DisplaySnapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DisplaySnapshot{
		State:          d.state,
		CustomMessage:  d.customMessage,
		CalculatedTime: d.calculatedTime,
		Resetting:      d.resetting,
	}
}

// AddResetCallback registers fn under name. Registering a name again
// replaces the callback but keeps its original position.
func (d *Display) AddResetCallback(name string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.callbacks {
		if d.callbacks[i].name == name {
			d.callbacks[i].fn = fn
			return
		}
	}
	d.callbacks = append(d.callbacks, resetCallback{name: name, fn: fn})
}

// RemoveResetCallback unregisters the callback with the given name.
func (d *Display) RemoveResetCallback(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := range d.callbacks {
		if d.callbacks[i].name == name {
			d.callbacks = append(d.callbacks[:i], d.callbacks[i+1:]...)
			return
		}
	}
}

// TriggerReset returns the display to idle, clears the custom message and
// calculated time, clears the resetting flag, then runs every registered
// callback in registration order. Callbacks run without the lock held and
// may read the store.
func (d *Display) TriggerReset() {
	d.mu.Lock()
	d.state = protocol.StateIdle
	d.customMessage = ""
	d.calculatedTime = ""
	d.resetting = false
	callbacks := make([]func(), len(d.callbacks))
	for i, cb := range d.callbacks {
		callbacks[i] = cb.fn
	}
	d.mu.Unlock()

	for _, fn := range callbacks {
		if fn != nil {
			fn()
		}
	}
}
