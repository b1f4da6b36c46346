package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalboard/signalboard/internal/protocol"
)

func TestDisplayDefaultsToIdle(t *testing.T) {
	d := NewDisplay()
	assert.Equal(t, protocol.StateIdle, d.State())
	assert.Empty(t, d.CustomMessage())
}

func TestDisplayLastWriteWins(t *testing.T) {
	d := NewDisplay()
	d.SetState(protocol.State1)
	d.SetState(protocol.State4)
	d.SetState(protocol.State2)
	assert.Equal(t, protocol.State2, d.State())
}

func TestDisplayCustomMessage(t *testing.T) {
	d := NewDisplay()
	d.SetCustomMessage("Back in 5")
	d.SetState(protocol.StateCustom)

	snap := d.Snapshot()
	assert.Equal(t, protocol.StateCustom, snap.State)
	assert.Equal(t, "Back in 5", snap.CustomMessage)
}

func TestCalculatedTimeClearedByOtherState(t *testing.T) {
	d := NewDisplay()
	d.SetCalculatedTime("12:45")
	d.SetState(protocol.State3)
	assert.Equal(t, "12:45", d.CalculatedTime())

	d.SetState(protocol.State1)
	assert.Empty(t, d.CalculatedTime())
}

func TestTriggerResetIsIdempotent(t *testing.T) {
	d := NewDisplay()
	calls := 0
	d.AddResetCallback("draft", func() { calls++ })

	d.SetCustomMessage("hello")
	d.SetState(protocol.StateCustom)
	d.SetCalculatedTime("10:00")
	d.SetResetting(true)

	d.TriggerReset()
	first := d.Snapshot()
	assert.Equal(t, 1, calls)

	d.TriggerReset()
	second := d.Snapshot()
	assert.Equal(t, 2, calls)

	assert.Equal(t, first, second)
	assert.Equal(t, DisplaySnapshot{}, first)
}

func TestResetCallbacksRunInRegistrationOrder(t *testing.T) {
	d := NewDisplay()
	var order []string
	d.AddResetCallback("a", func() { order = append(order, "a") })
	d.AddResetCallback("b", func() { order = append(order, "b") })
	d.AddResetCallback("c", func() { order = append(order, "c") })

	d.TriggerReset()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestAddResetCallbackTwiceFiresOnce(t *testing.T) {
	d := NewDisplay()
	var order []string
	d.AddResetCallback("a", func() { order = append(order, "a-old") })
	d.AddResetCallback("b", func() { order = append(order, "b") })
	d.AddResetCallback("a", func() { order = append(order, "a-new") })

	d.TriggerReset()
	assert.Equal(t, []string{"a-new", "b"}, order)
}

func TestRemoveResetCallback(t *testing.T) {
	d := NewDisplay()
	calls := 0
	d.AddResetCallback("toggle", func() { calls++ })
	d.RemoveResetCallback("toggle")
	d.RemoveResetCallback("never-added")

	d.TriggerReset()
	assert.Zero(t, calls)
}

func TestResetCallbackCanReadStore(t *testing.T) {
	d := NewDisplay()
	var seen protocol.DisplayState = "unset"
	d.AddResetCallback("reader", func() { seen = d.State() })
	d.SetState(protocol.State2)

	d.TriggerReset()
	assert.Equal(t, protocol.StateIdle, seen)
}
