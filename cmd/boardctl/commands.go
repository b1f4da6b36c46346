package main

import (
	"fmt"
	"strings"

	"github.com/signalboard/signalboard/internal/client"
	"github.com/signalboard/signalboard/internal/protocol"
)

// command is one event to publish and the broadcast that confirms it.
// match must pick our broadcast out of events other boards publish at the
// same time.
type command struct {
	payload protocol.Payload
	match   func(protocol.Payload) bool
	emit    func(a *client.Adapter)
}

type usageError struct {
	msg string
}

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// parseCommand builds the command for args. rooms resolves room numbers
// for send.
func parseCommand(args []string, rooms *protocol.Catalog) (command, error) {
	if len(args) == 0 {
		return command{}, usagef("missing command")
	}
	name, rest := args[0], args[1:]

	var cmd command
	switch name {
	case "send":
		if len(rest) < 2 {
			return command{}, usagef("usage: send <room-id> <delay|water|cancel|custom> [text]")
		}
		room, ok := rooms.Get(rest[0])
		if !ok {
			return command{}, fmt.Errorf("%w: %q", protocol.ErrInvalidRoom, rest[0])
		}
		typ := protocol.MessageType(rest[1])
		text := strings.Join(rest[2:], " ")
		cmd = command{
			payload: protocol.SendMessage{RoomID: room.ID, RoomNumber: room.Number, Type: typ, CustomText: text},
			match: func(p protocol.Payload) bool {
				v, ok := p.(protocol.MessageSent)
				return ok && v.RoomID == room.ID && v.Type == typ && v.CustomText == text
			},
			emit: func(a *client.Adapter) { a.EmitMessage(room.ID, room.Number, typ, text) },
		}
	case "seen":
		if len(rest) != 1 {
			return command{}, usagef("usage: seen <message-id>")
		}
		id := rest[0]
		cmd = command{
			payload: protocol.MessageSeen{MessageID: id},
			match: func(p protocol.Payload) bool {
				v, ok := p.(protocol.MessageSeen)
				return ok && v.MessageID == id
			},
			emit: func(a *client.Adapter) { a.EmitSeen(id) },
		}
	case "resolve":
		if len(rest) < 1 || len(rest) > 2 {
			return command{}, usagef("usage: resolve <message-id> [room-id]")
		}
		id, roomID := rest[0], ""
		if len(rest) == 2 {
			roomID = rest[1]
		}
		cmd = command{
			payload: protocol.MessageResolved{MessageID: id, RoomID: roomID},
			match: func(p protocol.Payload) bool {
				v, ok := p.(protocol.MessageResolved)
				return ok && v.MessageID == id
			},
			emit: func(a *client.Adapter) { a.EmitResolved(id, roomID) },
		}
	case "cancel":
		if len(rest) != 1 {
			return command{}, usagef("usage: cancel <message-id>")
		}
		id := rest[0]
		cmd = command{
			payload: protocol.CancelMessage{MessageID: id},
			match: func(p protocol.Payload) bool {
				v, ok := p.(protocol.MessageCancelled)
				return ok && v.MessageID == id
			},
			emit: func(a *client.Adapter) { a.EmitCancel(id) },
		}
	case "state":
		if len(rest) != 1 {
			return command{}, usagef("usage: state <state1|state2|state3|state4|custom|idle>")
		}
		state := protocol.DisplayState(rest[0])
		if rest[0] == "idle" {
			state = protocol.StateIdle
		}
		cmd = command{
			payload: protocol.RoomStateChange{State: state},
			match: func(p protocol.Payload) bool {
				v, ok := p.(protocol.RoomStateChange)
				return ok && v.State == state
			},
			emit: func(a *client.Adapter) { a.EmitRoomState(state) },
		}
	case "custom":
		text := strings.Join(rest, " ")
		cmd = command{
			payload: protocol.CustomMessage{Message: text},
			match: func(p protocol.Payload) bool {
				v, ok := p.(protocol.CustomMessage)
				return ok && v.Message == text
			},
			emit: func(a *client.Adapter) { a.EmitCustomMessage(text) },
		}
	case "action":
		if len(rest) != 1 {
			return command{}, usagef("usage: action <action1|action2|action3|action4>")
		}
		action := rest[0]
		cmd = command{
			payload: protocol.RoomAction{Action: action},
			match: func(p protocol.Payload) bool {
				v, ok := p.(protocol.RoomActionResponse)
				return ok && v.Action == action
			},
			emit: func(a *client.Adapter) { a.EmitRoomAction(action) },
		}
	case "reset":
		if len(rest) != 0 {
			return command{}, usagef("usage: reset")
		}
		cmd = command{
			payload: protocol.ResetSystem{},
			match: func(p protocol.Payload) bool {
				_, ok := p.(protocol.SystemReset)
				return ok
			},
			emit: func(a *client.Adapter) { a.EmitReset() },
		}
	default:
		return command{}, usagef("unknown command %q", name)
	}

	if err := cmd.payload.Validate(); err != nil {
		return command{}, err
	}
	return cmd, nil
}

// describe renders a broadcast for the terminal.
func describe(p protocol.Payload, messages messageLookup) string {
	switch v := p.(type) {
	case protocol.MessageSent:
		content := protocol.Content(v.Type, v.CustomText)
		if m, ok := messages(v.MessageID); ok {
			content = m
		}
		return fmt.Sprintf("room %s: %s [%s]", v.RoomNumber, content, v.MessageID)
	case protocol.MessageSeen:
		return "seen " + v.MessageID
	case protocol.MessageResolved:
		return "resolved " + v.MessageID
	case protocol.MessageCancelled:
		return "cancelled " + v.MessageID
	case protocol.RoomStateChange:
		if n, ok := protocol.NoticeFor(v.State, ""); ok {
			return "display: " + n.Title
		}
		return "display: " + v.State.String()
	case protocol.CustomMessage:
		return fmt.Sprintf("display message: %q", v.Message)
	case protocol.SystemReset:
		return "system reset"
	case protocol.RoomActionResponse:
		return "room action " + v.Action
	case protocol.Error:
		return "error: " + v.Message
	}
	return p.Event()
}

// messageLookup returns the catering display text for a message id.
type messageLookup func(id string) (string, bool)
