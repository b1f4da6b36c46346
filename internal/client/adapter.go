// Package client is the board-side connection to the relay hub. An Adapter
// holds one websocket at a time, exposes fire-and-forget emit functions and
// replays every inbound broadcast into the local message and display stores.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/signalboard/signalboard/internal/audio"
	"github.com/signalboard/signalboard/internal/protocol"
	"github.com/signalboard/signalboard/internal/store"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
	writeTimeout      = 5 * time.Second
)

// Options configures an Adapter. Messages and Display are created when nil.
type Options struct {
	URL       string
	Messages  *store.Messages
	Display   *store.Display
	Announcer *audio.Announcer
	Logger    zerolog.Logger

	// Outbox is the number of emitted frames that may wait for the writer.
	Outbox     int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

type Adapter struct {
	url       string
	messages  *store.Messages
	display   *store.Display
	announcer *audio.Announcer
	logger    zerolog.Logger

	outboxSize int
	connected  atomic.Bool

	// outbox belongs to the current session and is nil between sessions.
	outMu  sync.Mutex
	outbox chan []byte

	mu           sync.RWMutex
	onConnection []func(bool)
	onRoomAction []func(action string)
	onEvent      []func(protocol.Payload)

	minBackoff time.Duration
	maxBackoff time.Duration
	now        func() time.Time
}

func New(opts Options) *Adapter {
	if opts.Outbox <= 0 {
		opts.Outbox = 32
	}
	a := &Adapter{
		url:        opts.URL,
		messages:   opts.Messages,
		display:    opts.Display,
		announcer:  opts.Announcer,
		logger:     opts.Logger.With().Str("component", "client").Logger(),
		outboxSize: opts.Outbox,
		minBackoff: opts.MinBackoff,
		maxBackoff: opts.MaxBackoff,
		now:        time.Now,
	}
	if a.messages == nil {
		a.messages = store.NewMessages()
	}
	if a.display == nil {
		a.display = store.NewDisplay()
	}
	if a.minBackoff <= 0 {
		a.minBackoff = defaultMinBackoff
	}
	if a.maxBackoff < a.minBackoff {
		a.maxBackoff = defaultMaxBackoff
	}
	return a
}

func (a *Adapter) Messages() *store.Messages { return a.messages }

func (a *Adapter) Display() *store.Display { return a.display }

// Connected reports whether the adapter currently holds an open connection.
func (a *Adapter) Connected() bool {
	return a.connected.Load()
}

// OnConnectionChange registers fn to run on every connect and disconnect.
func (a *Adapter) OnConnectionChange(fn func(connected bool)) {
	a.mu.Lock()
	a.onConnection = append(a.onConnection, fn)
	a.mu.Unlock()
}

// OnRoomAction registers fn for relayed room actions. Actions change no
// store state.
func (a *Adapter) OnRoomAction(fn func(action string)) {
	a.mu.Lock()
	a.onRoomAction = append(a.onRoomAction, fn)
	a.mu.Unlock()
}

// OnEvent registers fn to run after each inbound event has been applied.
func (a *Adapter) OnEvent(fn func(protocol.Payload)) {
	a.mu.Lock()
	a.onEvent = append(a.onEvent, fn)
	a.mu.Unlock()
}

// Run connects to the hub and keeps reconnecting with capped exponential
// backoff until ctx is done. Events broadcast while disconnected are lost.
func (a *Adapter) Run(ctx context.Context) error {
	backoff := a.minBackoff
	for {
		connected, err := a.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = a.minBackoff
		}
		a.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("connection lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > a.maxBackoff {
			backoff = a.maxBackoff
		}
	}
}

// session runs one connection to completion. connected reports whether the
// dial succeeded.
func (a *Adapter) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := websocket.Dial(ctx, a.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.CloseNow()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbox := make(chan []byte, a.outboxSize)
	a.setOutbox(outbox)
	a.setConnected(true)
	defer func() {
		a.setOutbox(nil)
		a.setConnected(false)
	}()

	go a.writeLoop(sctx, cancel, conn, outbox)

	for {
		_, data, err := conn.Read(sctx)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return true, nil
			}
			return true, err
		}
		p, err := protocol.Decode(data)
		if err != nil {
			a.logger.Warn().Err(err).Msg("dropping malformed event")
			continue
		}
		a.Dispatch(p)
	}
}

func (a *Adapter) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbox <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-outbox:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				a.logger.Warn().Err(err).Msg("write failed")
				cancel()
				return
			}
		}
	}
}

func (a *Adapter) setConnected(connected bool) {
	if a.connected.Swap(connected) == connected {
		return
	}
	a.logger.Info().Bool("connected", connected).Msg("connection status changed")

	a.mu.RLock()
	hooks := append([]func(bool){}, a.onConnection...)
	a.mu.RUnlock()
	for _, fn := range hooks {
		fn(connected)
	}
}

// setOutbox swaps the session outbox. Frames left in the previous one are
// dropped with it and never reach a later connection.
func (a *Adapter) setOutbox(outbox chan []byte) {
	a.outMu.Lock()
	a.outbox = outbox
	a.outMu.Unlock()
}

// emit queues p for the hub. It never blocks: while disconnected, or when
// the outbox is full, the event is dropped.
func (a *Adapter) emit(p protocol.Payload) {
	if err := p.Validate(); err != nil {
		a.logger.Warn().Err(err).Str("event", p.Event()).Msg("dropping invalid emit")
		return
	}
	frame, err := protocol.Encode(p)
	if err != nil {
		a.logger.Warn().Err(err).Str("event", p.Event()).Msg("dropping emit")
		return
	}

	a.outMu.Lock()
	defer a.outMu.Unlock()
	if a.outbox == nil {
		a.logger.Debug().Str("event", p.Event()).Msg("not connected, dropping emit")
		return
	}
	select {
	case a.outbox <- frame:
	default:
		a.logger.Warn().Str("event", p.Event()).Msg("outbox full, dropping emit")
	}
}

func (a *Adapter) EmitMessage(roomID, roomNumber string, typ protocol.MessageType, customText string) {
	a.emit(protocol.SendMessage{RoomID: roomID, RoomNumber: roomNumber, Type: typ, CustomText: customText})
}

func (a *Adapter) EmitSeen(messageID string) {
	a.emit(protocol.MessageSeen{MessageID: messageID})
}

func (a *Adapter) EmitResolved(messageID, roomID string) {
	a.emit(protocol.MessageResolved{MessageID: messageID, RoomID: roomID})
}

func (a *Adapter) EmitCancel(messageID string) {
	a.emit(protocol.CancelMessage{MessageID: messageID})
}

func (a *Adapter) EmitRoomState(state protocol.DisplayState) {
	a.emit(protocol.RoomStateChange{State: state})
}

func (a *Adapter) EmitCustomMessage(text string) {
	a.emit(protocol.CustomMessage{Message: text})
}

func (a *Adapter) EmitReset() {
	a.emit(protocol.ResetSystem{})
}

func (a *Adapter) EmitRoomAction(action string) {
	a.emit(protocol.RoomAction{Action: action})
}

// Dispatch applies one inbound broadcast to the local stores. Events for
// unknown messages are no-ops.
func (a *Adapter) Dispatch(p protocol.Payload) {
	switch v := p.(type) {
	case protocol.MessageSent:
		a.messages.Send(v.RoomID, v.RoomNumber, v.Type, v.CustomText, v.MessageID)
		if a.announcer != nil {
			a.announcer.RoomAlert(v.RoomID)
		}
	case protocol.MessageSeen:
		if a.messages.MarkSeen(v.MessageID) && a.announcer != nil {
			a.announcer.StatusChange(protocol.StatusSeen)
		}
	case protocol.MessageResolved:
		if a.messages.MarkResolved(v.MessageID) && a.announcer != nil {
			a.announcer.StatusChange(protocol.StatusResolved)
		}
	case protocol.MessageCancelled:
		a.messages.Cancel(v.MessageID)
	case protocol.RoomStateChange:
		a.display.SetState(v.State)
		if v.State == protocol.State3 {
			a.display.SetCalculatedTime(protocol.ClockTime(a.now().Add(protocol.LunchLead)))
		}
	case protocol.CustomMessage:
		a.display.SetCustomMessage(v.Message)
	case protocol.SystemReset:
		a.display.SetResetting(true)
		a.messages.Reset()
		a.display.TriggerReset()
	case protocol.RoomActionResponse:
		a.mu.RLock()
		hooks := append([]func(string){}, a.onRoomAction...)
		a.mu.RUnlock()
		for _, fn := range hooks {
			fn(v.Action)
		}
	case protocol.Error:
		a.logger.Warn().Str("message", v.Message).Msg("hub rejected event")
	default:
		a.logger.Debug().Str("event", p.Event()).Msg("ignoring event")
		return
	}

	a.mu.RLock()
	hooks := append([]func(protocol.Payload){}, a.onEvent...)
	a.mu.RUnlock()
	for _, fn := range hooks {
		fn(p)
	}
}
