package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/signalboard/signalboard/internal/metrics"
	"github.com/signalboard/signalboard/internal/protocol"
	"github.com/signalboard/signalboard/internal/relay"
)

const (
	defaultQueue   = 256
	defaultTimeout = 5 * time.Second
)

// Recorder turns hub broadcasts into analytics rows. Observe only queues;
// a single worker applies events in broadcast order so a seen never races
// ahead of its sent.
type Recorder struct {
	store   Store
	rooms   *protocol.Catalog
	logger  zerolog.Logger
	timeout time.Duration
	jobs    chan relay.Event
	done    chan struct{}
}

// NewRecorder creates a recorder writing to store. rooms supplies room
// names and may be nil.
func NewRecorder(store Store, rooms *protocol.Catalog, logger zerolog.Logger, timeout time.Duration, queue int) *Recorder {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if queue <= 0 {
		queue = defaultQueue
	}
	return &Recorder{
		store:   store,
		rooms:   rooms,
		logger:  logger.With().Str("component", "analytics").Logger(),
		timeout: timeout,
		jobs:    make(chan relay.Event, queue),
		done:    make(chan struct{}),
	}
}

// Observe queues ev for the worker. A full queue drops the event.
func (r *Recorder) Observe(ev relay.Event) {
	select {
	case r.jobs <- ev:
	default:
		metrics.SinkFailures.WithLabelValues("analytics").Inc()
		r.logger.Warn().Str("event", ev.Payload.Event()).Msg("analytics queue full, dropping event")
	}
}

// Run applies queued events until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.jobs:
			r.handle(ctx, ev)
		}
	}
}

// Wait blocks until Run has returned.
func (r *Recorder) Wait() {
	<-r.done
}

func (r *Recorder) handle(ctx context.Context, ev relay.Event) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := r.Record(ctx, ev)
	metrics.AnalyticsLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SinkFailures.WithLabelValues("analytics").Inc()
		r.logger.Error().Err(err).Str("event", ev.Payload.Event()).Msg("failed to record event")
	}
}

// Record applies one broadcast to the store. Events for messages with no
// recorded flow, and repeats of a step already taken, are ignored.
func (r *Recorder) Record(ctx context.Context, ev relay.Event) error {
	switch p := ev.Payload.(type) {
	case protocol.MessageSent:
		return r.recordSent(ctx, p, ev.At)
	case protocol.MessageSeen:
		return r.recordSeen(ctx, p.MessageID, ev.At)
	case protocol.MessageResolved:
		return r.recordResolved(ctx, p.MessageID, ev.At)
	case protocol.MessageCancelled:
		return r.recordCancelled(ctx, p.MessageID, ev.At)
	}
	return nil
}

func (r *Recorder) recordSent(ctx context.Context, p protocol.MessageSent, at time.Time) error {
	flow := MessageFlow{
		MessageID:   p.MessageID,
		Date:        DateOf(at),
		RoomID:      p.RoomID,
		ButtonType:  string(p.Type),
		ButtonLabel: ButtonLabel(p.Type),
		CustomText:  p.CustomText,
		SentAt:      at,
		Status:      string(protocol.StatusSent),
	}
	if err := r.store.InsertFlow(ctx, flow); err != nil {
		return err
	}
	if p.Type != protocol.TypeCustom || p.CustomText == "" {
		return nil
	}
	return r.store.InsertCustomMessage(ctx, CustomMessage{
		MessageID:  p.MessageID,
		RoomID:     p.RoomID,
		RoomName:   r.roomName(p.RoomID),
		CustomText: p.CustomText,
		SentAt:     at,
		Date:       DateOf(at),
	})
}

func (r *Recorder) recordSeen(ctx context.Context, messageID string, at time.Time) error {
	flow, err := r.flow(ctx, messageID)
	if flow == nil || err != nil {
		return err
	}
	if protocol.Status(flow.Status) != protocol.StatusSent {
		return nil
	}
	secs := seconds(flow.SentAt, at)
	flow.SeenAt = &at
	flow.SentToSeenSeconds = &secs
	flow.Status = string(protocol.StatusSeen)
	return r.store.UpdateFlow(ctx, *flow)
}

func (r *Recorder) recordResolved(ctx context.Context, messageID string, at time.Time) error {
	flow, err := r.flow(ctx, messageID)
	if flow == nil || err != nil {
		return err
	}
	if !protocol.Status(flow.Status).Active() {
		return nil
	}
	total := seconds(flow.SentAt, at)
	if flow.SeenAt != nil {
		secs := seconds(*flow.SeenAt, at)
		flow.SeenToResolvedSeconds = &secs
	}
	flow.ResolvedAt = &at
	flow.TotalResolutionSeconds = &total
	flow.Status = string(protocol.StatusResolved)
	flow.Completed = true
	return r.store.UpdateFlow(ctx, *flow)
}

func (r *Recorder) recordCancelled(ctx context.Context, messageID string, at time.Time) error {
	flow, err := r.flow(ctx, messageID)
	if flow == nil || err != nil {
		return err
	}
	if !protocol.Status(flow.Status).Active() {
		return nil
	}
	err = r.store.InsertCancellation(ctx, Cancellation{
		ID:                        ulid.Make().String(),
		OriginalMessageID:         flow.MessageID,
		RoomID:                    flow.RoomID,
		RoomName:                  r.roomName(flow.RoomID),
		ButtonType:                flow.ButtonType,
		ButtonLabel:               flow.ButtonLabel,
		CustomText:                flow.CustomText,
		SentAt:                    flow.SentAt,
		CancelledAt:               at,
		SecondsBeforeCancellation: seconds(flow.SentAt, at),
		Date:                      DateOf(at),
	})
	if err != nil {
		return err
	}
	flow.Status = string(protocol.StatusCanceled)
	return r.store.UpdateFlow(ctx, *flow)
}

// flow returns the recorded flow for messageID, or nil when none exists.
func (r *Recorder) flow(ctx context.Context, messageID string) (*MessageFlow, error) {
	flow, err := r.store.GetFlow(ctx, messageID)
	if errors.Is(err, ErrNotFound) {
		r.logger.Debug().Str("message_id", messageID).Msg("no flow recorded, skipping")
		return nil, nil
	}
	return flow, err
}

func (r *Recorder) roomName(roomID string) string {
	if r.rooms != nil {
		if room, ok := r.rooms.Get(roomID); ok {
			return room.Name
		}
	}
	return roomID
}
