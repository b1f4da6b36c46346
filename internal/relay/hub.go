// Package relay is the process-wide event hub. Every board client connects
// to it over a websocket; each accepted inbound event is enriched where
// needed and fanned out to every connected client, the sender included.
//
// The hub keeps no state between events apart from the message id clock.
// A client that was not connected when a broadcast went out never sees it.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/signalboard/signalboard/internal/metrics"
	"github.com/signalboard/signalboard/internal/protocol"
)

// ErrHubOnlyEvent is returned for events that only the hub may emit.
var ErrHubOnlyEvent = errors.New("event may only be sent by the hub")

type inbound struct {
	client  *Client
	payload protocol.Payload
	// reply frames go to client only and are not broadcast or observed.
	reply bool
}

type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}
	mu         sync.RWMutex

	rooms     *protocol.Catalog
	ids       *IDGenerator
	observers []Observer
	logger    zerolog.Logger
	now       func() time.Time
}

// NewHub creates a hub. rooms may be nil, in which case any room id is
// accepted on send-message.
func NewHub(logger zerolog.Logger, rooms *protocol.Catalog) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		done:       make(chan struct{}),
		rooms:      rooms,
		ids:        NewIDGenerator(),
		logger:     logger.With().Str("component", "hub").Logger(),
		now:        time.Now,
	}
}

// AddObserver registers o for every future broadcast. Call before Run.
func (h *Hub) AddObserver(o Observer) {
	h.observers = append(h.observers, o)
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("hub started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("hub shutting down")
			h.closeAllClients()
			close(h.done)
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		case in := <-h.inbound:
			if in.reply {
				h.handleReply(in)
			} else {
				h.handleInbound(in)
			}
		}
	}
}

// Wait blocks until the hub has stopped.
func (h *Hub) Wait() {
	<-h.done
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues an inbound event from client for relay.
func (h *Hub) Publish(client *Client, payload protocol.Payload) {
	select {
	case h.inbound <- inbound{client: client, payload: payload}:
	case <-h.done:
	}
}

// Reply queues a frame for client alone.
func (h *Hub) Reply(client *Client, payload protocol.Payload) {
	select {
	case h.inbound <- inbound{client: client, payload: payload, reply: true}:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.send)
		delete(h.clients, id)
	}
	metrics.ConnectedClients.Set(0)
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client
	metrics.ConnectedClients.Set(float64(len(h.clients)))
	h.logger.Info().
		Str("client", client.ID).
		Str("remote_addr", client.RemoteAddr).
		Int("total", len(h.clients)).
		Msg("client registered")
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.send)
	metrics.ConnectedClients.Set(float64(len(h.clients)))
	h.logger.Info().
		Str("client", client.ID).
		Int("total", len(h.clients)).
		Msg("client unregistered")
}

func (h *Hub) handleInbound(in inbound) {
	out, err := h.route(in.payload)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("invalid").Inc()
		h.logger.Warn().Err(err).Str("client", clientID(in.client)).Msg("event rejected")
		if in.client != nil {
			h.handleReply(inbound{client: in.client, payload: protocol.Error{Message: err.Error()}})
		}
		return
	}
	metrics.EventsReceived.WithLabelValues(in.payload.Event()).Inc()

	frame, err := protocol.Encode(out)
	if err != nil {
		h.logger.Error().Err(err).Str("event", out.Event()).Msg("failed to encode broadcast")
		return
	}
	h.broadcast(frame)
	metrics.EventsBroadcast.WithLabelValues(out.Event()).Inc()
	h.logger.Debug().
		Str("event", out.Event()).
		Str("client", clientID(in.client)).
		Msg("event relayed")

	ev := Event{Payload: out, ClientID: clientID(in.client), At: h.now()}
	for _, o := range h.observers {
		o.Observe(ev)
	}
}

func (h *Hub) handleReply(in inbound) {
	frame, err := protocol.Encode(in.payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode reply")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[in.client.ID]; ok && !c.enqueue(frame) {
		h.evict(c)
	}
}

// broadcast hands frame to every client. A client whose buffer is full is
// disconnected rather than silently skipped, so it reconnects instead of
// diverging unnoticed.
func (h *Hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.clients {
		if !c.enqueue(frame) {
			h.evict(c)
		}
	}
}

// evict drops a slow client. Caller holds h.mu.
func (h *Hub) evict(c *Client) {
	delete(h.clients, c.ID)
	close(c.send)
	metrics.SendDropped.Inc()
	metrics.ConnectedClients.Set(float64(len(h.clients)))
	h.logger.Warn().Str("client", c.ID).Msg("send buffer full, disconnecting client")
	if c.conn != nil {
		go c.conn.Close(websocket.StatusTryAgainLater, "send buffer full")
	}
}

// route turns an inbound client event into the event broadcast to all.
func (h *Hub) route(p protocol.Payload) (protocol.Payload, error) {
	switch v := p.(type) {
	case protocol.SendMessage:
		if h.rooms != nil && !h.rooms.Has(v.RoomID) {
			return nil, fmt.Errorf("%w: %q", protocol.ErrInvalidRoom, v.RoomID)
		}
		return protocol.MessageSent{
			RoomID:     v.RoomID,
			RoomNumber: v.RoomNumber,
			Type:       v.Type,
			CustomText: v.CustomText,
			MessageID:  h.ids.Next(v.RoomID),
		}, nil
	case protocol.CancelMessage:
		return protocol.MessageCancelled(v), nil
	case protocol.ResetSystem:
		return protocol.SystemReset{}, nil
	case protocol.RoomAction:
		return protocol.RoomActionResponse(v), nil
	case protocol.MessageSeen, protocol.MessageResolved, protocol.RoomStateChange, protocol.CustomMessage:
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrHubOnlyEvent, p.Event())
}

func clientID(c *Client) string {
	if c == nil {
		return ""
	}
	return c.ID
}
