package relay

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalboard/signalboard/internal/protocol"
)

type testServer struct {
	hub *Hub
	url string
}

func newTestServer(t *testing.T, limiter Limiter, observers ...Observer) *testServer {
	t.Helper()
	return newTestServerWithBuffer(t, 16, limiter, observers...)
}

func newTestServerWithBuffer(t *testing.T, sendBuffer int, limiter Limiter, observers ...Observer) *testServer {
	t.Helper()

	rooms, err := protocol.NewCatalog(protocol.DefaultRooms())
	require.NoError(t, err)

	hub := NewHub(zerolog.Nop(), rooms)
	for _, o := range observers {
		hub.AddObserver(o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(HandleWebSocket(hub, limiter, zerolog.Nop(), Options{SendBuffer: sendBuffer}))
	t.Cleanup(func() {
		cancel()
		hub.Wait()
		srv.Close()
	})

	return &testServer{hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

// dial connects a client and waits until the hub has registered it.
func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	before := s.hub.ClientCount()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	require.Eventually(t, func() bool { return s.hub.ClientCount() > before }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, p protocol.Payload) {
	t.Helper()
	frame, err := protocol.Encode(p)
	require.NoError(t, err)
	sendRaw(t, conn, frame)
}

func sendRaw(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Payload {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	p, err := protocol.Decode(data)
	require.NoError(t, err)
	return p
}

func TestSendMessageAssignsServerID(t *testing.T) {
	s := newTestServer(t, nil)
	dashboard := s.dial(t)
	catering := s.dial(t)

	send(t, dashboard, protocol.SendMessage{RoomID: "dashboard-a", RoomNumber: "121", Type: protocol.TypeDelay})

	for _, conn := range []*websocket.Conn{dashboard, catering} {
		sent, ok := readEvent(t, conn).(protocol.MessageSent)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(sent.MessageID, "dashboard-a-"), sent.MessageID)
		assert.Equal(t, "dashboard-a", sent.RoomID)
		assert.Equal(t, "121", sent.RoomNumber)
		assert.Equal(t, protocol.TypeDelay, sent.Type)
	}
}

func TestRelayRenamesEvents(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.dial(t)
	b := s.dial(t)

	send(t, a, protocol.CancelMessage{MessageID: "dashboard-a-1"})
	assert.Equal(t, protocol.MessageCancelled{MessageID: "dashboard-a-1"}, readEvent(t, b))

	send(t, a, protocol.ResetSystem{})
	assert.Equal(t, protocol.SystemReset{}, readEvent(t, b))

	send(t, a, protocol.RoomAction{Action: "action2"})
	assert.Equal(t, protocol.RoomActionResponse{Action: "action2"}, readEvent(t, b))
}

func TestRelayPassesThroughUnchanged(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.dial(t)
	b := s.dial(t)

	events := []protocol.Payload{
		protocol.MessageSeen{MessageID: "m1"},
		protocol.MessageResolved{MessageID: "m1", RoomID: "dashboard-a"},
		protocol.RoomStateChange{State: protocol.State2},
		protocol.RoomStateChange{State: protocol.StateIdle},
		protocol.CustomMessage{Message: "Back in 5"},
	}
	for _, ev := range events {
		send(t, a, ev)
	}
	for _, ev := range events {
		assert.Equal(t, ev, readEvent(t, b))
	}
}

func TestRelayKeepsHubOrderAcrossSenders(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.dial(t)
	b := s.dial(t)
	watcher := s.dial(t)

	send(t, a, protocol.RoomStateChange{State: protocol.State1})
	first := readEvent(t, watcher)
	send(t, b, protocol.RoomStateChange{State: protocol.State4})
	second := readEvent(t, watcher)

	// Each sender sees the same sequence as the watcher.
	for _, conn := range []*websocket.Conn{a, b} {
		assert.Equal(t, first, readEvent(t, conn))
		assert.Equal(t, second, readEvent(t, conn))
	}
}

func TestInvalidEventRepliesToSenderOnly(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.dial(t)
	b := s.dial(t)

	sendRaw(t, a, []byte(`{"event":"message-seen","data":{}}`))
	errEvent, ok := readEvent(t, a).(protocol.Error)
	require.True(t, ok)
	assert.Contains(t, errEvent.Message, "messageId")

	send(t, a, protocol.CustomMessage{Message: "after"})
	assert.Equal(t, protocol.CustomMessage{Message: "after"}, readEvent(t, b))
	assert.Equal(t, protocol.CustomMessage{Message: "after"}, readEvent(t, a))
}

func TestHubOnlyEventsAreRejected(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.dial(t)

	send(t, a, protocol.MessageSent{RoomID: "dashboard-a", Type: protocol.TypeWater, MessageID: "forged"})
	errEvent, ok := readEvent(t, a).(protocol.Error)
	require.True(t, ok)
	assert.Contains(t, errEvent.Message, "only be sent by the hub")
}

func TestUnknownRoomIsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.dial(t)

	send(t, a, protocol.SendMessage{RoomID: "dashboard-z", Type: protocol.TypeWater})
	errEvent, ok := readEvent(t, a).(protocol.Error)
	require.True(t, ok)
	assert.Contains(t, errEvent.Message, "dashboard-z")
}

func TestRateLimitedEventsAreDropped(t *testing.T) {
	s := newTestServer(t, NewRateLimiter(1, time.Minute))
	a := s.dial(t)
	b := s.dial(t)

	send(t, a, protocol.CustomMessage{Message: "one"})
	send(t, a, protocol.CustomMessage{Message: "two"})

	assert.Equal(t, protocol.CustomMessage{Message: "one"}, readEvent(t, a))
	assert.Equal(t, protocol.Error{Message: "rate limit exceeded"}, readEvent(t, a))

	// b has its own budget and never saw "two".
	assert.Equal(t, protocol.CustomMessage{Message: "one"}, readEvent(t, b))
	send(t, b, protocol.CustomMessage{Message: "three"})
	assert.Equal(t, protocol.CustomMessage{Message: "three"}, readEvent(t, b))
}

func TestRedisRateLimitSharedByAddress(t *testing.T) {
	limiter, _ := newRedisLimiter(t, 2, time.Minute)
	s := newTestServer(t, limiter)
	a := s.dial(t)
	b := s.dial(t)

	send(t, a, protocol.CustomMessage{Message: "one"})
	send(t, a, protocol.CustomMessage{Message: "two"})
	for _, conn := range []*websocket.Conn{a, b} {
		assert.Equal(t, protocol.CustomMessage{Message: "one"}, readEvent(t, conn))
		assert.Equal(t, protocol.CustomMessage{Message: "two"}, readEvent(t, conn))
	}

	// b dials from the same address, so a's events used up its budget too.
	send(t, b, protocol.CustomMessage{Message: "three"})
	assert.Equal(t, protocol.Error{Message: "rate limit exceeded"}, readEvent(t, b))
}

func TestSlowClientIsEvicted(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		hub.Wait()
	})

	stalled := &Client{ID: "stalled", send: make(chan []byte, 1)}
	healthy := &Client{ID: "healthy", send: make(chan []byte, 1)}
	require.True(t, hub.Register(stalled))
	require.True(t, hub.Register(healthy))
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, time.Millisecond)

	receive := func() protocol.Payload {
		t.Helper()
		select {
		case frame, ok := <-healthy.send:
			require.True(t, ok, "healthy client was evicted")
			p, err := protocol.Decode(frame)
			require.NoError(t, err)
			return p
		case <-time.After(2 * time.Second):
			t.Fatal("healthy client got no frame")
			return nil
		}
	}

	// healthy keeps up frame by frame while stalled never reads.
	for i := 0; i < 10; i++ {
		msg := protocol.CustomMessage{Message: fmt.Sprintf("burst %d", i)}
		hub.Publish(nil, msg)
		assert.Equal(t, msg, receive())
	}

	assert.Equal(t, 1, hub.ClientCount())
	frame, ok := <-stalled.send
	require.True(t, ok, "the frame buffered before eviction is kept")
	assert.Contains(t, string(frame), "burst 0")
	_, ok = <-stalled.send
	assert.False(t, ok, "send channel is closed on eviction")
}

func TestStalledConnectionIsDisconnected(t *testing.T) {
	s := newTestServerWithBuffer(t, 1, nil)
	stalled := s.dial(t)
	sender := s.dial(t)

	// The stalled socket's kernel buffers absorb frames first; large frames
	// fill them and then the one-frame send buffer. Frames stay under the
	// default 32KiB read limit.
	msg := protocol.CustomMessage{Message: strings.Repeat("x", 30_000)}
	for i := 0; i < 2000 && s.hub.ClientCount() == 2; i++ {
		send(t, sender, msg)
		assert.Equal(t, msg, readEvent(t, sender))
	}
	require.Equal(t, 1, s.hub.ClientCount(), "stalled client was never evicted")

	// The sender was never dropped and still gets broadcasts.
	send(t, sender, protocol.CustomMessage{Message: "after"})
	assert.Equal(t, protocol.CustomMessage{Message: "after"}, readEvent(t, sender))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	var err error
	for err == nil {
		_, _, err = stalled.Read(ctx)
	}
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestObserversSeeBroadcastsInOrder(t *testing.T) {
	seen := make(chan Event, 8)
	s := newTestServer(t, nil, ObserverFunc(func(ev Event) { seen <- ev }))
	a := s.dial(t)

	send(t, a, protocol.SendMessage{RoomID: "dashboard-b", RoomNumber: "143", Type: protocol.TypeWater})
	send(t, a, protocol.CancelMessage{MessageID: "x"})
	sendRaw(t, a, []byte(`{"event":"nope"}`))
	send(t, a, protocol.ResetSystem{})

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-seen:
			got = append(got, ev.Payload.Event())
			assert.NotEmpty(t, ev.ClientID)
			assert.False(t, ev.At.IsZero())
		case <-time.After(2 * time.Second):
			t.Fatal("observer not called")
		}
	}
	assert.Equal(t, []string{protocol.EventMessageSent, protocol.EventMessageCancelled, protocol.EventSystemReset}, got)
}

func TestClientCountTracksDisconnects(t *testing.T) {
	s := newTestServer(t, nil)
	a := s.dial(t)
	s.dial(t)
	assert.Equal(t, 2, s.hub.ClientCount())

	a.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestRouteWithoutCatalogAcceptsAnyRoom(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)

	out, err := hub.route(protocol.SendMessage{RoomID: "lobby", Type: protocol.TypeCustom, CustomText: "hi"})
	require.NoError(t, err)
	sent := out.(protocol.MessageSent)
	assert.True(t, strings.HasPrefix(sent.MessageID, "lobby-"))
	assert.Equal(t, "hi", sent.CustomText)

	_, err = hub.route(protocol.SystemReset{})
	assert.ErrorIs(t, err, ErrHubOnlyEvent)
}

func TestIDGeneratorIsMonotonic(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	g := NewIDGenerator()
	g.now = func() time.Time { return fixed }

	assert.Equal(t, "dashboard-a-1700000000000", g.Next("dashboard-a"))
	assert.Equal(t, "dashboard-a-1700000000001", g.Next("dashboard-a"))
	assert.Equal(t, "dashboard-b-1700000000002", g.Next("dashboard-b"))

	g.now = func() time.Time { return fixed.Add(time.Second) }
	assert.Equal(t, "dashboard-a-1700000001000", g.Next("dashboard-a"))
}
