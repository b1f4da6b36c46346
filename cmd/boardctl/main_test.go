package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalboard/signalboard/internal/client"
	"github.com/signalboard/signalboard/internal/protocol"
	"github.com/signalboard/signalboard/internal/relay"
)

func defaultRooms(t *testing.T) *protocol.Catalog {
	t.Helper()
	rooms, err := protocol.NewCatalog(protocol.DefaultRooms())
	require.NoError(t, err)
	return rooms
}

func TestParseCommand(t *testing.T) {
	rooms := defaultRooms(t)

	tests := []struct {
		args    []string
		payload protocol.Payload
		confirm protocol.Payload
		other   protocol.Payload
	}{
		{[]string{"send", "dashboard-b", "custom", "more", "chairs"},
			protocol.SendMessage{RoomID: "dashboard-b", RoomNumber: "143", Type: protocol.TypeCustom, CustomText: "more chairs"},
			protocol.MessageSent{RoomID: "dashboard-b", RoomNumber: "143", Type: protocol.TypeCustom, CustomText: "more chairs", MessageID: "dashboard-b-1"},
			protocol.MessageSent{RoomID: "dashboard-a", RoomNumber: "139", Type: protocol.TypeCustom, CustomText: "more chairs", MessageID: "dashboard-a-1"}},
		{[]string{"seen", "dashboard-a-1"}, protocol.MessageSeen{MessageID: "dashboard-a-1"},
			protocol.MessageSeen{MessageID: "dashboard-a-1"}, protocol.MessageSeen{MessageID: "dashboard-a-2"}},
		{[]string{"resolve", "dashboard-a-1", "dashboard-a"}, protocol.MessageResolved{MessageID: "dashboard-a-1", RoomID: "dashboard-a"},
			protocol.MessageResolved{MessageID: "dashboard-a-1", RoomID: "dashboard-a"}, protocol.MessageResolved{MessageID: "dashboard-b-1"}},
		{[]string{"cancel", "dashboard-a-1"}, protocol.CancelMessage{MessageID: "dashboard-a-1"},
			protocol.MessageCancelled{MessageID: "dashboard-a-1"}, protocol.MessageCancelled{MessageID: "dashboard-a-9"}},
		{[]string{"state", "idle"}, protocol.RoomStateChange{State: protocol.StateIdle},
			protocol.RoomStateChange{State: protocol.StateIdle}, protocol.RoomStateChange{State: protocol.State1}},
		{[]string{"state", "state3"}, protocol.RoomStateChange{State: protocol.State3},
			protocol.RoomStateChange{State: protocol.State3}, protocol.RoomStateChange{State: protocol.StateIdle}},
		{[]string{"custom", "back", "at", "two"}, protocol.CustomMessage{Message: "back at two"},
			protocol.CustomMessage{Message: "back at two"}, protocol.CustomMessage{Message: "back at three"}},
		{[]string{"action", "action2"}, protocol.RoomAction{Action: "action2"},
			protocol.RoomActionResponse{Action: "action2"}, protocol.RoomActionResponse{Action: "action1"}},
		{[]string{"reset"}, protocol.ResetSystem{}, protocol.SystemReset{}, protocol.CustomMessage{}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd, err := parseCommand(tt.args, rooms)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, cmd.payload)
			assert.True(t, cmd.match(tt.confirm), "own broadcast")
			assert.False(t, cmd.match(tt.other), "another board's broadcast")
			assert.False(t, cmd.match(tt.payload), "client-side event is not a confirmation")
		})
	}
}

func TestParseCommandErrors(t *testing.T) {
	rooms := defaultRooms(t)

	var usage usageError
	_, err := parseCommand(nil, rooms)
	assert.ErrorAs(t, err, &usage)

	_, err = parseCommand([]string{"launch"}, rooms)
	assert.ErrorAs(t, err, &usage)

	_, err = parseCommand([]string{"send", "lobby", "water"}, rooms)
	assert.ErrorIs(t, err, protocol.ErrInvalidRoom)

	_, err = parseCommand([]string{"send", "dashboard-a", "pizza"}, rooms)
	assert.ErrorIs(t, err, protocol.ErrInvalidType)

	_, err = parseCommand([]string{"state", "state9"}, rooms)
	assert.ErrorIs(t, err, protocol.ErrInvalidState)
}

func newHub(t *testing.T) string {
	t.Helper()
	hub := relay.NewHub(zerolog.Nop(), defaultRooms(t))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.HandleWebSocket(hub, nil, zerolog.Nop(), relay.Options{SendBuffer: 16}))
	t.Cleanup(func() {
		cancel()
		hub.Wait()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestPublishWaitsForBroadcast(t *testing.T) {
	url := newHub(t)
	cmd, err := parseCommand([]string{"send", "dashboard-a", "water"}, defaultRooms(t))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, publish(context.Background(), url, cmd, 2*time.Second, zerolog.Nop(), &out))
	assert.Contains(t, out.String(), "room 139: Refill Water [dashboard-a-")
}

// fakeHub answers the first event it reads with an unrelated broadcast
// from another board and only then with the echo of the event.
func fakeHub(t *testing.T, unrelated protocol.Payload) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		for _, frame := range [][]byte{mustEncode(t, unrelated), data} {
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func mustEncode(t *testing.T, p protocol.Payload) []byte {
	t.Helper()
	frame, err := protocol.Encode(p)
	require.NoError(t, err)
	return frame
}

func TestPublishIgnoresOtherBoardsEvents(t *testing.T) {
	tests := []struct {
		args      []string
		unrelated protocol.Payload
		want      string
	}{
		{[]string{"seen", "dashboard-a-2"}, protocol.MessageSeen{MessageID: "dashboard-a-1"}, "seen dashboard-a-2"},
		{[]string{"cancel", "dashboard-b-5"}, protocol.MessageCancelled{MessageID: "dashboard-b-4"}, "cancelled dashboard-b-5"},
		{[]string{"custom", "mine"}, protocol.CustomMessage{Message: "theirs"}, `display message: "mine"`},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			cmd, err := parseCommand(tt.args, defaultRooms(t))
			require.NoError(t, err)

			var out bytes.Buffer
			require.NoError(t, publish(context.Background(), fakeHub(t, tt.unrelated), cmd, 2*time.Second, zerolog.Nop(), &out))
			assert.Equal(t, tt.want+"\n", out.String())
		})
	}
}

func TestPublishMatchesOwnRoom(t *testing.T) {
	url := newHub(t)
	rooms := defaultRooms(t)

	// Another board is sending the same request from a different room.
	other := client.New(client.Options{URL: url, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		other.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()
	require.Eventually(t, other.Connected, 2*time.Second, 5*time.Millisecond)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				other.EmitMessage("dashboard-b", "143", protocol.TypeWater, "")
			}
		}
	}()

	cmd, err := parseCommand([]string{"send", "dashboard-a", "water"}, rooms)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, publish(context.Background(), url, cmd, 2*time.Second, zerolog.Nop(), &out))
	assert.True(t, strings.HasPrefix(out.String(), "room 139: Refill Water [dashboard-a-"), out.String())
}

func TestPublishTimesOutWithoutHub(t *testing.T) {
	cmd, err := parseCommand([]string{"reset"}, defaultRooms(t))
	require.NoError(t, err)

	err = publish(context.Background(), "ws://127.0.0.1:1/api/socket", cmd, 100*time.Millisecond, zerolog.Nop(), &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDescribe(t *testing.T) {
	none := func(string) (string, bool) { return "", false }

	assert.Equal(t, "display: Lunch Break Time", describe(protocol.RoomStateChange{State: protocol.State3}, none))
	assert.Equal(t, "display: idle", describe(protocol.RoomStateChange{State: protocol.StateIdle}, none))
	assert.Equal(t, "room 143: Do Not Disturb Until 09:40 [m1]",
		describe(protocol.MessageSent{RoomNumber: "143", Type: protocol.TypeDelay, MessageID: "m1"},
			func(string) (string, bool) { return "Do Not Disturb Until 09:40", true }))
	assert.Equal(t, "error: rate limit exceeded", describe(protocol.Error{Message: "rate limit exceeded"}, none))
}
