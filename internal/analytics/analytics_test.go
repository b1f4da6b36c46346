package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalboard/signalboard/internal/protocol"
	"github.com/signalboard/signalboard/internal/relay"
)

var sentAt = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "data", "analytics.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func newRecorder(t *testing.T, s Store) *Recorder {
	t.Helper()
	rooms, err := protocol.NewCatalog(protocol.DefaultRooms())
	require.NoError(t, err)
	return NewRecorder(s, rooms, zerolog.Nop(), time.Second, 16)
}

func record(t *testing.T, r *Recorder, p protocol.Payload, at time.Time) {
	t.Helper()
	require.NoError(t, r.Record(context.Background(), relay.Event{Payload: p, At: at}))
}

func TestRecordFullFlow(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	r := newRecorder(t, s)

	record(t, r, protocol.MessageSent{RoomID: "dashboard-a", RoomNumber: "139", Type: protocol.TypeWater, MessageID: "m1"}, sentAt)
	record(t, r, protocol.MessageSeen{MessageID: "m1"}, sentAt.Add(30*time.Second))
	record(t, r, protocol.MessageResolved{MessageID: "m1", RoomID: "dashboard-a"}, sentAt.Add(90*time.Second))

	f, err := s.GetFlow(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", f.Date)
	assert.Equal(t, "water", f.ButtonType)
	assert.Equal(t, "Refill Water", f.ButtonLabel)
	assert.True(t, f.SentAt.Equal(sentAt))
	require.NotNil(t, f.SeenAt)
	require.NotNil(t, f.ResolvedAt)
	assert.Equal(t, int64(30), *f.SentToSeenSeconds)
	assert.Equal(t, int64(60), *f.SeenToResolvedSeconds)
	assert.Equal(t, int64(90), *f.TotalResolutionSeconds)
	assert.Equal(t, "resolved", f.Status)
	assert.True(t, f.Completed)
}

func TestRecordResolveWithoutSeen(t *testing.T) {
	s := newSQLite(t)
	r := newRecorder(t, s)

	record(t, r, protocol.MessageSent{RoomID: "dashboard-b", Type: protocol.TypeDelay, MessageID: "m2"}, sentAt)
	record(t, r, protocol.MessageResolved{MessageID: "m2"}, sentAt.Add(2*time.Minute))

	f, err := s.GetFlow(context.Background(), "m2")
	require.NoError(t, err)
	assert.Nil(t, f.SeenAt)
	assert.Nil(t, f.SeenToResolvedSeconds)
	assert.Equal(t, int64(120), *f.TotalResolutionSeconds)
}

func TestRecordIgnoresRepeatsAndUnknownMessages(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	r := newRecorder(t, s)

	sent := protocol.MessageSent{RoomID: "dashboard-a", Type: protocol.TypeCancel, MessageID: "m3"}
	record(t, r, sent, sentAt)
	record(t, r, sent, sentAt.Add(time.Minute))
	record(t, r, protocol.MessageResolved{MessageID: "m3"}, sentAt.Add(10*time.Second))
	record(t, r, protocol.MessageResolved{MessageID: "m3"}, sentAt.Add(time.Hour))
	record(t, r, protocol.MessageSeen{MessageID: "m3"}, sentAt.Add(2*time.Hour))
	record(t, r, protocol.MessageSeen{MessageID: "ghost"}, sentAt)
	record(t, r, protocol.RoomStateChange{State: protocol.State1}, sentAt)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Flows: 1}, counts)

	f, err := s.GetFlow(ctx, "m3")
	require.NoError(t, err)
	assert.True(t, f.SentAt.Equal(sentAt))
	assert.Equal(t, int64(10), *f.TotalResolutionSeconds)
	assert.Nil(t, f.SeenAt)
}

func TestRecordCustomAndCancellation(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	r := newRecorder(t, s)

	record(t, r, protocol.MessageSent{RoomID: "dashboard-b", RoomNumber: "143", Type: protocol.TypeCustom, CustomText: "more chairs", MessageID: "m4"}, sentAt)
	record(t, r, protocol.MessageCancelled{MessageID: "m4"}, sentAt.Add(45*time.Second))
	record(t, r, protocol.MessageCancelled{MessageID: "m4"}, sentAt.Add(50*time.Second))

	custom, err := s.CustomMessages(ctx, "2026-03-02")
	require.NoError(t, err)
	require.Len(t, custom, 1)
	assert.Equal(t, "Room 143", custom[0].RoomName)
	assert.Equal(t, "more chairs", custom[0].CustomText)

	cancellations, err := s.Cancellations(ctx, "")
	require.NoError(t, err)
	require.Len(t, cancellations, 1)
	c := cancellations[0]
	assert.Len(t, c.ID, 26)
	assert.Equal(t, "m4", c.OriginalMessageID)
	assert.Equal(t, protocol.CustomPlaceholder, c.ButtonLabel)
	assert.Equal(t, int64(45), c.SecondsBeforeCancellation)

	f, err := s.GetFlow(ctx, "m4")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", f.Status)
	assert.False(t, f.Completed)
}

func TestFlowsFilterByDate(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	r := newRecorder(t, s)

	record(t, r, protocol.MessageSent{RoomID: "dashboard-a", Type: protocol.TypeWater, MessageID: "d1"}, sentAt)
	record(t, r, protocol.MessageSent{RoomID: "dashboard-a", Type: protocol.TypeWater, MessageID: "d2"}, sentAt.Add(24*time.Hour))

	all, err := s.Flows(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "d2", all[0].MessageID, "newest first")

	day, err := s.Flows(ctx, "2026-03-03")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, "d2", day[0].MessageID)
}

func TestResetTable(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	r := newRecorder(t, s)

	record(t, r, protocol.MessageSent{RoomID: "dashboard-a", Type: protocol.TypeWater, MessageID: "r1"}, sentAt)
	record(t, r, protocol.MessageSent{RoomID: "dashboard-b", Type: protocol.TypeDelay, MessageID: "r2"}, sentAt)

	n, err := s.Reset(ctx, TableFlows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Reset(ctx, Table("users"))
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = s.GetFlow(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecorderRunsObservedEvents(t *testing.T) {
	s := newSQLite(t)
	r := newRecorder(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		r.Wait()
	})

	r.Observe(relay.Event{Payload: protocol.MessageSent{RoomID: "dashboard-c", Type: protocol.TypeDelay, MessageID: "o1"}, At: sentAt})
	r.Observe(relay.Event{Payload: protocol.MessageSeen{MessageID: "o1"}, At: sentAt.Add(5 * time.Second)})

	require.Eventually(t, func() bool {
		f, err := s.GetFlow(context.Background(), "o1")
		return err == nil && f.Status == "seen"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWriteFlowsCSV(t *testing.T) {
	seen := sentAt.Add(30 * time.Second)
	secs := int64(30)
	flows := []MessageFlow{{
		MessageID: "m1", Date: "2026-03-02", RoomID: "dashboard-a",
		ButtonType: "custom", ButtonLabel: protocol.CustomPlaceholder, CustomText: "chairs, please",
		SentAt: sentAt, SeenAt: &seen, SentToSeenSeconds: &secs, Status: "seen",
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteFlowsCSV(&buf, flows))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, flowHeader, rows[0])
	assert.Equal(t, []string{
		"m1", "2026-03-02", "dashboard-a", "custom", "Custom Message", "chairs, please",
		"2026-03-02T09:30:00Z", "2026-03-02T09:30:30Z", "",
		"30", "", "",
		"seen", "false",
	}, rows[1])
}

func TestOpenNone(t *testing.T) {
	s, err := Open(context.Background(), "none", "")
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(context.Background(), "mongo", "")
	assert.Error(t, err)
}
