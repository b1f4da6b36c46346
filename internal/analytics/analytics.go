// Package analytics records message timings for reporting. It is a sink:
// the hub hands it broadcasts and never waits for it, and a failed write
// changes nothing on the board.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalboard/signalboard/internal/protocol"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnknownTable = errors.New("unknown analytics table")
)

// MessageFlow is one message's journey from sent to resolved or cancelled.
type MessageFlow struct {
	ID                     string     `json:"id"`
	MessageID              string     `json:"messageId"`
	Date                   string     `json:"date"`
	RoomID                 string     `json:"roomId"`
	ButtonType             string     `json:"buttonType"`
	ButtonLabel            string     `json:"buttonLabel"`
	CustomText             string     `json:"customText,omitempty"`
	SentAt                 time.Time  `json:"sentTimestamp"`
	SeenAt                 *time.Time `json:"seenTimestamp,omitempty"`
	ResolvedAt             *time.Time `json:"resolvedTimestamp,omitempty"`
	SentToSeenSeconds      *int64     `json:"sentToSeenSeconds,omitempty"`
	SeenToResolvedSeconds  *int64     `json:"seenToResolvedSeconds,omitempty"`
	TotalResolutionSeconds *int64     `json:"totalResolutionTimeSeconds,omitempty"`
	Status                 string     `json:"currentStatus"`
	Completed              bool       `json:"isCompleted"`
}

// CustomMessage is the free text of a custom request, kept for review.
type CustomMessage struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"messageId"`
	RoomID     string    `json:"roomId"`
	RoomName   string    `json:"roomName"`
	CustomText string    `json:"customText"`
	SentAt     time.Time `json:"sentTimestamp"`
	Date       string    `json:"date"`
}

// Cancellation records a request withdrawn before it was resolved.
type Cancellation struct {
	ID                        string    `json:"id"`
	OriginalMessageID         string    `json:"originalMessageId"`
	RoomID                    string    `json:"roomId"`
	RoomName                  string    `json:"roomName"`
	ButtonType                string    `json:"buttonType"`
	ButtonLabel               string    `json:"buttonLabel"`
	CustomText                string    `json:"customText,omitempty"`
	SentAt                    time.Time `json:"sentTimestamp"`
	CancelledAt               time.Time `json:"cancelledTimestamp"`
	SecondsBeforeCancellation int64     `json:"secondsBeforeCancellation"`
	Date                      string    `json:"date"`
}

// Counts is the row count of each table.
type Counts struct {
	Flows          int64 `json:"messageFlows"`
	CustomMessages int64 `json:"customMessages"`
	Cancellations  int64 `json:"buttonCancellations"`
}

// Table names a resettable analytics table.
type Table string

const (
	TableFlows         Table = "flows"
	TableCustom        Table = "custom"
	TableCancellations Table = "cancellations"
)

var tableNames = map[Table]string{
	TableFlows:         "message_flows",
	TableCustom:        "custom_messages",
	TableCancellations: "button_cancellations",
}

// SQLName returns the backing table for t.
func (t Table) SQLName() (string, error) {
	name, ok := tableNames[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTable, string(t))
	}
	return name, nil
}

// Store is the persistence behind the recorder and the reporting API.
// Inserts ignore rows whose message id already exists.
type Store interface {
	InsertFlow(ctx context.Context, f MessageFlow) error
	InsertCustomMessage(ctx context.Context, m CustomMessage) error
	InsertCancellation(ctx context.Context, c Cancellation) error
	GetFlow(ctx context.Context, messageID string) (*MessageFlow, error)
	UpdateFlow(ctx context.Context, f MessageFlow) error

	// date filters by YYYY-MM-DD when non-empty.
	Flows(ctx context.Context, date string) ([]MessageFlow, error)
	CustomMessages(ctx context.Context, date string) ([]CustomMessage, error)
	Cancellations(ctx context.Context, date string) ([]Cancellation, error)
	Counts(ctx context.Context) (Counts, error)
	Reset(ctx context.Context, table Table) (int64, error)

	Ping(ctx context.Context) error
	Close()
}

// Open returns the store for driver, or nil for "none".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		s, err := NewSQLiteStore(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown analytics driver %q", driver)
}

// ButtonLabel is the label reported for a message type.
func ButtonLabel(t protocol.MessageType) string {
	if t == protocol.TypeCustom {
		return protocol.CustomPlaceholder
	}
	return protocol.Content(t, "")
}

// DateOf is the reporting day of t, in UTC.
func DateOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func seconds(from, to time.Time) int64 {
	return int64(to.Sub(from) / time.Second)
}
