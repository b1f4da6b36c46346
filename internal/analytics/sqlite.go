package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore handles SQLite analytics storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/analytics.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/analytics.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS message_flows (
		id TEXT PRIMARY KEY,
		message_id TEXT UNIQUE NOT NULL,
		date TEXT NOT NULL,
		room_id TEXT NOT NULL,
		button_type TEXT NOT NULL,
		button_label TEXT NOT NULL,
		custom_text TEXT NOT NULL DEFAULT '',
		sent_timestamp DATETIME NOT NULL,
		seen_timestamp DATETIME,
		resolved_timestamp DATETIME,
		sent_to_seen_seconds INTEGER,
		seen_to_resolved_seconds INTEGER,
		total_resolution_time_seconds INTEGER,
		current_status TEXT NOT NULL DEFAULT 'sent',
		is_completed BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS custom_messages (
		id TEXT PRIMARY KEY,
		message_id TEXT UNIQUE NOT NULL,
		room_id TEXT NOT NULL,
		room_name TEXT NOT NULL,
		custom_text TEXT NOT NULL,
		sent_timestamp DATETIME NOT NULL,
		date TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS button_cancellations (
		id TEXT PRIMARY KEY,
		original_message_id TEXT UNIQUE NOT NULL,
		room_id TEXT NOT NULL,
		room_name TEXT NOT NULL,
		button_type TEXT NOT NULL,
		button_label TEXT NOT NULL,
		custom_text TEXT NOT NULL DEFAULT '',
		sent_timestamp DATETIME NOT NULL,
		cancelled_timestamp DATETIME NOT NULL,
		seconds_before_cancellation INTEGER NOT NULL,
		date TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_message_flows_date ON message_flows(date);
	CREATE INDEX IF NOT EXISTS idx_custom_messages_date ON custom_messages(date);
	CREATE INDEX IF NOT EXISTS idx_button_cancellations_date ON button_cancellations(date);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) InsertFlow(ctx context.Context, f MessageFlow) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_flows (
			id, message_id, date, room_id, button_type, button_label, custom_text,
			sent_timestamp, current_status, is_completed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.MessageID, f.Date, f.RoomID, f.ButtonType, f.ButtonLabel, f.CustomText,
		f.SentAt.UTC(), f.Status, f.Completed)
	return err
}

func (s *SQLiteStore) InsertCustomMessage(ctx context.Context, m CustomMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO custom_messages (
			id, message_id, room_id, room_name, custom_text, sent_timestamp, date
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.MessageID, m.RoomID, m.RoomName, m.CustomText, m.SentAt.UTC(), m.Date)
	return err
}

func (s *SQLiteStore) InsertCancellation(ctx context.Context, c Cancellation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO button_cancellations (
			id, original_message_id, room_id, room_name, button_type, button_label,
			custom_text, sent_timestamp, cancelled_timestamp, seconds_before_cancellation, date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.OriginalMessageID, c.RoomID, c.RoomName, c.ButtonType, c.ButtonLabel,
		c.CustomText, c.SentAt.UTC(), c.CancelledAt.UTC(), c.SecondsBeforeCancellation, c.Date)
	return err
}

const sqliteFlowColumns = `
	id, message_id, date, room_id, button_type, button_label, custom_text,
	sent_timestamp, seen_timestamp, resolved_timestamp,
	sent_to_seen_seconds, seen_to_resolved_seconds, total_resolution_time_seconds,
	current_status, is_completed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteFlow(row rowScanner) (MessageFlow, error) {
	var f MessageFlow
	var seenAt, resolvedAt sql.NullTime
	var sentToSeen, seenToResolved, total sql.NullInt64
	err := row.Scan(
		&f.ID, &f.MessageID, &f.Date, &f.RoomID, &f.ButtonType, &f.ButtonLabel, &f.CustomText,
		&f.SentAt, &seenAt, &resolvedAt,
		&sentToSeen, &seenToResolved, &total,
		&f.Status, &f.Completed,
	)
	if err != nil {
		return f, err
	}
	f.SeenAt = nullTime(seenAt)
	f.ResolvedAt = nullTime(resolvedAt)
	f.SentToSeenSeconds = nullInt(sentToSeen)
	f.SeenToResolvedSeconds = nullInt(seenToResolved)
	f.TotalResolutionSeconds = nullInt(total)
	return f, nil
}

func (s *SQLiteStore) GetFlow(ctx context.Context, messageID string) (*MessageFlow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteFlowColumns+` FROM message_flows WHERE message_id = ?`, messageID)
	f, err := scanSQLiteFlow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *SQLiteStore) UpdateFlow(ctx context.Context, f MessageFlow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_flows SET
			seen_timestamp = ?, resolved_timestamp = ?,
			sent_to_seen_seconds = ?, seen_to_resolved_seconds = ?, total_resolution_time_seconds = ?,
			current_status = ?, is_completed = ?
		WHERE message_id = ?
	`, utcPtr(f.SeenAt), utcPtr(f.ResolvedAt),
		f.SentToSeenSeconds, f.SeenToResolvedSeconds, f.TotalResolutionSeconds,
		f.Status, f.Completed, f.MessageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Flows(ctx context.Context, date string) ([]MessageFlow, error) {
	query := `SELECT ` + sqliteFlowColumns + ` FROM message_flows`
	var args []any
	if date != "" {
		query += ` WHERE date = ?`
		args = append(args, date)
	}
	query += ` ORDER BY sent_timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flows := []MessageFlow{}
	for rows.Next() {
		f, err := scanSQLiteFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *SQLiteStore) CustomMessages(ctx context.Context, date string) ([]CustomMessage, error) {
	query := `SELECT id, message_id, room_id, room_name, custom_text, sent_timestamp, date FROM custom_messages`
	var args []any
	if date != "" {
		query += ` WHERE date = ?`
		args = append(args, date)
	}
	query += ` ORDER BY sent_timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []CustomMessage{}
	for rows.Next() {
		var m CustomMessage
		if err := rows.Scan(&m.ID, &m.MessageID, &m.RoomID, &m.RoomName, &m.CustomText, &m.SentAt, &m.Date); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) Cancellations(ctx context.Context, date string) ([]Cancellation, error) {
	query := `
		SELECT id, original_message_id, room_id, room_name, button_type, button_label, custom_text,
			sent_timestamp, cancelled_timestamp, seconds_before_cancellation, date
		FROM button_cancellations`
	var args []any
	if date != "" {
		query += ` WHERE date = ?`
		args = append(args, date)
	}
	query += ` ORDER BY cancelled_timestamp DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cancellations := []Cancellation{}
	for rows.Next() {
		var c Cancellation
		if err := rows.Scan(&c.ID, &c.OriginalMessageID, &c.RoomID, &c.RoomName, &c.ButtonType, &c.ButtonLabel,
			&c.CustomText, &c.SentAt, &c.CancelledAt, &c.SecondsBeforeCancellation, &c.Date); err != nil {
			return nil, err
		}
		cancellations = append(cancellations, c)
	}
	return cancellations, rows.Err()
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM message_flows),
			(SELECT COUNT(*) FROM custom_messages),
			(SELECT COUNT(*) FROM button_cancellations)
	`).Scan(&c.Flows, &c.CustomMessages, &c.Cancellations)
	return c, err
}

func (s *SQLiteStore) Reset(ctx context.Context, table Table) (int64, error) {
	name, err := table.SQLName()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, name))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
