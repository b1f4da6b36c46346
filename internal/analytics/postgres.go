package analytics

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore handles PostgreSQL analytics storage.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS message_flows (
		id TEXT PRIMARY KEY,
		message_id TEXT UNIQUE NOT NULL,
		date TEXT NOT NULL,
		room_id TEXT NOT NULL,
		button_type TEXT NOT NULL,
		button_label TEXT NOT NULL,
		custom_text TEXT NOT NULL DEFAULT '',
		sent_timestamp TIMESTAMPTZ NOT NULL,
		seen_timestamp TIMESTAMPTZ,
		resolved_timestamp TIMESTAMPTZ,
		sent_to_seen_seconds BIGINT,
		seen_to_resolved_seconds BIGINT,
		total_resolution_time_seconds BIGINT,
		current_status TEXT NOT NULL DEFAULT 'sent',
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS custom_messages (
		id TEXT PRIMARY KEY,
		message_id TEXT UNIQUE NOT NULL,
		room_id TEXT NOT NULL,
		room_name TEXT NOT NULL,
		custom_text TEXT NOT NULL,
		sent_timestamp TIMESTAMPTZ NOT NULL,
		date TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS button_cancellations (
		id TEXT PRIMARY KEY,
		original_message_id TEXT UNIQUE NOT NULL,
		room_id TEXT NOT NULL,
		room_name TEXT NOT NULL,
		button_type TEXT NOT NULL,
		button_label TEXT NOT NULL,
		custom_text TEXT NOT NULL DEFAULT '',
		sent_timestamp TIMESTAMPTZ NOT NULL,
		cancelled_timestamp TIMESTAMPTZ NOT NULL,
		seconds_before_cancellation BIGINT NOT NULL,
		date TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_message_flows_date ON message_flows(date)`,
	`CREATE INDEX IF NOT EXISTS idx_custom_messages_date ON custom_messages(date)`,
	`CREATE INDEX IF NOT EXISTS idx_button_cancellations_date ON button_cancellations(date)`,
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) InsertFlow(ctx context.Context, f MessageFlow) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO message_flows (
			id, message_id, date, room_id, button_type, button_label, custom_text,
			sent_timestamp, current_status, is_completed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (message_id) DO NOTHING
	`, f.ID, f.MessageID, f.Date, f.RoomID, f.ButtonType, f.ButtonLabel, f.CustomText,
		f.SentAt, f.Status, f.Completed)
	return err
}

func (s *PostgresStore) InsertCustomMessage(ctx context.Context, m CustomMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO custom_messages (
			id, message_id, room_id, room_name, custom_text, sent_timestamp, date
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (message_id) DO NOTHING
	`, m.ID, m.MessageID, m.RoomID, m.RoomName, m.CustomText, m.SentAt, m.Date)
	return err
}

func (s *PostgresStore) InsertCancellation(ctx context.Context, c Cancellation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO button_cancellations (
			id, original_message_id, room_id, room_name, button_type, button_label,
			custom_text, sent_timestamp, cancelled_timestamp, seconds_before_cancellation, date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (original_message_id) DO NOTHING
	`, c.ID, c.OriginalMessageID, c.RoomID, c.RoomName, c.ButtonType, c.ButtonLabel,
		c.CustomText, c.SentAt, c.CancelledAt, c.SecondsBeforeCancellation, c.Date)
	return err
}

const postgresFlowColumns = `
	id, message_id, date, room_id, button_type, button_label, custom_text,
	sent_timestamp, seen_timestamp, resolved_timestamp,
	sent_to_seen_seconds, seen_to_resolved_seconds, total_resolution_time_seconds,
	current_status, is_completed`

func scanPostgresFlow(row pgx.Row) (MessageFlow, error) {
	var f MessageFlow
	err := row.Scan(
		&f.ID, &f.MessageID, &f.Date, &f.RoomID, &f.ButtonType, &f.ButtonLabel, &f.CustomText,
		&f.SentAt, &f.SeenAt, &f.ResolvedAt,
		&f.SentToSeenSeconds, &f.SeenToResolvedSeconds, &f.TotalResolutionSeconds,
		&f.Status, &f.Completed,
	)
	return f, err
}

func (s *PostgresStore) GetFlow(ctx context.Context, messageID string) (*MessageFlow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postgresFlowColumns+` FROM message_flows WHERE message_id = $1`, messageID)
	f, err := scanPostgresFlow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) UpdateFlow(ctx context.Context, f MessageFlow) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message_flows SET
			seen_timestamp = $1, resolved_timestamp = $2,
			sent_to_seen_seconds = $3, seen_to_resolved_seconds = $4, total_resolution_time_seconds = $5,
			current_status = $6, is_completed = $7
		WHERE message_id = $8
	`, f.SeenAt, f.ResolvedAt,
		f.SentToSeenSeconds, f.SeenToResolvedSeconds, f.TotalResolutionSeconds,
		f.Status, f.Completed, f.MessageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Flows(ctx context.Context, date string) ([]MessageFlow, error) {
	query := `SELECT ` + postgresFlowColumns + ` FROM message_flows`
	var args []any
	if date != "" {
		query += ` WHERE date = $1`
		args = append(args, date)
	}
	query += ` ORDER BY sent_timestamp DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flows := []MessageFlow{}
	for rows.Next() {
		f, err := scanPostgresFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *PostgresStore) CustomMessages(ctx context.Context, date string) ([]CustomMessage, error) {
	query := `SELECT id, message_id, room_id, room_name, custom_text, sent_timestamp, date FROM custom_messages`
	var args []any
	if date != "" {
		query += ` WHERE date = $1`
		args = append(args, date)
	}
	query += ` ORDER BY sent_timestamp DESC`

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *PostgresStore) Cancellations(ctx context.Context, date string) ([]Cancellation, error) {
	query := `
		SELECT id, original_message_id, room_id, room_name, button_type, button_label, custom_text,
			sent_timestamp, cancelled_timestamp, seconds_before_cancellation, date
		FROM button_cancellations`
	var args []any
	if date != "" {
		query += ` WHERE date = $1`
		args = append(args, date)
	}
	query += ` ORDER BY cancelled_timestamp DESC`

	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM message_flows),
			(SELECT COUNT(*) FROM custom_messages),
			(SELECT COUNT(*) FROM button_cancellations)
	`).Scan(&c.Flows, &c.CustomMessages, &c.Cancellations)
	return c, err
}

func (s *PostgresStore) Reset(ctx context.Context, table Table) (int64, error) {
	name, err := table.SQLName()
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, name))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
