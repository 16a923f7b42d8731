package sqlite

import (
	"context"
	"database/sql"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
)

func insertEntryEvent(ctx context.Context, tx *sql.Tx, eventType string, entry models.QueueEntry, staffID string, at time.Time) error {
	event, err := store.NewEntryEvent(eventType, entry, staffID, at)
	if err != nil {
		return err
	}
	return insertOutboxEvent(ctx, tx, event)
}

func insertOutboxEvent(ctx context.Context, tx *sql.Tx, event store.OutboxEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES (?, ?, ?, ?)
	`, event.EventID, event.Type, string(event.Payload), formatTime(event.CreatedAt))
	return err
}

func (s *Store) LatestOutboxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM outbox_events`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var payload, createdRaw string
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &payload, &createdRaw); err != nil {
			return nil, err
		}
		event.Payload = []byte(payload)
		if event.CreatedAt, err = parseTime(createdRaw); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) DeleteOutboxEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM outbox_events WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ store.QueueStore = (*Store)(nil)
