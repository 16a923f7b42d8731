package postgres

import (
	"context"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"github.com/jackc/pgx/v5"
)

func insertEntryEvent(ctx context.Context, tx pgx.Tx, eventType string, entry models.QueueEntry, staffID string, at time.Time) error {
	event, err := store.NewEntryEvent(eventType, entry, staffID, at)
	if err != nil {
		return err
	}
	return insertOutboxEvent(ctx, tx, event)
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, event store.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, event.EventID, event.Type, []byte(event.Payload), event.CreatedAt)
	return err
}

func (s *Store) LatestOutboxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM outbox_events`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.Seq, &event.EventID, &event.Type, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Payload = payload
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) DeleteOutboxEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM outbox_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ store.QueueStore = (*Store)(nil)
