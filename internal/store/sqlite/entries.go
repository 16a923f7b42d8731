package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"
)

const entryColumns = `id, queue_number, client_name, client_type, category_id, sub_category_id, status,
	window_id, skipped_by_staff_id, joined_at, created_at, served_at, updated_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) NextQueueNumber(ctx context.Context, day store.QueueDay) (string, error) {
	var number string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		counter, err := nextCounter(ctx, tx, day.Key)
		if err != nil {
			return err
		}
		number = store.FormatQueueNumber(day.Prefix, counter)
		return nil
	})
	if err != nil {
		return "", err
	}
	return number, nil
}

func (s *Store) CreateEntry(ctx context.Context, input store.CreateEntryInput) (models.QueueEntry, error) {
	if len(input.CategoryIDs) == 0 {
		return models.QueueEntry{}, fmt.Errorf("%w: at least one category is required", store.ErrValidation)
	}
	joinedAt := input.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now()
	}
	joinedAt = joinedAt.UTC()

	var entry models.QueueEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		counter, err := nextCounter(ctx, tx, input.Day.Key)
		if err != nil {
			return err
		}
		entry = models.QueueEntry{
			ID:          uuid.NewString(),
			QueueNumber: store.FormatQueueNumber(input.Day.Prefix, counter),
			ClientName:  input.ClientName,
			ClientType:  input.ClientType,
			CategoryID:  input.CategoryIDs[0],
			Status:      models.StatusWaiting,
			JoinedAt:    joinedAt,
			CreatedAt:   joinedAt,
			UpdatedAt:   joinedAt,
		}
		if len(input.SubCategoryIDs) > 0 {
			sub := input.SubCategoryIDs[0]
			entry.SubCategoryID = &sub
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO queue_entries (
				id, queue_number, client_name, client_type, category_id, sub_category_id,
				status, joined_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, entry.QueueNumber, entry.ClientName, string(entry.ClientType), entry.CategoryID,
			nullableString(entry.SubCategoryID), entry.Status, formatTime(entry.JoinedAt),
			formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt)); err != nil {
			return err
		}
		for i, categoryID := range input.CategoryIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entry_categories (entry_id, category_id, position) VALUES (?, ?, ?)
			`, entry.ID, categoryID, i); err != nil {
				return err
			}
		}
		for i, subID := range input.SubCategoryIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO entry_subcategories (entry_id, sub_category_id, position) VALUES (?, ?, ?)
			`, entry.ID, subID, i); err != nil {
				return err
			}
		}
		if err := attachDetails(ctx, tx, []*models.QueueEntry{&entry}); err != nil {
			return err
		}
		return insertEntryEvent(ctx, tx, store.EventEntryCreated, entry, "", joinedAt)
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (models.QueueEntry, error) {
	return s.getEntryWhere(ctx, "id = ?", entryID)
}

func (s *Store) GetEntryByNumber(ctx context.Context, queueNumber string) (models.QueueEntry, error) {
	return s.getEntryWhere(ctx, "queue_number = ?", queueNumber)
}

func (s *Store) getEntryWhere(ctx context.Context, predicate, arg string) (models.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM queue_entries WHERE "+predicate, arg)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	if err := attachDetails(ctx, s.db, []*models.QueueEntry{&entry}); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListCandidates(ctx context.Context, filter store.CandidateFilter) ([]models.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM queue_entries e
		WHERE e.created_at >= ?
		  AND (
			(e.window_id = ? AND e.status IN ('WAITING', 'NOW_SERVING'))
			OR (e.status = 'WAITING' AND e.window_id IS NULL`
	args := []any{formatTime(filter.Since), filter.WindowID}
	if len(filter.CategoryIDs) > 0 {
		query += ` AND EXISTS (
				SELECT 1 FROM entry_categories ec
				WHERE ec.entry_id = e.id AND ec.category_id IN (` + makePlaceholders(len(filter.CategoryIDs)) + `)
			)`
		args = append(args, stringArgs(filter.CategoryIDs)...)
	}
	query += `)
		  )
		ORDER BY e.joined_at ASC, e.queue_number ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	ptrs := make([]*models.QueueEntry, len(entries))
	for i := range entries {
		ptrs[i] = &entries[i]
	}
	if err := attachDetails(ctx, s.db, ptrs); err != nil {
		return nil, err
	}
	return entries, nil
}

// ClaimEntry moves a WAITING, unbound entry to NOW_SERVING at the given window.
// The conditional update is the only guard: losing the race yields zero rows.
func (s *Store) ClaimEntry(ctx context.Context, input store.ClaimInput) (models.QueueEntry, error) {
	claimedAt := input.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now()
	}
	allowed := store.AllowedFrom(store.ActionClaim)

	var entry models.QueueEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		args := []any{models.StatusNowServing, input.WindowID, formatTime(claimedAt), input.EntryID}
		args = append(args, stringArgs(allowed)...)
		row := tx.QueryRowContext(ctx, `
			UPDATE queue_entries
			SET status = ?, window_id = ?, updated_at = ?
			WHERE id = ? AND status IN (`+makePlaceholders(len(allowed))+`) AND window_id IS NULL
			RETURNING `+entryColumns, args...)
		claimed, err := scanEntry(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				_, exists, loadErr := loadEntryStatus(ctx, tx, input.EntryID)
				if loadErr != nil {
					return loadErr
				}
				if !exists {
					return store.ErrEntryNotFound
				}
				return store.ErrClaimConflict
			}
			return err
		}
		entry = claimed
		if err := attachDetails(ctx, tx, []*models.QueueEntry{&entry}); err != nil {
			return err
		}
		return insertEntryEvent(ctx, tx, store.EventEntryClaimed, entry, input.StaffID, claimedAt)
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) CompleteEntry(ctx context.Context, input store.CompleteInput) (models.ServingLog, error) {
	completedAt := input.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	completedAt = completedAt.UTC()

	var servingLog models.ServingLog
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT "+entryColumns+" FROM queue_entries WHERE id = ?", input.EntryID)
		entry, err := scanEntry(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrEntryNotFound
			}
			return err
		}
		if !store.ValidTransition(store.ActionComplete, entry.Status) {
			return store.ErrInvalidState
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE queue_entries SET status = ?, served_at = ?, updated_at = ? WHERE id = ?
		`, models.StatusServed, formatTime(completedAt), formatTime(completedAt), entry.ID); err != nil {
			return err
		}

		servingLog = newServingLog(entry, input.StaffID, completedAt)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO serving_logs (
				id, queue_entry_id, staff_id, window_id, category_id, sub_category_id,
				client_type, duration_seconds, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, servingLog.ID, servingLog.QueueEntryID, servingLog.StaffID, nullableString(servingLog.WindowID),
			servingLog.CategoryID, nullableString(servingLog.SubCategoryID), string(servingLog.ClientType),
			servingLog.DurationSeconds, formatTime(servingLog.CreatedAt)); err != nil {
			return err
		}

		entry.Status = models.StatusServed
		entry.ServedAt = &completedAt
		entry.UpdatedAt = completedAt
		return insertEntryEvent(ctx, tx, store.EventEntryServed, entry, input.StaffID, completedAt)
	})
	if err != nil {
		return models.ServingLog{}, err
	}
	return servingLog, nil
}

func (s *Store) SkipEntry(ctx context.Context, input store.SkipInput) (models.QueueEntry, error) {
	skippedAt := input.SkippedAt
	if skippedAt.IsZero() {
		skippedAt = time.Now()
	}
	allowed := store.AllowedFrom(store.ActionSkip)

	var entry models.QueueEntry
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		args := []any{models.StatusSkipped, input.StaffID, formatTime(skippedAt), input.EntryID}
		args = append(args, stringArgs(allowed)...)
		row := tx.QueryRowContext(ctx, `
			UPDATE queue_entries
			SET status = ?, skipped_by_staff_id = ?, updated_at = ?
			WHERE id = ? AND status IN (`+makePlaceholders(len(allowed))+`)
			RETURNING `+entryColumns, args...)
		skipped, err := scanEntry(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				status, exists, loadErr := loadEntryStatus(ctx, tx, input.EntryID)
				if loadErr != nil {
					return loadErr
				}
				switch {
				case !exists:
					return store.ErrEntryNotFound
				case status == models.StatusSkipped:
					return store.ErrAlreadySkipped
				default:
					return store.ErrInvalidState
				}
			}
			return err
		}
		entry = skipped
		if err := attachDetails(ctx, tx, []*models.QueueEntry{&entry}); err != nil {
			return err
		}
		return insertEntryEvent(ctx, tx, store.EventEntrySkipped, entry, input.StaffID, skippedAt)
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) ReconcileStaleServing(ctx context.Context, before, at time.Time) (int64, error) {
	allowed := store.AllowedFrom(store.ActionReconcile)
	var affected int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		args := []any{models.StatusServed, formatTime(at), formatTime(at)}
		args = append(args, stringArgs(allowed)...)
		args = append(args, formatTime(before))
		res, err := tx.ExecContext(ctx, `
			UPDATE queue_entries
			SET status = ?, served_at = ?, updated_at = ?
			WHERE status IN (`+makePlaceholders(len(allowed))+`) AND created_at < ?
		`, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		event, err := store.NewReconciledEvent(affected, before, at)
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, event)
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Store) CountAhead(ctx context.Context, joinedAt, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE status IN ('WAITING', 'NOW_SERVING') AND joined_at < ? AND created_at >= ?
	`, formatTime(joinedAt), formatTime(since)).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) Summary(ctx context.Context, since time.Time) (models.QueueSummary, error) {
	summary := models.QueueSummary{NowServing: []models.WindowServing{}}
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM queue_entries WHERE created_at >= ? GROUP BY status
	`, formatTime(since))
	if err != nil {
		return models.QueueSummary{}, err
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			_ = rows.Close()
			return models.QueueSummary{}, err
		}
		switch status {
		case models.StatusWaiting:
			summary.Waiting = count
		case models.StatusNowServing:
			summary.Serving = count
		case models.StatusServed:
			summary.Served = count
		case models.StatusSkipped:
			summary.Skipped = count
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return models.QueueSummary{}, err
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT w.id, w.number, e.queue_number
		FROM queue_entries e
		JOIN windows w ON w.id = e.window_id
		WHERE e.status = 'NOW_SERVING' AND e.created_at >= ?
		ORDER BY w.number ASC
	`, formatTime(since))
	if err != nil {
		return models.QueueSummary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var serving models.WindowServing
		if err := rows.Scan(&serving.WindowID, &serving.WindowNumber, &serving.QueueNumber); err != nil {
			return models.QueueSummary{}, err
		}
		summary.NowServing = append(summary.NowServing, serving)
	}
	if err := rows.Err(); err != nil {
		return models.QueueSummary{}, err
	}
	return summary, nil
}

func nextCounter(ctx context.Context, tx *sql.Tx, dateKey string) (int64, error) {
	var next int64
	row := tx.QueryRowContext(ctx, `
		INSERT INTO daily_counters (date_key, counter)
		VALUES (?, 1)
		ON CONFLICT (date_key)
		DO UPDATE SET counter = daily_counters.counter + 1
		RETURNING counter
	`, dateKey)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func loadEntryStatus(ctx context.Context, tx *sql.Tx, entryID string) (string, bool, error) {
	var status string
	err := tx.QueryRowContext(ctx, "SELECT status FROM queue_entries WHERE id = ?", entryID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func newServingLog(entry models.QueueEntry, staffID string, completedAt time.Time) models.ServingLog {
	duration := completedAt.Sub(entry.UpdatedAt)
	if duration < 0 {
		duration = 0
	}
	return models.ServingLog{
		ID:              uuid.NewString(),
		QueueEntryID:    entry.ID,
		StaffID:         staffID,
		WindowID:        entry.WindowID,
		CategoryID:      entry.CategoryID,
		SubCategoryID:   entry.SubCategoryID,
		ClientType:      entry.ClientType,
		DurationSeconds: int64(duration / time.Second),
		CreatedAt:       completedAt,
	}
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (models.QueueEntry, error) {
	var (
		entry         models.QueueEntry
		clientType    string
		subCategoryID sql.NullString
		windowID      sql.NullString
		skippedBy     sql.NullString
		joinedRaw     string
		createdRaw    string
		servedRaw     sql.NullString
		updatedRaw    string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.QueueNumber,
		&entry.ClientName,
		&clientType,
		&entry.CategoryID,
		&subCategoryID,
		&entry.Status,
		&windowID,
		&skippedBy,
		&joinedRaw,
		&createdRaw,
		&servedRaw,
		&updatedRaw,
	); err != nil {
		return models.QueueEntry{}, err
	}
	entry.ClientType = models.ClientType(clientType)
	entry.SubCategoryID = nullStringPtr(subCategoryID)
	entry.WindowID = nullStringPtr(windowID)
	entry.SkippedByStaffID = nullStringPtr(skippedBy)

	var err error
	if entry.JoinedAt, err = parseTime(joinedRaw); err != nil {
		return models.QueueEntry{}, fmt.Errorf("parse joined_at: %w", err)
	}
	if entry.CreatedAt, err = parseTime(createdRaw); err != nil {
		return models.QueueEntry{}, fmt.Errorf("parse created_at: %w", err)
	}
	if entry.UpdatedAt, err = parseTime(updatedRaw); err != nil {
		return models.QueueEntry{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if servedRaw.Valid {
		servedAt, err := parseTime(servedRaw.String)
		if err != nil {
			return models.QueueEntry{}, fmt.Errorf("parse served_at: %w", err)
		}
		entry.ServedAt = &servedAt
	}
	return entry, nil
}

func collectEntries(rows *sql.Rows) ([]models.QueueEntry, error) {
	defer rows.Close()
	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// attachDetails loads the selected categories and subcategories, in the order
// the client picked them.
func attachDetails(ctx context.Context, q querier, entries []*models.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	byID := make(map[string]*models.QueueEntry, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		byID[entry.ID] = entry
		ids = append(ids, entry.ID)
	}
	placeholders := makePlaceholders(len(ids))

	rows, err := q.QueryContext(ctx, `
		SELECT ec.entry_id, c.id, c.name
		FROM entry_categories ec
		JOIN categories c ON c.id = ec.category_id
		WHERE ec.entry_id IN (`+placeholders+`)
		ORDER BY ec.entry_id, ec.position
	`, stringArgs(ids)...)
	if err != nil {
		return err
	}
	for rows.Next() {
		var entryID string
		var category models.Category
		if err := rows.Scan(&entryID, &category.ID, &category.Name); err != nil {
			_ = rows.Close()
			return err
		}
		if entry, ok := byID[entryID]; ok {
			entry.Categories = append(entry.Categories, category)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT es.entry_id, s.id, s.category_id, s.name
		FROM entry_subcategories es
		JOIN subcategories s ON s.id = es.sub_category_id
		WHERE es.entry_id IN (`+placeholders+`)
		ORDER BY es.entry_id, es.position
	`, stringArgs(ids)...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var entryID string
		var sub models.SubCategory
		if err := rows.Scan(&entryID, &sub.ID, &sub.CategoryID, &sub.Name); err != nil {
			return err
		}
		if entry, ok := byID[entryID]; ok {
			entry.SubCategories = append(entry.SubCategories, sub)
		}
	}
	return rows.Err()
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
