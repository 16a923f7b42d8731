package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const entryColumns = `id, queue_number, client_name, client_type, category_id, sub_category_id, status,
	window_id, skipped_by_staff_id, joined_at, created_at, served_at, updated_at`

type Store struct {
	pool         *pgxpool.Pool
	retry        store.RetryPolicy
	serializable bool
}

type Options struct {
	// SerializableCounter runs queue-number issuance at SERIALIZABLE isolation.
	// The single-statement upsert is already atomic at READ COMMITTED.
	SerializableCounter bool
	Retry               store.RetryPolicy
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	retry := options.Retry
	if retry.Attempts <= 0 {
		retry = store.DefaultRetryPolicy()
	}
	return &Store{
		pool:         pool,
		retry:        retry,
		serializable: options.SerializableCounter,
	}
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withTx runs fn inside a transaction and re-runs the whole unit of work on
// serialization failures and deadlocks.
func (s *Store) withTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	return s.withTxRetrying(ctx, opts, isRetryable, fn)
}

func (s *Store) withTxRetrying(ctx context.Context, opts pgx.TxOptions, retryable func(error) bool, fn func(tx pgx.Tx) error) error {
	return store.Retry(ctx, s.retry, retryable, func() (err error) {
		tx, err := s.pool.BeginTx(ctx, opts)
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback(ctx)
			}
		}()
		if err = fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (s *Store) counterTxOptions() pgx.TxOptions {
	if s.serializable {
		return pgx.TxOptions{IsoLevel: pgx.Serializable}
	}
	return pgx.TxOptions{}
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}

// isAssignmentRace reports a lost race on the one-active-row indexes of
// window_assignments. A rerun releases the winner's row and takes over.
func isAssignmentRace(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	switch pgErr.ConstraintName {
	case "window_assignments_active_window_idx", "window_assignments_active_staff_idx":
		return true
	}
	return false
}

func (s *Store) NextQueueNumber(ctx context.Context, day store.QueueDay) (string, error) {
	var number string
	err := s.withTx(ctx, s.counterTxOptions(), func(tx pgx.Tx) error {
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
		joinedAt = time.Now().UTC()
	}

	var entry models.QueueEntry
	err := s.withTx(ctx, s.counterTxOptions(), func(tx pgx.Tx) error {
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

		if _, err := tx.Exec(ctx, `
			INSERT INTO queue_entries (
				id, queue_number, client_name, client_type, category_id, sub_category_id,
				status, joined_at, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, entry.ID, entry.QueueNumber, entry.ClientName, string(entry.ClientType), entry.CategoryID,
			entry.SubCategoryID, entry.Status, entry.JoinedAt, entry.CreatedAt, entry.UpdatedAt); err != nil {
			return err
		}
		for i, categoryID := range input.CategoryIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO entry_categories (entry_id, category_id, position) VALUES ($1, $2, $3)
			`, entry.ID, categoryID, i); err != nil {
				return err
			}
		}
		for i, subID := range input.SubCategoryIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO entry_subcategories (entry_id, sub_category_id, position) VALUES ($1, $2, $3)
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
	return s.getEntryWhere(ctx, "id = $1", entryID)
}

func (s *Store) GetEntryByNumber(ctx context.Context, queueNumber string) (models.QueueEntry, error) {
	return s.getEntryWhere(ctx, "queue_number = $1", queueNumber)
}

func (s *Store) getEntryWhere(ctx context.Context, predicate string, arg string) (models.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+entryColumns+" FROM queue_entries WHERE "+predicate, arg)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	if err := attachDetails(ctx, s.pool, []*models.QueueEntry{&entry}); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListCandidates(ctx context.Context, filter store.CandidateFilter) ([]models.QueueEntry, error) {
	categories := filter.CategoryIDs
	if categories == nil {
		categories = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries e
		WHERE e.created_at >= $1
		  AND (
			(e.window_id = $2 AND e.status IN ('WAITING', 'NOW_SERVING'))
			OR (
				e.status = 'WAITING' AND e.window_id IS NULL
				AND (
					cardinality($3::text[]) = 0
					OR EXISTS (
						SELECT 1 FROM entry_categories ec
						WHERE ec.entry_id = e.id AND ec.category_id = ANY($3::text[])
					)
				)
			)
		  )
		ORDER BY e.joined_at ASC, e.queue_number ASC
	`, filter.Since, filter.WindowID, categories)
	if err != nil {
		return nil, err
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	if err := attachDetailsSlice(ctx, s.pool, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ClaimEntry moves a WAITING, unbound entry to NOW_SERVING at the given window.
// The conditional update is the only guard: losing the race yields zero rows.
func (s *Store) ClaimEntry(ctx context.Context, input store.ClaimInput) (models.QueueEntry, error) {
	claimedAt := input.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now().UTC()
	}

	var entry models.QueueEntry
	err := s.withTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $1, window_id = $2, updated_at = $3
			WHERE id = $4 AND status = ANY($5::text[]) AND window_id IS NULL
			RETURNING `+entryColumns,
			models.StatusNowServing, input.WindowID, claimedAt, input.EntryID, store.AllowedFrom(store.ActionClaim))
		claimed, err := scanEntry(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
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
		completedAt = time.Now().UTC()
	}

	var servingLog models.ServingLog
	err := s.withTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, "SELECT "+entryColumns+" FROM queue_entries WHERE id = $1 FOR UPDATE", input.EntryID)
		entry, err := scanEntry(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return store.ErrEntryNotFound
			}
			return err
		}
		if !store.ValidTransition(store.ActionComplete, entry.Status) {
			return store.ErrInvalidState
		}

		if _, err := tx.Exec(ctx, `
			UPDATE queue_entries SET status = $1, served_at = $2, updated_at = $2 WHERE id = $3
		`, models.StatusServed, completedAt, entry.ID); err != nil {
			return err
		}

		servingLog = newServingLog(entry, input.StaffID, completedAt)
		if _, err := tx.Exec(ctx, `
			INSERT INTO serving_logs (
				id, queue_entry_id, staff_id, window_id, category_id, sub_category_id,
				client_type, duration_seconds, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, servingLog.ID, servingLog.QueueEntryID, servingLog.StaffID, servingLog.WindowID, servingLog.CategoryID,
			servingLog.SubCategoryID, string(servingLog.ClientType), servingLog.DurationSeconds, servingLog.CreatedAt); err != nil {
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
		skippedAt = time.Now().UTC()
	}

	var entry models.QueueEntry
	err := s.withTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE queue_entries
			SET status = $1, skipped_by_staff_id = $2, updated_at = $3
			WHERE id = $4 AND status = ANY($5::text[])
			RETURNING `+entryColumns,
			models.StatusSkipped, input.StaffID, skippedAt, input.EntryID, store.AllowedFrom(store.ActionSkip))
		skipped, err := scanEntry(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				status, exists, loadErr := loadEntryStatus(ctx, tx, input.EntryID)
				if loadErr != nil {
					return loadErr
				}
				return classifySkipMiss(status, exists)
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

// ReconcileStaleServing closes NOW_SERVING entries created before the given
// instant. Running it twice is a no-op the second time.
func (s *Store) ReconcileStaleServing(ctx context.Context, before, at time.Time) (int64, error) {
	var affected int64
	err := s.withTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE queue_entries
			SET status = $1, served_at = $2, updated_at = $2
			WHERE status = ANY($3::text[]) AND created_at < $4
		`, models.StatusServed, at, store.AllowedFrom(store.ActionReconcile), before)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
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
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_entries
		WHERE status IN ('WAITING', 'NOW_SERVING') AND joined_at < $1 AND created_at >= $2
	`, joinedAt, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) Summary(ctx context.Context, since time.Time) (models.QueueSummary, error) {
	summary := models.QueueSummary{NowServing: []models.WindowServing{}}
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM queue_entries WHERE created_at >= $1 GROUP BY status
	`, since)
	if err != nil {
		return models.QueueSummary{}, err
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return models.QueueSummary{}, err
		}
		applyStatusCount(&summary, status, count)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.QueueSummary{}, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT w.id, w.number, e.queue_number
		FROM queue_entries e
		JOIN windows w ON w.id = e.window_id
		WHERE e.status = 'NOW_SERVING' AND e.created_at >= $1
		ORDER BY w.number ASC
	`, since)
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

func nextCounter(ctx context.Context, tx pgx.Tx, dateKey string) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO daily_counters (date_key, counter)
		VALUES ($1, 1)
		ON CONFLICT (date_key)
		DO UPDATE SET counter = daily_counters.counter + 1
		RETURNING counter
	`, dateKey)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func loadEntryStatus(ctx context.Context, tx pgx.Tx, entryID string) (string, bool, error) {
	var status string
	err := tx.QueryRow(ctx, "SELECT status FROM queue_entries WHERE id = $1", entryID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func classifySkipMiss(status string, exists bool) error {
	switch {
	case !exists:
		return store.ErrEntryNotFound
	case status == models.StatusSkipped:
		return store.ErrAlreadySkipped
	default:
		return store.ErrInvalidState
	}
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

func applyStatusCount(summary *models.QueueSummary, status string, count int) {
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

func scanEntry(row pgx.Row) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var clientType string
	var subCategoryIDNull sql.NullString
	var windowIDNull sql.NullString
	var skippedByNull sql.NullString
	var servedAtNull sql.NullTime
	if err := row.Scan(&entry.ID, &entry.QueueNumber, &entry.ClientName, &clientType, &entry.CategoryID,
		&subCategoryIDNull, &entry.Status, &windowIDNull, &skippedByNull, &entry.JoinedAt, &entry.CreatedAt,
		&servedAtNull, &entry.UpdatedAt); err != nil {
		return models.QueueEntry{}, err
	}
	entry.ClientType = models.ClientType(clientType)
	entry.SubCategoryID = nullStringPtr(subCategoryIDNull)
	entry.WindowID = nullStringPtr(windowIDNull)
	entry.SkippedByStaffID = nullStringPtr(skippedByNull)
	entry.ServedAt = nullTimePtr(servedAtNull)
	return entry, nil
}

func collectEntries(rows pgx.Rows) ([]models.QueueEntry, error) {
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

func attachDetailsSlice(ctx context.Context, q querier, entries []models.QueueEntry) error {
	ptrs := make([]*models.QueueEntry, len(entries))
	for i := range entries {
		ptrs[i] = &entries[i]
	}
	return attachDetails(ctx, q, ptrs)
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

	rows, err := q.Query(ctx, `
		SELECT ec.entry_id, c.id, c.name
		FROM entry_categories ec
		JOIN categories c ON c.id = ec.category_id
		WHERE ec.entry_id = ANY($1::text[])
		ORDER BY ec.entry_id, ec.position
	`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var entryID string
		var category models.Category
		if err := rows.Scan(&entryID, &category.ID, &category.Name); err != nil {
			rows.Close()
			return err
		}
		if entry, ok := byID[entryID]; ok {
			entry.Categories = append(entry.Categories, category)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `
		SELECT es.entry_id, s.id, s.category_id, s.name
		FROM entry_subcategories es
		JOIN subcategories s ON s.id = es.sub_category_id
		WHERE es.entry_id = ANY($1::text[])
		ORDER BY es.entry_id, es.position
	`, ids)
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

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
