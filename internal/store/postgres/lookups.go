package postgres

import (
	"context"
	"errors"
	"time"

	"qms/walkin-queue/internal/models"
	"qms/walkin-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) ResolveCategories(ctx context.Context, ids []string) ([]models.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM categories WHERE id = ANY($1::text[])`, nonNil(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []models.Category
	for rows.Next() {
		var category models.Category
		if err := rows.Scan(&category.ID, &category.Name); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, rows.Err()
}

func (s *Store) ResolveSubCategories(ctx context.Context, ids []string) ([]models.SubCategory, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, category_id, name FROM subcategories WHERE id = ANY($1::text[])`, nonNil(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []models.SubCategory
	for rows.Next() {
		var sub models.SubCategory
		if err := rows.Scan(&sub.ID, &sub.CategoryID, &sub.Name); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *Store) ListCategories(ctx context.Context) ([]models.CategoryTree, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, s.id, s.name
		FROM categories c
		LEFT JOIN subcategories s ON s.category_id = c.id
		ORDER BY c.name, c.id, s.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trees []models.CategoryTree
	for rows.Next() {
		var category models.Category
		var subID, subName *string
		if err := rows.Scan(&category.ID, &category.Name, &subID, &subName); err != nil {
			return nil, err
		}
		if len(trees) == 0 || trees[len(trees)-1].ID != category.ID {
			trees = append(trees, models.CategoryTree{Category: category, SubCategories: []models.SubCategory{}})
		}
		if subID != nil {
			last := &trees[len(trees)-1]
			last.SubCategories = append(last.SubCategories, models.SubCategory{ID: *subID, CategoryID: category.ID, Name: *subName})
		}
	}
	return trees, rows.Err()
}

func (s *Store) ActiveWindowForStaff(ctx context.Context, staffID string) (models.Window, error) {
	var window models.Window
	err := s.pool.QueryRow(ctx, `
		SELECT w.id, w.number, w.name
		FROM window_assignments a
		JOIN windows w ON w.id = a.window_id
		WHERE a.staff_id = $1 AND a.active
	`, staffID).Scan(&window.ID, &window.Number, &window.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Window{}, store.ErrNoActiveWindow
		}
		return models.Window{}, err
	}
	return window, nil
}

func (s *Store) StaffCategories(ctx context.Context, staffID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT category_id FROM staff_categories WHERE staff_id = $1 ORDER BY category_id
	`, staffID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetWindow(ctx context.Context, windowID string) (models.Window, error) {
	return getWindow(ctx, s.pool, windowID)
}

func getWindow(ctx context.Context, q querier, windowID string) (models.Window, error) {
	var window models.Window
	err := q.QueryRow(ctx, `SELECT id, number, name FROM windows WHERE id = $1`, windowID).
		Scan(&window.ID, &window.Number, &window.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Window{}, store.ErrWindowNotFound
		}
		return models.Window{}, err
	}
	return window, nil
}

// AssignWindow makes windowID the staff member's only active window. Any
// previous holder of the window, and any previous window of the staff member,
// is released in the same transaction.
func (s *Store) AssignWindow(ctx context.Context, staffID, windowID string, at time.Time) (models.Window, error) {
	var window models.Window
	retryable := func(err error) bool { return isRetryable(err) || isAssignmentRace(err) }
	err := s.withTxRetrying(ctx, pgx.TxOptions{}, retryable, func(tx pgx.Tx) error {
		var err error
		window, err = getWindow(ctx, tx, windowID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE window_assignments
			SET active = FALSE, released_at = $1
			WHERE active AND (staff_id = $2 OR window_id = $3)
		`, at, staffID, windowID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO window_assignments (id, staff_id, window_id, active, assigned_at)
			VALUES ($1, $2, $3, TRUE, $4)
		`, uuid.NewString(), staffID, windowID, at); err != nil {
			return err
		}
		event, err := store.NewWindowAssignedEvent(staffID, window, at)
		if err != nil {
			return err
		}
		return insertOutboxEvent(ctx, tx, event)
	})
	if err != nil {
		return models.Window{}, err
	}
	return window, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, staff_id, role, expires_at FROM sessions WHERE session_id = $1
	`, sessionID).Scan(&session.SessionID, &session.StaffID, &session.Role, &session.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) UpsertCategory(ctx context.Context, category models.Category) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO categories (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name
	`, category.ID, category.Name)
	return err
}

func (s *Store) UpsertSubCategory(ctx context.Context, sub models.SubCategory) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subcategories (id, category_id, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET category_id = EXCLUDED.category_id, name = EXCLUDED.name
	`, sub.ID, sub.CategoryID, sub.Name)
	return err
}

func (s *Store) UpsertWindow(ctx context.Context, window models.Window) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO windows (id, number, name) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET number = EXCLUDED.number, name = EXCLUDED.name
	`, window.ID, window.Number, window.Name)
	return err
}

func (s *Store) SetStaffCategories(ctx context.Context, staffID string, categoryIDs []string) error {
	return s.withTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM staff_categories WHERE staff_id = $1`, staffID); err != nil {
			return err
		}
		for _, categoryID := range categoryIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO staff_categories (staff_id, category_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, staffID, categoryID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CreateSession(ctx context.Context, session store.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, staff_id, role, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET staff_id = EXCLUDED.staff_id, role = EXCLUDED.role, expires_at = EXCLUDED.expires_at
	`, session.SessionID, session.StaffID, session.Role, session.ExpiresAt)
	return err
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
