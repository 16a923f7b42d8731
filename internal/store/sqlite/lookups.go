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

func (s *Store) ResolveCategories(ctx context.Context, ids []string) ([]models.Category, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM categories WHERE id IN (`+makePlaceholders(len(ids))+`)`, stringArgs(ids)...)
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
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category_id, name FROM subcategories WHERE id IN (`+makePlaceholders(len(ids))+`)`, stringArgs(ids)...)
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
	rows, err := s.db.QueryContext(ctx, `
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
		var subID, subName sql.NullString
		if err := rows.Scan(&category.ID, &category.Name, &subID, &subName); err != nil {
			return nil, err
		}
		if len(trees) == 0 || trees[len(trees)-1].ID != category.ID {
			trees = append(trees, models.CategoryTree{Category: category, SubCategories: []models.SubCategory{}})
		}
		if subID.Valid {
			last := &trees[len(trees)-1]
			last.SubCategories = append(last.SubCategories, models.SubCategory{ID: subID.String, CategoryID: category.ID, Name: subName.String})
		}
	}
	return trees, rows.Err()
}

func (s *Store) ActiveWindowForStaff(ctx context.Context, staffID string) (models.Window, error) {
	var window models.Window
	err := s.db.QueryRowContext(ctx, `
		SELECT w.id, w.number, w.name
		FROM window_assignments a
		JOIN windows w ON w.id = a.window_id
		WHERE a.staff_id = ? AND a.active = 1
	`, staffID).Scan(&window.ID, &window.Number, &window.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Window{}, store.ErrNoActiveWindow
		}
		return models.Window{}, err
	}
	return window, nil
}

func (s *Store) StaffCategories(ctx context.Context, staffID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category_id FROM staff_categories WHERE staff_id = ? ORDER BY category_id
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
	return getWindow(ctx, s.db, windowID)
}

func getWindow(ctx context.Context, q querier, windowID string) (models.Window, error) {
	var window models.Window
	err := q.QueryRowContext(ctx, `SELECT id, number, name FROM windows WHERE id = ?`, windowID).
		Scan(&window.ID, &window.Number, &window.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Window{}, store.ErrWindowNotFound
		}
		return models.Window{}, err
	}
	return window, nil
}

// AssignWindow makes windowID the staff member's only active window, releasing
// the staff member's previous window and the window's previous holder.
func (s *Store) AssignWindow(ctx context.Context, staffID, windowID string, at time.Time) (models.Window, error) {
	var window models.Window
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		window, err = getWindow(ctx, tx, windowID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE window_assignments
			SET active = 0, released_at = ?
			WHERE active = 1 AND (staff_id = ? OR window_id = ?)
		`, formatTime(at), staffID, windowID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO window_assignments (id, staff_id, window_id, active, assigned_at)
			VALUES (?, ?, ?, 1, ?)
		`, uuid.NewString(), staffID, windowID, formatTime(at)); err != nil {
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
	var expiresRaw string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, staff_id, role, expires_at FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&session.SessionID, &session.StaffID, &session.Role, &expiresRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	if session.ExpiresAt, err = parseTime(expiresRaw); err != nil {
		return store.Session{}, fmt.Errorf("parse expires_at: %w", err)
	}
	return session, nil
}

func (s *Store) UpsertCategory(ctx context.Context, category models.Category) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET name = excluded.name
	`, category.ID, category.Name)
	return err
}

func (s *Store) UpsertSubCategory(ctx context.Context, sub models.SubCategory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subcategories (id, category_id, name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET category_id = excluded.category_id, name = excluded.name
	`, sub.ID, sub.CategoryID, sub.Name)
	return err
}

func (s *Store) UpsertWindow(ctx context.Context, window models.Window) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO windows (id, number, name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET number = excluded.number, name = excluded.name
	`, window.ID, window.Number, window.Name)
	return err
}

func (s *Store) SetStaffCategories(ctx context.Context, staffID string, categoryIDs []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM staff_categories WHERE staff_id = ?`, staffID); err != nil {
			return err
		}
		for _, categoryID := range categoryIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO staff_categories (staff_id, category_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, staffID, categoryID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CreateSession(ctx context.Context, session store.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, staff_id, role, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE
		SET staff_id = excluded.staff_id, role = excluded.role, expires_at = excluded.expires_at
	`, session.SessionID, session.StaffID, session.Role, formatTime(session.ExpiresAt))
	return err
}
