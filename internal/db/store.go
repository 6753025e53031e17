package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dverney/taskmill/internal/model"
)

const dateLayout = "2006-01-02"

// DBTX is satisfied by both *sql.DB and *sql.Tx so queries run identically
// inside and outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	q    DBTX
	root *sql.DB // nil when this store is transaction-bound
}

func NewStore(db *sql.DB) *Store {
	return &Store{q: db, root: db}
}

// WithTx runs fn against a transaction-bound store, committing on success.
// Nested calls on an already transaction-bound store join the open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(*Store) error) error {
	if s.root == nil {
		return fn(s)
	}

	tx, err := s.root.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&Store{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const taskColumns = `id, category_id, text, due, base_date, recurrence, status,
	completed_date, is_archived, reminder_time, category_page_order,
	all_page_order, spawned_from_task_id, created_at`

func (s *Store) InsertTask(ctx context.Context, t model.Task) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO tasks (category_id, text, due, base_date, recurrence, status,
			completed_date, is_archived, reminder_time, category_page_order,
			all_page_order, spawned_from_task_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.CategoryID, t.Text, dateString(t.Due), dateString(t.BaseDate),
		string(t.Recurrence), string(t.Status), dateString(t.CompletedDate),
		boolInt(t.IsArchived), instantString(t.ReminderTime),
		t.CategoryPageOrder, t.AllPageOrder, t.SpawnedFromTaskID,
		t.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	return res.LastInsertId()
}

// UpdateTask rewrites every mutable column and reports the affected row count
// so callers can detect concurrent deletion.
func (s *Store) UpdateTask(ctx context.Context, t model.Task) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE tasks SET category_id = ?, text = ?, due = ?, base_date = ?,
			recurrence = ?, status = ?, completed_date = ?, is_archived = ?,
			reminder_time = ?, category_page_order = ?, all_page_order = ?,
			spawned_from_task_id = ?
		WHERE id = ?`,
		t.CategoryID, t.Text, dateString(t.Due), dateString(t.BaseDate),
		string(t.Recurrence), string(t.Status), dateString(t.CompletedDate),
		boolInt(t.IsArchived), instantString(t.ReminderTime),
		t.CategoryPageOrder, t.AllPageOrder, t.SpawnedFromTaskID, t.ID)
	if err != nil {
		return 0, fmt.Errorf("update task %d: %w", t.ID, err)
	}
	return res.RowsAffected()
}

// UpdateTasks persists a batch of rows; wrap in WithTx for atomicity.
func (s *Store) UpdateTasks(ctx context.Context, tasks []model.Task) error {
	for _, t := range tasks {
		rows, err := s.UpdateTask(ctx, t)
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("update task %d: %w", t.ID, sql.ErrNoRows)
		}
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	return nil
}

func (s *Store) TaskByID(ctx context.Context, id int64) (model.Task, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return model.Task{}, fmt.Errorf("task %d: %w", id, err)
	}
	return t, nil
}

// TasksInCategory returns the category ordering scope, sorted by the
// per-category order field.
func (s *Store) TasksInCategory(ctx context.Context, categoryID int64, includeArchived bool) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE category_id = ?`
	if !includeArchived {
		query += ` AND is_archived = 0`
	}
	query += ` ORDER BY category_page_order`
	return s.queryTasks(ctx, query, categoryID)
}

// AllTasks returns the global ordering scope, sorted by the cross-category
// order field.
func (s *Store) AllTasks(ctx context.Context, includeArchived bool) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if !includeArchived {
		query += ` WHERE is_archived = 0`
	}
	query += ` ORDER BY all_page_order`
	return s.queryTasks(ctx, query)
}

// TasksForFilter backs the observation surface: rows matching the filter's
// date horizon, category and archived flag, in board order.
func (s *Store) TasksForFilter(ctx context.Context, f model.Filter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE is_archived = ?`
	args := []any{boolInt(f.ShowArchived)}

	if f.CategoryID != nil {
		query += ` AND category_id = ?`
		args = append(args, *f.CategoryID)
	}
	if f.Date != nil {
		query += ` AND (due IS NULL OR due <= ?)`
		args = append(args, f.Date.Format(dateLayout))
	}

	// A category view sorts by its own ordering sequence; the combined view
	// by the global one.
	if f.CategoryID != nil {
		query += ` ORDER BY category_page_order`
	} else {
		query += ` ORDER BY all_page_order`
	}
	return s.queryTasks(ctx, query, args...)
}

func (s *Store) MaxCategoryOrder(ctx context.Context, categoryID int64) (int, error) {
	var max int
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(category_page_order), -1) FROM tasks WHERE category_id = ?`,
		categoryID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max category order: %w", err)
	}
	return max, nil
}

func (s *Store) MaxAllOrder(ctx context.Context) (int, error) {
	var max int
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(all_page_order), -1) FROM tasks`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max all order: %w", err)
	}
	return max, nil
}

// SpawnedTaskID finds the live occurrence spawned from the given parent.
func (s *Store) SpawnedTaskID(ctx context.Context, parentID int64) (int64, bool, error) {
	var id int64
	err := s.q.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE spawned_from_task_id = ? AND is_archived = 0 LIMIT 1`,
		parentID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("spawned task of %d: %w", parentID, err)
	}
	return id, true, nil
}

// NextOccurrenceID is the content-match fallback for rows that predate the
// spawned_from_task_id column.
func (s *Store) NextOccurrenceID(ctx context.Context, categoryID int64, text string, rec model.Recurrence, due time.Time) (int64, bool, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `
		SELECT id FROM tasks
		WHERE category_id = ? AND text = ? AND recurrence = ? AND due = ? AND is_archived = 0
		LIMIT 1`,
		categoryID, text, string(rec), due.Format(dateLayout)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("next occurrence lookup: %w", err)
	}
	return id, true, nil
}

func (s *Store) ArchiveCompletedBefore(ctx context.Context, today time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE tasks SET is_archived = 1
		WHERE status = ? AND completed_date IS NOT NULL AND completed_date < ? AND is_archived = 0`,
		string(model.StatusDone), today.Format(dateLayout))
	if err != nil {
		return fmt.Errorf("archive completed before %s: %w", today.Format(dateLayout), err)
	}
	return nil
}

func (s *Store) ArchiveCompletedInCategory(ctx context.Context, categoryID int64) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE tasks SET is_archived = 1
		WHERE category_id = ? AND status = ? AND is_archived = 0`,
		categoryID, string(model.StatusDone))
	if err != nil {
		return fmt.Errorf("archive completed in category %d: %w", categoryID, err)
	}
	return nil
}

// PurgeArchived hard-deletes archived rows and returns the ids removed so the
// caller can cancel their alarms.
func (s *Store) PurgeArchived(ctx context.Context) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM tasks WHERE is_archived = 1`)
	if err != nil {
		return nil, fmt.Errorf("list archived: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE is_archived = 1`); err != nil {
		return nil, fmt.Errorf("purge archived: %w", err)
	}
	return ids, nil
}

func (s *Store) CategoryIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT DISTINCT category_id FROM tasks ORDER BY category_id`)
	if err != nil {
		return nil, fmt.Errorf("category ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) InsertCategory(ctx context.Context, c model.Category) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO categories (title, color, created_at) VALUES (?, ?, ?)`,
		c.Title, c.Color, c.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("insert category: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) CategoryByID(ctx context.Context, id int64) (model.Category, error) {
	var c model.Category
	var created string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, title, color, created_at FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Title, &c.Color, &created)
	if err != nil {
		return model.Category{}, fmt.Errorf("category %d: %w", id, err)
	}
	c.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return c, nil
}

func (s *Store) Categories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, title, color, created_at FROM categories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []model.Category
	for rows.Next() {
		var c model.Category
		var created string
		if err := rows.Scan(&c.ID, &c.Title, &c.Color, &created); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, created)
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// Snapshot dumps every task row, archived included, for backups.
func (s *Store) Snapshot(ctx context.Context) ([]model.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
}

// ReplaceAll swaps the entire database content, used by restore. Runs in one
// transaction so a failed restore leaves the previous data intact.
func (s *Store) ReplaceAll(ctx context.Context, cats []model.Category, tasks []model.Task) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
			return fmt.Errorf("clear tasks: %w", err)
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM categories`); err != nil {
			return fmt.Errorf("clear categories: %w", err)
		}
		for _, c := range cats {
			if _, err := tx.q.ExecContext(ctx,
				`INSERT INTO categories (id, title, color, created_at) VALUES (?, ?, ?, ?)`,
				c.ID, c.Title, c.Color, c.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("restore category %d: %w", c.ID, err)
			}
		}
		for _, t := range tasks {
			if _, err := tx.q.ExecContext(ctx, `
				INSERT INTO tasks (`+taskColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.CategoryID, t.Text, dateString(t.Due), dateString(t.BaseDate),
				string(t.Recurrence), string(t.Status), dateString(t.CompletedDate),
				boolInt(t.IsArchived), instantString(t.ReminderTime),
				t.CategoryPageOrder, t.AllPageOrder, t.SpawnedFromTaskID,
				t.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
				return fmt.Errorf("restore task %d: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var t model.Task
	var due, baseDate, completed, reminder sql.NullString
	var archived int
	var recurrence, status, created string
	var spawnedFrom sql.NullInt64

	err := row.Scan(&t.ID, &t.CategoryID, &t.Text, &due, &baseDate, &recurrence,
		&status, &completed, &archived, &reminder, &t.CategoryPageOrder,
		&t.AllPageOrder, &spawnedFrom, &created)
	if err != nil {
		return model.Task{}, err
	}

	t.Recurrence = model.Recurrence(recurrence)
	t.Status = model.TaskStatus(status)
	t.IsArchived = archived == 1
	t.Due = parseDate(due)
	t.BaseDate = parseDate(baseDate)
	t.CompletedDate = parseDate(completed)
	t.ReminderTime = parseInstant(reminder)
	if spawnedFrom.Valid {
		id := spawnedFrom.Int64
		t.SpawnedFromTaskID = &id
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, created)

	return t, nil
}

func dateString(d *time.Time) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Format(dateLayout), Valid: true}
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	d, err := time.ParseInLocation(dateLayout, s.String, time.UTC)
	if err != nil {
		return nil
	}
	return &d
}

func instantString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseInstant(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
