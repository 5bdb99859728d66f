package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/clock"
)

// CreateTasks runs one intake as a single transaction: the duplicate check
// and every Task/Reminder insert either all happen or none do, so two racing
// submissions cannot both pass the check and double-create rows.
//
// A nil dedup skips the duplicate check (calendar ingestion dedups by event
// ID before calling).
func (s *Store) CreateTasks(ctx context.Context, specs []TaskSpec, dedup *Dedup) (CreateResult, error) {
	var res CreateResult
	if len(specs) == 0 {
		return res, errors.New("no task specs")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback() }()

	if dedup != nil {
		dup, err := duplicateExists(ctx, tx, *dedup)
		if err != nil {
			return res, err
		}
		if dup {
			res.Duplicate = true
			return res, nil
		}
	}

	now := s.clk.Now()
	for _, spec := range specs {
		t := spec.Task
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.HasExactTime != (t.ExactAt != nil) {
			return res, fmt.Errorf("task %q: has_exact_time and exact_at must be set together", t.DisplayText)
		}

		var exactAt any
		if t.ExactAt != nil {
			exactAt = encodeTime(*t.ExactAt)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks(id, raw_text, display_text, date, has_exact_time, exact_at, calendar_event_id, completed, created_at)
			 VALUES(?,?,?,?,?,?,?,0,?)`,
			t.ID, t.RawText, t.DisplayText, t.Date.String(), t.HasExactTime, exactAt,
			nullStr(t.CalendarEventID), t.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return res, fmt.Errorf("insert task: %w", err)
		}
		res.TaskIDs = append(res.TaskIDs, t.ID)

		for _, runAt := range spec.Reminders {
			r := Reminder{ID: uuid.NewString(), TaskID: t.ID, RunAt: runAt}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO reminders(id, task_id, run_at, sent) VALUES(?,?,?,0)`,
				r.ID, r.TaskID, encodeTime(r.RunAt),
			)
			if err != nil {
				return res, fmt.Errorf("insert reminder: %w", err)
			}
			res.Reminders = append(res.Reminders, r)
		}
	}

	if err := tx.Commit(); err != nil {
		return CreateResult{}, err
	}
	return res, nil
}

// DuplicateExists runs the intake duplicate check on its own. Intake uses it
// to gate side effects (the calendar mirror) that must not happen for a
// duplicate; CreateTasks repeats the check inside its transaction, so a race
// between the two still cannot double-create rows.
func (s *Store) DuplicateExists(ctx context.Context, d Dedup) (bool, error) {
	return duplicateExists(ctx, s.db, d)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func duplicateExists(ctx context.Context, q rowQuerier, d Dedup) (bool, error) {
	// Exact-time tasks compare the instant; date tasks compare date-set
	// membership. The two checks stay separate because the semantics differ.
	if d.ExactAt != nil {
		var one int
		err := q.QueryRowContext(ctx,
			`SELECT 1 FROM tasks
			 WHERE completed = 0 AND display_text = ? AND has_exact_time = 1 AND exact_at = ?
			 LIMIT 1`,
			d.DisplayText, encodeTime(*d.ExactAt),
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return err == nil, err
	}

	if len(d.Dates) == 0 {
		return false, nil
	}
	placeholders := strings.Repeat(",?", len(d.Dates))[1:]
	args := make([]any, 0, len(d.Dates)+1)
	args = append(args, d.DisplayText)
	for _, dt := range d.Dates {
		args = append(args, dt.String())
	}
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM tasks
		 WHERE completed = 0 AND display_text = ? AND date IN (`+placeholders+`)
		 LIMIT 1`,
		args...,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// CompleteTask flips the one-way completed flag and returns the IDs of the
// task's still-unsent reminders so the caller can cancel their timers.
// Correctness does not depend on the cancellation: the delivery executor
// re-checks completion at fire time.
func (s *Store) CompleteTask(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := tx.ExecContext(ctx, `UPDATE tasks SET completed = 1 WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM reminders WHERE task_id = ? AND sent = 0`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pending []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		pending = append(pending, rid)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pending, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, raw_text, display_text, date, has_exact_time, exact_at, calendar_event_id, completed, created_at
		 FROM tasks WHERE id = ?`, id)
	return s.scanTask(row)
}

// TaskByEventID reports whether a calendar event is already represented.
// It returns ErrNotFound when no task links to the event.
func (s *Store) TaskByEventID(ctx context.Context, eventID string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, raw_text, display_text, date, has_exact_time, exact_at, calendar_event_id, completed, created_at
		 FROM tasks WHERE calendar_event_id = ? LIMIT 1`, eventID)
	return s.scanTask(row)
}

func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, raw_text, display_text, date, has_exact_time, exact_at, calendar_event_id, completed, created_at
		 FROM tasks ORDER BY date ASC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTask(row rowScanner) (Task, error) {
	var (
		t         Task
		dateStr   string
		exactAt   sql.NullInt64
		eventID   sql.NullString
		createdAt string
	)
	err := row.Scan(&t.ID, &t.RawText, &t.DisplayText, &dateStr, &t.HasExactTime, &exactAt, &eventID, &t.Completed, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	if t.Date, err = clock.ParseDate(dateStr); err != nil {
		return Task{}, err
	}
	if exactAt.Valid {
		at := s.decodeTime(exactAt.Int64)
		t.ExactAt = &at
	}
	t.CalendarEventID = eventID.String
	if ct, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		t.CreatedAt = s.clk.EnsureZoned(ct)
	}
	return t, nil
}
