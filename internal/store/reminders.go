package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (s *Store) GetReminder(ctx context.Context, id string) (Reminder, error) {
	var (
		r  Reminder
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, run_at, sent FROM reminders WHERE id = ?`, id,
	).Scan(&r.ID, &r.TaskID, &ms, &r.Sent)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrNotFound
	}
	if err != nil {
		return Reminder{}, err
	}
	r.RunAt = s.decodeTime(ms)
	return r, nil
}

// MarkSent flips the one-way sent flag. It reports whether this caller
// performed the transition; false means the reminder was already sent (or
// does not exist), which double-fire guards treat as "someone else won".
func (s *Store) MarkSent(ctx context.Context, id string) (bool, error) {
	r, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET sent = 1 WHERE id = ? AND sent = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := r.RowsAffected()
	return n > 0, err
}

// PendingReminders returns unsent reminders of uncompleted tasks with
// run_at strictly after the given instant, ascending. This is the
// reconciliation query: the startup pass rebuilds the whole timer set
// from it.
func (s *Store) PendingReminders(ctx context.Context, after time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.task_id, r.run_at, r.sent
		 FROM reminders r
		 JOIN tasks t ON t.id = r.task_id
		 WHERE r.sent = 0 AND t.completed = 0 AND r.run_at > ?
		 ORDER BY r.run_at ASC
		 LIMIT ?`,
		encodeTime(after), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var (
			r  Reminder
			ms int64
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &ms, &r.Sent); err != nil {
			return nil, err
		}
		r.RunAt = s.decodeTime(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}
