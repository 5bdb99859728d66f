package store

import (
	"errors"
	"time"

	"remindbot/internal/clock"
)

var ErrNotFound = errors.New("store: not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Task is one reminder-worthy item tied to a single calendar date
// (or a single exact instant). Multi-day requests become multiple rows.
type Task struct {
	ID              string
	RawText         string
	DisplayText     string
	Date            clock.Date
	HasExactTime    bool
	ExactAt         *time.Time // set iff HasExactTime
	CalendarEventID string     // optional mirrored-event link
	Completed       bool
	CreatedAt       time.Time
}

// Reminder is one scheduled notification instant belonging to a Task.
// RunAt is set once at creation; Sent only ever flips false -> true.
type Reminder struct {
	ID     string
	TaskID string
	RunAt  time.Time
	Sent   bool
}

// TaskSpec is one Task plus the run_at instants of its reminders,
// created together in a single transaction.
type TaskSpec struct {
	Task      Task
	Reminders []time.Time
}

// Dedup describes the duplicate check run before an intake creates rows.
// Exactly one branch applies: ExactAt set means instant equality against
// other exact-time tasks; otherwise membership of Dates.
type Dedup struct {
	DisplayText string
	Dates       []clock.Date
	ExactAt     *time.Time
}

// CreateResult reports what an intake transaction produced.
type CreateResult struct {
	Duplicate bool
	TaskIDs   []string
	Reminders []Reminder
}
