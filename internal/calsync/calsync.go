// Package calsync ingests upcoming calendar events as exact-time tasks.
// It is the second producer feeding the reminder store, alongside intake;
// per-event dedup uses the calendar event ID instead of display text.
package calsync

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/gcal"
	"remindbot/internal/store"
	"remindbot/pkg/logx"
)

const headsUpLead = 5 * time.Minute

type Config struct {
	Interval   time.Duration // default 5m
	Lookahead  time.Duration // default 7 days
	MaxResults int64         // default 100
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Lookahead <= 0 {
		c.Lookahead = 7 * 24 * time.Hour
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 100
	}
	return c
}

// Lister is the calendar surface the sync loop reads.
type Lister interface {
	ListUpcoming(ctx context.Context, min, max time.Time, maxResults int64) ([]gcal.Event, error)
}

// Armer is the scheduler surface used for new reminders.
type Armer interface {
	Arm(reminderID string, runAt time.Time)
}

type Syncer struct {
	cfg   Config
	cal   Lister
	store *store.Store
	sched Armer
	clk   *clock.Clock
	log   logx.Logger
}

func New(cfg Config, cal Lister, st *store.Store, sched Armer, clk *clock.Clock, log logx.Logger) *Syncer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Syncer{cfg: cfg.withDefaults(), cal: cal, store: st, sched: sched, clk: clk, log: log}
}

func (s *Syncer) Interval() time.Duration { return s.cfg.Interval }

// Sync pulls the lookahead window once and materializes every new
// exact-time event as a task with a heads-up and an at-start reminder.
// One bad event never aborts the rest of the batch.
func (s *Syncer) Sync(ctx context.Context) error {
	now := s.clk.Now()
	events, err := s.cal.ListUpcoming(ctx, now, now.Add(s.cfg.Lookahead), s.cfg.MaxResults)
	if err != nil {
		return err
	}

	var created int
	for _, ev := range events {
		ok, err := s.ingest(ctx, now, ev)
		if err != nil {
			s.log.Warn("calendar event ingest failed", logx.String("event", ev.ID), logx.Err(err))
			continue
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		s.log.Info("calendar sync created tasks", logx.Int("tasks", created), logx.Int("events_seen", len(events)))
	}
	return nil
}

func (s *Syncer) ingest(ctx context.Context, now time.Time, ev gcal.Event) (bool, error) {
	if ev.ID == "" || ev.Start == nil {
		// All-day events carry no start instant and are not synced.
		return false, nil
	}
	start := s.clk.EnsureZoned(*ev.Start)
	if !start.After(now) {
		return false, nil
	}

	_, err := s.store.TaskByEventID(ctx, ev.ID)
	if err == nil {
		return false, nil // already represented
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	title := strings.TrimSpace(ev.Summary)
	if title == "" {
		title = "Calendar event"
	}

	spec := store.TaskSpec{
		Task: store.Task{
			RawText:         title,
			DisplayText:     title,
			Date:            clock.DateOf(start),
			HasExactTime:    true,
			ExactAt:         &start,
			CalendarEventID: ev.ID,
		},
		Reminders: []time.Time{start.Add(-headsUpLead), start},
	}
	// Event-ID dedup happened above; no display-text dedup here.
	created, err := s.store.CreateTasks(ctx, []store.TaskSpec{spec}, nil)
	if err != nil {
		return false, err
	}
	for _, r := range created.Reminders {
		s.sched.Arm(r.ID, r.RunAt)
	}
	return true, nil
}
