package calsync

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/gcal"
	"remindbot/internal/store"
	"remindbot/pkg/logx"
)

type fakeLister struct {
	events []gcal.Event
}

func (f *fakeLister) ListUpcoming(context.Context, time.Time, time.Time, int64) ([]gcal.Event, error) {
	return f.events, nil
}

type fakeArmer struct {
	mu    sync.Mutex
	armed []string
}

func (f *fakeArmer) Arm(id string, _ time.Time) {
	f.mu.Lock()
	f.armed = append(f.armed, id)
	f.mu.Unlock()
}

func (f *fakeArmer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.armed)
}

func newTestSyncer(t *testing.T, events []gcal.Event) (*Syncer, *store.Store, *fakeArmer, time.Time) {
	t.Helper()
	now := time.Date(2026, time.March, 18, 12, 0, 0, 0, time.UTC)
	clk, err := clock.New("UTC")
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	clk = clk.WithNow(func() time.Time { return now })

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, clk, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	armer := &fakeArmer{}
	s := New(Config{}, &fakeLister{events: events}, st, armer, clk, logx.Nop())
	return s, st, armer, now
}

func TestSyncCreatesTaskWithTwoReminders(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, time.March, 19, 9, 0, 0, 0, time.UTC)
	s, st, armer, _ := newTestSyncer(t, []gcal.Event{
		{ID: "evt-1", Summary: "Dentist", Start: &start},
	})
	ctx := context.Background()

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	task, err := st.TaskByEventID(ctx, "evt-1")
	if err != nil {
		t.Fatalf("TaskByEventID: %v", err)
	}
	if task.DisplayText != "Dentist" || !task.HasExactTime {
		t.Fatalf("task = %+v", task)
	}
	if task.ExactAt == nil || !task.ExactAt.Equal(start) {
		t.Fatalf("exact_at = %v, want %v", task.ExactAt, start)
	}

	pending, err := st.PendingReminders(ctx, start.Add(-time.Hour), 0)
	if err != nil {
		t.Fatalf("PendingReminders: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d reminders, want heads-up plus at-start", len(pending))
	}
	if !pending[0].RunAt.Equal(start.Add(-5*time.Minute)) || !pending[1].RunAt.Equal(start) {
		t.Fatalf("reminders at %v / %v", pending[0].RunAt, pending[1].RunAt)
	}
	if armer.count() != 2 {
		t.Fatalf("armed %d timers, want 2", armer.count())
	}
}

func TestSyncSkipsUnsyncableEvents(t *testing.T) {
	t.Parallel()
	future := time.Date(2026, time.March, 20, 9, 0, 0, 0, time.UTC)
	past := time.Date(2026, time.March, 17, 9, 0, 0, 0, time.UTC)
	s, st, armer, _ := newTestSyncer(t, []gcal.Event{
		{ID: "allday", Summary: "Holiday", Start: nil},
		{ID: "past", Summary: "Yesterday standup", Start: &past},
		{ID: "", Summary: "No id", Start: &future},
	})
	ctx := context.Background()

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	tasks, err := st.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("created %d tasks from unsyncable events", len(tasks))
	}
	if armer.count() != 0 {
		t.Fatalf("armed %d timers, want 0", armer.count())
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, time.March, 19, 9, 0, 0, 0, time.UTC)
	s, st, armer, _ := newTestSyncer(t, []gcal.Event{
		{ID: "evt-1", Summary: "Dentist", Start: &start},
	})
	ctx := context.Background()

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	tasks, err := st.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks after two syncs, want 1", len(tasks))
	}
	if armer.count() != 2 {
		t.Fatalf("armed %d timers after two syncs, want 2", armer.count())
	}
}

func TestSyncUntitledEventGetsFallbackTitle(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, time.March, 19, 9, 0, 0, 0, time.UTC)
	s, st, _, _ := newTestSyncer(t, []gcal.Event{
		{ID: "evt-blank", Summary: "  ", Start: &start},
	})
	ctx := context.Background()

	if err := s.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	task, err := st.TaskByEventID(ctx, "evt-blank")
	if err != nil {
		t.Fatalf("TaskByEventID: %v", err)
	}
	if task.DisplayText != "Calendar event" {
		t.Fatalf("title = %q, want fallback", task.DisplayText)
	}
}
