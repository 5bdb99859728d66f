package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/store"
	"remindbot/pkg/logx"
)

type fakeExec struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeExec) Deliver(_ context.Context, reminderID string) {
	f.mu.Lock()
	f.ids = append(f.ids, reminderID)
	f.mu.Unlock()
}

func (f *fakeExec) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

type fakeSource struct {
	rows []store.Reminder
}

func (f *fakeSource) PendingReminders(_ context.Context, after time.Time, _ int) ([]store.Reminder, error) {
	var out []store.Reminder
	for _, r := range f.rows {
		if r.RunAt.After(after) {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestScheduler(t *testing.T, cfg Config, src PendingSource, exec Executor) *Scheduler {
	t.Helper()
	clk, err := clock.New("UTC")
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	s := New(cfg, clk, src, exec, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestArmPastBeyondGraceIsRecordedMiss(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{}
	s := newTestScheduler(t, Config{MisfireGrace: time.Minute}, &fakeSource{}, exec)

	s.Arm("r1", time.Now().Add(-2*time.Minute))

	if n := s.ArmedCount(); n != 0 {
		t.Fatalf("ArmedCount = %d, want 0", n)
	}
	time.Sleep(50 * time.Millisecond)
	if n := exec.count(); n != 0 {
		t.Fatalf("deliveries = %d, want 0", n)
	}
}

func TestArmPastWithinGraceDeliversImmediately(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{}
	s := newTestScheduler(t, Config{MisfireGrace: time.Hour}, &fakeSource{}, exec)

	s.Arm("r1", time.Now().Add(-10*time.Second))

	waitFor(t, 2*time.Second, func() bool { return exec.count() == 1 })
	if n := s.ArmedCount(); n != 0 {
		t.Fatalf("ArmedCount = %d, want 0 (no timer for past instant)", n)
	}
}

func TestArmFutureFires(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{}
	s := newTestScheduler(t, Config{}, &fakeSource{}, exec)

	s.Arm("r1", time.Now().Add(30*time.Millisecond))

	if n := s.ArmedCount(); n != 1 {
		t.Fatalf("ArmedCount = %d, want 1", n)
	}
	waitFor(t, 2*time.Second, func() bool { return exec.count() == 1 })
	waitFor(t, 2*time.Second, func() bool { return s.ArmedCount() == 0 })
}

func TestRearmReplacesTimer(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{}
	s := newTestScheduler(t, Config{}, &fakeSource{}, exec)

	first := time.Now().Add(time.Hour)
	second := time.Now().Add(2 * time.Hour)
	s.Arm("r1", first)
	s.Arm("r1", second)

	if n := s.ArmedCount(); n != 1 {
		t.Fatalf("ArmedCount = %d, want 1 after re-arm", n)
	}
	at, ok := s.Armed("r1")
	if !ok {
		t.Fatal("expected r1 armed")
	}
	if !at.Equal(second) {
		t.Fatalf("armed at %v, want the most recent run_at %v", at, second)
	}
}

func TestCancelRemovesTimer(t *testing.T) {
	t.Parallel()
	exec := &fakeExec{}
	s := newTestScheduler(t, Config{}, &fakeSource{}, exec)

	s.Arm("r1", time.Now().Add(time.Hour))
	s.Cancel("r1")

	if n := s.ArmedCount(); n != 0 {
		t.Fatalf("ArmedCount = %d, want 0 after cancel", n)
	}
	// Cancel with no timer is a no-op, never an error.
	s.Cancel("r1")
	s.Cancel("never-armed")
}

func TestReconcileFromStoreIdempotent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	src := &fakeSource{rows: []store.Reminder{
		{ID: "a", RunAt: now.Add(time.Hour)},
		{ID: "b", RunAt: now.Add(2 * time.Hour)},
		{ID: "c", RunAt: now.Add(3 * time.Hour)},
		// Beyond the grace window: the source query already excludes it.
		{ID: "old", RunAt: now.Add(-2 * time.Hour)},
	}}
	exec := &fakeExec{}
	s := newTestScheduler(t, Config{MisfireGrace: time.Hour}, src, exec)

	if err := s.ReconcileFromStore(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n := s.ArmedCount(); n != 3 {
		t.Fatalf("ArmedCount = %d, want 3", n)
	}

	if err := s.ReconcileFromStore(context.Background()); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if n := s.ArmedCount(); n != 3 {
		t.Fatalf("ArmedCount after second reconcile = %d, want 3", n)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := s.Armed(id); !ok {
			t.Fatalf("expected %s armed after reconcile", id)
		}
	}
}

func TestAddIntervalValidation(t *testing.T) {
	t.Parallel()
	clk, err := clock.New("UTC")
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	s := New(Config{}, clk, &fakeSource{}, &fakeExec{}, logx.Nop())

	if err := s.AddInterval("", time.Minute, func(context.Context) error { return nil }); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := s.AddInterval("job", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("zero interval accepted")
	}
	if err := s.AddInterval("job", time.Minute, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("valid interval rejected: %v", err)
	}
}

func TestIntervalJobsDoNotOverlap(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(t, Config{}, &fakeSource{}, &fakeExec{})

	var active, runs, overlapped int32
	err := s.AddInterval("slow", 20*time.Millisecond, func(ctx context.Context) error {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.StoreInt32(&overlapped, 1)
		}
		defer atomic.AddInt32(&active, -1)
		atomic.AddInt32(&runs, 1)
		// Hold well past the next several ticks.
		select {
		case <-ctx.Done():
		case <-time.After(60 * time.Millisecond):
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AddInterval: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return atomic.LoadInt32(&runs) >= 2 })
	if atomic.LoadInt32(&overlapped) != 0 {
		t.Fatal("interval job ran concurrently with itself")
	}
}

func TestArmBeforeStartDropsQuietly(t *testing.T) {
	t.Parallel()
	clk, err := clock.New("UTC")
	if err != nil {
		t.Fatalf("clock: %v", err)
	}
	exec := &fakeExec{}
	s := New(Config{}, clk, &fakeSource{}, exec, logx.Nop())

	// Past-due within grace with no running queue must not panic or block.
	s.Arm("r1", time.Now().Add(-time.Second))
	if n := exec.count(); n != 0 {
		t.Fatalf("deliveries = %d, want 0 before start", n)
	}
}
