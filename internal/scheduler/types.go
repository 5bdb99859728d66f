package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/clock"
	"remindbot/internal/store"
	"remindbot/pkg/logx"
)

// Config controls the reminder scheduler.
type Config struct {
	Workers   int
	QueueSize int

	// MisfireGrace is how late a fire may be discovered (process suspended,
	// long GC pause, restart) and still execute. Beyond it the fire is
	// treated as missed and skipped without marking the reminder sent.
	MisfireGrace time.Duration

	// DeliveryTimeout bounds one delivery execution end to end.
	DeliveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = time.Hour
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 30 * time.Second
	}
	return c
}

// Executor runs when a reminder's timer fires (or when a past-due reminder
// is discovered within the grace window). It must be safe to call with IDs
// that no longer need delivery; the idempotent guards live there.
type Executor interface {
	Deliver(ctx context.Context, reminderID string)
}

// PendingSource is the slice of the store the reconciler reads.
type PendingSource interface {
	PendingReminders(ctx context.Context, after time.Time, limit int) ([]store.Reminder, error)
}

type job struct {
	reminderID string
	runAt      time.Time
}

type intervalDef struct {
	name  string
	every time.Duration
	run   func(ctx context.Context) error
}

// Scheduler owns the mapping from reminder ID to an armed one-shot timer.
// The timer set is a disposable projection of the store: it is rebuilt by
// ReconcileFromStore on startup and never persisted.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	clk *clock.Clock

	src  PendingSource
	exec Executor

	c    *cron.Cron
	defs []intervalDef

	queue     chan job
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// one-shot timers, keyed by reminder ID. vers ignores stale callbacks
	// from replaced timers; inflight coalesces overlapping fires.
	tmu      sync.Mutex
	timers   map[string]*time.Timer
	runAts   map[string]time.Time
	vers     map[string]uint64
	inflight map[string]bool
}
