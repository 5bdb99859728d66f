package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/clock"
	"remindbot/pkg/logx"
)

func New(cfg Config, clk *clock.Clock, src PendingSource, exec Executor, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		log:      log,
		clk:      clk,
		src:      src,
		exec:     exec,
		timers:   map[string]*time.Timer{},
		runAts:   map[string]time.Time{},
		vers:     map[string]uint64{},
		inflight: map[string]bool{},
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	s.queue = make(chan job, s.cfg.QueueSize)
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	s.c = cron.New(cron.WithLocation(s.clk.Location()))
	for i := range s.defs {
		s.registerIntervalLocked(s.defs[i])
	}
	s.c.Start()

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go s.worker(s.runCtx, s.stopCh, s.queue)
	}
	s.log.Info("scheduler started",
		logx.Int("workers", s.cfg.Workers),
		logx.String("tz", s.clk.Location().String()),
		logx.Duration("misfire_grace", s.cfg.MisfireGrace))
}

func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
	cancel := s.runCancel
	s.runCancel = nil
	s.mu.Unlock()

	// Stop all armed timers; they are rebuilt from the store on next start.
	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.runAts = map[string]time.Time{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out waiting for workers")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("scheduler stopped")
}

// AddInterval registers a periodic background job (e.g. calendar sync).
// Registering before Start is supported; the definition is applied on Start.
func (s *Scheduler) AddInterval(name string, every time.Duration, run func(ctx context.Context) error) error {
	if name == "" {
		return errors.New("name required")
	}
	if every <= 0 {
		return fmt.Errorf("interval for %q must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := intervalDef{name: name, every: every, run: run}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerIntervalLocked(d)
	}
	return nil
}

func (s *Scheduler) registerIntervalLocked(d intervalDef) {
	spec := fmt.Sprintf("@every %s", d.every.String())
	run := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(s.runCtx, d.every)
		defer cancel()
		start := s.clk.Now()
		if err := d.run(ctx); err != nil {
			s.log.Warn("interval job failed", logx.String("job", d.name), logx.Err(err))
			return
		}
		s.log.Debug("interval job completed", logx.String("job", d.name), logx.Duration("dur", s.clk.Now().Sub(start)))
	})
	// A slow run must not overlap its next tick: the sync jobs behind these
	// check-then-create without a transaction.
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log})).Then(run)
	_, err := s.c.AddJob(spec, job)
	if err != nil {
		s.log.Error("interval job register failed", logx.String("job", d.name), logx.Err(err))
		return
	}
	s.log.Debug("interval job registered", logx.String("job", d.name), logx.Duration("every", d.every))
}

// cronLogger adapts logx to cron's chain-decorator logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug(msg, logx.Any("details", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Warn(msg, logx.Err(err), logx.Any("details", kv))
}

// ReconcileFromStore rebuilds the timer set from durable state. Run once at
// startup and again whenever delivery becomes possible (e.g. credentials
// fixed by a config reload). Rows already past their run_at are loaded back
// to the edge of the grace window so a short outage delivers late but once.
func (s *Scheduler) ReconcileFromStore(ctx context.Context) error {
	now := s.clk.Now()
	rows, err := s.src.PendingReminders(ctx, now.Add(-s.cfg.MisfireGrace), 500)
	if err != nil {
		return fmt.Errorf("load pending reminders: %w", err)
	}
	for _, r := range rows {
		s.Arm(r.ID, r.RunAt)
	}
	s.log.Info("reconciled reminders from store", logx.Int("count", len(rows)))
	return nil
}
