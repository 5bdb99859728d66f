package scheduler

import (
	"time"

	"remindbot/pkg/logx"
)

// Arm registers (or replaces) the one-shot timer for a reminder.
//
// A run_at that is not strictly in the future never gets a timer: within the
// grace window the delivery is enqueued immediately (the "discovered late"
// case), beyond it the fire is a recorded miss and the row stays unsent for
// a later reconcile or manual resend.
func (s *Scheduler) Arm(reminderID string, runAt time.Time) {
	if reminderID == "" {
		return
	}
	runAt = s.clk.EnsureZoned(runAt)
	now := s.clk.Now()

	if !runAt.After(now) {
		s.Cancel(reminderID)
		late := now.Sub(runAt)
		if late <= s.cfg.MisfireGrace {
			s.log.Debug("reminder past due within grace; delivering now",
				logx.String("reminder", reminderID), logx.Duration("late", late))
			s.enqueue(job{reminderID: reminderID, runAt: runAt})
		} else {
			s.log.Warn("reminder missed beyond grace window; left unsent",
				logx.String("reminder", reminderID),
				logx.Time("run_at", runAt),
				logx.Duration("late", late))
		}
		return
	}

	s.tmu.Lock()
	if t, ok := s.timers[reminderID]; ok {
		_ = t.Stop()
		delete(s.timers, reminderID)
	}
	ver := s.vers[reminderID] + 1
	s.vers[reminderID] = ver
	s.runAts[reminderID] = runAt

	localID := reminderID
	localAt := runAt
	localVer := ver
	timer := time.AfterFunc(runAt.Sub(now), func() { s.fire(localID, localAt, localVer) })
	s.timers[reminderID] = timer
	s.tmu.Unlock()

	s.log.Debug("reminder armed", logx.String("reminder", reminderID), logx.Time("run_at", runAt))
}

// fire is the timer callback. It re-checks staleness (the timer may have
// been replaced or cancelled after the callback was scheduled) and lateness
// (the process may have been suspended between the deadline and now).
func (s *Scheduler) fire(reminderID string, runAt time.Time, ver uint64) {
	s.tmu.Lock()
	if s.vers[reminderID] != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.timers, reminderID)
	delete(s.runAts, reminderID)
	s.tmu.Unlock()

	late := s.clk.Now().Sub(runAt)
	if late > s.cfg.MisfireGrace {
		s.log.Warn("reminder fired beyond grace window; skipping",
			logx.String("reminder", reminderID),
			logx.Time("run_at", runAt),
			logx.Duration("late", late))
		return
	}
	s.enqueue(job{reminderID: reminderID, runAt: runAt})
}

// Cancel removes any armed timer for the reminder. No-op if none exists.
func (s *Scheduler) Cancel(reminderID string) {
	s.tmu.Lock()
	if t, ok := s.timers[reminderID]; ok {
		_ = t.Stop()
		delete(s.timers, reminderID)
	}
	delete(s.runAts, reminderID)
	s.vers[reminderID]++ // invalidate callbacks already in flight
	s.tmu.Unlock()
}

// Armed reports whether a live timer exists for the reminder, and for when.
func (s *Scheduler) Armed(reminderID string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	at, ok := s.runAts[reminderID]
	return at, ok
}

// ArmedCount returns the number of live timers.
func (s *Scheduler) ArmedCount() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.timers)
}
