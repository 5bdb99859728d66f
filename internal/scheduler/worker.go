package scheduler

import (
	"context"

	"remindbot/pkg/logx"
)

func (s *Scheduler) enqueue(j job) {
	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()
	if q == nil {
		s.log.Debug("scheduler not running; dropping delivery", logx.String("reminder", j.reminderID))
		return
	}
	select {
	case q <- j:
	default:
		s.log.Warn("delivery queue full; dropping",
			logx.String("reminder", j.reminderID),
			logx.Int("queue_cap", cap(q)))
	}
}

func (s *Scheduler) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	defer s.workerWG.Done()
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execOne(ctx, j)
		}
	}
}

func (s *Scheduler) execOne(ctx context.Context, j job) {
	// At most one in-flight execution per reminder ID. Coalesced fires
	// (queued while another execution runs) are dropped, not queued again:
	// the executor's sent check makes a second run a no-op anyway.
	s.tmu.Lock()
	if s.inflight[j.reminderID] {
		s.tmu.Unlock()
		s.log.Debug("delivery already in flight; coalescing", logx.String("reminder", j.reminderID))
		return
	}
	s.inflight[j.reminderID] = true
	s.tmu.Unlock()
	defer func() {
		s.tmu.Lock()
		delete(s.inflight, j.reminderID)
		s.tmu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()
	s.exec.Deliver(runCtx, j.reminderID)
}
