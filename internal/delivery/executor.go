package delivery

import (
	"context"
	"errors"
	"fmt"

	"remindbot/internal/store"
	"remindbot/pkg/logx"
)

// Outcome is the explicit end state of one delivery attempt. Storage keeps
// only the sent flag; Delivered and Suppressed both persist as sent=true and
// are distinguished here and in logs only.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeSuppressed
	OutcomeAlreadySent
	OutcomeMissing
	OutcomeNotConfigured
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeAlreadySent:
		return "already_sent"
	case OutcomeMissing:
		return "missing"
	case OutcomeNotConfigured:
		return "not_configured"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Store is the slice of the task/reminder store the executor touches.
type Store interface {
	GetReminder(ctx context.Context, id string) (store.Reminder, error)
	GetTask(ctx context.Context, id string) (store.Task, error)
	MarkSent(ctx context.Context, id string) (bool, error)
}

// Notifier is the external delivery channel. Send failures leave the
// reminder unsent; Configured()==false means "leave it for a later
// reconcile" rather than an error.
type Notifier interface {
	Configured() bool
	Send(ctx context.Context, text string) error
}

// Executor re-validates reminder and task state when a timer fires and
// updates the store with the result. It never panics outward: one failing
// reminder must not take down the scheduler.
type Executor struct {
	store  Store
	notify Notifier
	log    logx.Logger
}

func New(st Store, notify Notifier, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{store: st, notify: notify, log: log}
}

// Deliver implements the scheduler's executor hook.
func (e *Executor) Deliver(ctx context.Context, reminderID string) {
	out := e.Execute(ctx, reminderID)
	switch out {
	case OutcomeDelivered:
		e.log.Info("reminder delivered", logx.String("reminder", reminderID))
	case OutcomeSuppressed:
		e.log.Info("reminder suppressed (task completed or gone)", logx.String("reminder", reminderID))
	case OutcomeNotConfigured:
		e.log.Warn("delivery channel not configured; reminder left unsent", logx.String("reminder", reminderID))
	case OutcomeFailed:
		e.log.Warn("reminder delivery failed; left unsent for retry", logx.String("reminder", reminderID))
	default:
		e.log.Debug("reminder delivery no-op", logx.String("reminder", reminderID), logx.String("outcome", out.String()))
	}
}

// Execute runs the delivery steps for one reminder and reports the end state.
func (e *Executor) Execute(ctx context.Context, reminderID string) Outcome {
	r, err := e.store.GetReminder(ctx, reminderID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeMissing
	}
	if err != nil {
		e.log.Error("load reminder failed", logx.String("reminder", reminderID), logx.Err(err))
		return OutcomeFailed
	}
	if r.Sent {
		// Idempotent guard against double fire.
		return OutcomeAlreadySent
	}

	t, err := e.store.GetTask(ctx, r.TaskID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		e.log.Error("load task failed", logx.String("task", r.TaskID), logx.Err(err))
		return OutcomeFailed
	}
	if errors.Is(err, store.ErrNotFound) || t.Completed {
		// Completed or deleted tasks never notify. Marking sent stops
		// future reconciles from re-evaluating this reminder.
		if _, err := e.store.MarkSent(ctx, reminderID); err != nil {
			e.log.Error("suppress mark failed", logx.String("reminder", reminderID), logx.Err(err))
			return OutcomeFailed
		}
		return OutcomeSuppressed
	}

	if e.notify == nil || !e.notify.Configured() {
		// Deliberate retry-by-default: the unsent row is picked up by the
		// next reconcile once the channel is configured.
		return OutcomeNotConfigured
	}

	if err := e.notify.Send(ctx, "Reminder: "+t.DisplayText); err != nil {
		e.log.Warn("send failed", logx.String("reminder", reminderID), logx.Err(err))
		return OutcomeFailed
	}

	won, err := e.store.MarkSent(ctx, reminderID)
	if err != nil {
		// Message went out but the flag didn't stick; a later retry may
		// duplicate. Accepted at-least-once edge, loudly logged.
		e.log.Error("mark sent failed after successful send", logx.String("reminder", reminderID), logx.Err(err))
		return OutcomeFailed
	}
	if !won {
		e.log.Warn("reminder marked sent concurrently", logx.String("reminder", reminderID))
	}
	return OutcomeDelivered
}
