// Package intake turns resolved task descriptors into durable Task and
// Reminder rows and arms a timer for every new reminder. It owns the
// duplicate check policy and the exact-time calendar mirror side effect.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"remindbot/internal/clock"
	"remindbot/internal/ollama"
	"remindbot/internal/store"
	"remindbot/internal/textparse"
	"remindbot/pkg/logx"
)

// DefaultTimes is the per-day reminder schedule for tasks without an exact
// time or a custom time list.
var DefaultTimes = []clock.TimeOfDay{
	{Hour: 10}, {Hour: 13}, {Hour: 15}, {Hour: 18}, {Hour: 20}, {Hour: 21},
}

// exactLead is how far ahead of an exact-time task its heads-up reminder
// fires.
const exactLead = 5 * time.Minute

// Descriptor is the resolved reading of one task request. Dates must be
// non-empty unless ExactAt is set, in which case the date is derived from
// the instant.
type Descriptor struct {
	RawText     string
	DisplayText string
	Dates       []clock.Date
	ExactAt     *time.Time
	CustomTimes []clock.TimeOfDay
}

// Result is the structured outcome every caller receives; intake never
// leaks raw errors for expected conditions like duplicates.
type Result struct {
	OK              bool     `json:"ok"`
	Skipped         bool     `json:"skipped,omitempty"`
	Reason          string   `json:"reason,omitempty"`
	Task            string   `json:"task,omitempty"`
	Dates           []string `json:"dates,omitempty"`
	TaskIDs         []string `json:"task_ids,omitempty"`
	RemindersPerDay int      `json:"reminders_per_day,omitempty"`
	TotalReminders  int      `json:"total_reminders"`
	HasExactTime    bool     `json:"has_exact_time"`
	CalendarEventID string   `json:"calendar_event_id,omitempty"`
}

// Armer is the scheduler surface intake needs.
type Armer interface {
	Arm(reminderID string, runAt time.Time)
}

// Calendar mirrors exact-time tasks out as events.
type Calendar interface {
	CreateEvent(ctx context.Context, title string, start time.Time, tz string) (string, error)
}

// Extractor is the optional LLM parse assist.
type Extractor interface {
	Up(ctx context.Context) bool
	Extract(ctx context.Context, sentence, nowISO, timezone, pendingJSON string) (*ollama.Extraction, error)
}

type Service struct {
	store  *store.Store
	sched  Armer
	cal    Calendar  // nil when calendar mirroring is off
	llm    Extractor // nil when LLM assist is off
	parser *textparse.Parser
	clk    *clock.Clock
	log    logx.Logger
}

func New(st *store.Store, sched Armer, cal Calendar, llm Extractor, parser *textparse.Parser, clk *clock.Clock, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: st, sched: sched, cal: cal, llm: llm, parser: parser, clk: clk, log: log}
}

// SubmitText resolves a free-text sentence into a descriptor (LLM assist
// first when available, deterministic parser otherwise) and submits it.
func (s *Service) SubmitText(ctx context.Context, raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{Reason: "empty_text"}, errors.New("empty text")
	}

	if s.llm != nil && s.llm.Up(ctx) {
		if d, skip, ok := s.extractWithLLM(ctx, raw); ok {
			if skip {
				return Result{OK: true, Skipped: true, Reason: "duplicate_or_no_dates", Task: d.DisplayText}, nil
			}
			return s.Submit(ctx, d)
		}
	}

	parsed := s.parser.Parse(raw)
	return s.Submit(ctx, Descriptor{
		RawText:     raw,
		DisplayText: parsed.DisplayText,
		Dates:       parsed.Dates,
		ExactAt:     parsed.ExactAt,
	})
}

// extractWithLLM converts a model extraction into a descriptor. The third
// return is false when the extraction is unusable and the deterministic
// parser should run instead; skip=true means the model judged the request a
// duplicate of existing rows (it returns no dates in that case).
func (s *Service) extractWithLLM(ctx context.Context, raw string) (d Descriptor, skip, ok bool) {
	now := s.clk.Now()
	ex, err := s.llm.Extract(ctx, raw, now.Format(time.RFC3339), s.clk.Location().String(), s.pendingContext(ctx))
	if err != nil {
		s.log.Warn("llm extract failed; falling back to rule parser", logx.Err(err))
		return Descriptor{}, false, false
	}
	if ex == nil {
		return Descriptor{}, false, false
	}

	d = Descriptor{RawText: raw, DisplayText: strings.TrimSpace(ex.Task)}
	if d.DisplayText == "" {
		d.DisplayText = raw
	}

	if ex.StartAt != "" {
		if at, err := s.clk.ParseInstant(ex.StartAt); err == nil {
			d.ExactAt = &at
		}
	}
	for _, ds := range ex.Dates {
		if dt, err := clock.ParseDate(ds); err == nil {
			d.Dates = append(d.Dates, dt)
		}
	}
	for _, ts := range ex.Times {
		if tod, err := clock.ParseTimeOfDay(ts); err == nil {
			d.CustomTimes = append(d.CustomTimes, tod)
		}
	}

	// A single date plus a single custom time is an exact-time task in
	// disguise.
	if d.ExactAt == nil && len(d.CustomTimes) > 0 && len(d.Dates) == 1 {
		at := s.clk.Combine(d.Dates[0], d.CustomTimes[0])
		d.ExactAt = &at
	}

	if d.ExactAt == nil && len(d.Dates) == 0 {
		return d, true, true
	}
	return d, false, true
}

// pendingContext serializes the open tasks the model can use to spot
// duplicates. Best-effort: an empty list on error is fine.
func (s *Service) pendingContext(ctx context.Context) string {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return "[]"
	}
	type item struct {
		ID   string `json:"id"`
		Task string `json:"task"`
		Date string `json:"date"`
	}
	items := make([]item, 0, 25)
	for _, t := range tasks {
		if t.Completed {
			continue
		}
		items = append(items, item{ID: t.ID, Task: t.DisplayText, Date: t.Date.String()})
		if len(items) == 25 {
			break
		}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Submit runs one intake: dedup check, row creation, calendar mirror, and
// timer arming. Duplicates are a successful no-op, not an error.
func (s *Service) Submit(ctx context.Context, d Descriptor) (Result, error) {
	if strings.TrimSpace(d.DisplayText) == "" {
		return Result{Reason: "empty_task"}, errors.New("empty display text")
	}
	if d.ExactAt != nil {
		at := s.clk.EnsureZoned(*d.ExactAt)
		d.ExactAt = &at
		d.Dates = []clock.Date{clock.DateOf(at)}
	}
	if len(d.Dates) == 0 {
		return Result{Reason: "no_dates"}, errors.New("no dates resolved")
	}

	dedup := &store.Dedup{DisplayText: d.DisplayText, Dates: d.Dates, ExactAt: d.ExactAt}

	// The calendar mirror inside buildSpecs is a creation side effect, so a
	// duplicate must be caught before it runs; CreateTasks repeats the check
	// transactionally to cover the race between the two.
	if d.ExactAt != nil {
		dup, err := s.store.DuplicateExists(ctx, *dedup)
		if err != nil {
			return Result{Reason: "store_error"}, err
		}
		if dup {
			return Result{
				OK:           true,
				Skipped:      true,
				Reason:       "duplicate_in_db",
				Task:         d.DisplayText,
				Dates:        dateStrings(d.Dates),
				HasExactTime: true,
			}, nil
		}
	}

	specs, perDay := s.buildSpecs(ctx, d)
	created, err := s.store.CreateTasks(ctx, specs, dedup)
	if err != nil {
		return Result{Reason: "store_error"}, err
	}

	res := Result{
		OK:              true,
		Task:            d.DisplayText,
		Dates:           dateStrings(d.Dates),
		HasExactTime:    d.ExactAt != nil,
		CalendarEventID: specs[0].Task.CalendarEventID,
	}
	if created.Duplicate {
		res.Skipped = true
		res.Reason = "duplicate_in_db"
		res.CalendarEventID = ""
		return res, nil
	}

	for _, r := range created.Reminders {
		s.sched.Arm(r.ID, r.RunAt)
	}
	res.TaskIDs = created.TaskIDs
	res.RemindersPerDay = perDay
	res.TotalReminders = len(created.Reminders)

	s.log.Info("task created",
		logx.String("task", d.DisplayText),
		logx.Int("tasks", len(created.TaskIDs)),
		logx.Int("reminders", len(created.Reminders)),
		logx.Bool("exact_time", d.ExactAt != nil))
	return res, nil
}

// buildSpecs expands a descriptor into per-date Task rows with their
// reminder instants, attempting the calendar mirror for exact-time tasks.
func (s *Service) buildSpecs(ctx context.Context, d Descriptor) ([]store.TaskSpec, int) {
	if d.ExactAt != nil {
		eventID := s.mirrorEvent(ctx, d.DisplayText, *d.ExactAt)
		instants := []time.Time{d.ExactAt.Add(-exactLead), *d.ExactAt}
		return []store.TaskSpec{{
			Task: store.Task{
				RawText:         d.RawText,
				DisplayText:     d.DisplayText,
				Date:            d.Dates[0],
				HasExactTime:    true,
				ExactAt:         d.ExactAt,
				CalendarEventID: eventID,
			},
			Reminders: instants,
		}}, len(instants)
	}

	times := d.CustomTimes
	if len(times) == 0 {
		times = DefaultTimes
	}
	specs := make([]store.TaskSpec, 0, len(d.Dates))
	for _, date := range d.Dates {
		instants := make([]time.Time, 0, len(times))
		for _, tod := range times {
			instants = append(instants, s.clk.Combine(date, tod))
		}
		specs = append(specs, store.TaskSpec{
			Task: store.Task{
				RawText:     d.RawText,
				DisplayText: d.DisplayText,
				Date:        date,
			},
			Reminders: instants,
		})
	}
	return specs, len(times)
}

// mirrorEvent creates the calendar twin of an exact-time task. Failure is
// non-fatal: the task simply carries no event link.
func (s *Service) mirrorEvent(ctx context.Context, title string, start time.Time) string {
	if s.cal == nil {
		return ""
	}
	id, err := s.cal.CreateEvent(ctx, title, start, s.clk.Location().String())
	if err != nil {
		s.log.Warn("calendar mirror failed", logx.String("task", title), logx.Err(err))
		return ""
	}
	return id
}

func dateStrings(dates []clock.Date) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.String()
	}
	return out
}
