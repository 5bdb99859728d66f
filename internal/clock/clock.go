package clock

import (
	"fmt"
	"time"
)

// Clock owns the configured IANA location and defines "now" for the whole
// process. Every run_at / exact_at comparison goes through values produced
// here so naive-vs-zoned mismatches cannot creep in.
type Clock struct {
	loc   *time.Location
	nowFn func() time.Time
}

// New loads the given IANA timezone (e.g. "America/Chicago").
// An empty tz falls back to the system local zone. An unknown zone is an
// error so the caller can fail fast before serving.
func New(tz string) (*Clock, error) {
	if tz == "" {
		return &Clock{loc: time.Local, nowFn: time.Now}, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return &Clock{loc: loc, nowFn: time.Now}, nil
}

// WithNow returns a copy whose Now() is driven by fn. Test hook.
func (c *Clock) WithNow(fn func() time.Time) *Clock {
	cp := *c
	cp.nowFn = fn
	return &cp
}

func (c *Clock) Location() *time.Location { return c.loc }

func (c *Clock) Now() time.Time { return c.nowFn().In(c.loc) }

// EnsureZoned normalizes t into the configured location. The instant is
// unchanged; only the wall-clock representation moves.
func (c *Clock) EnsureZoned(t time.Time) time.Time { return t.In(c.loc) }

// ParseInstant parses an ISO timestamp. Offset-carrying input (RFC 3339) is
// taken as-is; input without an offset is interpreted in the configured
// location. This is the only place "naive" datetimes exist.
func (c *Clock) ParseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(c.loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse instant %q: %w", s, err)
	}
	return t, nil
}

// Combine builds the zoned instant for a time-of-day on a calendar date.
func (c *Clock) Combine(d Date, td TimeOfDay) time.Time {
	return time.Date(d.Year, d.Month, d.Day, td.Hour, td.Minute, 0, 0, c.loc)
}
