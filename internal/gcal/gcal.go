// Package gcal wraps the Google Calendar v3 API for the two operations the
// reminder engine needs: mirroring an exact-time task out as an event, and
// listing upcoming events for calendar-sync ingestion.
package gcal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

type Config struct {
	Enabled         bool
	CredentialsPath string // OAuth client secrets (installed app)
	TokenPath       string // stored user token
	CalendarID      string // default "primary"
}

// Event is the slim view the sync loop consumes. A nil Start marks an
// all-day event (no dateTime component), which ingestion ignores.
type Event struct {
	ID      string
	Summary string
	Start   *time.Time
}

type Client struct {
	svc        *calendar.Service
	calendarID string
}

// New builds a client from stored OAuth credentials. Callers treat a nil
// client as "calendar not configured"; mirror and sync become no-ops.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	secrets, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	conf, err := google.ConfigFromJSON(secrets, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}

	tokenData, err := os.ReadFile(cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("read token (run the auth flow first): %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenData, &tok); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	svc, err := calendar.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx, &tok)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Client{svc: svc, calendarID: calendarID}, nil
}

// CreateEvent mirrors an exact-time task as a 30-minute calendar block and
// returns the created event's ID.
func (c *Client) CreateEvent(ctx context.Context, title string, start time.Time, tz string) (string, error) {
	end := start.Add(30 * time.Minute)
	event := &calendar.Event{
		Summary: title,
		Start:   &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz},
		End:     &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz},
	}
	created, err := c.svc.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, nil
}

// ListUpcoming returns events starting inside [min, max], expanded to single
// instances and ordered by start time.
func (c *Client) ListUpcoming(ctx context.Context, min, max time.Time, maxResults int64) ([]Event, error) {
	if maxResults <= 0 {
		maxResults = 100
	}
	resp, err := c.svc.Events.List(c.calendarID).
		TimeMin(min.Format(time.RFC3339)).
		TimeMax(max.Format(time.RFC3339)).
		MaxResults(maxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	out := make([]Event, 0, len(resp.Items))
	for _, it := range resp.Items {
		ev := Event{ID: it.Id, Summary: it.Summary}
		if it.Start != nil && it.Start.DateTime != "" {
			if t, err := time.Parse(time.RFC3339, it.Start.DateTime); err == nil {
				ev.Start = &t
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
