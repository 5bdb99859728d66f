// Package textparse is the deterministic fallback parser for free-text task
// input. It understands a small fixed phrase set (weekend pairs, today,
// tomorrow, weekday names, "at HH:MM"-style times); anything it cannot place
// lands on tomorrow.
package textparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/clock"
)

// Result is the resolved reading of one sentence. Dates always has at least
// one entry. ExactAt is set only when the sentence carried a clock time; its
// date is then the single entry in Dates.
type Result struct {
	DisplayText string
	Dates       []clock.Date
	ExactAt     *time.Time
	Range       bool
}

var (
	timeRe    = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b|\b(\d{1,2}):(\d{2})\b|\b(\d{1,2})\s*(am|pm)\b`)
	weekdayRe = regexp.MustCompile(`(?i)\b(?:on\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// weekend phrases checked longest-first so stripping removes the whole
// phrase, not a prefix of it.
var weekendPhrases = []string{"next weekend", "this weekend", "on the weekend", "on weekend", "weekend"}

type Parser struct {
	clk *clock.Clock
}

func New(clk *clock.Clock) *Parser {
	return &Parser{clk: clk}
}

// Parse resolves one sentence against the current local time. It never
// fails; unparseable input becomes a tomorrow task with the raw text as
// display text.
func (p *Parser) Parse(raw string) Result {
	now := p.clk.Now()
	lower := strings.ToLower(raw)

	if strings.Contains(lower, "weekend") {
		return p.parseWeekend(raw, lower, now)
	}

	cleaned := raw
	date, matchedDate := p.resolveDate(lower, now)
	for _, w := range []string{"every day this week", "daily this week", "today", "tomorrow"} {
		cleaned = removePhrase(cleaned, w)
	}
	if m := weekdayRe.FindString(cleaned); m != "" {
		cleaned = removePhrase(cleaned, m)
	}

	res := Result{Dates: []clock.Date{date}}

	if tod, matched, ok := p.extractTime(lower); ok {
		exact := p.clk.Combine(date, tod)
		// A clock time with no date word means the next occurrence of
		// that time, not a time already gone today.
		if !matchedDate && !exact.After(now) {
			date = date.AddDays(1)
			exact = p.clk.Combine(date, tod)
			res.Dates = []clock.Date{date}
		}
		res.ExactAt = &exact
		cleaned = removePhrase(cleaned, matched)
	}

	res.DisplayText = displayText(cleaned, raw)
	return res
}

func (p *Parser) parseWeekend(raw, lower string, now time.Time) Result {
	today := clock.DateOf(now)
	sat := upcomingSaturday(today, now.Weekday())
	if strings.Contains(lower, "next weekend") {
		sat = sat.AddDays(7)
	}

	cleaned := raw
	for _, phrase := range weekendPhrases {
		cleaned = removePhrase(cleaned, phrase)
	}
	return Result{
		DisplayText: displayText(cleaned, raw),
		Dates:       []clock.Date{sat, sat.AddDays(1)},
		Range:       true,
	}
}

// upcomingSaturday: Mon-Fri map to this week's Saturday, Saturday to itself,
// Sunday rolls to the following weekend.
func upcomingSaturday(today clock.Date, wd time.Weekday) clock.Date {
	switch wd {
	case time.Saturday:
		return today
	case time.Sunday:
		return today.AddDays(6)
	default:
		return today.AddDays(int(time.Saturday - wd))
	}
}

func (p *Parser) resolveDate(lower string, now time.Time) (clock.Date, bool) {
	today := clock.DateOf(now)
	switch {
	case strings.Contains(lower, "every day this week"), strings.Contains(lower, "daily this week"):
		return today.AddDays(1), true
	case strings.Contains(lower, "today"):
		return today, true
	case strings.Contains(lower, "tomorrow"):
		return today.AddDays(1), true
	}
	if m := weekdayRe.FindStringSubmatch(lower); m != nil {
		target := weekdays[strings.ToLower(m[1])]
		days := int(target-now.Weekday()+7) % 7
		if days == 0 {
			days = 7
		}
		return today.AddDays(days), true
	}
	// No date word: default to tomorrow.
	return today.AddDays(1), false
}

// extractTime returns the time of day, the matched phrase (for stripping),
// and whether a time was present at all.
func (p *Parser) extractTime(lower string) (clock.TimeOfDay, string, bool) {
	m := timeRe.FindStringSubmatch(lower)
	if m == nil {
		return clock.TimeOfDay{}, "", false
	}

	var hourStr, minStr, meridiem string
	switch {
	case m[1] != "": // "at 7", "at 7:30 pm"
		hourStr, minStr, meridiem = m[1], m[2], m[3]
	case m[4] != "": // bare "19:30"
		hourStr, minStr = m[4], m[5]
	default: // bare "7pm"
		hourStr, meridiem = m[6], m[7]
	}

	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return clock.TimeOfDay{}, "", false
	}
	minute := 0
	if minStr != "" {
		if minute, err = strconv.Atoi(minStr); err != nil {
			return clock.TimeOfDay{}, "", false
		}
	}
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return clock.TimeOfDay{}, "", false
	}
	return clock.TimeOfDay{Hour: hour, Minute: minute}, m[0], true
}

// removePhrase deletes one case-insensitive occurrence of phrase.
func removePhrase(s, phrase string) string {
	idx := strings.Index(strings.ToLower(s), strings.ToLower(phrase))
	if idx == -1 {
		return s
	}
	return s[:idx] + s[idx+len(phrase):]
}

// displayText tidies the stripped sentence; empty results fall back to the
// raw input so a task is never nameless.
func displayText(cleaned, raw string) string {
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	cleaned = strings.Trim(cleaned, " ,.!")
	if cleaned == "" {
		return strings.TrimSpace(raw)
	}
	return strings.ToUpper(cleaned[:1]) + cleaned[1:]
}
