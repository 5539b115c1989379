// Package trigger parses trigger expressions and computes fire times.
//
// Two shapes are supported:
//   - One-shot: an absolute instant ("2025-01-15T10:00", RFC3339, optional
//     " once" suffix or "at:"/"once:" prefix).
//   - Recurring: a 5-field cron pattern (minute hour day-of-month month
//     day-of-week) or a descriptor such as "@daily", parsed by robfig/cron.
package trigger

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind int

const (
	KindOnce Kind = iota
	KindCron
)

func (k Kind) String() string {
	if k == KindOnce {
		return "once"
	}
	return "cron"
}

// Lookahead bounds how far NextFireAfter searches for a recurring match.
const Lookahead = 4 * 365 * 24 * time.Hour

// Trigger is a parsed expression.
type Trigger struct {
	Kind Kind
	Raw  string
	At   time.Time // KindOnce only

	sched cron.Schedule
}

var (
	parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	reDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]`)

	onceLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

// Parse parses raw. Local-form instants (no zone offset) are interpreted in loc;
// nil loc means time.Local.
func Parse(raw string, loc *time.Location) (Trigger, error) {
	if loc == nil {
		loc = time.Local
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return Trigger{}, fmt.Errorf("trigger required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(raw, strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "at:"):
		return parseOnce(raw, strings.TrimSpace(s[len("at:"):]), loc)
	case strings.HasPrefix(low, "once:"):
		return parseOnce(raw, strings.TrimSpace(s[len("once:"):]), loc)
	case strings.HasSuffix(low, " once"):
		return parseOnce(raw, strings.TrimSpace(s[:len(s)-len(" once")]), loc)
	case reDate.MatchString(s):
		return parseOnce(raw, s, loc)
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(raw, s)
	}
	return Trigger{}, fmt.Errorf(
		"invalid trigger %q (use an instant like '2025-01-15T10:00' or cron like '*/5 * * * *')",
		raw,
	)
}

func parseOnce(raw, v string, loc *time.Location) (Trigger, error) {
	if v == "" {
		return Trigger{}, fmt.Errorf("instant required in %q", raw)
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return Trigger{Kind: KindOnce, Raw: raw, At: t}, nil
	}
	for _, layout := range onceLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return Trigger{Kind: KindOnce, Raw: raw, At: t}, nil
		}
	}
	return Trigger{}, fmt.Errorf("invalid instant %q", v)
}

func parseCron(raw, expr string) (Trigger, error) {
	if expr == "" {
		return Trigger{}, fmt.Errorf("cron pattern required in %q", raw)
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid cron pattern %q: %w", expr, err)
	}
	return Trigger{Kind: KindCron, Raw: raw, sched: sched}, nil
}

// IsOneShot reports whether the trigger fires at most once.
func (t Trigger) IsOneShot() bool { return t.Kind == KindOnce }

// NextFireAfter returns the first fire instant strictly after from.
// For a one-shot trigger whose instant has passed it returns false; the
// caller decides whether to fire immediately or discard.
func (t Trigger) NextFireAfter(from time.Time) (time.Time, bool) {
	switch t.Kind {
	case KindOnce:
		if t.At.After(from) {
			return t.At, true
		}
		return time.Time{}, false
	case KindCron:
		if t.sched == nil {
			return time.Time{}, false
		}
		next := t.sched.Next(from)
		if next.IsZero() || !next.After(from) || next.Sub(from) > Lookahead {
			return time.Time{}, false
		}
		return next, true
	}
	return time.Time{}, false
}

// NextFireAfter parses raw in from's location and returns its next fire time.
func NextFireAfter(raw string, from time.Time) (time.Time, bool, error) {
	t, err := Parse(raw, from.Location())
	if err != nil {
		return time.Time{}, false, err
	}
	next, ok := t.NextFireAfter(from)
	return next, ok, nil
}

// IsOneShot reports whether raw parses as a one-shot trigger.
func IsOneShot(raw string) bool {
	t, err := Parse(raw, time.Local)
	return err == nil && t.IsOneShot()
}

// Preview lists up to n upcoming fire times after from.
func Preview(t Trigger, from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	cur := from
	for i := 0; i < n; i++ {
		next, ok := t.NextFireAfter(cur)
		if !ok {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

// FormatPreview renders Preview output the way debug logs show it.
func FormatPreview(ts []time.Time) string {
	var b strings.Builder
	for i, t := range ts {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
