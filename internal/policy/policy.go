// Package policy holds the stateless validation and conflict rules applied
// before an entry is created or mutated.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"remindd/internal/entry"
)

const (
	// PastTolerance absorbs clock skew and processing lag.
	PastTolerance = 5 * time.Minute
	// FutureCeiling is the furthest a fire time may be scheduled.
	FutureCeiling = 10 * 365 * 24 * time.Hour
	// ConflictWindow is the distance under which two elevated entries clash.
	ConflictWindow = 5 * time.Minute
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError names the offending field and a human-readable reason.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateFireTime enforces the [now-5m, now+10y] window.
func ValidateFireTime(at, now time.Time) error {
	if at.IsZero() {
		return invalid("trigger", "no fire time")
	}
	if at.Before(now.Add(-PastTolerance)) {
		return invalid("trigger", "fire time %s is in the past", at.Format(time.RFC3339))
	}
	if at.After(now.Add(FutureCeiling)) {
		return invalid("trigger", "fire time %s is more than 10 years ahead", at.Format(time.RFC3339))
	}
	return nil
}

// ValidateAlertConfig checks channel set, volume, popup duration and snooze durations.
func ValidateAlertConfig(cfg entry.AlertConfig) error {
	if len(cfg.Methods) == 0 {
		return invalid("alert.methods", "at least one channel is required")
	}
	seen := make(map[entry.Channel]bool, len(cfg.Methods))
	for _, m := range cfg.Methods {
		if !m.Known() {
			return invalid("alert.methods", "unknown channel %q", m)
		}
		if seen[m] {
			return invalid("alert.methods", "duplicate channel %q", m)
		}
		seen[m] = true
	}
	if cfg.Volume < 0 || cfg.Volume > 100 {
		return invalid("alert.volume", "must be within [0,100], got %d", cfg.Volume)
	}
	if cfg.Has(entry.ChannelPopup) && cfg.PopupDuration <= 0 {
		return invalid("alert.popup_duration", "must be > 0 when popups are enabled")
	}
	if cfg.AllowSnooze {
		for _, m := range cfg.SnoozeMinutes {
			if m <= 0 {
				return invalid("alert.snooze_minutes", "durations must be > 0, got %d", m)
			}
		}
	}
	return nil
}

// Conflict pairs a candidate with a live entry firing too close to it.
type Conflict struct {
	EntryID string
	Name    string
	At      time.Time
	Gap     time.Duration
}

// DetectConflicts lists live entries that clash with candidate. Only elevated
// (High/Urgent) entries with a pending fire time participate. The result is
// advisory and sorted by gap.
func DetectConflicts(candidate entry.Entry, live []entry.Entry) []Conflict {
	if !candidate.Priority.Elevated() || candidate.NextRunAt == nil {
		return nil
	}
	at := *candidate.NextRunAt
	var out []Conflict
	for i := range live {
		other := &live[i]
		if other.ID == candidate.ID || !other.Priority.Elevated() || other.NextRunAt == nil {
			continue
		}
		if other.Status != entry.StatusActive {
			continue
		}
		gap := other.NextRunAt.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap <= ConflictWindow {
			out = append(out, Conflict{EntryID: other.ID, Name: other.Name, At: *other.NextRunAt, Gap: gap})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Gap != out[j].Gap {
			return out[i].Gap < out[j].Gap
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out
}
