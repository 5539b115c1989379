package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/entry"
)

func TestValidateFireTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		ok   bool
	}{
		{"future", now.Add(time.Hour), true},
		{"within tolerance", now.Add(-4 * time.Minute), true},
		{"edge of tolerance", now.Add(-PastTolerance), true},
		{"too old", now.Add(-6 * time.Minute), false},
		{"nine years", now.AddDate(9, 0, 0), true},
		{"eleven years", now.AddDate(11, 0, 0), false},
		{"zero", time.Time{}, false},
	}
	for _, tt := range tests {
		err := ValidateFireTime(tt.at, now)
		if tt.ok {
			assert.NoError(t, err, tt.name)
		} else {
			require.Error(t, err, tt.name)
			assert.True(t, errors.Is(err, ErrValidation), tt.name)
		}
	}
}

func TestValidateAlertConfig(t *testing.T) {
	t.Parallel()
	good := entry.DefaultAlertConfig(entry.PriorityHigh)
	require.NoError(t, ValidateAlertConfig(good))

	tests := []struct {
		name  string
		mut   func(c *entry.AlertConfig)
		field string
	}{
		{"no channels", func(c *entry.AlertConfig) { c.Methods = nil }, "alert.methods"},
		{"unknown channel", func(c *entry.AlertConfig) { c.Methods = []entry.Channel{"pager"} }, "alert.methods"},
		{"duplicate channel", func(c *entry.AlertConfig) { c.Methods = []entry.Channel{entry.ChannelSound, entry.ChannelSound} }, "alert.methods"},
		{"volume high", func(c *entry.AlertConfig) { c.Volume = 101 }, "alert.volume"},
		{"volume low", func(c *entry.AlertConfig) { c.Volume = -1 }, "alert.volume"},
		{"popup without duration", func(c *entry.AlertConfig) { c.PopupDuration = 0 }, "alert.popup_duration"},
		{"zero snooze", func(c *entry.AlertConfig) { c.SnoozeMinutes = []int{5, 0} }, "alert.snooze_minutes"},
	}
	for _, tt := range tests {
		c := entry.DefaultAlertConfig(entry.PriorityHigh)
		tt.mut(&c)
		err := ValidateAlertConfig(c)
		require.Error(t, err, tt.name)
		var ve *ValidationError
		require.True(t, errors.As(err, &ve), tt.name)
		assert.Equal(t, tt.field, ve.Field, tt.name)
	}

	// Snooze durations are only checked when snoozing is allowed.
	c := entry.DefaultAlertConfig(entry.PriorityNormal)
	c.AllowSnooze = false
	c.SnoozeMinutes = []int{-1}
	assert.NoError(t, ValidateAlertConfig(c))
}

func TestDetectConflicts(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { v := base.Add(d); return &v }
	mk := func(id string, p entry.Priority, d time.Duration) entry.Entry {
		return entry.Entry{ID: id, Name: id, Priority: p, Status: entry.StatusActive, Enabled: true, NextRunAt: at(d)}
	}

	cand := mk("cand", entry.PriorityHigh, 0)
	live := []entry.Entry{
		mk("two-min", entry.PriorityHigh, 2*time.Minute),
		mk("urgent-before", entry.PriorityUrgent, -time.Minute),
		mk("normal-near", entry.PriorityNormal, time.Minute),
		mk("far", entry.PriorityHigh, 10*time.Minute),
		mk("cand", entry.PriorityHigh, 0),
	}
	paused := mk("paused", entry.PriorityHigh, 30*time.Second)
	paused.Status = entry.StatusPaused
	live = append(live, paused)

	got := DetectConflicts(cand, live)
	require.Len(t, got, 2)
	assert.Equal(t, "urgent-before", got[0].EntryID)
	assert.Equal(t, "two-min", got[1].EntryID)
	assert.Equal(t, 2*time.Minute, got[1].Gap)

	low := mk("low", entry.PriorityNormal, 0)
	assert.Empty(t, DetectConflicts(low, live))
}
