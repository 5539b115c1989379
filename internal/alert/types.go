package alert

import (
	"context"
	"errors"
	"time"

	"remindd/internal/entry"
	"remindd/internal/scheduler"
)

var (
	ErrNoChannel       = errors.New("no channel registered")
	ErrAlreadyResolved = errors.New("alert already resolved")
	ErrQueueFull       = errors.New("notification queue full")
	ErrStopped         = errors.New("notification queue stopped")
	ErrUnknownAction   = errors.New("unknown action")
)

// Alert is the rendering-independent view of one fired entry.
type Alert struct {
	EntryID     string            `json:"entry_id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Priority    entry.Priority    `json:"priority"`
	Config      entry.AlertConfig `json:"config"`
	FiredAt     time.Time         `json:"fired_at"`
	Count       uint64            `json:"count"`
	Recurring   bool              `json:"recurring"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// FromEntry builds an Alert from a fired entry snapshot.
func FromEntry(e entry.Entry) Alert {
	a := Alert{
		EntryID:     e.ID,
		Name:        e.Name,
		Description: e.Description,
		Priority:    e.Priority,
		Config:      e.Alert,
		Count:       e.ExecutionCount,
		Recurring:   e.NextRunAt != nil,
		Metadata:    e.Metadata,
	}
	if e.LastRunAt != nil {
		a.FiredAt = *e.LastRunAt
	}
	return a
}

// Channel is one delivery strategy. Deliver must not wait for the user.
type Channel interface {
	Kind() entry.Channel
	Deliver(ctx context.Context, a Alert) error
}

// Closer is implemented by channels that keep a surface open per entry.
type Closer interface {
	Close(entryID string)
}

type ActionKind string

const (
	ActionAcknowledge ActionKind = "acknowledge"
	ActionDismiss     ActionKind = "dismiss"
	ActionSnooze      ActionKind = "snooze"
)

// Action is a user response to an alert.
type Action struct {
	EntryID       string     `json:"entry_id"`
	Kind          ActionKind `json:"kind"`
	SnoozeMinutes int        `json:"snooze_minutes,omitempty"`
}

// Button is one popup action.
type Button struct {
	Label  string `json:"label"`
	Action Action `json:"action"`
}

// Controller is the orchestrator surface user actions are routed to.
type Controller interface {
	AcknowledgeAlert(id string) scheduler.Result
	DismissAlert(id string) scheduler.Result
	Snooze(id string, minutes int) scheduler.Result
}
