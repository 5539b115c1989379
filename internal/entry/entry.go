package entry

import (
	"time"
)

// Entry is the schedulable aggregate.
//
// Entries are owned by the scheduler; everything handed out of it (events,
// queries, persistence) is a Clone.
type Entry struct {
	ID          string `json:"id"`
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Trigger     string `json:"trigger"`

	Status  Status `json:"status"`
	Enabled bool   `json:"enabled"`

	SourceModule   string `json:"source_module,omitempty"`
	SourceEntityID string `json:"source_entity_id,omitempty"`

	Priority Priority          `json:"priority"`
	Alert    AlertConfig       `json:"alert"`
	Metadata map[string]string `json:"metadata,omitempty"`

	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	ExecutionCount uint64  `json:"execution_count"`
	History        History `json:"history"`

	// AlertPending is set between a fire and the user's acknowledge/dismiss/snooze.
	AlertPending bool `json:"alert_pending,omitempty"`

	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch marks a mutation.
func (e *Entry) Touch(now time.Time) {
	e.Version++
	e.UpdatedAt = now
}

// SetNextRun stores a copy of t (nil clears it).
func (e *Entry) SetNextRun(t *time.Time) {
	if t == nil {
		e.NextRunAt = nil
		return
	}
	v := *t
	e.NextRunAt = &v
}

// Armable reports whether the entry may hold a live timer.
func (e *Entry) Armable() bool {
	return e.Enabled && e.Status == StatusActive && e.NextRunAt != nil
}

// MatchesSource reports whether the entry was requested by module/entityID.
func (e *Entry) MatchesSource(module, entityID string) bool {
	return e.SourceModule == module && e.SourceEntityID == entityID
}

// Clone returns a deep copy.
func (e *Entry) Clone() Entry {
	out := *e
	out.Alert = e.Alert.clone()
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	if e.NextRunAt != nil {
		t := *e.NextRunAt
		out.NextRunAt = &t
	}
	if e.LastRunAt != nil {
		t := *e.LastRunAt
		out.LastRunAt = &t
	}
	return out
}
