// Package entry defines the schedulable unit of work: identity, trigger,
// lifecycle status, source reference, alert configuration and a bounded
// execution history.
package entry

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusCancelled || s == StatusCompleted }

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for tie-breaking; higher is more important.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	default:
		return 0
	}
}

// Elevated is true for High and Urgent.
func (p Priority) Elevated() bool { return p == PriorityHigh || p == PriorityUrgent }

// ParsePriority accepts the canonical names case-insensitively; empty means Normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return PriorityNormal, nil
	case PriorityUrgent:
		return PriorityUrgent, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityNormal:
		return PriorityNormal, nil
	case PriorityLow:
		return PriorityLow, nil
	default:
		return "", fmt.Errorf("unknown priority %q", s)
	}
}

// Channel is one alert delivery mechanism.
type Channel string

const (
	ChannelPopup        Channel = "popup"
	ChannelSound        Channel = "sound"
	ChannelSystem       Channel = "system_notification"
	ChannelDesktopFlash Channel = "desktop_flash"
)

// Known reports whether c is one of the supported channels.
func (c Channel) Known() bool {
	switch c {
	case ChannelPopup, ChannelSound, ChannelSystem, ChannelDesktopFlash:
		return true
	}
	return false
}

// AlertConfig controls how a fired entry is rendered.
//
// PopupDuration is the popup auto-close delay; when it elapses the popup is
// dismissed as if the user had pressed "dismiss".
type AlertConfig struct {
	Methods       []Channel     `json:"methods"`
	AllowSnooze   bool          `json:"allow_snooze"`
	SnoozeMinutes []int         `json:"snooze_minutes,omitempty"`
	PopupDuration time.Duration `json:"popup_duration,omitempty"`
	Volume        int           `json:"volume"`
	Sound         string        `json:"sound,omitempty"`
}

// Has reports whether the config delivers on channel c.
func (a AlertConfig) Has(c Channel) bool {
	for _, m := range a.Methods {
		if m == c {
			return true
		}
	}
	return false
}

// SnoozeAllowed reports whether a snooze of the given length is permitted.
// An empty SnoozeMinutes list allows any positive duration.
func (a AlertConfig) SnoozeAllowed(minutes int) bool {
	if !a.AllowSnooze || minutes <= 0 {
		return false
	}
	if len(a.SnoozeMinutes) == 0 {
		return true
	}
	for _, m := range a.SnoozeMinutes {
		if m == minutes {
			return true
		}
	}
	return false
}

func (a AlertConfig) clone() AlertConfig {
	out := a
	out.Methods = append([]Channel(nil), a.Methods...)
	out.SnoozeMinutes = append([]int(nil), a.SnoozeMinutes...)
	return out
}

const (
	DefaultVolume        = 70
	DefaultPopupDuration = 10 * time.Minute
)

var defaultSnooze = []int{5, 10, 15}

// DefaultAlertConfig picks channels by priority.
func DefaultAlertConfig(p Priority) AlertConfig {
	cfg := AlertConfig{
		AllowSnooze:   true,
		SnoozeMinutes: append([]int(nil), defaultSnooze...),
		PopupDuration: DefaultPopupDuration,
		Volume:        DefaultVolume,
	}
	switch p {
	case PriorityUrgent:
		cfg.Methods = []Channel{ChannelPopup, ChannelSound, ChannelSystem, ChannelDesktopFlash}
		cfg.Volume = 100
	case PriorityHigh:
		cfg.Methods = []Channel{ChannelPopup, ChannelSound, ChannelSystem}
	case PriorityLow:
		cfg.Methods = []Channel{ChannelSystem}
		cfg.PopupDuration = 0
	default:
		cfg.Methods = []Channel{ChannelPopup, ChannelSystem}
	}
	return cfg
}
