package scheduler

import "errors"

var (
	ErrNotFound         = errors.New("entry not found")
	ErrTerminal         = errors.New("entry is cancelled or completed")
	ErrNoAlertPending   = errors.New("no alert outstanding for entry")
	ErrSnoozeNotAllowed = errors.New("snooze not allowed")
	ErrNotPaused        = errors.New("entry is not paused")
	ErrNotActive        = errors.New("entry is not active")
	ErrNoFutureFire     = errors.New("trigger has no future fire time")
	ErrAlreadyLive      = errors.New("entry already live")
	ErrCapacity         = errors.New("live entry limit reached")
	ErrAlertOutstanding = errors.New("alert outstanding; acknowledge or dismiss it first")
)
