package scheduler

import (
	"context"
	"fmt"
	"time"

	"remindd/internal/entry"
	"remindd/internal/eventbus"
	logx "remindd/pkg/logx"
)

// armLocked (re)arms le's single timer for max(0, NextRunAt-now).
// The previous timer is always stopped first. Returns true if armed.
func (s *Service) armLocked(le *liveEntry) bool {
	s.disarmLocked(le)
	if !s.running || !le.e.Armable() {
		return false
	}
	s.gen++
	gen := s.gen
	id := le.e.ID
	delay := le.e.NextRunAt.Sub(s.clk.Now())
	if delay < 0 {
		delay = 0
	}
	le.gen = gen
	le.timer = s.clk.AfterFunc(delay, func() { s.fire(id, gen) })
	return true
}

func (s *Service) disarmLocked(le *liveEntry) {
	le.snoozed = false
	if le.timer != nil {
		le.timer.Stop()
	}
	le.timer = nil
	le.gen = 0
}

// nextFireLocked computes the next fire instant for le after now.
// A one-shot entry that already fired has none unless a snoozed re-delivery
// is still outstanding; a missed instant fires immediately when allowMissed
// is set.
func (s *Service) nextFireLocked(le *liveEntry, now time.Time, allowMissed bool) (time.Time, bool) {
	if !le.trig.IsOneShot() {
		return le.trig.NextFireAfter(now)
	}
	at := le.trig.At
	if le.e.ExecutionCount > 0 {
		if le.e.NextRunAt == nil {
			return time.Time{}, false
		}
		at = *le.e.NextRunAt
	}
	if at.After(now) {
		return at, true
	}
	if allowMissed {
		return now, true
	}
	return time.Time{}, false
}

// fire is the timer callback. It takes the same lock as the API so a
// concurrent cancel either wins (generation mismatch) or sees the fire.
func (s *Service) fire(id string, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("fire panic recovered", logx.String("id", id), logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 24)))
		}
	}()

	s.mu.Lock()
	le, found := s.entries[id]
	if !found || le.gen != gen {
		s.mu.Unlock()
		return
	}
	le.timer = nil
	le.gen = 0
	if !le.e.Enabled || le.e.Status != entry.StatusActive {
		s.gaugesLocked()
		s.mu.Unlock()
		s.log.Debug("fire skipped", logx.String("id", id), logx.String("status", string(le.e.Status)), logx.Bool("enabled", le.e.Enabled))
		return
	}

	now := s.nowLocked()
	redelivery := le.snoozed
	le.snoozed = false
	le.e.LastRunAt = &now
	if !redelivery {
		le.e.ExecutionCount++
	}
	le.e.AlertPending = true
	le.e.History.Push(entry.HistoryItem{FiredAt: now, Success: true})

	if le.trig.IsOneShot() {
		le.e.SetNextRun(nil)
	} else if next, ok := le.trig.NextFireAfter(now); ok {
		le.e.SetNextRun(&next)
		s.armLocked(le)
	} else {
		le.e.SetNextRun(nil)
		s.log.Warn("recurring entry has no further occurrences", logx.String("id", id), logx.String("trigger", le.e.Trigger))
	}
	le.e.Touch(now)
	le.dispatching++
	snap := le.e.Clone()
	d := s.dispatcher
	ctx := s.ctx
	s.gaugesLocked()
	s.mu.Unlock()

	s.metrics.Fired(string(snap.Priority))
	s.publish(eventbus.TopicEntryFired, snap)
	s.observe(snap)
	s.log.Info("entry fired",
		logx.String("id", id),
		logx.String("name", snap.Name),
		logx.Uint64("count", snap.ExecutionCount),
		logx.Bool("recurring", snap.NextRunAt != nil),
		logx.Bool("snoozed", redelivery),
	)

	start := time.Now()
	err := s.dispatch(ctx, d, snap)
	took := time.Since(start)

	s.mu.Lock()
	le, found = s.entries[id]
	if !found {
		s.mu.Unlock()
		s.retract(id)
		return
	}
	if le.dispatching > 0 {
		le.dispatching--
	}
	// Cancel, pause, snooze or resolve during dispatch leave the rendered
	// alert behind; withdraw it now that rendering is done.
	withdrawn := le.e.Status != entry.StatusActive || !le.e.AlertPending
	if latest, ok := le.e.History.Latest(); ok && latest.FiredAt.Equal(now) {
		latest.DurationMs = took.Milliseconds()
		if err != nil {
			latest.Success = false
			latest.Error = err.Error()
		}
		le.e.History.UpdateLatest(latest)
	}
	completed := false
	if err != nil && !withdrawn && le.trig.IsOneShot() && le.e.NextRunAt == nil {
		// Nothing was rendered and the occurrence is not retried.
		s.terminateLocked(le, entry.StatusCompleted, s.nowLocked())
		completed = true
	} else {
		le.e.Touch(s.nowLocked())
	}
	snap = le.e.Clone()
	s.gaugesLocked()
	s.mu.Unlock()

	if withdrawn || completed {
		s.retract(id)
		s.log.Debug("alert withdrawn after dispatch", logx.String("id", id), logx.String("status", string(snap.Status)))
	}
	s.observe(snap)
	if err != nil {
		s.metrics.FireFailed()
		s.publish(eventbus.TopicEntryFailed, snap)
		s.log.Warn("entry dispatch failed", logx.String("id", id), logx.String("name", snap.Name), logx.Err(err))
	}
	if completed {
		s.publish(eventbus.TopicEntryCompleted, snap)
	}
}

// dispatch runs d with panic isolation; a panic degrades to an error.
func (s *Service) dispatch(ctx context.Context, d Dispatcher, e entry.Entry) (err error) {
	if d == nil {
		s.log.Debug("no dispatcher installed; fire recorded only", logx.String("id", e.ID))
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
			s.log.Error("dispatch panic recovered", logx.String("id", e.ID), logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 24)))
		}
	}()
	return d.Dispatch(ctx, e)
}

func (s *Service) retract(id string) {
	s.mu.Lock()
	d := s.dispatcher
	s.mu.Unlock()
	if d == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("retract panic recovered", logx.String("id", id), logx.Any("panic", r))
		}
	}()
	d.Retract(id)
}

// terminateLocked moves le into a terminal status and schedules its removal
// from the live set after the grace period.
func (s *Service) terminateLocked(le *liveEntry, status entry.Status, now time.Time) {
	s.disarmLocked(le)
	le.e.Status = status
	le.e.Enabled = false
	le.e.AlertPending = false
	le.e.SetNextRun(nil)
	le.e.Touch(now)

	if le.reap != nil {
		le.reap.Stop()
		le.reap = nil
	}
	id := le.e.ID
	g := s.grace()
	if g <= 0 {
		delete(s.entries, id)
		return
	}
	target := le
	le.reap = s.clk.AfterFunc(g, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.entries[id]; ok && cur == target && cur.e.Status.Terminal() {
			delete(s.entries, id)
			s.gaugesLocked()
		}
	})
}

func (s *Service) publish(topic string, e entry.Entry) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Topic: topic, Key: e.ID, Data: e})
}

func (s *Service) observe(e entry.Entry) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("observer panic recovered", logx.String("id", e.ID), logx.Any("panic", r))
		}
	}()
	fn(e)
}
