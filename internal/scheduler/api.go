package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindd/internal/entry"
	"remindd/internal/eventbus"
	"remindd/internal/policy"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// guard turns a panic inside an operation into a failed Result so the
// caller's loop survives.
func (s *Service) guard(op, id string, fn func() Result) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("operation panic recovered",
				logx.String("op", op),
				logx.String("id", id),
				logx.Any("panic", r),
				logx.Stack(logx.StackTrace(3, 24)),
			)
			res = fail(id, fmt.Errorf("%s: internal error: %v", op, r))
		}
	}()
	return fn()
}

// Create validates req, stores a new Active entry and arms it.
// Conflicts with other elevated entries are reported but never block.
func (s *Service) Create(req Request) Result {
	return s.guard("create", "", func() Result {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			return fail("", &policy.ValidationError{Field: "name", Reason: "required"})
		}
		prio, err := entry.ParsePriority(string(req.Priority))
		if err != nil {
			return fail("", &policy.ValidationError{Field: "priority", Reason: err.Error()})
		}
		alert := entry.DefaultAlertConfig(prio)
		if req.Alert != nil {
			alert = *req.Alert
		}
		if err := policy.ValidateAlertConfig(alert); err != nil {
			return fail("", err)
		}

		s.mu.Lock()
		if s.cfg.MaxLive > 0 && len(s.entries) >= s.cfg.MaxLive {
			s.mu.Unlock()
			return fail("", fmt.Errorf("%w (%d)", ErrCapacity, s.cfg.MaxLive))
		}
		now := s.nowLocked()
		tr, err := trigger.Parse(req.Trigger, s.loc)
		if err != nil {
			s.mu.Unlock()
			return fail("", &policy.ValidationError{Field: "trigger", Reason: err.Error()})
		}
		first, err := firstFire(tr, now)
		if err != nil {
			s.mu.Unlock()
			return fail("", err)
		}

		e := entry.Entry{
			ID:             uuid.NewString(),
			Owner:          strings.TrimSpace(req.Owner),
			Name:           name,
			Description:    req.Description,
			Trigger:        strings.TrimSpace(req.Trigger),
			Status:         entry.StatusActive,
			Enabled:        true,
			SourceModule:   req.SourceModule,
			SourceEntityID: req.SourceEntityID,
			Priority:       prio,
			Alert:          alert,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if len(req.Metadata) > 0 {
			e.Metadata = make(map[string]string, len(req.Metadata))
			for k, v := range req.Metadata {
				e.Metadata[k] = v
			}
		}
		e.SetNextRun(&first)

		conflicts := policy.DetectConflicts(e, s.snapshotLocked(nil))

		le := &liveEntry{e: e, trig: tr}
		s.entries[e.ID] = le
		armed := s.armLocked(le)
		snap := le.e.Clone()
		s.gaugesLocked()
		s.mu.Unlock()

		s.log.Info("entry created",
			logx.String("id", snap.ID),
			logx.String("name", snap.Name),
			logx.String("trigger", snap.Trigger),
			logx.String("kind", tr.Kind.String()),
			logx.Time("next", first),
			logx.Bool("armed", armed),
		)
		if len(conflicts) > 0 {
			ids := make([]string, 0, len(conflicts))
			for _, c := range conflicts {
				ids = append(ids, c.EntryID)
			}
			s.log.Warn("entry conflicts with other high-priority entries", logx.String("id", snap.ID), logx.Strings("conflicts", ids))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Topic: eventbus.TopicEntryConflict, Key: snap.ID, Data: conflicts})
			}
		}
		s.publish(eventbus.TopicEntryCreated, snap)
		s.observe(snap)

		res := ok(snap.ID)
		res.Count = len(conflicts)
		if len(conflicts) > 0 {
			res.Message = fmt.Sprintf("created with %d conflicting entries", len(conflicts))
		}
		return res
	})
}

func firstFire(tr trigger.Trigger, now time.Time) (time.Time, error) {
	if tr.IsOneShot() {
		if err := policy.ValidateFireTime(tr.At, now); err != nil {
			return time.Time{}, err
		}
		return tr.At, nil
	}
	next, found := tr.NextFireAfter(now)
	if !found {
		return time.Time{}, &policy.ValidationError{Field: "trigger", Reason: "pattern never fires"}
	}
	if err := policy.ValidateFireTime(next, now); err != nil {
		return time.Time{}, err
	}
	return next, nil
}

// Cancel moves an entry to Cancelled. Its timer is stopped before Cancel
// returns, so it can no longer fire.
func (s *Service) Cancel(id string) Result {
	return s.guard("cancel", id, func() Result {
		s.mu.Lock()
		le, found := s.entries[id]
		if !found {
			s.mu.Unlock()
			return fail(id, ErrNotFound)
		}
		if le.e.Status.Terminal() {
			s.mu.Unlock()
			return fail(id, ErrTerminal)
		}
		deferred := le.dispatching > 0
		s.terminateLocked(le, entry.StatusCancelled, s.nowLocked())
		snap := le.e.Clone()
		s.gaugesLocked()
		s.mu.Unlock()

		if !deferred {
			s.retract(id)
		}
		s.publish(eventbus.TopicEntryCancelled, snap)
		s.observe(snap)
		s.log.Info("entry cancelled", logx.String("id", id), logx.String("name", snap.Name))
		return ok(id)
	})
}

// CancelBySource cancels every non-terminal entry requested by
// module/entityID. Count reports how many were cancelled.
func (s *Service) CancelBySource(module, entityID string) Result {
	return s.guard("cancel_by_source", "", func() Result {
		s.mu.Lock()
		now := s.nowLocked()
		var snaps []entry.Entry
		deferred := map[string]bool{}
		for _, le := range s.entries {
			if le.e.Status.Terminal() || !le.e.MatchesSource(module, entityID) {
				continue
			}
			deferred[le.e.ID] = le.dispatching > 0
			s.terminateLocked(le, entry.StatusCancelled, now)
			snaps = append(snaps, le.e.Clone())
		}
		s.gaugesLocked()
		s.mu.Unlock()

		for _, snap := range snaps {
			if !deferred[snap.ID] {
				s.retract(snap.ID)
			}
			s.publish(eventbus.TopicEntryCancelled, snap)
			s.observe(snap)
		}
		s.log.Info("entries cancelled by source",
			logx.String("module", module),
			logx.String("entity", entityID),
			logx.Int("count", len(snaps)),
		)
		return Result{OK: true, Count: len(snaps)}
	})
}

// Pause stops an Active entry's timer without discarding it. A fired
// one-shot with its alert outstanding must be resolved instead.
func (s *Service) Pause(id string) Result {
	return s.guard("pause", id, func() Result {
		s.mu.Lock()
		le, found := s.entries[id]
		if !found {
			s.mu.Unlock()
			return fail(id, ErrNotFound)
		}
		if le.e.Status != entry.StatusActive {
			s.mu.Unlock()
			return fail(id, ErrNotActive)
		}
		if le.trig.IsOneShot() && le.e.AlertPending {
			s.mu.Unlock()
			return fail(id, ErrAlertOutstanding)
		}
		deferred := le.dispatching > 0
		s.disarmLocked(le)
		le.e.Status = entry.StatusPaused
		le.e.Enabled = false
		le.e.AlertPending = false
		le.e.Touch(s.nowLocked())
		snap := le.e.Clone()
		s.gaugesLocked()
		s.mu.Unlock()

		if !deferred {
			s.retract(id)
		}
		s.observe(snap)
		s.log.Info("entry paused", logx.String("id", id))
		return ok(id)
	})
}

// Resume re-activates a Paused entry. A one-shot whose instant passed while
// paused fires immediately; a snoozed one-shot resumes its re-delivery. A
// one-shot that fired with nothing left to deliver cannot be resumed.
func (s *Service) Resume(id string) Result {
	return s.guard("resume", id, func() Result {
		s.mu.Lock()
		le, found := s.entries[id]
		if !found {
			s.mu.Unlock()
			return fail(id, ErrNotFound)
		}
		if le.e.Status != entry.StatusPaused {
			s.mu.Unlock()
			return fail(id, ErrNotPaused)
		}
		now := s.nowLocked()
		next, found := s.nextFireLocked(le, now, true)
		if !found {
			s.mu.Unlock()
			return fail(id, ErrNoFutureFire)
		}
		le.e.Status = entry.StatusActive
		le.e.Enabled = true
		le.e.SetNextRun(&next)
		le.e.Touch(now)
		if s.armLocked(le) && le.trig.IsOneShot() && le.e.ExecutionCount > 0 {
			le.snoozed = true
		}
		snap := le.e.Clone()
		s.gaugesLocked()
		s.mu.Unlock()

		s.observe(snap)
		s.log.Info("entry resumed", logx.String("id", id), logx.Time("next", next))
		return ok(id)
	})
}

// Reschedule replaces the trigger. Execution count and history are kept.
// A paused entry stores the new next fire but stays unarmed.
func (s *Service) Reschedule(id, raw string) Result {
	return s.guard("reschedule", id, func() Result {
		s.mu.Lock()
		le, found := s.entries[id]
		if !found {
			s.mu.Unlock()
			return fail(id, ErrNotFound)
		}
		if le.e.Status.Terminal() {
			s.mu.Unlock()
			return fail(id, ErrTerminal)
		}
		now := s.nowLocked()
		tr, err := trigger.Parse(raw, s.loc)
		if err != nil {
			s.mu.Unlock()
			return fail(id, &policy.ValidationError{Field: "trigger", Reason: err.Error()})
		}
		next, err := firstFire(tr, now)
		if err != nil {
			s.mu.Unlock()
			return fail(id, err)
		}
		wasPending := le.e.AlertPending && le.dispatching == 0
		le.trig = tr
		le.e.Trigger = strings.TrimSpace(raw)
		le.e.AlertPending = false
		le.e.SetNextRun(&next)
		le.e.Touch(now)
		s.armLocked(le)
		snap := le.e.Clone()
		s.gaugesLocked()
		s.mu.Unlock()

		if wasPending {
			s.retract(id)
		}
		s.observe(snap)
		s.log.Info("entry rescheduled", logx.String("id", id), logx.String("trigger", snap.Trigger), logx.Time("next", next))
		return ok(id)
	})
}

// Snooze defers a pending alert by minutes. The re-delivery is recorded in
// history but is not a new execution.
func (s *Service) Snooze(id string, minutes int) Result {
	return s.guard("snooze", id, func() Result {
		s.mu.Lock()
		le, found := s.entries[id]
		if !found {
			s.mu.Unlock()
			return fail(id, ErrNotFound)
		}
		if le.e.Status != entry.StatusActive {
			s.mu.Unlock()
			return fail(id, ErrNotActive)
		}
		if !le.e.AlertPending {
			s.mu.Unlock()
			return fail(id, ErrNoAlertPending)
		}
		if !le.e.Alert.SnoozeAllowed(minutes) {
			s.mu.Unlock()
			return fail(id, fmt.Errorf("%w: %d minutes", ErrSnoozeNotAllowed, minutes))
		}
		now := s.nowLocked()
		next := now.Add(time.Duration(minutes) * time.Minute)
		deferred := le.dispatching > 0
		le.e.AlertPending = false
		le.e.SetNextRun(&next)
		le.e.Touch(now)
		s.armLocked(le)
		le.snoozed = true
		snap := le.e.Clone()
		s.gaugesLocked()
		s.mu.Unlock()

		if !deferred {
			s.retract(id)
		}
		s.publish(eventbus.TopicEntrySnoozed, snap)
		s.observe(snap)
		s.log.Info("alert snoozed", logx.String("id", id), logx.Int("minutes", minutes), logx.Time("next", next))
		return ok(id)
	})
}

// AcknowledgeAlert resolves a pending alert. A one-shot entry with no
// further fire completes.
func (s *Service) AcknowledgeAlert(id string) Result {
	return s.resolve("acknowledge", id)
}

// DismissAlert resolves a pending alert without acknowledging it. The
// lifecycle effect matches AcknowledgeAlert.
func (s *Service) DismissAlert(id string) Result {
	return s.resolve("dismiss", id)
}

func (s *Service) resolve(op, id string) Result {
	return s.guard(op, id, func() Result {
		s.mu.Lock()
		le, found := s.entries[id]
		if !found {
			s.mu.Unlock()
			return fail(id, ErrNotFound)
		}
		if !le.e.AlertPending {
			s.mu.Unlock()
			return fail(id, ErrNoAlertPending)
		}
		now := s.nowLocked()
		deferred := le.dispatching > 0
		le.e.AlertPending = false
		completed := false
		if le.trig.IsOneShot() && le.e.NextRunAt == nil && !le.e.Status.Terminal() {
			s.terminateLocked(le, entry.StatusCompleted, now)
			completed = true
		} else {
			le.e.Touch(now)
		}
		snap := le.e.Clone()
		s.gaugesLocked()
		s.mu.Unlock()

		if !deferred {
			s.retract(id)
		}
		if completed {
			s.publish(eventbus.TopicEntryCompleted, snap)
		}
		s.observe(snap)
		s.log.Info("alert resolved", logx.String("op", op), logx.String("id", id), logx.Bool("completed", completed))
		return ok(id)
	})
}

// Restore loads a persisted entry into the live set and arms it if armable.
// No lifecycle event is published. A one-shot restored with an outstanding
// alert and a next run re-delivers that alert without counting a new
// execution.
func (s *Service) Restore(e entry.Entry) Result {
	return s.guard("restore", e.ID, func() Result {
		if strings.TrimSpace(e.ID) == "" {
			return fail("", &policy.ValidationError{Field: "id", Reason: "required"})
		}
		if e.Status.Terminal() {
			return fail(e.ID, ErrTerminal)
		}
		s.mu.Lock()
		if _, exists := s.entries[e.ID]; exists {
			s.mu.Unlock()
			return fail(e.ID, ErrAlreadyLive)
		}
		tr, err := trigger.Parse(e.Trigger, s.loc)
		if err != nil {
			s.mu.Unlock()
			return fail(e.ID, &policy.ValidationError{Field: "trigger", Reason: err.Error()})
		}
		le := &liveEntry{e: e.Clone(), trig: tr}
		s.entries[e.ID] = le
		armed := s.armLocked(le)
		if armed && le.e.AlertPending && tr.IsOneShot() {
			le.snoozed = true
		}
		s.gaugesLocked()
		s.mu.Unlock()

		s.log.Debug("entry restored", logx.String("id", e.ID), logx.String("status", string(e.Status)), logx.Bool("armed", armed))
		return ok(e.ID)
	})
}

// Unload removes every entry of owner from the live set without changing
// their status and returns their final snapshots.
func (s *Service) Unload(owner string) []entry.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entry.Entry
	for id, le := range s.entries {
		if le.e.Owner != owner {
			continue
		}
		s.disarmLocked(le)
		if le.reap != nil {
			le.reap.Stop()
			le.reap = nil
		}
		out = append(out, le.e.Clone())
		delete(s.entries, id)
	}
	s.gaugesLocked()
	sortByID(out)
	return out
}
