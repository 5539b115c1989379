package recovery

import (
	"time"

	"remindd/internal/entry"
	"remindd/internal/trigger"
)

// Outcome is what recovery did with one persisted entry.
type Outcome string

const (
	OutcomeRestored    Outcome = "restored"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomePurged      Outcome = "purged"
	OutcomeSkipped     Outcome = "skipped"
)

// DefaultStaleAfter is how long past its fire time a one-shot entry may be
// before recovery discards it instead of firing it late.
const DefaultStaleAfter = 24 * time.Hour

// reconcile decides how a persisted entry re-enters the live set at now.
//
//   - terminal entries are purged
//   - an unparseable trigger is skipped (the snapshot is kept)
//   - recurring entries with a stale next run move to the next occurrence
//     after now; with no occurrence left they are purged
//   - a one-shot missed by at most staleAfter fires now; older ones are
//     purged
//   - a one-shot that fired but whose alert was never resolved is
//     re-delivered under the same rule, measured from its last run
func reconcile(e entry.Entry, now time.Time, loc *time.Location, staleAfter time.Duration) (entry.Entry, Outcome, string, error) {
	if e.Status.Terminal() {
		return e, OutcomePurged, "terminal", nil
	}
	tr, err := trigger.Parse(e.Trigger, loc)
	if err != nil {
		return e, OutcomeSkipped, "bad trigger", err
	}

	if e.Status == entry.StatusPaused || !e.Enabled {
		if tr.IsOneShot() && now.Sub(tr.At) > staleAfter {
			return e, OutcomePurged, "stale", nil
		}
		return e, OutcomeRestored, "", nil
	}

	if !tr.IsOneShot() {
		want, ok := tr.NextFireAfter(now)
		if !ok {
			return e, OutcomePurged, "no further occurrence", nil
		}
		if e.NextRunAt != nil && e.NextRunAt.After(now) && !want.Before(*e.NextRunAt) {
			return e, OutcomeRestored, "", nil
		}
		e.AlertPending = false
		e.SetNextRun(&want)
		e.Touch(now)
		return e, OutcomeRescheduled, "recomputed", nil
	}

	var ref time.Time
	switch {
	case e.NextRunAt != nil:
		if e.NextRunAt.After(now) {
			return e, OutcomeRestored, "", nil
		}
		ref = *e.NextRunAt
	case e.AlertPending && e.LastRunAt != nil:
		ref = *e.LastRunAt
	default:
		return e, OutcomePurged, "already fired", nil
	}
	if now.Sub(ref) > staleAfter {
		return e, OutcomePurged, "stale", nil
	}
	next := now
	e.SetNextRun(&next)
	e.Touch(now)
	return e, OutcomeRescheduled, "missed", nil
}
