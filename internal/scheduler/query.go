package scheduler

import (
	"sort"
	"time"

	"remindd/internal/entry"
)

// GetEntry returns a snapshot of id.
func (s *Service) GetEntry(id string) (entry.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	le, found := s.entries[id]
	if !found {
		return entry.Entry{}, false
	}
	return le.e.Clone(), true
}

// ListActive returns every Active entry, ordered by next fire time.
func (s *Service) ListActive() []entry.Entry {
	s.mu.Lock()
	out := s.snapshotLocked(func(e *entry.Entry) bool { return e.Status == entry.StatusActive })
	s.mu.Unlock()
	sortUpcoming(out)
	return out
}

// ListUpcoming returns armed entries firing in (now, now+within], earliest
// first. Ties go to the higher priority, then the lower id.
func (s *Service) ListUpcoming(within time.Duration) []entry.Entry {
	s.mu.Lock()
	now := s.nowLocked()
	until := now.Add(within)
	out := s.snapshotLocked(func(e *entry.Entry) bool {
		if !e.Armable() {
			return false
		}
		return e.NextRunAt.After(now) && !e.NextRunAt.After(until)
	})
	s.mu.Unlock()
	sortUpcoming(out)
	return out
}

// ListByOwner returns every live entry of owner regardless of status.
func (s *Service) ListByOwner(owner string) []entry.Entry {
	s.mu.Lock()
	out := s.snapshotLocked(func(e *entry.Entry) bool { return e.Owner == owner })
	s.mu.Unlock()
	sortByID(out)
	return out
}

// Entries returns every live entry.
func (s *Service) Entries() []entry.Entry {
	s.mu.Lock()
	out := s.snapshotLocked(nil)
	s.mu.Unlock()
	sortByID(out)
	return out
}

func (s *Service) snapshotLocked(keep func(e *entry.Entry) bool) []entry.Entry {
	out := make([]entry.Entry, 0, len(s.entries))
	for _, le := range s.entries {
		if keep != nil && !keep(&le.e) {
			continue
		}
		out = append(out, le.e.Clone())
	}
	return out
}

func sortByID(es []entry.Entry) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID < es[j].ID })
}

func sortUpcoming(es []entry.Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		a, b := es[i].NextRunAt, es[j].NextRunAt
		switch {
		case a == nil && b != nil:
			return false
		case a != nil && b == nil:
			return true
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		if ra, rb := es[i].Priority.Rank(), es[j].Priority.Rank(); ra != rb {
			return ra > rb
		}
		return es[i].ID < es[j].ID
	})
}
