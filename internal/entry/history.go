package entry

import (
	"encoding/json"
	"time"
)

// HistoryCap is the number of execution records kept per entry.
const HistoryCap = 10

// HistoryItem records one fire.
type HistoryItem struct {
	FiredAt    time.Time `json:"fired_at"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

// History is a fixed-capacity ring of the most recent executions.
// The zero value is empty and ready to use.
type History struct {
	buf  [HistoryCap]HistoryItem
	head int // index of the next write
	n    int
}

// Push records it as the most recent item, evicting the oldest when full.
func (h *History) Push(it HistoryItem) {
	h.buf[h.head] = it
	h.head = (h.head + 1) % HistoryCap
	if h.n < HistoryCap {
		h.n++
	}
}

func (h *History) Len() int { return h.n }

// Latest returns the most recent item.
func (h *History) Latest() (HistoryItem, bool) {
	if h.n == 0 {
		return HistoryItem{}, false
	}
	return h.buf[(h.head-1+HistoryCap)%HistoryCap], true
}

// UpdateLatest replaces the most recent item in place.
func (h *History) UpdateLatest(it HistoryItem) bool {
	if h.n == 0 {
		return false
	}
	h.buf[(h.head-1+HistoryCap)%HistoryCap] = it
	return true
}

// Items returns the records most-recent-first.
func (h *History) Items() []HistoryItem {
	out := make([]HistoryItem, 0, h.n)
	for i := 1; i <= h.n; i++ {
		out = append(out, h.buf[(h.head-i+HistoryCap)%HistoryCap])
	}
	return out
}

func (h History) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Items())
}

func (h *History) UnmarshalJSON(b []byte) error {
	var items []HistoryItem
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	*h = History{}
	if len(items) > HistoryCap {
		items = items[:HistoryCap]
	}
	// items are most-recent-first; push oldest first.
	for i := len(items) - 1; i >= 0; i-- {
		h.Push(items[i])
	}
	return nil
}
