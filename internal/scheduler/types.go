package scheduler

import (
	"context"
	"sync"
	"time"

	"remindd/internal/clock"
	"remindd/internal/entry"
	"remindd/internal/eventbus"
	"remindd/internal/metrics"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local

	// TerminalGrace keeps cancelled/completed entries queryable for a short
	// while so the UI can reflect the terminal state. 0 removes immediately.
	TerminalGrace time.Duration

	// MaxLive caps the live set; 0 means unlimited.
	MaxLive int
}

const DefaultTerminalGrace = 5 * time.Second

// Request is an inbound creation request from a feature module.
type Request struct {
	Name           string
	Description    string
	Owner          string
	SourceModule   string
	SourceEntityID string
	Trigger        string
	Priority       entry.Priority     // empty means Normal
	Alert          *entry.AlertConfig // nil means entry.DefaultAlertConfig(Priority)
	Metadata       map[string]string
}

// Result is returned by every public operation. Failures carry a
// human-readable Message; Err keeps the underlying error for errors.Is.
type Result struct {
	OK      bool   `json:"success"`
	EntryID string `json:"entry_id,omitempty"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
	Err     error  `json:"-"`
}

func ok(id string) Result { return Result{OK: true, EntryID: id} }

func fail(id string, err error) Result {
	return Result{EntryID: id, Message: err.Error(), Err: err}
}

// Dispatcher renders fired entries. Dispatch must not block on user
// interaction; Retract closes any alert surface still open for the entry.
type Dispatcher interface {
	Dispatch(ctx context.Context, e entry.Entry) error
	Retract(entryID string)
}

// ChangeFunc observes every mutation with a snapshot of the entry.
// It is called outside the scheduler lock and must not block.
type ChangeFunc func(e entry.Entry)

// Stats is a diagnostics snapshot.
type Stats struct {
	Running  bool
	Timezone string
	Live     int
	Armed    int
	Pending  int
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clk = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithDispatcher(d Dispatcher) Option { return func(s *Service) { s.dispatcher = d } }

type liveEntry struct {
	e    entry.Entry
	trig trigger.Trigger

	timer clock.Timer
	gen   uint64 // generation of the pending timer; 0 when unarmed

	reap clock.Timer

	// snoozed marks the armed timer as a re-delivery of the last occurrence.
	snoozed bool
	// dispatching counts fires that released the lock to render. While it is
	// non-zero retract is left to fire so it lands after the render.
	dispatching int
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	loc     *time.Location
	clk     clock.Clock
	bus     eventbus.Bus
	metrics *metrics.Metrics

	dispatcher Dispatcher
	onChange   ChangeFunc

	ctx     context.Context
	running bool

	entries map[string]*liveEntry
	gen     uint64
}
