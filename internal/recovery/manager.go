package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"remindd/internal/entry"
	"remindd/internal/metrics"
	rtsup "remindd/internal/runtime/supervisor"
	"remindd/internal/scheduler"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

var (
	ErrNotReady     = errors.New("recovery: app not started")
	ErrShuttingDown = errors.New("recovery: shutting down")
)

// State is the lifecycle position of the manager.
type State int

const (
	StateUninitialized State = iota
	StateAppReady
	StateSessionActive
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateAppReady:
		return "app_ready"
	case StateSessionActive:
		return "session_active"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "uninitialized"
	}
}

// Config controls recovery.
type Config struct {
	// StaleAfter bounds how late a missed one-shot may still fire. 0 means 24h.
	StaleAfter time.Duration
	// PurgeInterval is the period of the stale snapshot sweep. 0 disables it.
	PurgeInterval time.Duration
	// WriteConcurrency bounds parallel snapshot writes during a flush.
	WriteConcurrency int
}

// Orchestrator is the scheduler surface recovery drives.
type Orchestrator interface {
	Now() time.Time
	Location() *time.Location
	SetObserver(fn scheduler.ChangeFunc)
	SetDispatcher(d scheduler.Dispatcher)
	Restore(e entry.Entry) scheduler.Result
	Unload(owner string) []entry.Entry
	ListByOwner(owner string) []entry.Entry
	Entries() []entry.Entry
	GetEntry(id string) (entry.Entry, bool)
}

// Report summarizes one recovery pass.
type Report struct {
	Loaded      int `json:"loaded"`
	Restored    int `json:"restored"`
	Rescheduled int `json:"rescheduled"`
	Purged      int `json:"purged"`
	Skipped     int `json:"skipped"`
}

func (r *Report) add(o Outcome) {
	switch o {
	case OutcomeRestored:
		r.Restored++
	case OutcomeRescheduled:
		r.Rescheduled++
	case OutcomePurged:
		r.Purged++
	case OutcomeSkipped:
		r.Skipped++
	}
}

// Manager owns the startup, session and shutdown lifecycle of persisted
// entries. A nil store disables persistence; lifecycle calls still succeed.
type Manager struct {
	cfg     Config
	log     logx.Logger
	orch    Orchestrator
	store   storage.Store
	disp    scheduler.Dispatcher
	metrics *metrics.Metrics

	mu       sync.Mutex
	state    State
	sessions map[string]struct{}
	sup      *rtsup.Supervisor
	w        *writer
}

type Option func(*Manager)

// WithDispatcher makes OnAppStart route fired entries to d.
func WithDispatcher(d scheduler.Dispatcher) Option { return func(m *Manager) { m.disp = d } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func New(cfg Config, log logx.Logger, orch Orchestrator, store storage.Store, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	m := &Manager{
		cfg:      cfg,
		log:      log,
		orch:     orch,
		store:    store,
		sessions: map[string]struct{}{},
	}
	for _, o := range opts {
		o(m)
	}
	if store != nil {
		m.w = newWriter(store, log, cfg.WriteConcurrency)
	}
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Sessions lists the owners with an active session.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for o := range m.sessions {
		out = append(out, o)
	}
	return out
}

// OnAppStart installs the persistence observer and dispatcher and starts
// the background writer. Calling it again is a no-op.
func (m *Manager) OnAppStart(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateShuttingDown:
		return ErrShuttingDown
	case StateAppReady, StateSessionActive:
		return nil
	}

	if m.disp != nil {
		m.orch.SetDispatcher(m.disp)
	}
	if m.w != nil {
		w := m.w
		m.orch.SetObserver(w.offer)
		m.sup = rtsup.New(ctx, rtsup.WithLogger(m.log))
		m.sup.GoRestart("recovery.writer", w.run, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
		if iv := m.cfg.PurgeInterval; iv > 0 {
			m.sup.Go0("recovery.sweep", func(ctx context.Context) { m.sweep(ctx, iv) })
		}
	} else {
		m.log.Warn("persistence disabled; entries will not survive a restart")
	}
	m.state = StateAppReady
	m.log.Info("recovery ready", logx.Bool("persistent", m.w != nil), logx.Duration("stale_after", m.cfg.StaleAfter))
	return nil
}

func (m *Manager) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := m.PurgeStale(ctx); err != nil {
				m.log.Warn("stale sweep failed", logx.Err(err))
			} else if n > 0 {
				m.log.Info("stale snapshots purged", logx.Int("count", n))
			}
		}
	}
}

func (m *Manager) ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateUninitialized:
		return ErrNotReady
	case StateShuttingDown:
		return ErrShuttingDown
	}
	return nil
}

// OnSessionStart restores the persisted entries of owner. It is the only
// path by which an owner's persisted state re-enters the live set.
func (m *Manager) OnSessionStart(ctx context.Context, owner string) (Report, error) {
	if err := m.ready(); err != nil {
		return Report{}, err
	}
	var rep Report
	if m.store != nil {
		list, err := m.store.LoadSnapshotsFor(ctx, owner)
		if err != nil {
			return rep, fmt.Errorf("load snapshots for %q: %w", owner, err)
		}
		rep = m.restore(ctx, list)
	}

	m.mu.Lock()
	m.sessions[owner] = struct{}{}
	if m.state == StateAppReady {
		m.state = StateSessionActive
	}
	m.mu.Unlock()
	m.log.Info("session started", logx.String("owner", owner), logx.Any("report", rep))
	return rep, nil
}

// OnRestart restores every persisted entry after a process restart,
// reconciling next runs missed while the process was down.
func (m *Manager) OnRestart(ctx context.Context) (Report, error) {
	if err := m.ready(); err != nil {
		return Report{}, err
	}
	if m.store == nil {
		return Report{}, nil
	}
	list, err := m.store.LoadAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load snapshots: %w", err)
	}
	rep := m.restore(ctx, list)
	m.log.Info("restart recovery done", logx.Any("report", rep))
	return rep, nil
}

func (m *Manager) restore(ctx context.Context, list []entry.Entry) Report {
	rep := Report{Loaded: len(list)}
	now := m.orch.Now()
	loc := m.orch.Location()
	for _, e := range list {
		if _, live := m.orch.GetEntry(e.ID); live {
			continue
		}
		out, outcome, reason, err := reconcile(e, now, loc, m.cfg.StaleAfter)
		switch outcome {
		case OutcomePurged:
			if derr := m.purge(ctx, e.ID); derr != nil {
				m.log.Warn("purge failed", logx.String("id", e.ID), logx.Err(derr))
				outcome = OutcomeSkipped
				break
			}
			m.log.Info("entry purged", logx.String("id", e.ID), logx.String("name", e.Name), logx.String("reason", reason))
		case OutcomeSkipped:
			m.log.Warn("entry skipped", logx.String("id", e.ID), logx.String("reason", reason), logx.Err(err))
		default:
			res := m.orch.Restore(out)
			if !res.OK {
				m.log.Warn("entry skipped", logx.String("id", e.ID), logx.String("reason", res.Message))
				outcome = OutcomeSkipped
				break
			}
			if outcome == OutcomeRescheduled {
				m.log.Info("entry rescheduled",
					logx.String("id", e.ID),
					logx.String("reason", reason),
					logx.Time("next", *out.NextRunAt),
				)
				if m.w != nil {
					m.w.offer(out)
				}
			}
		}
		rep.add(outcome)
		m.metrics.Recovered(string(outcome))
	}
	return rep
}

func (m *Manager) purge(ctx context.Context, id string) error {
	if m.w != nil {
		m.w.forget(id)
	}
	return m.store.DeleteSnapshot(ctx, id)
}

// OnSessionEnd persists owner's live entries, waits until the writes are
// durable, then tears down their timers.
func (m *Manager) OnSessionEnd(ctx context.Context, owner string) error {
	if err := m.ready(); err != nil {
		return err
	}
	m.snapshot(m.orch.ListByOwner(owner))
	errBefore := m.Flush(ctx)
	m.snapshot(m.orch.Unload(owner))
	err := errors.Join(errBefore, m.Flush(ctx))

	m.mu.Lock()
	delete(m.sessions, owner)
	if len(m.sessions) == 0 && m.state == StateSessionActive {
		m.state = StateAppReady
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("session end %q: %w", owner, err)
	}
	m.log.Info("session ended", logx.String("owner", owner))
	return nil
}

// OnAppShutdown persists every live entry and stops the writer once the
// writes are durable. Further lifecycle calls return ErrShuttingDown.
func (m *Manager) OnAppShutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	if m.state == StateShuttingDown {
		m.mu.Unlock()
		return nil
	}
	m.state = StateShuttingDown
	sup := m.sup
	m.mu.Unlock()

	start := time.Now()
	m.snapshot(m.orch.Entries())
	err := m.Flush(ctx)
	if sup != nil {
		sup.Cancel()
		if werr := sup.Wait(ctx); werr != nil && !errors.Is(werr, context.Canceled) {
			m.log.Warn("recovery workers did not stop cleanly", logx.Err(werr))
		}
	}
	if err != nil {
		return fmt.Errorf("shutdown flush: %w", err)
	}
	m.log.Info("recovery shut down", logx.Duration("took", time.Since(start)))
	return nil
}

func (m *Manager) snapshot(list []entry.Entry) {
	if m.w == nil {
		return
	}
	for _, e := range list {
		m.w.offer(e)
	}
}

// Flush blocks until every snapshot offered so far is durable.
func (m *Manager) Flush(ctx context.Context) error {
	if m.w == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return m.w.flush(ctx)
}

// PurgeStale deletes persisted snapshots that recovery would discard and
// that are not live: terminal entries and one-shots past their stale limit.
func (m *Manager) PurgeStale(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	list, err := m.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshots: %w", err)
	}
	now := m.orch.Now()
	loc := m.orch.Location()
	n := 0
	for _, e := range list {
		if _, live := m.orch.GetEntry(e.ID); live {
			continue
		}
		if _, outcome, _, _ := reconcile(e, now, loc, m.cfg.StaleAfter); outcome != OutcomePurged {
			continue
		}
		if err := m.purge(ctx, e.ID); err != nil {
			m.log.Warn("purge failed", logx.String("id", e.ID), logx.Err(err))
			continue
		}
		m.metrics.Recovered(string(OutcomePurged))
		n++
	}
	return n, nil
}
