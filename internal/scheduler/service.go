package scheduler

import (
	"context"
	"strings"
	"time"

	"remindd/internal/clock"
	"remindd/internal/eventbus"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		clk:     clock.Real(),
		ctx:     context.Background(),
		entries: map[string]*liveEntry{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocationLocked()
	return s
}

// SetDispatcher installs the alert dispatcher used on fire.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.mu.Lock()
	s.dispatcher = d
	s.mu.Unlock()
}

// SetObserver installs the mutation observer (persistence hook).
func (s *Service) SetObserver(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Location returns the timezone triggers are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Now returns the scheduler's current time in its timezone.
func (s *Service) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nowLocked()
}

func (s *Service) nowLocked() time.Time { return s.clk.Now().In(s.loc) }

// Start arms every armable entry. Entries created before Start are kept and
// armed here.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx = ctx
	s.running = true
	armed := 0
	for _, le := range s.entries {
		if s.armLocked(le) {
			armed++
		}
	}
	s.gaugesLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("entries", len(s.entries)), logx.Int("armed", armed))
}

// Stop disarms every timer. Entries stay in memory so they can be
// snapshotted and re-armed by a later Start.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	start := time.Now()
	s.mu.Lock()
	s.running = false
	for _, le := range s.entries {
		s.disarmLocked(le)
		if le.reap != nil {
			le.reap.Stop()
			le.reap = nil
		}
	}
	s.gaugesLocked()
	s.mu.Unlock()
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Apply updates the config. A timezone change re-parses every trigger in the
// new location and re-arms.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.loc = s.loadLocationLocked()
	now := s.nowLocked()
	for id, le := range s.entries {
		tr, err := trigger.Parse(le.e.Trigger, s.loc)
		if err != nil {
			s.log.Warn("trigger re-parse failed after timezone change", logx.String("id", id), logx.Err(err))
			continue
		}
		le.trig = tr
		if le.e.Status.Terminal() || le.snoozed || (le.trig.IsOneShot() && le.e.AlertPending) {
			continue
		}
		if next, ok := s.nextFireLocked(le, now, false); ok {
			le.e.SetNextRun(&next)
		}
		s.armLocked(le)
	}
	s.gaugesLocked()
	s.log.Info("timezone changed; entries re-armed", logx.String("tz", s.loc.String()), logx.Int("entries", len(s.entries)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) grace() time.Duration {
	if s.cfg.TerminalGrace < 0 {
		return 0
	}
	return s.cfg.TerminalGrace
}

// Stats returns counts for diagnostics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Running: s.running, Timezone: s.loc.String(), Live: len(s.entries)}
	for _, le := range s.entries {
		if le.timer != nil {
			st.Armed++
		}
		if le.e.AlertPending {
			st.Pending++
		}
	}
	return st
}

func (s *Service) gaugesLocked() {
	if s.metrics == nil {
		return
	}
	armed := 0
	for _, le := range s.entries {
		if le.timer != nil {
			armed++
		}
	}
	s.metrics.SetArmed(armed)
	s.metrics.SetLive(len(s.entries))
}
