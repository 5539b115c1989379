package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"remindd/internal/entry"
	"remindd/internal/metrics"
	"remindd/internal/scheduler"
	logx "remindd/pkg/logx"
)

const defaultRecentlyResolved = 256

// Config controls the dispatcher.
type Config struct {
	// RecentlyResolved bounds how many resolved entry ids are remembered to
	// drop late clicks on stale popups.
	RecentlyResolved int
}

// Dispatcher fans fired entries out to their configured channels and routes
// user actions back to the orchestrator.
type Dispatcher struct {
	log     logx.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	channels map[entry.Channel]Channel
	ctrl     Controller

	resolved *lru.Cache[string, time.Time]
}

type Option func(*Dispatcher)

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

// WithChannels registers channels at construction.
func WithChannels(chs ...Channel) Option {
	return func(d *Dispatcher) {
		for _, ch := range chs {
			d.register(ch)
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) (*Dispatcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	size := cfg.RecentlyResolved
	if size <= 0 {
		size = defaultRecentlyResolved
	}
	resolved, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, fmt.Errorf("resolved cache: %w", err)
	}
	d := &Dispatcher{
		log:      log,
		channels: map[entry.Channel]Channel{},
		resolved: resolved,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Register adds or replaces the channel for ch.Kind(). Popup channels get
// their auto-close wired to an implicit dismiss.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	d.register(ch)
	d.mu.Unlock()
}

func (d *Dispatcher) register(ch Channel) {
	if ch == nil {
		return
	}
	d.channels[ch.Kind()] = ch
	if p, ok := ch.(*PopupChannel); ok {
		p.OnExpire(d.expired)
	}
}

// SetController installs the orchestrator user actions are routed to.
func (d *Dispatcher) SetController(c Controller) {
	d.mu.Lock()
	d.ctrl = c
	d.mu.Unlock()
}

// Dispatch delivers e on each configured channel. A failing channel never
// blocks the others; an error is returned only when every channel failed.
func (d *Dispatcher) Dispatch(ctx context.Context, e entry.Entry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a := FromEntry(e)
	d.resolved.Remove(e.ID)

	d.mu.RLock()
	targets := make([]Channel, 0, len(a.Config.Methods))
	var errs []error
	for _, m := range a.Config.Methods {
		ch, found := d.channels[m]
		if !found {
			errs = append(errs, fmt.Errorf("%s: %w", m, ErrNoChannel))
			continue
		}
		targets = append(targets, ch)
	}
	d.mu.RUnlock()

	delivered := 0
	for _, ch := range targets {
		start := time.Now()
		err := d.deliver(ctx, ch, a)
		d.metrics.Delivered(string(ch.Kind()), err)
		if err != nil {
			d.log.Warn("alert channel failed",
				logx.String("id", a.EntryID),
				logx.String("channel", string(ch.Kind())),
				logx.Err(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Kind(), err))
			continue
		}
		delivered++
		d.log.Debug("alert delivered",
			logx.String("id", a.EntryID),
			logx.String("channel", string(ch.Kind())),
			logx.Duration("took", time.Since(start)),
		)
	}
	if delivered == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, ch Channel, a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.log.Error("alert channel panicked", logx.String("channel", string(ch.Kind())), logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 16)))
		}
	}()
	return ch.Deliver(ctx, a)
}

// Retract closes every surface still open for entryID and marks it
// resolved so late clicks are ignored.
func (d *Dispatcher) Retract(entryID string) {
	d.resolved.Add(entryID, time.Now())
	d.mu.RLock()
	closers := make([]Closer, 0, len(d.channels))
	for _, ch := range d.channels {
		if c, ok := ch.(Closer); ok {
			closers = append(closers, c)
		}
	}
	d.mu.RUnlock()
	for _, c := range closers {
		c.Close(entryID)
	}
}

// Resolved reports whether entryID's last alert has been resolved.
func (d *Dispatcher) Resolved(entryID string) bool { return d.resolved.Contains(entryID) }

// HandleAction routes a user response to the orchestrator. Actions for an
// alert that was already resolved are ignored.
func (d *Dispatcher) HandleAction(ctx context.Context, a Action) scheduler.Result {
	_ = ctx
	if d.resolved.Contains(a.EntryID) {
		d.log.Debug("ignoring action for resolved alert", logx.String("id", a.EntryID), logx.String("kind", string(a.Kind)))
		return scheduler.Result{EntryID: a.EntryID, Message: ErrAlreadyResolved.Error(), Err: ErrAlreadyResolved}
	}
	d.mu.RLock()
	ctrl := d.ctrl
	d.mu.RUnlock()
	if ctrl == nil {
		err := errors.New("no controller installed")
		return scheduler.Result{EntryID: a.EntryID, Message: err.Error(), Err: err}
	}

	var res scheduler.Result
	switch a.Kind {
	case ActionAcknowledge:
		res = ctrl.AcknowledgeAlert(a.EntryID)
	case ActionDismiss:
		res = ctrl.DismissAlert(a.EntryID)
	case ActionSnooze:
		res = ctrl.Snooze(a.EntryID, a.SnoozeMinutes)
	default:
		err := fmt.Errorf("%w: %q", ErrUnknownAction, a.Kind)
		return scheduler.Result{EntryID: a.EntryID, Message: err.Error(), Err: err}
	}

	if res.OK || errors.Is(res.Err, scheduler.ErrNoAlertPending) || errors.Is(res.Err, scheduler.ErrNotFound) {
		d.resolved.Add(a.EntryID, time.Now())
	}
	d.log.Info("alert action",
		logx.String("id", a.EntryID),
		logx.String("kind", string(a.Kind)),
		logx.Bool("ok", res.OK),
		logx.String("message", res.Message),
	)
	return res
}

func (d *Dispatcher) expired(entryID string) {
	d.log.Debug("popup expired; dismissing", logx.String("id", entryID))
	d.HandleAction(context.Background(), Action{EntryID: entryID, Kind: ActionDismiss})
}
