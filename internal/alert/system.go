package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/entry"
	rtsup "remindd/internal/runtime/supervisor"
	logx "remindd/pkg/logx"
)

// SystemConfig controls the OS notification pipeline.
type SystemConfig struct {
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

// SystemChannel delivers OS toasts through a bounded queue drained by
// rate-limited workers. Deliver never blocks; a full queue drops the toast.
type SystemChannel struct {
	mu sync.Mutex

	log     logx.Logger
	backend Notifier
	cfg     SystemConfig
	limiter *rate.Limiter

	queue     chan Toast
	accepting bool
	sendWG    sync.WaitGroup
	sup       *rtsup.Supervisor
	stopDone  chan struct{}
}

func NewSystemChannel(cfg SystemConfig, backend Notifier, log logx.Logger) *SystemChannel {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &SystemChannel{log: log, backend: backend}
	c.applyLocked(cfg)
	return c
}

func (c *SystemChannel) Kind() entry.Channel { return entry.ChannelSystem }

func (c *SystemChannel) Apply(cfg SystemConfig) {
	c.mu.Lock()
	c.applyLocked(cfg)
	c.mu.Unlock()
}

func (c *SystemChannel) applyLocked(cfg SystemConfig) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	c.cfg = cfg
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetBackend swaps the toast backend (e.g. after a D-Bus reconnect).
func (c *SystemChannel) SetBackend(n Notifier) {
	c.mu.Lock()
	c.backend = n
	c.mu.Unlock()
}

func (c *SystemChannel) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.stopDone != nil {
		done := c.stopDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		c.mu.Lock()
	}
	if c.queue != nil {
		c.mu.Unlock()
		return
	}
	c.queue = make(chan Toast, c.cfg.QueueSize)
	c.accepting = true
	c.sup = rtsup.New(ctx, rtsup.WithLogger(c.log))
	sup, q, workers := c.sup, c.queue, c.cfg.Workers
	c.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("notify.worker.%d", i), func(ctx context.Context) error {
			c.workerLoop(ctx, q)
			return nil
		})
	}
}

// Stop stops intake and drains the queue until ctx expires.
func (c *SystemChannel) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	q, sup := c.queue, c.sup
	if q == nil {
		c.mu.Unlock()
		return
	}
	if c.stopDone != nil {
		done := c.stopDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	c.stopDone = done
	c.accepting = false
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		c.mu.Lock()
		c.queue = nil
		c.sup = nil
		c.stopDone = nil
		c.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (c *SystemChannel) Deliver(ctx context.Context, a Alert) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	c.mu.Lock()
	if !c.accepting || c.queue == nil {
		c.mu.Unlock()
		return ErrStopped
	}
	q := c.queue
	c.sendWG.Add(1)
	c.mu.Unlock()
	defer c.sendWG.Done()

	t := Toast{
		EntryID: a.EntryID,
		Summary: a.Name,
		Body:    a.Description,
		Urgent:  a.Priority == entry.PriorityUrgent,
		Expire:  a.Config.PopupDuration,
		Prio:    a.Priority,
	}
	select {
	case q <- t:
		return nil
	default:
		c.log.Warn("notification dropped", logx.String("id", a.EntryID), logx.Err(ErrQueueFull))
		return ErrQueueFull
	}
}

func (c *SystemChannel) workerLoop(ctx context.Context, q <-chan Toast) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-q:
			if !ok {
				return
			}
			c.send(ctx, t)
		}
	}
}

func (c *SystemChannel) send(ctx context.Context, t Toast) {
	c.mu.Lock()
	lim, backend, timeout := c.limiter, c.backend, c.cfg.SendTimeout
	c.mu.Unlock()
	if backend == nil {
		return
	}
	if err := lim.Wait(ctx); err != nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	err := backend.Notify(cctx, t)
	cancel()
	if err != nil {
		c.log.Warn("system notification failed", logx.String("id", t.EntryID), logx.Err(err))
	}
}

type withdrawer interface {
	Withdraw(entryID string)
}

// Close withdraws a toast still showing for entryID when the backend
// supports it.
func (c *SystemChannel) Close(entryID string) {
	c.mu.Lock()
	backend := c.backend
	c.mu.Unlock()
	if w, ok := backend.(withdrawer); ok {
		w.Withdraw(entryID)
	}
}
