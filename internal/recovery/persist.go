package recovery

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"remindd/internal/entry"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// writer coalesces snapshots per entry id and writes them from a single
// worker. offer never blocks; only the newest version of an entry is kept.
type writer struct {
	store storage.Store
	log   logx.Logger
	limit int

	mu      sync.Mutex
	pending map[string]entry.Entry
	saved   map[string]uint64

	signal chan struct{}

	// held for the whole of a batch so flush waits for an in-flight one
	batchMu sync.Mutex
}

func newWriter(store storage.Store, log logx.Logger, limit int) *writer {
	if limit <= 0 {
		limit = 4
	}
	return &writer{
		store:   store,
		log:     log,
		limit:   limit,
		pending: map[string]entry.Entry{},
		saved:   map[string]uint64{},
		signal:  make(chan struct{}, 1),
	}
}

func (w *writer) offer(e entry.Entry) {
	w.mu.Lock()
	if cur, ok := w.pending[e.ID]; ok && cur.Version > e.Version {
		w.mu.Unlock()
		return
	}
	if v, ok := w.saved[e.ID]; ok && v > e.Version {
		w.mu.Unlock()
		return
	}
	w.pending[e.ID] = e
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *writer) forget(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	delete(w.saved, id)
	w.mu.Unlock()
}

func (w *writer) backlog() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *writer) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.signal:
			if err := w.flush(ctx); err != nil && ctx.Err() == nil {
				w.log.Warn("snapshot batch incomplete", logx.Err(err), logx.Int("backlog", w.backlog()))
			}
		}
	}
}

// flush writes everything pending and returns once it is durable.
// Failed saves go back to the pending set for the next batch.
func (w *writer) flush(ctx context.Context) error {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = map[string]entry.Entry{}
	w.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(w.limit)
	for _, e := range batch {
		g.Go(func() error {
			if err := w.store.SaveSnapshot(ctx, e); err != nil {
				w.requeue(e)
				return fmt.Errorf("save %s: %w", e.ID, err)
			}
			w.mu.Lock()
			if w.saved[e.ID] < e.Version {
				w.saved[e.ID] = e.Version
			}
			w.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (w *writer) requeue(e entry.Entry) {
	w.mu.Lock()
	if cur, ok := w.pending[e.ID]; !ok || cur.Version < e.Version {
		w.pending[e.ID] = e
	}
	w.mu.Unlock()
}
