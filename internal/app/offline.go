package app

import (
	"context"
	"errors"
	"fmt"

	"remindd/internal/config"
	"remindd/internal/entry"
	"remindd/internal/eventbus"
	"remindd/internal/recovery"
	"remindd/internal/scheduler"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// ErrNoStorage is returned by offline commands when persistence is disabled.
var ErrNoStorage = errors.New("storage disabled in config")

// Offline operates on the persisted store without arming timers. It backs
// the CLI commands that inspect or edit state while the daemon is down.
type Offline struct {
	cfg   *config.Config
	log   logx.Logger
	store storage.Store
	sched *scheduler.Service
	rec   *recovery.Manager
}

// OpenOffline loads cfgPath and opens its store.
func OpenOffline(cfgPath string, log logx.Logger) (*Offline, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg, err := config.NewManager(cfgPath, config.WithLogger(log)).Load()
	if err != nil {
		return nil, err
	}
	sc, enabled := mapStorage(cfg)
	if !enabled {
		return nil, ErrNoStorage
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	// Never started: Create validates and computes next runs but arms nothing.
	sched := scheduler.New(mapScheduler(cfg), log.With(logx.String("comp", "scheduler")), eventbus.New())
	return &Offline{
		cfg:   cfg,
		log:   log,
		store: st,
		sched: sched,
		rec:   recovery.New(mapRecovery(cfg), log.With(logx.String("comp", "recovery")), sched, st),
	}, nil
}

// Owner is the configured session owner.
func (o *Offline) Owner() string { return ownerOf(o.cfg) }

// List returns persisted entries, all of them when owner is empty.
func (o *Offline) List(ctx context.Context, owner string) ([]entry.Entry, error) {
	if owner == "" {
		return o.store.LoadAll(ctx)
	}
	return o.store.LoadSnapshotsFor(ctx, owner)
}

// Add validates req exactly as the running daemon would and persists the
// resulting entry. The daemon picks it up on its next start.
func (o *Offline) Add(ctx context.Context, req scheduler.Request) (entry.Entry, error) {
	if req.Owner == "" {
		req.Owner = o.Owner()
	}
	res := o.sched.Create(req)
	if !res.OK {
		return entry.Entry{}, res.Err
	}
	e, ok := o.sched.GetEntry(res.EntryID)
	if !ok {
		return entry.Entry{}, fmt.Errorf("entry %s vanished after create", res.EntryID)
	}
	if err := o.store.SaveSnapshot(ctx, e); err != nil {
		return entry.Entry{}, err
	}
	return e, nil
}

// Remove deletes a persisted entry.
func (o *Offline) Remove(ctx context.Context, id string) error {
	return o.store.DeleteSnapshot(ctx, id)
}

// Purge drops snapshots a restart would discard anyway.
func (o *Offline) Purge(ctx context.Context) (int, error) {
	return o.rec.PurgeStale(ctx)
}

func (o *Offline) Close() error { return o.store.Close() }
