package storage

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/afero"

	"remindd/internal/entry"
	"remindd/internal/metrics"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": snapshot + journal under Path (extension is replaced)
//   - "sqlite": SQLite database file at Path
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// CompactEvery compacts the file journal after this many writes; 0 means 500.
	CompactEvery int
}

// Store is the persistence contract used by recovery.
//
// Saves are upserts keyed by entry id. Loads return entries in id order.
type Store interface {
	SaveSnapshot(ctx context.Context, e entry.Entry) error
	LoadSnapshotsFor(ctx context.Context, owner string) ([]entry.Entry, error)
	LoadAll(ctx context.Context) ([]entry.Entry, error)
	DeleteSnapshot(ctx context.Context, id string) error
	Close() error
}

type options struct {
	fs      afero.Fs
	metrics *metrics.Metrics
}

type Option func(*options)

// WithFs sets the filesystem used by the file driver. Defaults to the OS.
func WithFs(fs afero.Fs) Option { return func(o *options) { o.fs = fs } }

// WithMetrics records snapshot operations.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }
