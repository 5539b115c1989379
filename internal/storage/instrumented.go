package storage

import (
	"context"

	"remindd/internal/entry"
	"remindd/internal/metrics"
)

type instrumented struct {
	Store
	m *metrics.Metrics
}

func (s *instrumented) SaveSnapshot(ctx context.Context, e entry.Entry) error {
	err := s.Store.SaveSnapshot(ctx, e)
	s.m.SnapshotOp("save", err)
	return err
}

func (s *instrumented) LoadSnapshotsFor(ctx context.Context, owner string) ([]entry.Entry, error) {
	out, err := s.Store.LoadSnapshotsFor(ctx, owner)
	s.m.SnapshotOp("load", err)
	return out, err
}

func (s *instrumented) LoadAll(ctx context.Context) ([]entry.Entry, error) {
	out, err := s.Store.LoadAll(ctx)
	s.m.SnapshotOp("load", err)
	return out, err
}

func (s *instrumented) DeleteSnapshot(ctx context.Context, id string) error {
	err := s.Store.DeleteSnapshot(ctx, id)
	s.m.SnapshotOp("delete", err)
	return err
}
