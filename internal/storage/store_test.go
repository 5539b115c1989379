package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/entry"
	"remindd/internal/metrics"
	logx "remindd/pkg/logx"
)

var t0 = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func sample(id, owner string, fires int) entry.Entry {
	next := t0.Add(time.Hour)
	e := entry.Entry{
		ID:             id,
		Owner:          owner,
		Name:           "reminder " + id,
		Trigger:        "0 * * * *",
		Status:         entry.StatusActive,
		Enabled:        true,
		SourceModule:   "tasks",
		SourceEntityID: "7",
		Priority:       entry.PriorityHigh,
		Alert:          entry.DefaultAlertConfig(entry.PriorityHigh),
		Metadata:       map[string]string{"k": "v"},
		Version:        uint64(fires + 1),
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
	e.SetNextRun(&next)
	for i := 0; i < fires; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		e.LastRunAt = &at
		e.ExecutionCount++
		e.History.Push(entry.HistoryItem{FiredAt: at, Success: i%3 != 0, Error: errIf(i%3 == 0), DurationMs: int64(i)})
	}
	return e
}

func errIf(b bool) string {
	if b {
		return "render failed"
	}
	return ""
}

func assertSameEntry(t *testing.T, want, got entry.Entry) {
	t.Helper()
	assert.Equal(t, want.History.Items(), got.History.Items())
	want.History, got.History = entry.History{}, entry.History{}
	assert.Equal(t, want, got)
}

// opener opens a fresh store and returns a func that opens the same
// backing data again.
type opener func(t *testing.T, cfg Config) (Store, func() Store)

func drivers() map[string]opener {
	return map[string]opener{
		"file": func(t *testing.T, cfg Config) (Store, func() Store) {
			fs := afero.NewMemMapFs()
			cfg.Driver = "file"
			cfg.Path = "/data/remindd.json"
			reopen := func() Store {
				st, err := Open(cfg, logx.Nop(), WithFs(fs))
				require.NoError(t, err)
				return st
			}
			return reopen(), reopen
		},
		"sqlite": func(t *testing.T, cfg Config) (Store, func() Store) {
			cfg.Driver = "sqlite"
			cfg.Path = filepath.Join(t.TempDir(), "remindd.db")
			reopen := func() Store {
				st, err := Open(cfg, logx.Nop())
				require.NoError(t, err)
				return st
			}
			return reopen(), reopen
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	fires := []int{0, 1, 10, 13}
	for name, open := range drivers() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, reopen := open(t, Config{})
			for _, n := range fires {
				require.NoError(t, st.SaveSnapshot(ctx, sample(fmt.Sprintf("e-%02d", n), "alice", n)))
			}
			require.NoError(t, st.Close())

			st = reopen()
			defer st.Close()
			all, err := st.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, len(fires))
			for i, n := range fires {
				assertSameEntry(t, sample(fmt.Sprintf("e-%02d", n), "alice", n), all[i])
			}
		})
	}
}

func TestSaveIsUpsertAndDeleteRemoves(t *testing.T) {
	t.Parallel()
	for name, open := range drivers() {
		open := open
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st, _ := open(t, Config{})
			defer st.Close()

			e := sample("a", "alice", 1)
			require.NoError(t, st.SaveSnapshot(ctx, e))
			e.Status = entry.StatusPaused
			e.Enabled = false
			e.Version++
			require.NoError(t, st.SaveSnapshot(ctx, e))
			require.NoError(t, st.SaveSnapshot(ctx, sample("b", "bob", 2)))

			mine, err := st.LoadSnapshotsFor(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, mine, 1)
			assert.Equal(t, entry.StatusPaused, mine[0].Status)
			assert.Equal(t, e.Version, mine[0].Version)

			require.NoError(t, st.DeleteSnapshot(ctx, "a"))
			require.NoError(t, st.DeleteSnapshot(ctx, "missing"))
			mine, err = st.LoadSnapshotsFor(ctx, "alice")
			require.NoError(t, err)
			assert.Empty(t, mine)

			all, err := st.LoadAll(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "b", all[0].ID)
		})
	}
}

func TestFileStoreSurvivesReopenAndCompaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	cfg := Config{Driver: "file", Path: "/var/lib/remindd/state.json", CompactEvery: 3}

	st, err := Open(cfg, logx.Nop(), WithFs(fs))
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		require.NoError(t, st.SaveSnapshot(ctx, sample(fmt.Sprintf("e%d", i), "alice", i)))
	}
	require.NoError(t, st.DeleteSnapshot(ctx, "e3"))

	// Reopen without Close: state must come from snapshot + journal replay.
	st2, err := Open(cfg, logx.Nop(), WithFs(fs))
	require.NoError(t, err)
	all, err := st2.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 6)
	for _, e := range all {
		assert.NotEqual(t, "e3", e.ID)
	}
	require.NoError(t, st2.Close())

	ok, err := afero.Exists(fs, "/var/lib/remindd/state.entries.json")
	require.NoError(t, err)
	assert.True(t, ok)
	info, err := fs.Stat("/var/lib/remindd/state.journal.jsonl")
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "close compacts the journal")

	st3, err := Open(cfg, logx.Nop(), WithFs(fs))
	require.NoError(t, err)
	defer st3.Close()
	all, err = st3.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestFileStoreSkipsCorruptJournalLines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/s/state.journal.jsonl", []byte("{not json\n{\"op\":\"del\",\"id\":\"zzz\"}\n"), 0o600))

	st, err := Open(Config{Driver: "file", Path: "/s/state.json"}, logx.Nop(), WithFs(fs))
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.SaveSnapshot(ctx, sample("a", "", 0)))
	all, err := st.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestClosedStoreReportsDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: "/x/state.json"}, logx.Nop(), WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.SaveSnapshot(context.Background(), sample("a", "", 0)), ErrDisabled)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop(), WithFs(afero.NewMemMapFs()))
	assert.Error(t, err)
}

func TestInstrumentedStoreCountsOps(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	st, err := Open(Config{Driver: "file", Path: "/m/state.json"}, logx.Nop(), WithFs(afero.NewMemMapFs()), WithMetrics(m))
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.SaveSnapshot(ctx, sample("a", "", 0)))
	require.NoError(t, st.SaveSnapshot(ctx, sample("b", "", 0)))
	_, err = st.LoadAll(ctx)
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "remindd_recovery_snapshot_ops_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
