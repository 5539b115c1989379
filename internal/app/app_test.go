package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/alert"
	"remindd/internal/clock"
	"remindd/internal/config"
	"remindd/internal/entry"
	"remindd/internal/eventbus"
	"remindd/internal/scheduler"
	logx "remindd/pkg/logx"
)

var t0 = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	body := fmt.Sprintf(`{
  "logging": {"level": "error", "console": false},
  "scheduler": {"timezone": "UTC"},
  "storage": {"driver": "file", "path": %q},
  "recovery": {"owner": "alice", "purge_interval": "0s"}
}`, filepath.Join(dir, "remindd.json"))
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func startApp(t *testing.T, cfgPath string, clk clock.Clock) *App {
	t.Helper()
	a, err := New(cfgPath, WithClock(clk), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	return a
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
}

func TestEntriesSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	a := startApp(t, cfgPath, clock.NewFake(t0))
	assert.Equal(t, "alice", a.Owner())
	res := a.Scheduler().Create(scheduler.Request{
		Name:    "stand-up",
		Owner:   a.Owner(),
		Trigger: "0 10 * * 1-5",
	})
	require.True(t, res.OK, res.Message)
	stopApp(t, a)

	b := startApp(t, cfgPath, clock.NewFake(t0))
	defer stopApp(t, b)
	e, ok := b.Scheduler().GetEntry(res.EntryID)
	require.True(t, ok, "entry restored after restart")
	assert.Equal(t, "stand-up", e.Name)
	require.NotNil(t, e.NextRunAt)
	assert.Equal(t, t0.Add(time.Hour), e.NextRunAt.UTC())
}

func TestAlertActionFromBusCompletesEntry(t *testing.T) {
	clk := clock.NewFake(t0)
	a := startApp(t, writeConfig(t, t.TempDir()), clk)
	defer stopApp(t, a)

	shows, unsub := a.Bus().Subscribe(4, eventbus.TopicPopupShow)
	defer unsub()

	res := a.Scheduler().Create(scheduler.Request{
		Name:    "take pills",
		Owner:   a.Owner(),
		Trigger: "at:" + t0.Add(time.Minute).Format(time.RFC3339),
	})
	require.True(t, res.OK, res.Message)

	clk.Advance(time.Minute)
	select {
	case ev := <-shows:
		assert.Equal(t, res.EntryID, ev.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("popup not shown")
	}

	a.Bus().Publish(eventbus.Event{
		Topic: eventbus.TopicAlertAction,
		Key:   res.EntryID,
		Data:  alert.Action{EntryID: res.EntryID, Kind: alert.ActionAcknowledge},
	})
	require.Eventually(t, func() bool {
		e, ok := a.Scheduler().GetEntry(res.EntryID)
		return !ok || e.Status == entry.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, a.Dispatcher().Resolved(res.EntryID))
}

func TestStopIsIdempotent(t *testing.T) {
	a := startApp(t, writeConfig(t, t.TempDir()), clock.NewFake(t0))
	stopApp(t, a)
	assert.NoError(t, a.Stop(context.Background(), StopAppStop))
}

func TestValidateReloadRejectsShrinkingCap(t *testing.T) {
	a := startApp(t, writeConfig(t, t.TempDir()), clock.NewFake(t0))
	defer stopApp(t, a)
	for i := 0; i < 3; i++ {
		res := a.Scheduler().Create(scheduler.Request{Name: fmt.Sprintf("r%d", i), Trigger: "@hourly"})
		require.True(t, res.OK, res.Message)
	}
	cfg := config.Default()
	cfg.Scheduler.MaxLive = 2
	assert.Error(t, a.validateReload(context.Background(), cfg))
	cfg.Scheduler.MaxLive = 3
	assert.NoError(t, a.validateReload(context.Background(), cfg))
}

func TestMapping(t *testing.T) {
	t.Parallel()
	cfg := config.Default()

	sc, ok := mapStorage(cfg)
	require.True(t, ok)
	assert.Equal(t, "file", sc.Driver)

	cfg.Storage = &config.StorageConfig{Driver: "none"}
	_, ok = mapStorage(cfg)
	assert.False(t, ok)
	cfg.Storage = nil
	_, ok = mapStorage(cfg)
	assert.False(t, ok)

	assert.Equal(t, scheduler.DefaultTerminalGrace, mapScheduler(cfg).TerminalGrace)
	rc := mapRecovery(cfg)
	assert.Equal(t, 24*time.Hour, rc.StaleAfter)
	assert.Equal(t, time.Hour, rc.PurgeInterval)

	cfg.Recovery.Owner = "  "
	assert.Equal(t, defaultOwner, ownerOf(cfg))

	bus := eventbus.New()
	log := logx.Nop()
	cfg.Alerts.Renderer = "log"
	assert.IsType(t, alert.LogRenderer{}, mapRenderer(cfg, bus, log))
	assert.IsType(t, alert.LogRenderer{}, mapNotifier(cfg, bus, log))
	cfg.Alerts.Renderer = ""
	assert.IsType(t, alert.BusRenderer{}, mapRenderer(cfg, bus, log))
	assert.IsType(t, alert.BusRenderer{}, mapNotifier(cfg, bus, log))
}
