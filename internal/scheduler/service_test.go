package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/clock"
	"remindd/internal/entry"
	"remindd/internal/eventbus"
	"remindd/internal/policy"
	logx "remindd/pkg/logx"
)

var base = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu        sync.Mutex
	fired     []entry.Entry
	retracted []string
	calls     []string
	err       error
	panicMsg  string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, e entry.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = append(d.fired, e)
	d.calls = append(d.calls, "dispatch:"+e.ID)
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	return d.err
}

func (d *recordingDispatcher) Retract(id string) {
	d.mu.Lock()
	d.retracted = append(d.retracted, id)
	d.calls = append(d.calls, "retract:"+id)
	d.mu.Unlock()
}

// lastCall returns the most recent dispatch or retract recorded for id.
func (d *recordingDispatcher) lastCall(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.calls) - 1; i >= 0; i-- {
		if c := d.calls[i]; c == "dispatch:"+id || c == "retract:"+id {
			return c
		}
	}
	return ""
}

func (d *recordingDispatcher) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.fired)
}

type harness struct {
	svc  *Service
	clk  *clock.Fake
	disp *recordingDispatcher
	bus  eventbus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clk: clock.NewFake(base), disp: &recordingDispatcher{}, bus: eventbus.New()}
	h.svc = New(Config{Timezone: "UTC", TerminalGrace: DefaultTerminalGrace}, logx.Nop(), h.bus,
		WithClock(h.clk),
		WithDispatcher(h.disp),
	)
	h.svc.Start(context.Background())
	t.Cleanup(func() { h.svc.Stop(context.Background()) })
	return h
}

func (h *harness) create(t *testing.T, req Request) string {
	t.Helper()
	res := h.svc.Create(req)
	require.True(t, res.OK, "create failed: %s", res.Message)
	require.NotEmpty(t, res.EntryID)
	return res.EntryID
}

func (h *harness) get(t *testing.T, id string) entry.Entry {
	t.Helper()
	e, ok := h.svc.GetEntry(id)
	require.True(t, ok, "entry %s not live", id)
	return e
}

func TestRecurringFireCountsAndHistory(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "stand up", Trigger: "* * * * *"})

	h.clk.Advance(25 * time.Minute)

	e := h.get(t, id)
	assert.EqualValues(t, 25, e.ExecutionCount)
	items := e.History.Items()
	require.Len(t, items, entry.HistoryCap)
	assert.Equal(t, base.Add(25*time.Minute), items[0].FiredAt)
	for i := 1; i < len(items); i++ {
		assert.True(t, items[i-1].FiredAt.After(items[i].FiredAt))
	}
	assert.Equal(t, 25, h.disp.count())
	assert.Equal(t, 1, h.clk.Pending())
}

func TestEveryMinuteForThreeMinutes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "tick", Trigger: "cron:* * * * *"})

	h.clk.Advance(3 * time.Minute)

	e := h.get(t, id)
	assert.EqualValues(t, 3, e.ExecutionCount)
	require.NotNil(t, e.NextRunAt)
	require.NotNil(t, e.LastRunAt)
	assert.Equal(t, time.Minute, e.NextRunAt.Sub(*e.LastRunAt))
	assert.Equal(t, entry.StatusActive, e.Status)
}

func TestOneShotFiresThenAcknowledgeCompletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	fired, unsubFired := h.bus.Subscribe(8, eventbus.TopicEntryFired)
	defer unsubFired()
	completed, unsubCompleted := h.bus.Subscribe(8, eventbus.TopicEntryCompleted)
	defer unsubCompleted()

	id := h.create(t, Request{
		Name:     "tea",
		Trigger:  "2025-01-15T09:00:02",
		Priority: entry.PriorityNormal,
	})

	h.clk.Advance(2 * time.Second)

	require.Equal(t, 1, h.disp.count())
	assert.Contains(t, h.disp.fired[0].Alert.Methods, entry.ChannelPopup)
	require.Len(t, fired, 1)

	e := h.get(t, id)
	assert.True(t, e.AlertPending)
	assert.Nil(t, e.NextRunAt)
	assert.Equal(t, entry.StatusActive, e.Status)
	assert.EqualValues(t, 1, e.ExecutionCount)

	res := h.svc.AcknowledgeAlert(id)
	require.True(t, res.OK, res.Message)
	e = h.get(t, id)
	assert.Equal(t, entry.StatusCompleted, e.Status)
	assert.False(t, e.Enabled)
	assert.False(t, e.AlertPending)
	require.Len(t, completed, 1)
	assert.Contains(t, h.disp.retracted, id)

	h.clk.Advance(DefaultTerminalGrace)
	_, ok := h.svc.GetEntry(id)
	assert.False(t, ok, "completed entry should leave the live set after the grace period")
	assert.Zero(t, h.clk.Pending())
}

func TestDismissCompletesOneShot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "call", Trigger: "at:2025-01-15T09:10"})
	h.clk.Advance(10 * time.Minute)

	res := h.svc.DismissAlert(id)
	require.True(t, res.OK)
	assert.Equal(t, entry.StatusCompleted, h.get(t, id).Status)

	res = h.svc.DismissAlert(id)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrNoAlertPending)
}

func TestAcknowledgeRecurringKeepsItActive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "hourly", Trigger: "0 * * * *"})
	h.clk.Advance(time.Hour)

	res := h.svc.AcknowledgeAlert(id)
	require.True(t, res.OK)
	e := h.get(t, id)
	assert.Equal(t, entry.StatusActive, e.Status)
	assert.False(t, e.AlertPending)
	require.NotNil(t, e.NextRunAt)
	assert.Equal(t, base.Add(2*time.Hour), *e.NextRunAt)
}

func TestCancelBeforeFireNeverDelivers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	fired, unsub := h.bus.Subscribe(8, eventbus.TopicEntryFired)
	defer unsub()

	id := h.create(t, Request{Name: "meeting", Trigger: "2025-01-15T09:30"})
	res := h.svc.Cancel(id)
	require.True(t, res.OK)
	assert.Equal(t, entry.StatusCancelled, h.get(t, id).Status)

	h.clk.Advance(time.Hour)

	assert.Zero(t, h.disp.count())
	assert.Len(t, fired, 0)

	res = h.svc.Cancel(id)
	assert.False(t, res.OK)
	assert.True(t, errors.Is(res.Err, ErrNotFound) || errors.Is(res.Err, ErrTerminal))
}

func TestCancelTwiceWithinGraceIsTerminal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "x", Trigger: "*/5 * * * *"})
	require.True(t, h.svc.Cancel(id).OK)
	res := h.svc.Cancel(id)
	assert.ErrorIs(t, res.Err, ErrTerminal)
}

func TestStaleTimerCallbackIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "x", Trigger: "2025-01-15T09:05"})

	h.svc.mu.Lock()
	stale := h.svc.entries[id].gen
	h.svc.mu.Unlock()
	require.True(t, h.svc.Reschedule(id, "2025-01-15T09:20").OK)

	h.svc.fire(id, stale)
	assert.Zero(t, h.disp.count())
	assert.EqualValues(t, 0, h.get(t, id).ExecutionCount)
}

func TestSnoozeRearmsWithoutCounting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	snoozed, unsub := h.bus.Subscribe(8, eventbus.TopicEntrySnoozed)
	defer unsub()

	id := h.create(t, Request{Name: "stretch", Trigger: "2025-01-15T09:01"})
	h.clk.Advance(time.Minute)
	require.True(t, h.get(t, id).AlertPending)

	res := h.svc.Snooze(id, 10)
	require.True(t, res.OK, res.Message)
	e := h.get(t, id)
	require.NotNil(t, e.NextRunAt)
	assert.WithinDuration(t, h.clk.Now().Add(10*time.Minute), *e.NextRunAt, time.Second)
	assert.EqualValues(t, 1, e.ExecutionCount)
	assert.False(t, e.AlertPending)
	require.Len(t, snoozed, 1)

	h.clk.Advance(10 * time.Minute)
	e = h.get(t, id)
	assert.Equal(t, 2, h.disp.count())
	assert.EqualValues(t, 1, e.ExecutionCount)
	assert.Equal(t, 2, e.History.Len())
	assert.True(t, e.AlertPending)

	require.True(t, h.svc.AcknowledgeAlert(id).OK)
	assert.Equal(t, entry.StatusCompleted, h.get(t, id).Status)
}

func TestSnoozeRules(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "water", Trigger: "2025-01-15T09:01"})

	res := h.svc.Snooze(id, 5)
	assert.ErrorIs(t, res.Err, ErrNoAlertPending)

	h.clk.Advance(time.Minute)
	res = h.svc.Snooze(id, 7)
	assert.ErrorIs(t, res.Err, ErrSnoozeNotAllowed)

	noSnooze := entry.DefaultAlertConfig(entry.PriorityNormal)
	noSnooze.AllowSnooze = false
	id2 := h.create(t, Request{Name: "strict", Trigger: "2025-01-15T09:03", Alert: &noSnooze})
	h.clk.Advance(2 * time.Minute)
	res = h.svc.Snooze(id2, 5)
	assert.ErrorIs(t, res.Err, ErrSnoozeNotAllowed)
}

func TestRescheduleLeavesOneTimer(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "r", Trigger: "*/10 * * * *"})
	h.clk.Advance(10 * time.Minute)
	require.EqualValues(t, 1, h.get(t, id).ExecutionCount)

	for _, tr := range []string{"*/15 * * * *", "2025-01-15T11:00", "0 12 * * *"} {
		res := h.svc.Reschedule(id, tr)
		require.True(t, res.OK, res.Message)
		assert.Equal(t, 1, h.clk.Pending(), "after %q", tr)
	}
	e := h.get(t, id)
	assert.Equal(t, "0 12 * * *", e.Trigger)
	assert.EqualValues(t, 1, e.ExecutionCount)
	assert.Equal(t, 1, e.History.Len())
	assert.Equal(t, time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC), *e.NextRunAt)

	res := h.svc.Reschedule(id, "not a trigger at all")
	assert.ErrorIs(t, res.Err, policy.ErrValidation)
	assert.Equal(t, 1, h.clk.Pending())
}

func TestConflictingHighEntriesBothFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conflicts, unsub := h.bus.Subscribe(8, eventbus.TopicEntryConflict)
	defer unsub()

	a := h.create(t, Request{Name: "a", Trigger: "2025-01-15T10:00", Priority: entry.PriorityHigh})
	res := h.svc.Create(Request{Name: "b", Trigger: "2025-01-15T10:02", Priority: entry.PriorityHigh})
	require.True(t, res.OK)
	assert.Equal(t, 1, res.Count)
	require.Len(t, conflicts, 1)
	ev := <-conflicts
	cs, ok := ev.Data.([]policy.Conflict)
	require.True(t, ok)
	assert.Equal(t, a, cs[0].EntryID)

	h.clk.Advance(2 * time.Hour)
	assert.Equal(t, 2, h.disp.count())
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "p", Trigger: "*/5 * * * *"})

	require.True(t, h.svc.Pause(id).OK)
	assert.Zero(t, h.clk.Pending())
	assert.ErrorIs(t, h.svc.Pause(id).Err, ErrNotActive)

	h.clk.Advance(time.Hour)
	assert.Zero(t, h.disp.count())

	require.True(t, h.svc.Resume(id).OK)
	e := h.get(t, id)
	assert.Equal(t, entry.StatusActive, e.Status)
	assert.True(t, e.Enabled)
	assert.Equal(t, base.Add(65*time.Minute), *e.NextRunAt)
	assert.Equal(t, 1, h.clk.Pending())
	assert.ErrorIs(t, h.svc.Resume(id).Err, ErrNotPaused)
}

func TestResumeMissedOneShotFiresImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "late", Trigger: "2025-01-15T09:10"})
	require.True(t, h.svc.Pause(id).OK)
	h.clk.Advance(30 * time.Minute)

	require.True(t, h.svc.Resume(id).OK)
	h.clk.Advance(0)
	assert.Equal(t, 1, h.disp.count())
	assert.True(t, h.get(t, id).AlertPending)
}

func TestPauseRejectedWhileOneShotAlertOutstanding(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "bins", Trigger: "2025-01-15T09:01"})
	h.clk.Advance(time.Minute)
	require.True(t, h.get(t, id).AlertPending)

	res := h.svc.Pause(id)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, ErrAlertOutstanding)
	e := h.get(t, id)
	assert.Equal(t, entry.StatusActive, e.Status)
	assert.True(t, e.AlertPending)

	require.True(t, h.svc.AcknowledgeAlert(id).OK)
	assert.Equal(t, entry.StatusCompleted, h.get(t, id).Status)
}

func TestPausedSnoozeResumesRedelivery(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "oven", Trigger: "2025-01-15T09:01"})
	h.clk.Advance(time.Minute)
	require.True(t, h.svc.Snooze(id, 5).OK)
	require.True(t, h.svc.Pause(id).OK)

	h.clk.Advance(time.Hour)
	assert.Equal(t, 1, h.disp.count())

	res := h.svc.Resume(id)
	require.True(t, res.OK, res.Message)
	h.clk.Advance(0)

	e := h.get(t, id)
	assert.Equal(t, 2, h.disp.count())
	assert.EqualValues(t, 1, e.ExecutionCount)
	assert.True(t, e.AlertPending)
	require.True(t, h.svc.AcknowledgeAlert(id).OK)
	assert.Equal(t, entry.StatusCompleted, h.get(t, id).Status)
}

func TestMutationsRaceLiveTimers(t *testing.T) {
	t.Parallel()
	disp := &recordingDispatcher{}
	svc := New(Config{Timezone: "UTC"}, logx.Nop(), eventbus.New(),
		WithClock(clock.Real()),
		WithDispatcher(disp),
	)
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	at := func(d time.Duration) string { return "at:" + time.Now().Add(d).Format(time.RFC3339Nano) }
	ids := make([]string, 16)
	for i := range ids {
		res := svc.Create(Request{Name: fmt.Sprintf("r%d", i), Trigger: at(time.Duration(i%4+1) * time.Millisecond)})
		require.True(t, res.OK, res.Message)
		ids[i] = res.EntryID
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				svc.Reschedule(id, at(time.Duration(j+1)*time.Millisecond))
				time.Sleep(time.Millisecond)
			}
			if i%2 == 0 {
				svc.Cancel(id)
			}
		}(i, id)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		for i, id := range ids {
			e, live := svc.GetEntry(id)
			if i%2 == 0 {
				if live || disp.lastCall(id) != "retract:"+id {
					return false
				}
				continue
			}
			if !live || !e.AlertPending || e.Status != entry.StatusActive {
				return false
			}
		}
		return true
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, len(ids)/2, svc.Stats().Live)
}

func TestDispatchFailureCompletesOneShot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.disp.err = errors.New("no display")
	failed, unsub := h.bus.Subscribe(8, eventbus.TopicEntryFailed)
	defer unsub()
	completed, unsubCompleted := h.bus.Subscribe(8, eventbus.TopicEntryCompleted)
	defer unsubCompleted()

	id := h.create(t, Request{Name: "f", Trigger: "2025-01-15T09:01"})
	h.clk.Advance(time.Minute)

	e := h.get(t, id)
	assert.Equal(t, entry.StatusCompleted, e.Status)
	assert.False(t, e.Enabled)
	assert.False(t, e.AlertPending)
	latest, ok := e.History.Latest()
	require.True(t, ok)
	assert.False(t, latest.Success)
	assert.Equal(t, "no display", latest.Error)
	require.Len(t, failed, 1)
	require.Len(t, completed, 1)
	assert.Empty(t, h.svc.ListActive())

	h.clk.Advance(48 * time.Hour)
	assert.Equal(t, 1, h.disp.count())
	assert.Zero(t, h.clk.Pending())
	_, live := h.svc.GetEntry(id)
	assert.False(t, live)
	assert.ErrorIs(t, h.svc.AcknowledgeAlert(id).Err, ErrNotFound)
}

func TestCancelDuringDispatchWithdrawsAlertAfterRender(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var once sync.Once
	var cancelRes Result
	h.svc.SetObserver(func(e entry.Entry) {
		if e.ExecutionCount == 1 && e.AlertPending && e.Status == entry.StatusActive {
			once.Do(func() { cancelRes = h.svc.Cancel(e.ID) })
		}
	})

	id := h.create(t, Request{Name: "meds", Trigger: "2025-01-15T09:05"})
	h.clk.Advance(10 * time.Minute)

	require.True(t, cancelRes.OK, cancelRes.Message)
	assert.Equal(t, []string{"dispatch:" + id, "retract:" + id}, h.disp.callLog())
	e := h.get(t, id)
	assert.Equal(t, entry.StatusCancelled, e.Status)
	assert.False(t, e.AlertPending)
}

func TestAcknowledgeDuringDispatchStillWithdraws(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var once sync.Once
	h.svc.SetObserver(func(e entry.Entry) {
		if e.AlertPending {
			once.Do(func() { h.svc.AcknowledgeAlert(e.ID) })
		}
	})

	id := h.create(t, Request{Name: "call mum", Trigger: "2025-01-15T09:05"})
	h.clk.Advance(10 * time.Minute)

	assert.Equal(t, []string{"dispatch:" + id, "retract:" + id}, h.disp.callLog())
	assert.Equal(t, entry.StatusCompleted, h.get(t, id).Status)
}

func TestDispatchPanicIsIsolated(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.disp.panicMsg = "boom"

	id := h.create(t, Request{Name: "p", Trigger: "*/1 * * * *"})
	h.clk.Advance(2 * time.Minute)

	e := h.get(t, id)
	assert.EqualValues(t, 2, e.ExecutionCount)
	latest, _ := e.History.Latest()
	assert.False(t, latest.Success)
	assert.Contains(t, latest.Error, "boom")
	assert.Equal(t, 1, h.clk.Pending())
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	empty := entry.AlertConfig{}
	loud := entry.DefaultAlertConfig(entry.PriorityHigh)
	loud.Volume = 150

	tests := []struct {
		name string
		req  Request
	}{
		{name: "missing name", req: Request{Trigger: "* * * * *"}},
		{name: "bad trigger", req: Request{Name: "x", Trigger: "whenever"}},
		{name: "past instant", req: Request{Name: "x", Trigger: "2025-01-15T08:00"}},
		{name: "too far ahead", req: Request{Name: "x", Trigger: "2040-01-01T00:00"}},
		{name: "no channels", req: Request{Name: "x", Trigger: "* * * * *", Alert: &empty}},
		{name: "volume", req: Request{Name: "x", Trigger: "* * * * *", Alert: &loud}},
		{name: "priority", req: Request{Name: "x", Trigger: "* * * * *", Priority: "critical"}},
	}
	h := newHarness(t)
	for _, tt := range tests {
		res := h.svc.Create(tt.req)
		assert.False(t, res.OK, tt.name)
		assert.ErrorIs(t, res.Err, policy.ErrValidation, tt.name)
		assert.NotEmpty(t, res.Message, tt.name)
	}
	assert.Empty(t, h.svc.Entries())
}

func TestCreateWithinPastToleranceFiresImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.create(t, Request{Name: "just missed", Trigger: "2025-01-15T08:58"})
	h.clk.Advance(0)
	assert.Equal(t, 1, h.disp.count())
}

func TestCreateRespectsMaxLive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.svc.Apply(Config{Timezone: "UTC", TerminalGrace: DefaultTerminalGrace, MaxLive: 1})
	h.create(t, Request{Name: "one", Trigger: "* * * * *"})
	res := h.svc.Create(Request{Name: "two", Trigger: "* * * * *"})
	assert.ErrorIs(t, res.Err, ErrCapacity)
}

func TestCancelBySource(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.create(t, Request{Name: "a", Trigger: "* * * * *", SourceModule: "tasks", SourceEntityID: "42"})
	h.create(t, Request{Name: "b", Trigger: "0 9 * * *", SourceModule: "tasks", SourceEntityID: "42"})
	keep := h.create(t, Request{Name: "c", Trigger: "0 9 * * *", SourceModule: "tasks", SourceEntityID: "43"})

	res := h.svc.CancelBySource("tasks", "42")
	require.True(t, res.OK)
	assert.Equal(t, 2, res.Count)

	active := h.svc.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, keep, active[0].ID)
}

func TestListUpcomingOrdering(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	low := h.create(t, Request{Name: "low", Trigger: "2025-01-15T09:30", Priority: entry.PriorityLow})
	urgent := h.create(t, Request{Name: "urgent", Trigger: "2025-01-15T09:30", Priority: entry.PriorityUrgent})
	early := h.create(t, Request{Name: "early", Trigger: "2025-01-15T09:10"})
	h.create(t, Request{Name: "later", Trigger: "2025-01-15T11:00"})

	got := h.svc.ListUpcoming(time.Hour)
	require.Len(t, got, 3)
	assert.Equal(t, []string{early, urgent, low}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestRestoreArmsAndRejectsDuplicates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	next := base.Add(15 * time.Minute)
	e := entry.Entry{
		ID:       "persisted-1",
		Owner:    "alice",
		Name:     "restored",
		Trigger:  "2025-01-15T09:15",
		Status:   entry.StatusActive,
		Enabled:  true,
		Priority: entry.PriorityNormal,
		Alert:    entry.DefaultAlertConfig(entry.PriorityNormal),
	}
	e.SetNextRun(&next)

	require.True(t, h.svc.Restore(e).OK)
	assert.ErrorIs(t, h.svc.Restore(e).Err, ErrAlreadyLive)

	done := e
	done.ID = "persisted-2"
	done.Status = entry.StatusCompleted
	assert.ErrorIs(t, h.svc.Restore(done).Err, ErrTerminal)

	h.clk.Advance(15 * time.Minute)
	assert.Equal(t, 1, h.disp.count())
}

func TestUnloadDropsOwnerEntries(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.create(t, Request{Name: "a", Owner: "alice", Trigger: "* * * * *"})
	h.create(t, Request{Name: "b", Owner: "alice", Trigger: "0 9 * * *"})
	bob := h.create(t, Request{Name: "c", Owner: "bob", Trigger: "0 9 * * *"})

	out := h.svc.Unload("alice")
	assert.Len(t, out, 2)
	assert.Len(t, h.svc.ListByOwner("alice"), 0)
	assert.Equal(t, 1, h.clk.Pending())
	_, ok := h.svc.GetEntry(bob)
	assert.True(t, ok)
}

func TestObserverSeesEveryMutation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	var mu sync.Mutex
	var versions []uint64
	h.svc.SetObserver(func(e entry.Entry) {
		mu.Lock()
		versions = append(versions, e.Version)
		mu.Unlock()
	})

	id := h.create(t, Request{Name: "o", Trigger: "2025-01-15T09:01"})
	h.clk.Advance(time.Minute)
	require.True(t, h.svc.AcknowledgeAlert(id).OK)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(versions), 3)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestStopKeepsEntriesAndStartRearms(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "s", Trigger: "*/5 * * * *"})

	h.svc.Stop(context.Background())
	assert.Zero(t, h.clk.Pending())
	assert.False(t, h.svc.Stats().Running)
	h.clk.Advance(10 * time.Minute)
	assert.Zero(t, h.disp.count())

	h.svc.Start(context.Background())
	st := h.svc.Stats()
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.Armed)
	assert.Equal(t, 1, st.Live)
	_, ok := h.svc.GetEntry(id)
	assert.True(t, ok)
}

func TestApplyTimezoneRearms(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.create(t, Request{Name: "tz", Trigger: "0 12 * * *"})
	require.Equal(t, time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC), h.get(t, id).NextRunAt.UTC())

	h.svc.Apply(Config{Timezone: "Asia/Jakarta", TerminalGrace: DefaultTerminalGrace})
	e := h.get(t, id)
	// 12:00 WIB is 05:00 UTC; already past today, so tomorrow.
	assert.Equal(t, time.Date(2025, 1, 16, 5, 0, 0, 0, time.UTC), e.NextRunAt.UTC())
	assert.Equal(t, 1, h.clk.Pending())
}
