package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"remindd/internal/clock"
	"remindd/internal/entry"
	logx "remindd/pkg/logx"
)

// fallbackSnooze is offered when snoozing is allowed with no explicit list.
var fallbackSnooze = []int{5, 10, 15}

// PopupChannel shows at most one popup per entry. A popup that outlives
// its configured duration is closed and reported through onExpire.
type PopupChannel struct {
	r   Renderer
	clk clock.Clock
	log logx.Logger

	mu       sync.Mutex
	open     map[string]*openPopup
	onExpire func(entryID string)
}

type openPopup struct {
	timer clock.Timer
}

func NewPopupChannel(r Renderer, clk clock.Clock, log logx.Logger) *PopupChannel {
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PopupChannel{r: r, clk: clk, log: log, open: map[string]*openPopup{}}
}

func (c *PopupChannel) Kind() entry.Channel { return entry.ChannelPopup }

// OnExpire installs the auto-close callback.
func (c *PopupChannel) OnExpire(fn func(entryID string)) {
	c.mu.Lock()
	c.onExpire = fn
	c.mu.Unlock()
}

func (c *PopupChannel) Deliver(ctx context.Context, a Alert) error {
	c.mu.Lock()
	if _, busy := c.open[a.EntryID]; busy {
		c.mu.Unlock()
		c.log.Info("popup already open; dropping duplicate", logx.String("id", a.EntryID))
		return nil
	}
	op := &openPopup{}
	c.open[a.EntryID] = op
	c.mu.Unlock()

	p := Popup{
		EntryID:   a.EntryID,
		Title:     a.Name,
		Body:      a.Description,
		Priority:  a.Priority,
		Buttons:   Buttons(a.EntryID, a.Config),
		AutoClose: a.Config.PopupDuration,
	}
	if err := c.r.ShowPopup(ctx, p); err != nil {
		c.mu.Lock()
		if c.open[a.EntryID] == op {
			delete(c.open, a.EntryID)
		}
		c.mu.Unlock()
		return err
	}

	if d := a.Config.PopupDuration; d > 0 {
		id := a.EntryID
		c.mu.Lock()
		if c.open[id] == op {
			op.timer = c.clk.AfterFunc(d, func() { c.expire(id, op) })
		}
		c.mu.Unlock()
	}
	return nil
}

func (c *PopupChannel) expire(id string, op *openPopup) {
	c.mu.Lock()
	if c.open[id] != op {
		c.mu.Unlock()
		return
	}
	delete(c.open, id)
	fn := c.onExpire
	c.mu.Unlock()

	c.r.ClosePopup(id)
	c.log.Debug("popup auto-closed", logx.String("id", id))
	if fn != nil {
		fn(id)
	}
}

// Close removes the popup for entryID, if any.
func (c *PopupChannel) Close(entryID string) {
	c.mu.Lock()
	op, found := c.open[entryID]
	delete(c.open, entryID)
	c.mu.Unlock()
	if !found {
		return
	}
	if op.timer != nil {
		op.timer.Stop()
	}
	c.r.ClosePopup(entryID)
}

// IsOpen reports whether a popup is showing for entryID.
func (c *PopupChannel) IsOpen(entryID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.open[entryID]
	return ok
}

// Buttons lists the popup actions for cfg: acknowledge, dismiss and one
// snooze button per allowed duration.
func Buttons(entryID string, cfg entry.AlertConfig) []Button {
	out := []Button{
		{Label: "Acknowledge", Action: Action{EntryID: entryID, Kind: ActionAcknowledge}},
		{Label: "Dismiss", Action: Action{EntryID: entryID, Kind: ActionDismiss}},
	}
	if !cfg.AllowSnooze {
		return out
	}
	mins := cfg.SnoozeMinutes
	if len(mins) == 0 {
		mins = fallbackSnooze
	}
	for _, m := range mins {
		if m <= 0 {
			continue
		}
		out = append(out, Button{
			Label:  fmt.Sprintf("Snooze %dm", m),
			Action: Action{EntryID: entryID, Kind: ActionSnooze, SnoozeMinutes: m},
		})
	}
	return out
}

// Tones maps priority to the default sound.
var Tones = map[entry.Priority]string{
	entry.PriorityUrgent: "alarm",
	entry.PriorityHigh:   "chime",
	entry.PriorityNormal: "bell",
	entry.PriorityLow:    "soft",
}

// ToneFor returns the configured override or the priority default.
func ToneFor(p entry.Priority, cfg entry.AlertConfig) string {
	if s := strings.TrimSpace(cfg.Sound); s != "" {
		return s
	}
	if t, ok := Tones[p]; ok {
		return t
	}
	return Tones[entry.PriorityNormal]
}

// SoundChannel plays a priority-tiered tone.
type SoundChannel struct {
	r Renderer
}

func NewSoundChannel(r Renderer) *SoundChannel { return &SoundChannel{r: r} }

func (c *SoundChannel) Kind() entry.Channel { return entry.ChannelSound }

func (c *SoundChannel) Deliver(ctx context.Context, a Alert) error {
	vol := a.Config.Volume
	if vol < 0 {
		vol = 0
	}
	if vol > 100 {
		vol = 100
	}
	return c.r.PlaySound(ctx, Sound{EntryID: a.EntryID, Tone: ToneFor(a.Priority, a.Config), Volume: vol})
}

// FlashChannel flashes the shell window.
type FlashChannel struct {
	r Renderer
}

func NewFlashChannel(r Renderer) *FlashChannel { return &FlashChannel{r: r} }

func (c *FlashChannel) Kind() entry.Channel { return entry.ChannelDesktopFlash }

func (c *FlashChannel) Deliver(ctx context.Context, a Alert) error {
	return c.r.Flash(ctx, Flash{EntryID: a.EntryID, Priority: a.Priority})
}
