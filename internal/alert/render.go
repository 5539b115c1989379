package alert

import (
	"context"
	"errors"
	"time"

	"remindd/internal/entry"
	"remindd/internal/eventbus"
	logx "remindd/pkg/logx"
)

// Popup is a modal alert with action buttons.
type Popup struct {
	EntryID   string         `json:"entry_id"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Priority  entry.Priority `json:"priority"`
	Buttons   []Button       `json:"buttons"`
	AutoClose time.Duration  `json:"auto_close,omitempty"`
}

// Sound is an audio cue.
type Sound struct {
	EntryID string `json:"entry_id"`
	Tone    string `json:"tone"`
	Volume  int    `json:"volume"`
}

// Toast is an OS-level notification.
type Toast struct {
	EntryID string         `json:"entry_id"`
	Summary string         `json:"summary"`
	Body    string         `json:"body,omitempty"`
	Urgent  bool           `json:"urgent,omitempty"`
	Expire  time.Duration  `json:"expire,omitempty"`
	Prio    entry.Priority `json:"priority"`
}

// Flash asks the shell to draw attention to its window.
type Flash struct {
	EntryID  string         `json:"entry_id"`
	Priority entry.Priority `json:"priority"`
}

// Renderer draws alert surfaces. Implementations are one-way: user input
// comes back through Dispatcher.HandleAction.
type Renderer interface {
	ShowPopup(ctx context.Context, p Popup) error
	ClosePopup(entryID string)
	PlaySound(ctx context.Context, s Sound) error
	Flash(ctx context.Context, f Flash) error
}

// Notifier shows OS toasts.
type Notifier interface {
	Notify(ctx context.Context, t Toast) error
}

// BusRenderer publishes render commands on the event bus for the platform
// shell to pick up.
type BusRenderer struct {
	Bus eventbus.Bus
}

func (r BusRenderer) publish(topic, key string, data any) error {
	if r.Bus == nil {
		return errors.New("no event bus")
	}
	r.Bus.Publish(eventbus.Event{Topic: topic, Key: key, Data: data})
	return nil
}

func (r BusRenderer) ShowPopup(_ context.Context, p Popup) error {
	return r.publish(eventbus.TopicPopupShow, p.EntryID, p)
}

func (r BusRenderer) ClosePopup(entryID string) {
	_ = r.publish(eventbus.TopicPopupClose, entryID, entryID)
}

func (r BusRenderer) PlaySound(_ context.Context, s Sound) error {
	return r.publish(eventbus.TopicSoundPlay, s.EntryID, s)
}

func (r BusRenderer) Flash(_ context.Context, f Flash) error {
	return r.publish(eventbus.TopicWindowFlash, f.EntryID, f)
}

func (r BusRenderer) Notify(_ context.Context, t Toast) error {
	return r.publish(eventbus.TopicNotificationShow, t.EntryID, t)
}

// LogRenderer writes every command to the log. Used headless and as a tee
// target for debugging.
type LogRenderer struct {
	Log logx.Logger
}

func (r LogRenderer) ShowPopup(_ context.Context, p Popup) error {
	r.Log.Info("popup", logx.String("id", p.EntryID), logx.String("title", p.Title), logx.Int("buttons", len(p.Buttons)), logx.Duration("auto_close", p.AutoClose))
	return nil
}

func (r LogRenderer) ClosePopup(entryID string) {
	r.Log.Debug("popup closed", logx.String("id", entryID))
}

func (r LogRenderer) PlaySound(_ context.Context, s Sound) error {
	r.Log.Info("sound", logx.String("id", s.EntryID), logx.String("tone", s.Tone), logx.Int("volume", s.Volume))
	return nil
}

func (r LogRenderer) Flash(_ context.Context, f Flash) error {
	r.Log.Info("flash", logx.String("id", f.EntryID), logx.String("priority", string(f.Priority)))
	return nil
}

func (r LogRenderer) Notify(_ context.Context, t Toast) error {
	r.Log.Info("notification", logx.String("id", t.EntryID), logx.String("summary", t.Summary), logx.Bool("urgent", t.Urgent))
	return nil
}

// Tee fans every command out to rs. An error is returned only when every
// renderer failed.
func Tee(rs ...Renderer) Renderer { return tee(rs) }

type tee []Renderer

func (t tee) each(fn func(r Renderer) error) error {
	var errs []error
	for _, r := range t {
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(t) && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (t tee) ShowPopup(ctx context.Context, p Popup) error {
	return t.each(func(r Renderer) error { return r.ShowPopup(ctx, p) })
}

func (t tee) ClosePopup(entryID string) {
	for _, r := range t {
		r.ClosePopup(entryID)
	}
}

func (t tee) PlaySound(ctx context.Context, s Sound) error {
	return t.each(func(r Renderer) error { return r.PlaySound(ctx, s) })
}

func (t tee) Flash(ctx context.Context, f Flash) error {
	return t.each(func(r Renderer) error { return r.Flash(ctx, f) })
}
