package app

import (
	"strings"
	"time"

	"remindd/internal/alert"
	"remindd/internal/config"
	"remindd/internal/eventbus"
	"remindd/internal/observability/debugsrv"
	"remindd/internal/recovery"
	"remindd/internal/scheduler"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

const defaultOwner = "local"

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapScheduler(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Timezone:      strings.TrimSpace(cfg.Scheduler.Timezone),
		TerminalGrace: config.DurationOr(cfg.Scheduler.TerminalGrace, scheduler.DefaultTerminalGrace),
		MaxLive:       cfg.Scheduler.MaxLive,
	}
}

func mapSystem(cfg *config.Config) alert.SystemConfig {
	n := cfg.Alerts.Notify
	return alert.SystemConfig{
		Workers:     n.Workers,
		QueueSize:   n.QueueSize,
		RatePerSec:  n.RatePerSec,
		SendTimeout: config.DurationOr(n.SendTimeout, 0),
	}
}

// mapStorage reports enabled=false when the section is absent or the
// driver is "none".
func mapStorage(cfg *config.Config) (storage.Config, bool) {
	if cfg.Storage == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout:  config.DurationOr(cfg.Storage.BusyTimeout, 0),
		CompactEvery: cfg.Storage.CompactEvery,
	}, true
}

func mapRecovery(cfg *config.Config) recovery.Config {
	return recovery.Config{
		StaleAfter:       config.DurationOr(cfg.Recovery.StaleAfter, recovery.DefaultStaleAfter),
		PurgeInterval:    config.DurationOr(cfg.Recovery.PurgeInterval, time.Hour),
		WriteConcurrency: cfg.Recovery.WriteConcurrency,
	}
}

func ownerOf(cfg *config.Config) string {
	if o := strings.TrimSpace(cfg.Recovery.Owner); o != "" {
		return o
	}
	return defaultOwner
}

func mapDebug(cfg *config.Config) debugsrv.Config {
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Prefix:               strings.TrimSpace(d.Prefix),
		Token:                d.Token,
		AllowInsecure:        d.AllowInsecure,
		ReadTimeout:          config.DurationOr(d.ReadTimeout, 0),
		WriteTimeout:         config.DurationOr(d.WriteTimeout, 0),
		IdleTimeout:          config.DurationOr(d.IdleTimeout, 0),
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
}

// mapRenderer builds the render sink for popup, sound and flash channels.
func mapRenderer(cfg *config.Config, bus eventbus.Bus, log logx.Logger) alert.Renderer {
	br := alert.BusRenderer{Bus: bus}
	lr := alert.LogRenderer{Log: log}
	switch strings.ToLower(strings.TrimSpace(cfg.Alerts.Renderer)) {
	case "log":
		return lr
	case "both":
		return alert.Tee(br, lr)
	default:
		return br
	}
}

// mapNotifier picks the toast backend used when D-Bus is off or unavailable.
func mapNotifier(cfg *config.Config, bus eventbus.Bus, log logx.Logger) alert.Notifier {
	if strings.EqualFold(strings.TrimSpace(cfg.Alerts.Renderer), "log") {
		return alert.LogRenderer{Log: log}
	}
	return alert.BusRenderer{Bus: bus}
}
