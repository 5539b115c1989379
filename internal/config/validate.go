package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Validate checks cfg for values the services would reject at apply time.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.terminal_grace", cfg.Scheduler.TerminalGrace)
	if cfg.Scheduler.MaxLive < 0 {
		errs = append(errs, errors.New("scheduler.max_live must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Alerts.Renderer)) {
	case "", "bus", "log", "both":
	default:
		errs = append(errs, fmt.Errorf("alerts.renderer: unknown value %q", cfg.Alerts.Renderer))
	}
	dur("alerts.notify.send_timeout", cfg.Alerts.Notify.SendTimeout)
	if cfg.Alerts.Notify.RatePerSec < 0 || cfg.Alerts.Notify.QueueSize < 0 || cfg.Alerts.Notify.Workers < 0 {
		errs = append(errs, errors.New("alerts.notify: values must be >= 0"))
	}

	if sc := cfg.Storage; sc != nil {
		switch d := strings.ToLower(strings.TrimSpace(sc.Driver)); d {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if d != "file" && strings.TrimSpace(sc.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required when storage.driver=%s", d))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown value %q", sc.Driver))
		}
		dur("storage.busy_timeout", sc.BusyTimeout)
	}

	dur("recovery.stale_after", cfg.Recovery.StaleAfter)
	dur("recovery.purge_interval", cfg.Recovery.PurgeInterval)

	if cfg.Debug.Enabled {
		dur("debug.read_timeout", cfg.Debug.ReadTimeout)
		dur("debug.write_timeout", cfg.Debug.WriteTimeout)
		dur("debug.idle_timeout", cfg.Debug.IdleTimeout)
		if addr := strings.TrimSpace(cfg.Debug.Addr); addr != "" {
			if !IsLoopbackAddr(addr) && strings.TrimSpace(cfg.Debug.Token) == "" && !cfg.Debug.AllowInsecure {
				errs = append(errs, fmt.Errorf("debug.addr %q is not loopback; set debug.token or debug.allow_insecure", addr))
			}
		}
	}
	return errors.Join(errs...)
}

// IsLoopbackAddr reports whether a host:port listen address binds only to
// the loopback interface.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
