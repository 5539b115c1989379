package config

import (
	"reflect"
	"sort"
	"strings"

	logx "remindd/pkg/logx"
)

// Summarize returns the sorted names of changed sections and log fields
// describing the new values. Secrets are reported only as "set".
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.terminal_grace", strings.TrimSpace(newCfg.Scheduler.TerminalGrace)),
			logx.Int("scheduler.max_live", newCfg.Scheduler.MaxLive),
		)
	}

	if oldCfg.Alerts != newCfg.Alerts {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.String("alerts.renderer", newCfg.Alerts.Renderer),
			logx.Bool("alerts.dbus", newCfg.Alerts.DBus),
			logx.Int("alerts.notify.rate_per_sec", newCfg.Alerts.Notify.RatePerSec),
			logx.Int("alerts.notify.queue_size", newCfg.Alerts.Notify.QueueSize),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Recovery != newCfg.Recovery {
		changed = append(changed, "recovery")
		attrs = append(attrs,
			logx.String("recovery.owner", newCfg.Recovery.Owner),
			logx.String("recovery.stale_after", newCfg.Recovery.StaleAfter),
			logx.String("recovery.purge_interval", newCfg.Recovery.PurgeInterval),
		)
	}

	oD, nD := oldCfg.Debug, newCfg.Debug
	tokenChanged := oD.Token != nD.Token
	oD.Token, nD.Token = "", ""
	if tokenChanged || oD != nD {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports the changed sections that cannot be applied live.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s == "storage" || s == "recovery" {
			out = append(out, s)
		}
	}
	return out
}
