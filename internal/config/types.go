package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "24h").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Alerts    AlertsConfig    `json:"alerts"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Recovery  RecoveryConfig  `json:"recovery"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the orchestrator.
type SchedulerConfig struct {
	// Timezone for local trigger forms and recurring patterns. Empty means
	// the process local zone.
	Timezone string `json:"timezone,omitempty"`

	// TerminalGrace keeps cancelled/completed entries visible before they
	// leave the live set. Default "5s".
	TerminalGrace string `json:"terminal_grace,omitempty"`

	// MaxLive caps the live set. 0 means unlimited.
	MaxLive int `json:"max_live,omitempty"`
}

// AlertsConfig controls the dispatcher and its channels.
//
// Renderer selects where render commands go:
//   - "bus" (default): published on the event bus for the platform shell
//   - "log": written to the log only
//   - "both": bus and log
type AlertsConfig struct {
	Renderer         string       `json:"renderer,omitempty"`
	RecentlyResolved int          `json:"recently_resolved,omitempty"`
	DBus             bool         `json:"dbus,omitempty"`
	AppName          string       `json:"app_name,omitempty"`
	Notify           NotifyConfig `json:"notify"`
}

// NotifyConfig controls the OS notification queue.
type NotifyConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// StorageConfig controls persistence. Omitting the section disables it.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindd.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite
	CompactEvery int    `json:"compact_every,omitempty"` // file
}

// RecoveryConfig controls session recovery.
type RecoveryConfig struct {
	// Owner is the session opened at startup. Empty means "local".
	Owner            string `json:"owner,omitempty"`
	StaleAfter       string `json:"stale_after,omitempty"`    // default "24h"
	PurgeInterval    string `json:"purge_interval,omitempty"` // default "1h"; "0s" disables
	WriteConcurrency int    `json:"write_concurrency,omitempty"`
}

// DebugConfig controls the diagnostics HTTP server (metrics and pprof).
//
// Prefer a loopback address. A non-loopback bind needs a token or an
// explicit allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // pprof prefix, default "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // bearer token (never logged)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{TerminalGrace: "5s"},
		Alerts:    AlertsConfig{Renderer: "bus"},
		Storage:   &StorageConfig{Driver: "file", Path: "./data/remindd.json"},
		Recovery:  RecoveryConfig{Owner: "local", StaleAfter: "24h", PurgeInterval: "1h"},
	}
}
