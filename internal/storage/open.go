package storage

import (
	"errors"
	"strings"

	"github.com/spf13/afero"

	logx "remindd/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger, opts ...Option) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}

	var (
		st  Store
		err error
	)
	switch driver {
	case "file":
		st, err = openFile(cfg, o.fs, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		st = &instrumented{Store: st, m: o.metrics}
	}
	log.Info("storage opened", logx.String("driver", driver), logx.String("path", cfg.Path))
	return st, nil
}
