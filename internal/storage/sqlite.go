package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindd/internal/entry"
	logx "remindd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveSnapshot(ctx context.Context, e entry.Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("entry id required")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var next any
	if e.NextRunAt != nil {
		next = e.NextRunAt.UnixMilli()
	}
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries(id, owner, status, next_run_at, updated_at, data)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   owner=excluded.owner,
		   status=excluded.status,
		   next_run_at=excluded.next_run_at,
		   updated_at=excluded.updated_at,
		   data=excluded.data`,
		e.ID, e.Owner, string(e.Status), next, updated.Format(time.RFC3339Nano), string(data),
	)
	return err
}

func (s *sqliteStore) DeleteSnapshot(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) LoadSnapshotsFor(ctx context.Context, owner string) ([]entry.Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM entries WHERE owner = ? ORDER BY id`, owner)
	if err != nil {
		return nil, err
	}
	return s.scan(rows)
}

func (s *sqliteStore) LoadAll(ctx context.Context) ([]entry.Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return s.scan(rows)
}

// scan decodes rows; undecodable rows are logged and skipped.
func (s *sqliteStore) scan(rows *sql.Rows) ([]entry.Entry, error) {
	defer rows.Close()
	var out []entry.Entry
	for rows.Next() {
		var (
			id   string
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		var e entry.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			s.log.Warn("skipping undecodable entry snapshot", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
