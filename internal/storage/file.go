package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"remindd/internal/entry"
	logx "remindd/pkg/logx"
)

const defaultCompactEvery = 500

// fileStore keeps every snapshot in memory and persists through two files:
//   - <prefix>.entries.json   (compacted snapshot: id -> entry)
//   - <prefix>.journal.jsonl  (append-only put/delete records)
//
// The journal is folded into the snapshot every CompactEvery writes and on Close.
type fileStore struct {
	log logx.Logger
	fs  afero.Fs

	mu sync.Mutex

	snapshotPath string
	journal      afero.File
	entries      map[string]entry.Entry

	writes       int
	compactEvery int
}

type journalRecord struct {
	Op    string       `json:"op"` // put | del
	ID    string       `json:"id"`
	Entry *entry.Entry `json:"entry,omitempty"`
}

func openFile(cfg Config, fs afero.Fs, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".entries.json"
	journalPath := prefix + ".journal.jsonl"

	entries := map[string]entry.Entry{}
	if err := loadSnapshot(fs, snapPath, entries); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("entry snapshot unreadable; starting from journal", logx.String("path", snapPath), logx.Err(err))
	}
	skipped, err := replayJournal(fs, journalPath, entries)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped corrupt journal records", logx.String("path", journalPath), logx.Int("skipped", skipped))
	}

	jf, err := fs.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = defaultCompactEvery
	}
	return &fileStore{
		log:          log,
		fs:           fs,
		snapshotPath: snapPath,
		journal:      jf,
		entries:      entries,
		compactEvery: every,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err1 := s.compactLocked()
	err2 := s.journal.Close()
	s.journal = nil
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) SaveSnapshot(ctx context.Context, e entry.Entry) error {
	_ = ctx
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("entry id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrDisabled
	}
	snap := e.Clone()
	if err := s.appendLocked(journalRecord{Op: "put", ID: e.ID, Entry: &snap}); err != nil {
		return err
	}
	s.entries[e.ID] = snap
	return nil
}

func (s *fileStore) DeleteSnapshot(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrDisabled
	}
	if _, ok := s.entries[id]; !ok {
		return nil
	}
	if err := s.appendLocked(journalRecord{Op: "del", ID: id}); err != nil {
		return err
	}
	delete(s.entries, id)
	return nil
}

func (s *fileStore) LoadSnapshotsFor(ctx context.Context, owner string) ([]entry.Entry, error) {
	return s.load(ctx, func(e *entry.Entry) bool { return e.Owner == owner })
}

func (s *fileStore) LoadAll(ctx context.Context) ([]entry.Entry, error) {
	return s.load(ctx, nil)
}

func (s *fileStore) load(ctx context.Context, keep func(e *entry.Entry) bool) ([]entry.Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrDisabled
	}
	out := make([]entry.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep != nil && !keep(&e) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) appendLocked(rec journalRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := s.journal.Write(b); err != nil {
		return err
	}
	if err := s.journal.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.entries); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func loadSnapshot(fs afero.Fs, path string, out map[string]entry.Entry) error {
	f, err := fs.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]entry.Entry
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

// replayJournal applies journal records on top of out and returns the number
// of records it could not decode.
func replayJournal(fs afero.Fs, path string, out map[string]entry.Entry) (int, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var r journalRecord
		if err := json.Unmarshal(line, &r); err != nil || r.ID == "" {
			skipped++
			continue
		}
		switch r.Op {
		case "put":
			if r.Entry == nil {
				skipped++
				continue
			}
			out[r.ID] = *r.Entry
		case "del":
			delete(out, r.ID)
		default:
			skipped++
		}
	}
	return skipped, sc.Err()
}
