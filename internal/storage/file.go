package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"carelink/internal/contacts"
	logx "carelink/pkg/logx"
)

// fileStore keeps one JSON snapshot per collection:
//   - <prefix>.roster.json
//   - <prefix>.unread.json
type fileStore struct {
	log logx.Logger

	mu         sync.Mutex
	closed     bool
	rosterPath string
	unreadPath string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		log:        log,
		rosterPath: prefix + ".roster.json",
		unreadPath: prefix + ".unread.json",
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fileStore) LoadRoster(ctx context.Context) ([]contacts.Contact, error) {
	var out []contacts.Contact
	return out, s.load(ctx, s.rosterPath, &out)
}

func (s *fileStore) SaveRoster(ctx context.Context, roster []contacts.Contact) error {
	return s.save(ctx, s.rosterPath, roster)
}

func (s *fileStore) LoadUnread(ctx context.Context) ([]contacts.Record, error) {
	var out []contacts.Record
	return out, s.load(ctx, s.unreadPath, &out)
}

func (s *fileStore) SaveUnread(ctx context.Context, records []contacts.Record) error {
	return s.save(ctx, s.unreadPath, records)
}

// load leaves v untouched when the file does not exist yet.
func (s *fileStore) load(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		s.log.Warn("corrupt snapshot ignored", logx.String("path", path), logx.Err(err))
		return nil
	}
	return nil
}

// save writes to a temp file and renames it over the snapshot.
func (s *fileStore) save(ctx context.Context, path string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
