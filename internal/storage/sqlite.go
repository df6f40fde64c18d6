package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"carelink/internal/contacts"
	logx "carelink/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
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
	return s.db.Close()
}

func (s *sqliteStore) LoadRoster(ctx context.Context) ([]contacts.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, COALESCE(image_ref, '') FROM roster ORDER BY position, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contacts.Contact
	for rows.Next() {
		var c contacts.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.ImageRef); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveRoster replaces the stored roster.
func (s *sqliteStore) SaveRoster(ctx context.Context, roster []contacts.Contact) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM roster`); err != nil {
			return err
		}
		for i, c := range roster {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO roster(id, name, image_ref, position) VALUES(?,?,?,?)
				 ON CONFLICT(id) DO UPDATE SET name=excluded.name, image_ref=excluded.image_ref`,
				c.ID, c.Name, nullStr(c.ImageRef), i,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadUnread(ctx context.Context) ([]contacts.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contact_id, unread_count, has_new_activity FROM unread ORDER BY position, contact_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []contacts.Record
	for rows.Next() {
		var r contacts.Record
		if err := rows.Scan(&r.ContactID, &r.UnreadCount, &r.HasNewActivity); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveUnread upserts every record. Records are never deleted.
func (s *sqliteStore) SaveUnread(ctx context.Context, records []contacts.Record) error {
	now := time.Now().UnixMilli()
	return s.tx(ctx, func(tx *sql.Tx) error {
		for i, r := range records {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO unread(contact_id, unread_count, has_new_activity, position, updated_at) VALUES(?,?,?,?,?)
				 ON CONFLICT(contact_id) DO UPDATE SET unread_count=excluded.unread_count,
				   has_new_activity=excluded.has_new_activity, position=excluded.position, updated_at=excluded.updated_at`,
				r.ContactID, r.UnreadCount, r.HasNewActivity, i, now,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
