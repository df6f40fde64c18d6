package storage

import (
	"context"
	"errors"
	"time"

	"carelink/internal/contacts"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence boundary used by the app.
type Store interface {
	LoadRoster(ctx context.Context) ([]contacts.Contact, error)
	SaveRoster(ctx context.Context, roster []contacts.Contact) error
	LoadUnread(ctx context.Context) ([]contacts.Record, error)
	SaveUnread(ctx context.Context, records []contacts.Record) error
	Close() error
}
