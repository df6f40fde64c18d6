// Package session holds the bearer token the transport authenticates with and
// the user identity carried inside it.
//
// The client never holds the issuer's key, so tokens are decoded without
// signature verification; the server verifies them on every handshake.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoToken = errors.New("session: no token")

// Identity is the current user as described by the token claims. Opaque
// (non-JWT) tokens yield an Identity with only UserID from configuration.
type Identity struct {
	UserID    string
	Name      string
	ExpiresAt time.Time
}

type claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId,omitempty"`
	Name     string `json:"name,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

type Session struct {
	now func() time.Time

	mu       sync.RWMutex
	token    string
	identity Identity
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a session from token. fallbackUser names the user when the token
// carries no subject.
func New(token, fallbackUser string, opts ...Option) (*Session, error) {
	s := &Session{now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if err := s.SetToken(token, fallbackUser); err != nil {
		return nil, err
	}
	return s, nil
}

// SetToken swaps the token, e.g. after the account layer refreshes it. The next
// dial picks it up.
func (s *Session) SetToken(token, fallbackUser string) error {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return ErrNoToken
	}
	id, err := decode(token)
	if err != nil {
		return err
	}
	if id.UserID == "" {
		id.UserID = fallbackUser
	}
	s.mu.Lock()
	s.token = token
	s.identity = id
	s.mu.Unlock()
	return nil
}

// decode reads claims from a JWT. Strings that are not three dot-separated
// segments are treated as opaque tokens.
func decode(token string) (Identity, error) {
	if strings.Count(token, ".") != 2 {
		return Identity{}, nil
	}
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Identity{}, fmt.Errorf("session: decode token: %w", err)
	}
	id := Identity{UserID: c.UserID, Name: c.Name}
	if id.UserID == "" {
		id.UserID = c.Subject
	}
	if id.Name == "" {
		id.Name = c.Nickname
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}
	return id, nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Expired reports whether the token carries an expiry that has passed.
func (s *Session) Expired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.identity.ExpiresAt.IsZero() && !s.now().Before(s.identity.ExpiresAt)
}

// Header returns the handshake headers for the transport.
func (s *Session) Header() http.Header {
	h := http.Header{}
	if tok := s.Token(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	return h
}
