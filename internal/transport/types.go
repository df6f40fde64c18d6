package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Frame types with a dedicated meaning on the wire. Any other type string is
// delivered to listeners registered for that literal string.
const (
	TypeNotification   = "notification"
	TypeChatResponse   = "chat_response"
	TypeChat           = "chat"
	TypeSettingsUpdate = "settings_update"
)

// Frame is one discrete message on the persistent connection:
//
//	{"type": string, "data": any, "timestamp": number}
type Frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ParseFrame decodes an inbound frame. A frame without a type is malformed.
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	f.Type = strings.TrimSpace(f.Type)
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrParse)
	}
	return f, nil
}

// EncodeFrame serializes data under the given type, stamped with now.
func EncodeFrame(typ string, data any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(Frame{Type: typ, Data: raw, Timestamp: now.UnixMilli()})
}

// Conn is a live, message-oriented connection. Read is only ever called from a
// single goroutine; Write and Ping may be called concurrently with Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer opens a Conn. Implementations should return a *StatusError when the
// server answered the handshake with a non-upgrade HTTP status.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	return f(ctx, url, header)
}

// ---- errors ----

var (
	// ErrParse marks a malformed inbound frame. It is recovered locally.
	ErrParse = errors.New("malformed frame")
)
