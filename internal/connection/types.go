package connection

import (
	"encoding/json"
	"errors"
	"time"

	"carelink/internal/transport"
)

// Lifecycle event names. Inbound frames are emitted under their own type string
// (transport.TypeNotification, transport.TypeChatResponse, or anything else).
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventError        = "error"

	EventNotification = transport.TypeNotification
	EventChatResponse = transport.TypeChatResponse
)

const (
	DefaultBaseInterval = 3 * time.Second
	DefaultMaxAttempts  = 5
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultDialTimeout  = 15 * time.Second
)

var (
	// ErrSendRejected is returned by Send while the connection is not Open.
	ErrSendRejected = errors.New("connection not open")
	ErrClosed       = errors.New("connection manager closed")

	errDisconnected = errors.New("disconnected")
)

// State is the transport lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ReconnectState is reset on every successful open and incremented on every
// failed or dropped attempt.
type ReconnectState struct {
	Attempts  int           `json:"attempts"`
	NextDelay time.Duration `json:"nextDelay"`
}

// Config controls the transport lifecycle.
type Config struct {
	URL string
	// BaseInterval is multiplied by the attempt number (linear backoff).
	BaseInterval time.Duration
	MaxAttempts  int
	// PingInterval <= 0 disables keep-alive pings.
	PingInterval time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	// MalformedLogPerSec throttles "malformed frame" warnings.
	MalformedLogPerSec int
}

func (c Config) withDefaults() Config {
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultBaseInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.MalformedLogPerSec <= 0 {
		c.MalformedLogPerSec = 1
	}
	return c
}

// Event is delivered to listeners.
type Event struct {
	Name string
	// Data is the raw frame payload; empty for lifecycle events.
	Data json.RawMessage
	// Timestamp is the frame's own timestamp, or ReceivedAt when the frame has none.
	Timestamp  time.Time
	ReceivedAt time.Time
	// Err is set on lifecycle "error" events. A server frame that happens to be
	// typed "error" arrives with Err == nil and its payload in Data.
	Err *transport.TransportError
}

// Handler receives events. Handlers run on the reader goroutine, one frame at a
// time; a slow handler delays every later frame.
type Handler func(Event)

// ListenerID identifies one registration made with On.
type ListenerID uint64
