package config

// Config is the on-disk service configuration. Durations are Go duration
// strings ("250ms", "3s"); empty or zero means the component default.
type Config struct {
	Connection ConnectionConfig `json:"connection"`
	Session    SessionConfig    `json:"session"`
	Dedup      DedupConfig      `json:"dedup"`
	Display    DisplayConfig    `json:"display"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Reminders  RemindersConfig  `json:"reminders"`
	Contacts   []ContactConfig  `json:"contacts,omitempty"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
}

// ConnectionConfig controls the streaming transport.
//
// Example:
//
//	"connection": { "url": "wss://care.example.com/ws", "reconnect_interval": "3s", "max_attempts": 5 }
type ConnectionConfig struct {
	URL               string `json:"url"`
	ReconnectInterval string `json:"reconnect_interval,omitempty"`
	MaxAttempts       int    `json:"max_attempts,omitempty"`
	// PingInterval "0s" keeps the default; "off" disables keep-alive.
	PingInterval     string `json:"ping_interval,omitempty"`
	WriteTimeout     string `json:"write_timeout,omitempty"`
	HandshakeTimeout string `json:"handshake_timeout,omitempty"`
	ReadLimitBytes   int64  `json:"read_limit_bytes,omitempty"`
	// MalformedLogPerSec throttles warnings about undecodable frames.
	MalformedLogPerSec int `json:"malformed_log_per_sec,omitempty"`
}

// SessionConfig supplies the bearer token. Token may reference an environment
// variable as "${NAME}"; TokenFile wins over Token when both are set.
type SessionConfig struct {
	Token     string `json:"token,omitempty"`
	TokenFile string `json:"token_file,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

type DedupConfig struct {
	Window     string  `json:"window,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	MinSimilar int     `json:"min_similar,omitempty"`
	MaxEntries int     `json:"max_entries,omitempty"`
}

type DisplayConfig struct {
	MaxVisible        int    `json:"max_visible,omitempty"`
	Stagger           string `json:"stagger,omitempty"`
	Duration          string `json:"duration,omitempty"`
	PriorityDurations bool   `json:"priority_durations,omitempty"`
	Prioritize        bool   `json:"prioritize,omitempty"`
	// TickInterval bounds how late a dismissal can be observed.
	TickInterval string `json:"tick_interval,omitempty"`
}

type PipelineConfig struct {
	InboxSize int `json:"inbox_size,omitempty"`
	// PersistInterval is how often unread counters are flushed to storage.
	PersistInterval string `json:"persist_interval,omitempty"`
}

type RemindersConfig struct {
	Enabled  bool     `json:"enabled"`
	Timezone string   `json:"timezone,omitempty"`
	Times    []string `json:"times,omitempty"`
	Title    string   `json:"title,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// ContactConfig is a roster entry. A configured roster replaces the stored one.
type ContactConfig struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
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

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/carelink.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
