package notify

import (
	"strings"
	"time"
)

// Severity is the notification level used for both dedup weighting and display priority.
//
// Values outside the four known levels are kept verbatim; they sort last and use the
// default display duration.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Known reports whether s is one of the four defined levels.
func (s Severity) Known() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	default:
		return false
	}
}

// ParseSeverity normalizes case and whitespace. An empty value means info.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s == "" {
		return SeverityInfo
	}
	if s == "warn" {
		return SeverityWarning
	}
	return s
}

// Notification is one inbound alert. It is created on arrival and never mutated.
type Notification struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	// OriginContact is the resolved contact id, empty when the payload names none.
	OriginContact string `json:"originContact,omitempty"`
	// Timestamp is epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Attrs holds the raw contact-identifying fields of the payload (aiRoleId, aiName, ...)
	// so contact resolution can apply its own ordered strategies.
	Attrs map[string]string `json:"-"`
}

// Time returns the timestamp as a time.Time.
func (n Notification) Time() time.Time { return time.UnixMilli(n.Timestamp) }

// Signature is the exact-match dedup key.
func (n Notification) Signature() string {
	return string(n.Severity) + "|" + n.Title + "|" + n.Message
}
