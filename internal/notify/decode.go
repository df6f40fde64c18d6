package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrEmptyPayload = errors.New("notify: empty payload")

// contactFields are copied into Notification.Attrs when present.
var contactFields = []string{"aiRoleId", "roleId", "contactId", "originContact", "aiName", "name"}

// Decode builds a Notification from a frame's data payload.
//
// It is deliberately lenient: ids may be numbers, timestamps may be numbers or
// RFC3339 strings, "content"/"body" stand in for "message" and "type"/"level" for
// "severity". Missing ids are synthesized; a missing timestamp becomes arrival.
// Only a payload that is not a JSON object is an error.
func Decode(data json.RawMessage, arrival time.Time) (Notification, error) {
	if len(data) == 0 || string(data) == "null" {
		return Notification{}, ErrEmptyPayload
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Notification{}, fmt.Errorf("notify: decode payload: %w", err)
	}

	n := Notification{
		ID:       scalar(m, "id", "notificationId"),
		Title:    scalar(m, "title"),
		Message:  scalar(m, "message", "content", "body"),
		Severity: ParseSeverity(scalar(m, "severity", "type", "level")),
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Timestamp = timestampMillis(m["timestamp"])
	if n.Timestamp <= 0 {
		n.Timestamp = arrival.UnixMilli()
	}

	for _, k := range contactFields {
		if v := scalar(m, k); v != "" {
			if n.Attrs == nil {
				n.Attrs = make(map[string]string, 2)
			}
			n.Attrs[k] = v
		}
	}
	return n, nil
}

// scalar returns the first key present as a non-empty scalar, rendered as a string.
func scalar(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch x := v.(type) {
		case string:
			s = x
		case float64:
			s = strconv.FormatFloat(x, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(x)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func timestampMillis(v any) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case string:
		x = strings.TrimSpace(x)
		if x == "" {
			return 0
		}
		if ms, err := strconv.ParseInt(x, 10, 64); err == nil {
			return ms
		}
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
