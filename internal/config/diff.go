package config

import (
	"reflect"
	"strings"

	logx "carelink/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs plus
// log-safe attributes describing the new values. Secrets never appear.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Connection, newCfg.Connection) {
		changed = append(changed, "connection")
		attrs = append(attrs,
			logx.String("connection.url", redactURL(newCfg.Connection.URL)),
			logx.String("connection.reconnect_interval", newCfg.Connection.ReconnectInterval),
			logx.Int("connection.max_attempts", newCfg.Connection.MaxAttempts),
		)
	}
	if !reflect.DeepEqual(oldCfg.Session, newCfg.Session) {
		changed = append(changed, "session")
		attrs = append(attrs,
			logx.Bool("session.token_set", strings.TrimSpace(newCfg.Session.Token) != ""),
			logx.Bool("session.token_file_set", strings.TrimSpace(newCfg.Session.TokenFile) != ""),
		)
	}
	if oldCfg.Dedup != newCfg.Dedup {
		changed = append(changed, "dedup")
		attrs = append(attrs,
			logx.String("dedup.window", newCfg.Dedup.Window),
			logx.Float64("dedup.threshold", newCfg.Dedup.Threshold),
			logx.Int("dedup.min_similar", newCfg.Dedup.MinSimilar),
		)
	}
	if oldCfg.Display != newCfg.Display {
		changed = append(changed, "display")
		attrs = append(attrs,
			logx.Int("display.max_visible", newCfg.Display.MaxVisible),
			logx.Bool("display.priority_durations", newCfg.Display.PriorityDurations),
			logx.Bool("display.prioritize", newCfg.Display.Prioritize),
		)
	}
	if oldCfg.Pipeline != newCfg.Pipeline {
		changed = append(changed, "pipeline")
		attrs = append(attrs, logx.Int("pipeline.inbox_size", newCfg.Pipeline.InboxSize))
	}
	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Bool("reminders.enabled", newCfg.Reminders.Enabled),
			logx.Int("reminders.count", len(newCfg.Reminders.Times)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Contacts, newCfg.Contacts) {
		changed = append(changed, "contacts")
		attrs = append(attrs, logx.Int("contacts.count", len(newCfg.Contacts)))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		// Storage is opened once at startup.
		changed = append(changed, "storage(restart required)")
	}
	return changed, attrs
}

// redactURL drops the query string, which may carry credentials.
func redactURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + "?…"
	}
	return u
}
