package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"carelink/internal/config"
	"carelink/internal/connection"
	"carelink/internal/contacts"
	"carelink/internal/dedup"
	"carelink/internal/display"
	"carelink/internal/reminder"
	"carelink/internal/storage"
	"carelink/internal/transport/ws"
	logx "carelink/pkg/logx"
)

const (
	defaultTickInterval    = 100 * time.Millisecond
	defaultPersistInterval = 10 * time.Second
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapConnectionConfig(cfg *config.Config) (connection.Config, error) {
	cc := cfg.Connection
	if strings.TrimSpace(cc.URL) == "" {
		return connection.Config{}, fmt.Errorf("connection.url is required")
	}
	if cc.MaxAttempts < 0 {
		return connection.Config{}, fmt.Errorf("connection.max_attempts must be >= 0")
	}
	base, err := config.ParseDuration("connection.reconnect_interval", cc.ReconnectInterval, connection.DefaultBaseInterval)
	if err != nil {
		return connection.Config{}, err
	}
	var ping time.Duration
	if strings.EqualFold(strings.TrimSpace(cc.PingInterval), "off") {
		ping = -1
	} else if ping, err = config.ParseDuration("connection.ping_interval", cc.PingInterval, connection.DefaultPingInterval); err != nil {
		return connection.Config{}, err
	}
	write, err := config.ParseDuration("connection.write_timeout", cc.WriteTimeout, connection.DefaultWriteTimeout)
	if err != nil {
		return connection.Config{}, err
	}
	dial, err := config.ParseDuration("connection.handshake_timeout", cc.HandshakeTimeout, connection.DefaultDialTimeout)
	if err != nil {
		return connection.Config{}, err
	}
	return connection.Config{
		URL:                strings.TrimSpace(cc.URL),
		BaseInterval:       base,
		MaxAttempts:        cc.MaxAttempts,
		PingInterval:       ping,
		WriteTimeout:       write,
		DialTimeout:        dial,
		MalformedLogPerSec: cc.MalformedLogPerSec,
	}, nil
}

func mapDialerConfig(cfg *config.Config) (ws.Config, error) {
	hs, err := config.ParseDuration("connection.handshake_timeout", cfg.Connection.HandshakeTimeout, connection.DefaultDialTimeout)
	if err != nil {
		return ws.Config{}, err
	}
	if cfg.Connection.ReadLimitBytes < 0 {
		return ws.Config{}, fmt.Errorf("connection.read_limit_bytes must be >= 0")
	}
	return ws.Config{HandshakeTimeout: hs, ReadLimit: cfg.Connection.ReadLimitBytes}, nil
}

func mapDedupConfig(cfg *config.Config) (dedup.Config, error) {
	dc := cfg.Dedup
	if dc.Threshold < 0 || dc.Threshold > 1 {
		return dedup.Config{}, fmt.Errorf("dedup.threshold must be within [0,1]")
	}
	if dc.MinSimilar < 0 || dc.MaxEntries < 0 {
		return dedup.Config{}, fmt.Errorf("dedup.min_similar and dedup.max_entries must be >= 0")
	}
	window, err := config.ParseDuration("dedup.window", dc.Window, dedup.DefaultWindow)
	if err != nil {
		return dedup.Config{}, err
	}
	return dedup.Config{
		Window:     window,
		Threshold:  dc.Threshold,
		MinSimilar: dc.MinSimilar,
		MaxEntries: dc.MaxEntries,
	}, nil
}

func mapDisplayConfig(cfg *config.Config) (display.Config, time.Duration, error) {
	dc := cfg.Display
	if dc.MaxVisible < 0 {
		return display.Config{}, 0, fmt.Errorf("display.max_visible must be >= 0")
	}
	stagger, err := config.ParseDuration("display.stagger", dc.Stagger, display.DefaultStagger)
	if err != nil {
		return display.Config{}, 0, err
	}
	dur, err := config.ParseDuration("display.duration", dc.Duration, display.DefaultDuration)
	if err != nil {
		return display.Config{}, 0, err
	}
	tick, err := config.ParseDuration("display.tick_interval", dc.TickInterval, defaultTickInterval)
	if err != nil {
		return display.Config{}, 0, err
	}
	return display.Config{
		MaxVisible:           dc.MaxVisible,
		Stagger:              stagger,
		Duration:             dur,
		UsePriorityDurations: dc.PriorityDurations,
		Prioritize:           dc.Prioritize,
	}, tick, nil
}

func mapPipelineConfig(cfg *config.Config) (inboxSize int, persist time.Duration, err error) {
	if cfg.Pipeline.InboxSize < 0 {
		return 0, 0, fmt.Errorf("pipeline.inbox_size must be >= 0")
	}
	persist, err = config.ParseDuration("pipeline.persist_interval", cfg.Pipeline.PersistInterval, defaultPersistInterval)
	return cfg.Pipeline.InboxSize, persist, err
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminders
	for _, t := range rc.Times {
		if _, err := reminder.ParseTime(t); err != nil {
			return reminder.Config{}, fmt.Errorf("reminders.times: %w", err)
		}
	}
	if tz := strings.TrimSpace(rc.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return reminder.Config{}, fmt.Errorf("reminders.timezone: invalid %q: %w", tz, err)
		}
	}
	return reminder.Config{
		Enabled:  rc.Enabled,
		Timezone: rc.Timezone,
		Times:    rc.Times,
		Title:    rc.Title,
		Message:  rc.Message,
	}, nil
}

func mapRoster(cfg *config.Config) []contacts.Contact {
	if len(cfg.Contacts) == 0 {
		return nil
	}
	out := make([]contacts.Contact, 0, len(cfg.Contacts))
	for _, c := range cfg.Contacts {
		if id := strings.TrimSpace(c.ID); id != "" {
			out = append(out, contacts.Contact{ID: id, Name: strings.TrimSpace(c.Name), ImageRef: c.Image})
		}
	}
	return out
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// resolveToken returns the bearer token from token_file, or from token with
// "${NAME}" references expanded from the environment.
func resolveToken(sc config.SessionConfig) (string, error) {
	if path := strings.TrimSpace(sc.TokenFile); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("session.token_file: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return strings.TrimSpace(os.ExpandEnv(sc.Token)), nil
}

// validate runs every mapping so a bad reload is rejected before commit.
func validate(cfg *config.Config) error {
	if _, err := mapConnectionConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDialerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDedupConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapDisplayConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapPipelineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
