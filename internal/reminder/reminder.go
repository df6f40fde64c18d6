// Package reminder fires daily time-of-day reminders as local notifications and
// mirrors schedule changes to the server with a settings_update frame.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"carelink/internal/notify"
	"carelink/internal/transport"
	logx "carelink/pkg/logx"
)

const (
	DefaultTitle   = "提醒"
	DefaultMessage = "该吃药了"
	// AttrSource marks notifications produced locally.
	AttrSource = "source"
)

var ErrInvalidTime = errors.New("reminder: invalid time")

type Config struct {
	Enabled  bool
	Timezone string
	// Times are "HH:MM" in Timezone.
	Times   []string
	Title   string
	Message string
}

// Sender is the outbound half of the connection manager.
type Sender interface {
	Send(ctx context.Context, typ string, data any) error
}

// Settings is the payload of the settings_update frame.
type Settings struct {
	Reminders Schedule `json:"reminders"`
}

type Schedule struct {
	Enabled  bool     `json:"enabled"`
	Timezone string   `json:"timezone,omitempty"`
	Times    []string `json:"times"`
}

type Service struct {
	log    logx.Logger
	sink   func(notify.Notification)
	sender Sender
	now    func() time.Time
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	c       *cron.Cron
	running bool
	unwatch func() bool
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a stopped service. sink receives fired reminders; sender may be
// nil when schedule changes should stay local.
func New(cfg Config, sink func(notify.Notification), sender Sender, opts ...Option) *Service {
	s := &Service{
		sink:   sink,
		sender: sender,
		now:    time.Now,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.String("comp", "reminder"))
	s.cfg = normalize(cfg)
	s.loc = loadLocation(s.cfg.Timezone, s.log)
	return s
}

func normalize(cfg Config) Config {
	if strings.TrimSpace(cfg.Title) == "" {
		cfg.Title = DefaultTitle
	}
	if strings.TrimSpace(cfg.Message) == "" {
		cfg.Message = DefaultMessage
	}
	cfg.Times = slices.Clone(cfg.Times)
	return cfg
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("unknown timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

var reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// ParseTime validates "HH:MM" and returns the matching daily cron spec.
func ParseTime(raw string) (string, error) {
	m := reHHMM.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 || mm > 59 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	return fmt.Sprintf("%d %d * * *", mm, hh), nil
}

// Start begins firing and keeps the schedule alive until ctx is done or Stop
// is called. It is a no-op when already started. A disabled service stays
// idle until Apply enables it.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.unwatch = context.AfterFunc(ctx, func() { s.Stop(context.Background()) })
	if s.cfg.Enabled {
		s.startLocked()
	}
}

// Running reports whether the service is started.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) startLocked() {
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, t := range s.cfg.Times {
		spec, err := ParseTime(t)
		if err != nil {
			s.log.Warn("skipping reminder", logx.Err(err))
			continue
		}
		label := strings.TrimSpace(t)
		if _, err := s.c.AddFunc(spec, func() { s.fire(label) }); err != nil {
			s.log.Warn("skipping reminder", logx.String("time", label), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("reminders scheduled", logx.String("tz", s.loc.String()), logx.Int("count", len(s.c.Entries())))
}

// Stop halts firing and waits for a running callback, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.running = false
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply swaps the configuration and reschedules if started.
func (s *Service) Apply(cfg Config) {
	cfg = normalize(cfg)
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.cfg = cfg
	s.loc = loadLocation(cfg.Timezone, s.log)
	if cfg.Enabled && s.running {
		s.startLocked()
	}
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

// UpdateSchedule validates times, applies them locally and sends them to the
// server. The local schedule changes even if the send fails.
func (s *Service) UpdateSchedule(ctx context.Context, times []string) error {
	for _, t := range times {
		if _, err := ParseTime(t); err != nil {
			return err
		}
	}
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	cfg.Times = times
	cfg.Enabled = len(times) > 0
	s.Apply(cfg)

	if s.sender == nil {
		return nil
	}
	payload := Settings{Reminders: Schedule{Enabled: cfg.Enabled, Timezone: cfg.Timezone, Times: slices.Clone(times)}}
	if err := s.sender.Send(ctx, transport.TypeSettingsUpdate, payload); err != nil {
		return fmt.Errorf("reminder: sync schedule: %w", err)
	}
	return nil
}

// Times returns the configured schedule.
func (s *Service) Times() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cfg.Times)
}

// NextAfter returns the next firing time of every valid entry, earliest first.
func (s *Service) NextAfter(now time.Time) []time.Time {
	s.mu.Lock()
	times := slices.Clone(s.cfg.Times)
	loc := s.loc
	s.mu.Unlock()

	var out []time.Time
	for _, t := range times {
		spec, err := ParseTime(t)
		if err != nil {
			continue
		}
		sched, err := s.parser.Parse(spec)
		if err != nil {
			continue
		}
		out = append(out, sched.Next(now.In(loc)))
	}
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}

func (s *Service) fire(label string) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	now := s.now()
	n := notify.Notification{
		ID:        uuid.NewString(),
		Title:     cfg.Title,
		Message:   cfg.Message,
		Severity:  notify.SeverityInfo,
		Timestamp: now.UnixMilli(),
		Attrs:     map[string]string{AttrSource: "reminder", "at": label},
	}
	s.log.Debug("reminder fired", logx.String("at", label))
	if s.sink != nil {
		s.sink(n)
	}
}
