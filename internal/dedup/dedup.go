// Package dedup decides whether an incoming notification repeats one seen recently.
//
// Two paths suppress a notification:
//   - exact: the severity|title|message signature is already cached
//   - fuzzy: at least MinSimilar cached entries score >= Threshold on the weighted
//     similarity 0.3*[severity equal] + 0.4*sim(title) + 0.3*sim(message)
//
// Entries expire Window after they were last seen; expired entries are swept
// lazily at the start of every ShouldFilter call.
package dedup

import (
	"sort"
	"sync"
	"time"

	"carelink/internal/notify"
	"carelink/internal/similarity"
	logx "carelink/pkg/logx"
)

const (
	DefaultWindow     = 30 * time.Second
	DefaultThreshold  = 0.8
	DefaultMinSimilar = 3
	DefaultMaxEntries = 500

	severityWeight = 0.3
	titleWeight    = 0.4
	messageWeight  = 0.3
)

// Config controls suppression. Zero fields take the defaults above.
type Config struct {
	Window     time.Duration
	Threshold  float64
	MinSimilar int
	MaxEntries int
}

// Entry is one cached signature.
type Entry struct {
	Notification notify.Notification
	FirstSeenAt  time.Time
	// SeenAt is bumped on every repeat sighting; expiry is measured from it.
	SeenAt      time.Time
	Occurrences int
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	TotalCached int `json:"totalCached"`
	// DuplicateCount is the number of repeat sightings folded into live entries.
	DuplicateCount int `json:"duplicateCount"`
	// Suppressed counts every filtered call since the last Clear.
	Suppressed uint64 `json:"suppressed"`
}

type Option func(*Deduplicator)

func WithLogger(log logx.Logger) Option { return func(d *Deduplicator) { d.log = log } }

// WithClock replaces time.Now. Tests use it to step through the window.
func WithClock(now func() time.Time) Option { return func(d *Deduplicator) { d.now = now } }

// Deduplicator is safe for concurrent use; each instance owns its cache.
type Deduplicator struct {
	mu  sync.Mutex
	cfg Config

	log logx.Logger
	now func() time.Time

	entries    map[string]*Entry
	suppressed uint64
}

func New(cfg Config, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		entries: map[string]*Entry{},
		now:     time.Now,
		log:     logx.Nop(),
	}
	for _, o := range opts {
		o(d)
	}
	d.applyLocked(cfg)
	return d
}

// Apply swaps the thresholds at runtime. Cached entries are kept.
func (d *Deduplicator) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Deduplicator) applyLocked(cfg Config) {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.MinSimilar <= 0 {
		cfg.MinSimilar = DefaultMinSimilar
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	d.cfg = cfg
}

// ShouldFilter reports whether n should be suppressed. The cache is updated on
// every call: a new signature is inserted, a repeat bumps its entry.
func (d *Deduplicator) ShouldFilter(n notify.Notification) bool {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepLocked(now)

	sig := n.Signature()
	if e, ok := d.entries[sig]; ok {
		e.SeenAt = now
		e.Occurrences++
		d.suppressed++
		d.log.Debug("duplicate suppressed", logx.String("id", n.ID), logx.String("match", "exact"), logx.Int("occurrences", e.Occurrences))
		return true
	}

	var (
		similar int
		best    *Entry
		bestSim float64
	)
	for _, e := range d.entries {
		s := Score(n, e.Notification)
		if s >= d.cfg.Threshold {
			similar++
			if s > bestSim {
				best, bestSim = e, s
			}
		}
	}
	if similar >= d.cfg.MinSimilar {
		best.SeenAt = now
		best.Occurrences++
		d.suppressed++
		d.log.Debug("near-duplicate suppressed",
			logx.String("id", n.ID),
			logx.Int("similar", similar),
			logx.Float64("best", bestSim),
		)
		return true
	}

	d.entries[sig] = &Entry{Notification: n, FirstSeenAt: now, SeenAt: now, Occurrences: 1}
	d.capLocked()
	return false
}

// Score is the weighted similarity between two notifications, in [0, 1].
func Score(a, b notify.Notification) float64 {
	s := titleWeight*similarity.Strings(a.Title, b.Title) + messageWeight*similarity.Strings(a.Message, b.Message)
	if a.Severity == b.Severity {
		s += severityWeight
	}
	return s
}

func (d *Deduplicator) sweepLocked(now time.Time) {
	for k, e := range d.entries {
		if now.Sub(e.SeenAt) > d.cfg.Window {
			delete(d.entries, k)
		}
	}
}

// capLocked evicts the least recently seen entries until within MaxEntries.
func (d *Deduplicator) capLocked() {
	for len(d.entries) > d.cfg.MaxEntries {
		var (
			oldKey string
			oldT   time.Time
			set    bool
		)
		for k, e := range d.entries {
			if !set || e.SeenAt.Before(oldT) {
				oldKey, oldT, set = k, e.SeenAt, true
			}
		}
		if !set {
			return
		}
		delete(d.entries, oldKey)
	}
}

// Stats returns cache counters. Expired entries are not swept here.
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Stats{TotalCached: len(d.entries), Suppressed: d.suppressed}
	for _, e := range d.entries {
		st.DuplicateCount += e.Occurrences - 1
	}
	return st
}

// Entries returns a copy of the live cache, most recently seen first.
func (d *Deduplicator) Entries() []Entry {
	d.mu.Lock()
	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SeenAt.After(out[j].SeenAt) })
	return out
}

// Clear drops every cached entry and resets counters.
func (d *Deduplicator) Clear() {
	d.mu.Lock()
	d.entries = map[string]*Entry{}
	d.suppressed = 0
	d.mu.Unlock()
}
