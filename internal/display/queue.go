// Package display bounds how many notifications are on screen at once.
//
// The queue holds no timers. Every slot carries its DismissAt deadline and the
// owner drives expiry by calling Tick with the current time; NextDeadline tells
// it when the next call is due.
package display

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"carelink/internal/notify"
	"carelink/internal/priority"
	logx "carelink/pkg/logx"
)

const (
	DefaultMaxVisible = 3
	DefaultStagger    = 200 * time.Millisecond
	DefaultDuration   = 5 * time.Second
	DefaultMaxSeen    = 1000
)

type Config struct {
	MaxVisible int
	// Stagger is the pause after a dismissal before the next promotion.
	Stagger time.Duration
	// Duration applies to every slot unless UsePriorityDurations is set.
	Duration             time.Duration
	UsePriorityDurations bool
	// Prioritize keeps the pending queue in priority order instead of FIFO.
	Prioritize bool
	// MaxSeen caps the seen-id set between PruneSeen calls.
	MaxSeen int
}

func (c Config) withDefaults() Config {
	if c.MaxVisible <= 0 {
		c.MaxVisible = DefaultMaxVisible
	}
	if c.Stagger <= 0 {
		c.Stagger = DefaultStagger
	}
	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}
	if c.MaxSeen <= 0 {
		c.MaxSeen = DefaultMaxSeen
	}
	return c
}

// Slot is a notification currently on screen.
type Slot struct {
	Notification notify.Notification
	// Key is unique per showing, even if the same notification id were shown twice.
	Key        string
	InsertedAt time.Time
	DismissAt  time.Time
}

type ChangeKind string

const (
	ChangeShown     ChangeKind = "shown"
	ChangeDismissed ChangeKind = "dismissed"
)

type DismissReason string

const (
	ReasonTimeout DismissReason = "timeout"
	ReasonManual  DismissReason = "manual"
)

type Change struct {
	Kind   ChangeKind
	Slot   Slot
	Reason DismissReason
}

type Option func(*Queue)

func WithLogger(log logx.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// WithKeyFunc overrides display key generation.
func WithKeyFunc(fn func() string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newKey = fn
		}
	}
}

type Queue struct {
	log    logx.Logger
	newKey func() string

	mu       sync.Mutex
	cfg      Config
	visible  []Slot
	pending  []notify.Notification
	seen     map[string]struct{}
	seenFIFO []string
	gate     time.Time

	smu     sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

func New(cfg Config, opts ...Option) *Queue {
	q := &Queue{
		cfg:    cfg.withDefaults(),
		newKey: uuid.NewString,
		seen:   make(map[string]struct{}),
		subs:   make(map[int]func(Change)),
	}
	for _, o := range opts {
		o(q)
	}
	q.log = q.log.With(logx.String("comp", "display"))
	return q
}

// Apply swaps the configuration. Visible slots keep their deadlines. Shrinking
// MaxVisible does not hide slots already on screen: they run out their
// deadlines and nothing is promoted until fewer than MaxVisible remain.
func (q *Queue) Apply(cfg Config) {
	q.mu.Lock()
	q.cfg = cfg.withDefaults()
	if q.cfg.Prioritize {
		q.pending = priority.SortByPriority(q.pending)
	}
	q.mu.Unlock()
}

// Subscribe registers fn for shown/dismissed changes and returns a func that
// removes it. fn runs without the queue lock held.
func (q *Queue) Subscribe(fn func(Change)) func() {
	q.smu.Lock()
	q.nextSub++
	id := q.nextSub
	q.subs[id] = fn
	q.smu.Unlock()
	return func() {
		q.smu.Lock()
		delete(q.subs, id)
		q.smu.Unlock()
	}
}

func (q *Queue) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	q.smu.Lock()
	subs := make([]func(Change), 0, len(q.subs))
	for _, fn := range q.subs {
		subs = append(subs, fn)
	}
	q.smu.Unlock()
	for _, c := range changes {
		for _, fn := range subs {
			fn(c)
		}
	}
}

// Admit queues n unless its id has already been seen, queued or shown. It
// promotes immediately when a slot is free and the stagger gate is open.
func (q *Queue) Admit(n notify.Notification, now time.Time) bool {
	q.mu.Lock()
	if _, dup := q.seen[n.ID]; dup {
		q.mu.Unlock()
		return false
	}
	q.markSeenLocked(n.ID)
	q.pending = append(q.pending, n)
	if q.cfg.Prioritize {
		q.pending = priority.SortByPriority(q.pending)
	}
	changes := q.drainLocked(now, nil)
	q.mu.Unlock()

	q.publish(changes)
	return true
}

func (q *Queue) markSeenLocked(id string) {
	q.seen[id] = struct{}{}
	q.seenFIFO = append(q.seenFIFO, id)
	for scanned := 0; len(q.seen) > q.cfg.MaxSeen && scanned < len(q.seenFIFO); scanned++ {
		old := q.seenFIFO[0]
		q.seenFIFO = q.seenFIFO[1:]
		if old != id && !q.liveLocked(old) {
			delete(q.seen, old)
			continue
		}
		q.seenFIFO = append(q.seenFIFO, old)
	}
}

func (q *Queue) liveLocked(id string) bool {
	for _, s := range q.visible {
		if s.Notification.ID == id {
			return true
		}
	}
	for _, n := range q.pending {
		if n.ID == id {
			return true
		}
	}
	return false
}

func (q *Queue) drainLocked(now time.Time, changes []Change) []Change {
	for len(q.visible) < q.cfg.MaxVisible && len(q.pending) > 0 && !now.Before(q.gate) {
		n := q.pending[0]
		q.pending = q.pending[1:]
		d := q.cfg.Duration
		if q.cfg.UsePriorityDurations {
			d = priority.DisplayDuration(n)
		}
		slot := Slot{Notification: n, Key: q.newKey(), InsertedAt: now, DismissAt: now.Add(d)}
		q.visible = append(q.visible, slot)
		q.log.Debug("shown", logx.String("id", n.ID), logx.String("key", slot.Key), logx.Duration("for", d))
		changes = append(changes, Change{Kind: ChangeShown, Slot: slot})
	}
	return changes
}

// Tick dismisses every slot whose deadline has passed and promotes pending
// notifications once the stagger gate opens.
func (q *Queue) Tick(now time.Time) {
	q.mu.Lock()
	var changes []Change
	kept := q.visible[:0]
	for _, s := range q.visible {
		if now.Before(s.DismissAt) {
			kept = append(kept, s)
			continue
		}
		changes = append(changes, Change{Kind: ChangeDismissed, Slot: s, Reason: ReasonTimeout})
	}
	clear(q.visible[len(kept):])
	q.visible = kept
	if len(changes) > 0 {
		q.gate = now.Add(q.cfg.Stagger)
	}
	changes = q.drainLocked(now, changes)
	q.mu.Unlock()

	q.publish(changes)
}

// Dismiss removes the slot with the given key. It reports false for unknown keys.
func (q *Queue) Dismiss(key string, now time.Time) bool {
	q.mu.Lock()
	i := slices.IndexFunc(q.visible, func(s Slot) bool { return s.Key == key })
	if i < 0 {
		q.mu.Unlock()
		return false
	}
	slot := q.visible[i]
	q.visible = slices.Delete(q.visible, i, i+1)
	q.gate = now.Add(q.cfg.Stagger)
	changes := []Change{{Kind: ChangeDismissed, Slot: slot, Reason: ReasonManual}}
	changes = q.drainLocked(now, changes)
	q.mu.Unlock()

	q.publish(changes)
	return true
}

// NextDeadline returns the earliest time at which Tick has work to do, or the
// zero time when nothing is visible or pending.
func (q *Queue) NextDeadline() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next time.Time
	for _, s := range q.visible {
		if next.IsZero() || s.DismissAt.Before(next) {
			next = s.DismissAt
		}
	}
	if len(q.pending) > 0 && len(q.visible) < q.cfg.MaxVisible {
		if next.IsZero() || q.gate.Before(next) {
			next = q.gate
		}
	}
	return next
}

// PruneSeen forgets seen ids that are neither in live nor currently queued or
// visible. Callers pass the ids still held elsewhere (the inbox), so an id that
// aged out everywhere may be shown again if it is ever re-sent.
func (q *Queue) PruneSeen(live []string) int {
	keep := make(map[string]struct{}, len(live))
	for _, id := range live {
		keep[id] = struct{}{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, s := range q.visible {
		keep[s.Notification.ID] = struct{}{}
	}
	for _, n := range q.pending {
		keep[n.ID] = struct{}{}
	}
	removed := 0
	for id := range q.seen {
		if _, ok := keep[id]; !ok {
			delete(q.seen, id)
			removed++
		}
	}
	if removed > 0 {
		q.seenFIFO = slices.DeleteFunc(q.seenFIFO, func(id string) bool {
			_, ok := q.seen[id]
			return !ok
		})
	}
	return removed
}

func (q *Queue) Visible() []Slot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.visible)
}

func (q *Queue) Pending() []notify.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.pending)
}

func (q *Queue) SeenCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.seen)
}
