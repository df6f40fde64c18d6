// Package contacts keeps per-contact unread counters fed by inbound notifications.
package contacts

import (
	"slices"
	"strings"
	"sync"

	"carelink/internal/notify"
	logx "carelink/pkg/logx"
)

// Contact is one roster entry supplied by the contact-list collaborator.
type Contact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageRef string `json:"imageRef,omitempty"`
}

// Record is the unread state of one contact.
type Record struct {
	ContactID      string `json:"contactId"`
	UnreadCount    int    `json:"unreadCount"`
	HasNewActivity bool   `json:"hasNewActivity"`
}

type Option func(*Aggregator)

func WithLogger(log logx.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

// WithStrategies replaces DefaultStrategies. Order is priority order.
func WithStrategies(s ...Strategy) Option {
	return func(a *Aggregator) { a.strategies = s }
}

// Aggregator is safe for concurrent use. Records are created on demand and are
// never removed.
type Aggregator struct {
	log        logx.Logger
	strategies []Strategy

	mu      sync.Mutex
	records map[string]*Record
	order   []string
	names   map[string]string
	roster  map[string]Contact

	smu     sync.Mutex
	subs    map[int]func(Record)
	nextSub int
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		strategies: DefaultStrategies(),
		records:    make(map[string]*Record),
		names:      make(map[string]string),
		roster:     make(map[string]Contact),
		subs:       make(map[int]func(Record)),
	}
	for _, o := range opts {
		o(a)
	}
	a.log = a.log.With(logx.String("comp", "contacts"))
	return a
}

// Seed adds roster contacts. Existing records keep their counters.
func (a *Aggregator) Seed(roster []Contact) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range roster {
		id := strings.TrimSpace(c.ID)
		if id == "" {
			continue
		}
		a.roster[id] = c
		if c.Name != "" {
			a.names[c.Name] = id
		}
		a.recordLocked(id)
	}
}

// Restore overwrites counters from a persisted snapshot.
func (a *Aggregator) Restore(records []Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range records {
		if r.ContactID == "" {
			continue
		}
		rec := a.recordLocked(r.ContactID)
		rec.UnreadCount = max(r.UnreadCount, 0)
		rec.HasNewActivity = r.HasNewActivity
	}
}

func (a *Aggregator) recordLocked(id string) *Record {
	r, ok := a.records[id]
	if !ok {
		r = &Record{ContactID: id}
		a.records[id] = r
		a.order = append(a.order, id)
	}
	return r
}

// IDByName implements Lookup. The caller must not hold a.mu.
func (a *Aggregator) IDByName(name string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.idByNameLocked(name)
}

func (a *Aggregator) idByNameLocked(name string) (string, bool) {
	id, ok := a.names[name]
	return id, ok
}

type lockedLookup struct{ a *Aggregator }

func (l lockedLookup) IDByName(name string) (string, bool) { return l.a.idByNameLocked(name) }

// Resolve runs the strategies in order and returns the first hit.
func (a *Aggregator) Resolve(n notify.Notification) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolveLocked(n)
}

func (a *Aggregator) resolveLocked(n notify.Notification) (string, bool) {
	for _, s := range a.strategies {
		if id, ok := s.Resolve(n, lockedLookup{a}); ok {
			return id, true
		}
	}
	return "", false
}

// HandleNotification bumps the unread counter of the originating contact. It
// reports false when no strategy resolves a contact; no counter changes then.
func (a *Aggregator) HandleNotification(n notify.Notification) (Record, bool) {
	a.mu.Lock()
	id, ok := a.resolveLocked(n)
	if !ok {
		a.mu.Unlock()
		a.log.Debug("unresolved contact", logx.String("id", n.ID))
		return Record{}, false
	}
	r := a.recordLocked(id)
	r.UnreadCount++
	r.HasNewActivity = true
	out := *r
	a.mu.Unlock()

	a.publish(out)
	return out, true
}

// ClearContact acknowledges a contact's thread.
func (a *Aggregator) ClearContact(id string) Record {
	a.mu.Lock()
	r := a.recordLocked(id)
	changed := r.UnreadCount != 0 || r.HasNewActivity
	r.UnreadCount = 0
	r.HasNewActivity = false
	out := *r
	a.mu.Unlock()

	if changed {
		a.publish(out)
	}
	return out
}

func (a *Aggregator) Unread(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.records[id]; ok {
		return r.UnreadCount
	}
	return 0
}

func (a *Aggregator) HasNewActivity(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.records[id]; ok {
		return r.HasNewActivity
	}
	return false
}

// Records returns every record in creation order.
func (a *Aggregator) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Record, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.records[id])
	}
	return out
}

// Roster returns the seeded contacts sorted by id.
func (a *Aggregator) Roster() []Contact {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Contact, 0, len(a.roster))
	for _, c := range a.roster {
		out = append(out, c)
	}
	slices.SortFunc(out, func(x, y Contact) int { return strings.Compare(x.ID, y.ID) })
	return out
}

// Subscribe registers fn for record changes and returns a func that removes it.
func (a *Aggregator) Subscribe(fn func(Record)) func() {
	a.smu.Lock()
	a.nextSub++
	id := a.nextSub
	a.subs[id] = fn
	a.smu.Unlock()
	return func() {
		a.smu.Lock()
		delete(a.subs, id)
		a.smu.Unlock()
	}
}

func (a *Aggregator) publish(r Record) {
	a.smu.Lock()
	subs := make([]func(Record), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.smu.Unlock()
	for _, fn := range subs {
		fn(r)
	}
}
