// Package pipeline wires the inbound notification stream to its consumers:
// the contact aggregator sees every notification, while the display queue and
// the inbox only see what survives deduplication.
package pipeline

import (
	"sync"
	"time"

	"carelink/internal/connection"
	"carelink/internal/contacts"
	"carelink/internal/dedup"
	"carelink/internal/display"
	"carelink/internal/eventbus"
	"carelink/internal/notify"
	logx "carelink/pkg/logx"
)

// Outcome reports what Ingest did with a notification.
type Outcome int

const (
	Admitted Outcome = iota
	// Filtered means the deduplicator suppressed it.
	Filtered
	// Refused means the display queue had already seen its id.
	Refused
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Filtered:
		return "filtered"
	case Refused:
		return "refused"
	default:
		return "unknown"
	}
}

// Source is the subscribe half of the connection manager.
type Source interface {
	On(name string, fn connection.Handler) connection.ListenerID
	Off(name string, id connection.ListenerID) bool
}

type Deps struct {
	Dedup    *dedup.Deduplicator
	Display  *display.Queue
	Contacts *contacts.Aggregator
	Inbox    *Inbox
	// Bus is optional.
	Bus eventbus.Bus
}

type Option func(*Pipeline)

func WithLogger(log logx.Logger) Option { return func(p *Pipeline) { p.log = log } }

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

type registration struct {
	event string
	id    connection.ListenerID
}

type Pipeline struct {
	log      logx.Logger
	now      func() time.Time
	dedup    *dedup.Deduplicator
	display  *display.Queue
	contacts *contacts.Aggregator
	inbox    *Inbox
	bus      eventbus.Bus

	mu     sync.Mutex
	src    Source
	regs   []registration
	unsubs []func()
}

func New(deps Deps, opts ...Option) *Pipeline {
	p := &Pipeline{
		now:      time.Now,
		dedup:    deps.Dedup,
		display:  deps.Display,
		contacts: deps.Contacts,
		inbox:    deps.Inbox,
		bus:      deps.Bus,
	}
	if p.inbox == nil {
		p.inbox = NewInbox(DefaultInboxSize)
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With(logx.String("comp", "pipeline"))
	return p
}

func (p *Pipeline) Inbox() *Inbox { return p.inbox }

func (p *Pipeline) publish(topic string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: topic, Time: p.now(), Data: data})
}

// Attach subscribes the pipeline to src. Calling Attach again first detaches
// from the previous source.
func (p *Pipeline) Attach(src Source) {
	p.Detach()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.src = src
	on := func(event string, fn connection.Handler) {
		p.regs = append(p.regs, registration{event: event, id: src.On(event, fn)})
	}
	on(connection.EventNotification, p.onNotification)
	on(connection.EventChatResponse, p.onChatResponse)
	on(connection.EventConnected, func(connection.Event) {
		p.publish(eventbus.TopicConnectionState, connection.StateOpen)
	})
	on(connection.EventDisconnected, func(connection.Event) {
		p.publish(eventbus.TopicConnectionState, connection.StateClosed)
	})
	on(connection.EventError, p.onError)

	p.unsubs = append(p.unsubs,
		p.display.Subscribe(p.onDisplayChange),
		p.contacts.Subscribe(func(r contacts.Record) { p.publish(eventbus.TopicUnread, r) }),
	)
}

// Detach removes every listener Attach registered.
func (p *Pipeline) Detach() {
	p.mu.Lock()
	src, regs, unsubs := p.src, p.regs, p.unsubs
	p.src, p.regs, p.unsubs = nil, nil, nil
	p.mu.Unlock()
	for _, r := range regs {
		src.Off(r.event, r.id)
	}
	for _, fn := range unsubs {
		fn()
	}
}

func (p *Pipeline) onNotification(ev connection.Event) {
	n, err := notify.Decode(ev.Data, ev.ReceivedAt)
	if err != nil {
		p.log.Warn("dropping undecodable notification", logx.Err(err))
		return
	}
	p.Ingest(n)
}

func (p *Pipeline) onChatResponse(ev connection.Event) {
	resp, err := connection.DecodeChatResponse(ev.Data)
	if err != nil {
		p.log.Debug("chat response not decodable", logx.Err(err))
		return
	}
	p.publish(eventbus.TopicChatResponse, resp)
}

func (p *Pipeline) onError(ev connection.Event) {
	if ev.Err == nil {
		// A server frame typed "error"; not a transport failure.
		p.log.Warn("server reported error", logx.String("data", string(ev.Data)))
		return
	}
	p.publish(eventbus.TopicConnectionError, ev.Err)
}

func (p *Pipeline) onDisplayChange(c display.Change) {
	switch c.Kind {
	case display.ChangeShown:
		p.publish(eventbus.TopicShown, c)
	case display.ChangeDismissed:
		p.publish(eventbus.TopicDismissed, c)
	}
}

// Ingest runs one notification through the pipeline. Frames from the
// connection and locally generated reminders both enter here.
func (p *Pipeline) Ingest(n notify.Notification) Outcome {
	now := p.now()
	if rec, ok := p.contacts.HandleNotification(n); ok && n.OriginContact == "" {
		n.OriginContact = rec.ContactID
	}
	p.publish(eventbus.TopicReceived, n)

	if p.dedup.ShouldFilter(n) {
		p.log.Debug("filtered", logx.String("id", n.ID), logx.String("title", n.Title))
		p.publish(eventbus.TopicFiltered, n)
		return Filtered
	}

	if !p.display.Admit(n, now) {
		p.log.Debug("refused by display", logx.String("id", n.ID))
		return Refused
	}
	p.inbox.Add(n)
	p.display.PruneSeen(p.inbox.IDs())
	return Admitted
}

// Tick drives display expiry.
func (p *Pipeline) Tick(now time.Time) {
	p.display.Tick(now)
}

// ClearContact acknowledges a contact's thread.
func (p *Pipeline) ClearContact(id string) contacts.Record {
	return p.contacts.ClearContact(id)
}
