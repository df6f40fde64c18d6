// Package eventbus fans pipeline signals out to observers (the CLI tail view,
// persistence) without coupling them to the pipeline's own listeners.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topics published by the pipeline.
const (
	TopicReceived        = "pipeline.received"
	TopicFiltered        = "pipeline.filtered"
	TopicShown           = "display.shown"
	TopicDismissed       = "display.dismissed"
	TopicUnread          = "contact.unread"
	TopicConnectionState = "connection.state"
	TopicConnectionError = "connection.error"
	TopicChatResponse    = "chat.response"
	TopicReminder        = "reminder.fired"
	TopicConfigReloaded  = "config.reloaded"
)

// Event is a small in-memory signal.
//
// Publish never blocks: subscribers get buffered channels and a full buffer
// drops the event for that subscriber only.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every topic, or only the listed ones.
	Subscribe(buffer int, topics ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	topics map[string]struct{}
}

func (s *sub) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		// Unsubscribe may close the channel concurrently.
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, topics ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		s.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
