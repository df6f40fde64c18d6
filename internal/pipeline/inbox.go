package pipeline

import (
	"sync"

	"carelink/internal/notify"
	"carelink/internal/priority"
)

const DefaultInboxSize = 50

// Inbox keeps the most recent admitted notifications for the global tray.
type Inbox struct {
	mu    sync.Mutex
	size  int
	items []notify.Notification // newest first
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{size: size}
}

func (b *Inbox) Add(n notify.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, notify.Notification{})
	copy(b.items[1:], b.items)
	b.items[0] = n
	b.trimLocked()
}

func (b *Inbox) trimLocked() {
	if len(b.items) > b.size {
		clear(b.items[b.size:])
		b.items = b.items[:b.size]
	}
}

// Resize changes the capacity, dropping the oldest entries if needed.
func (b *Inbox) Resize(size int) {
	if size <= 0 {
		size = DefaultInboxSize
	}
	b.mu.Lock()
	b.size = size
	b.trimLocked()
	b.mu.Unlock()
}

// Recent returns the inbox newest first.
func (b *Inbox) Recent() []notify.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]notify.Notification, len(b.items))
	copy(out, b.items)
	return out
}

// Sorted returns the inbox in display priority order.
func (b *Inbox) Sorted() []notify.Notification {
	return priority.SortByPriority(b.Recent())
}

func (b *Inbox) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, len(b.items))
	for i, n := range b.items {
		ids[i] = n.ID
	}
	return ids
}

func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
