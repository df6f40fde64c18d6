package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, stopA := b.Subscribe(4)
	defer stopA()
	c, stopC := b.Subscribe(4)
	defer stopC()

	b.Publish(Event{Type: TopicReceived, Data: "x"})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			assert.Equal(t, TopicReceived, e.Type)
			assert.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("no event")
		}
	}
}

func TestTopicFilter(t *testing.T) {
	t.Parallel()
	b := New()
	ch, stop := b.Subscribe(4, TopicUnread)
	defer stop()

	b.Publish(Event{Type: TopicReceived})
	b.Publish(Event{Type: TopicUnread, Data: 3})
	e := <-ch
	assert.Equal(t, TopicUnread, e.Type)
	assert.Empty(t, ch)
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, stop := b.Subscribe(1)
	defer stop()
	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: TopicShown})
	}
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, stop := b.Subscribe(1)
	stop()
	stop()
	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: TopicShown})
}
