package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink/internal/notify"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDedup(cfg Config) (*Deduplicator, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(cfg, WithClock(clk.Now)), clk
}

func note(id, title, msg string, sev notify.Severity) notify.Notification {
	return notify.Notification{ID: id, Title: title, Message: msg, Severity: sev, Timestamp: 1}
}

func TestShouldFilterSecondSightingWithinWindow(t *testing.T) {
	t.Parallel()
	d, clk := newTestDedup(Config{})
	n := note("a", "吃药提醒", "该吃降压药了", notify.SeverityWarning)

	require.False(t, d.ShouldFilter(n))
	clk.Advance(5 * time.Second)
	require.True(t, d.ShouldFilter(n))

	st := d.Stats()
	assert.Equal(t, 1, st.TotalCached)
	assert.Equal(t, 1, st.DuplicateCount)
	assert.Equal(t, uint64(1), st.Suppressed)
}

func TestShouldFilterExpiresAfterWindow(t *testing.T) {
	t.Parallel()
	d, clk := newTestDedup(Config{Window: 10 * time.Second})
	n := note("a", "t", "m", notify.SeverityInfo)

	require.False(t, d.ShouldFilter(n))
	clk.Advance(11 * time.Second)
	require.False(t, d.ShouldFilter(n), "entry should have been swept")
	assert.Equal(t, 1, d.Stats().TotalCached)
}

func TestRepeatSightingKeepsEntryAlive(t *testing.T) {
	t.Parallel()
	d, clk := newTestDedup(Config{Window: 10 * time.Second})
	n := note("a", "t", "m", notify.SeverityInfo)

	require.False(t, d.ShouldFilter(n))
	for i := 0; i < 3; i++ {
		clk.Advance(8 * time.Second)
		require.True(t, d.ShouldFilter(n), "sighting %d", i)
	}
}

func TestNearDuplicatesFilteredAfterThreshold(t *testing.T) {
	t.Parallel()
	d, _ := newTestDedup(Config{})

	for i := 1; i <= 3; i++ {
		n := note(fmt.Sprint(i), "新消息", fmt.Sprintf("来自女儿的新消息 #%d", i), notify.SeverityInfo)
		require.False(t, d.ShouldFilter(n), "message #%d should be admitted", i)
	}
	for i := 1; i < 3; i++ {
		a := note("", "新消息", fmt.Sprintf("来自女儿的新消息 #%d", i), notify.SeverityInfo)
		b := note("", "新消息", fmt.Sprintf("来自女儿的新消息 #%d", i+1), notify.SeverityInfo)
		assert.GreaterOrEqual(t, Score(a, b), 0.8)
	}

	fourth := note("4", "新消息", "来自女儿的新消息 #4", notify.SeverityInfo)
	require.True(t, d.ShouldFilter(fourth))

	st := d.Stats()
	assert.Equal(t, 3, st.TotalCached)
	assert.GreaterOrEqual(t, st.DuplicateCount, 1)
}

func TestDissimilarNotificationsAdmitted(t *testing.T) {
	t.Parallel()
	d, _ := newTestDedup(Config{})
	require.False(t, d.ShouldFilter(note("1", "新消息", "来自女儿的新消息 #1", notify.SeverityInfo)))
	require.False(t, d.ShouldFilter(note("2", "新消息", "来自女儿的新消息 #2", notify.SeverityInfo)))
	require.False(t, d.ShouldFilter(note("3", "新消息", "来自女儿的新消息 #3", notify.SeverityInfo)))
	require.False(t, d.ShouldFilter(note("4", "血压异常", "今晨血压 160/100，请留意", notify.SeverityError)))
}

func TestConfigurableMinSimilar(t *testing.T) {
	t.Parallel()
	d, _ := newTestDedup(Config{MinSimilar: 1})
	require.False(t, d.ShouldFilter(note("1", "新消息", "来自儿子的新消息 #1", notify.SeverityInfo)))
	require.True(t, d.ShouldFilter(note("2", "新消息", "来自儿子的新消息 #2", notify.SeverityInfo)))
}

func TestScoreWeights(t *testing.T) {
	t.Parallel()
	a := note("", "abc", "xyz", notify.SeverityInfo)
	assert.InDelta(t, 1.0, Score(a, a), 1e-9)
	b := note("", "abc", "xyz", notify.SeverityError)
	assert.InDelta(t, 0.7, Score(a, b), 1e-9)
	c := note("", "", "", notify.SeverityInfo)
	assert.InDelta(t, 0.3, Score(a, c), 1e-9)
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	t.Parallel()
	d, clk := newTestDedup(Config{MaxEntries: 2})
	require.False(t, d.ShouldFilter(note("1", "alpha", "one", notify.SeverityInfo)))
	clk.Advance(time.Second)
	require.False(t, d.ShouldFilter(note("2", "bravo", "two", notify.SeverityWarning)))
	clk.Advance(time.Second)
	require.False(t, d.ShouldFilter(note("3", "charlie", "three", notify.SeverityError)))

	entries := d.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "3", entries[0].Notification.ID)
	assert.Equal(t, "2", entries[1].Notification.ID)
}

func TestClearResets(t *testing.T) {
	t.Parallel()
	d, _ := newTestDedup(Config{})
	n := note("a", "t", "m", notify.SeverityInfo)
	d.ShouldFilter(n)
	d.ShouldFilter(n)
	d.Clear()
	assert.Equal(t, Stats{}, d.Stats())
	assert.False(t, d.ShouldFilter(n))
}
