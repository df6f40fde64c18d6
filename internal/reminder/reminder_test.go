package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink/internal/notify"
	"carelink/internal/transport"
)

type sent struct {
	typ  string
	data any
}

type fakeSender struct {
	calls []sent
	err   error
}

func (f *fakeSender) Send(_ context.Context, typ string, data any) error {
	f.calls = append(f.calls, sent{typ, data})
	return f.err
}

func TestParseTime(t *testing.T) {
	t.Parallel()
	spec, err := ParseTime("08:05")
	require.NoError(t, err)
	assert.Equal(t, "5 8 * * *", spec)
	spec, err = ParseTime(" 7:30 ")
	require.NoError(t, err)
	assert.Equal(t, "30 7 * * *", spec)

	for _, bad := range []string{"", "24:00", "12:60", "noon", "1230"} {
		_, err := ParseTime(bad)
		assert.ErrorIs(t, err, ErrInvalidTime, bad)
	}
}

func TestUpdateScheduleSendsSettings(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(Config{Timezone: "Asia/Shanghai"}, nil, fs)

	require.NoError(t, s.UpdateSchedule(context.Background(), []string{"08:00", "20:30"}))
	assert.Equal(t, []string{"08:00", "20:30"}, s.Times())
	require.Len(t, fs.calls, 1)
	assert.Equal(t, transport.TypeSettingsUpdate, fs.calls[0].typ)
	assert.Equal(t, Settings{Reminders: Schedule{Enabled: true, Timezone: "Asia/Shanghai", Times: []string{"08:00", "20:30"}}}, fs.calls[0].data)
	s.Stop(context.Background())
}

func TestUpdateScheduleRejectsBadTime(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	s := New(Config{Times: []string{"09:00"}}, nil, fs)
	assert.ErrorIs(t, s.UpdateSchedule(context.Background(), []string{"25:00"}), ErrInvalidTime)
	assert.Empty(t, fs.calls)
	assert.Equal(t, []string{"09:00"}, s.Times())
}

func TestUpdateScheduleKeepsLocalOnSendFailure(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{err: errors.New("connection not open")}
	s := New(Config{}, nil, fs)
	err := s.UpdateSchedule(context.Background(), []string{"07:00"})
	require.Error(t, err)
	assert.Equal(t, []string{"07:00"}, s.Times())
	s.Stop(context.Background())
}

func TestNextAfter(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC", Times: []string{"20:00", "08:00", "bad"}}, nil, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	got := s.NextAfter(now)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)))
	assert.True(t, got[1].Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))
}

func TestFireBuildsLocalNotification(t *testing.T) {
	t.Parallel()
	var got []notify.Notification
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := New(Config{Title: "吃药", Message: "降压药"}, func(n notify.Notification) { got = append(got, n) }, nil,
		WithClock(func() time.Time { return now }))
	s.fire("08:00")
	require.Len(t, got, 1)
	n := got[0]
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "吃药", n.Title)
	assert.Equal(t, "降压药", n.Message)
	assert.Equal(t, notify.SeverityInfo, n.Severity)
	assert.Equal(t, now.UnixMilli(), n.Timestamp)
	assert.Equal(t, "reminder", n.Attrs[AttrSource])
}

func TestStartStopsWhenContextDone(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Timezone: "UTC", Times: []string{"08:00"}}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.True(t, s.Running())

	cancel()
	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 5*time.Millisecond)

	// A later Start with a live context schedules again.
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	s.Start(ctx2)
	assert.True(t, s.Running())
	s.Stop(context.Background())
	assert.False(t, s.Running())
}
