package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink/internal/config"
	"carelink/internal/contacts"
	"carelink/internal/storage"
	"carelink/internal/transport"
	logx "carelink/pkg/logx"
)

func TestMapConnectionConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Connection: config.ConnectionConfig{
		URL:               " wss://care.example.com/ws ",
		ReconnectInterval: "2s",
		PingInterval:      "off",
	}}
	cc, err := mapConnectionConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "wss://care.example.com/ws", cc.URL)
	assert.Equal(t, 2*time.Second, cc.BaseInterval)
	assert.Negative(t, cc.PingInterval)

	cfg.Connection.PingInterval = ""
	cc, err = mapConnectionConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cc.PingInterval)

	cfg.Connection.URL = ""
	_, err = mapConnectionConfig(cfg)
	assert.Error(t, err)
}

func TestValidateRejectsBadSections(t *testing.T) {
	t.Parallel()
	base := func() *config.Config {
		return &config.Config{Connection: config.ConnectionConfig{URL: "ws://localhost/ws"}}
	}
	require.NoError(t, validate(base()))

	cases := map[string]func(*config.Config){
		"threshold": func(c *config.Config) { c.Dedup.Threshold = 1.5 },
		"window":    func(c *config.Config) { c.Dedup.Window = "soon" },
		"stagger":   func(c *config.Config) { c.Display.Stagger = "-1s" },
		"inbox":     func(c *config.Config) { c.Pipeline.InboxSize = -1 },
		"time":      func(c *config.Config) { c.Reminders.Times = []string{"25:00"} },
		"tz":        func(c *config.Config) { c.Reminders.Timezone = "Mars/Olympus" },
		"storage":   func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "sqlite"} },
		"driver":    func(c *config.Config) { c.Storage = &config.StorageConfig{Driver: "etcd"} },
	}
	for name, mutate := range cases {
		cfg := base()
		mutate(cfg)
		assert.Error(t, validate(cfg), name)
	}
}

func TestMapRosterSkipsBlankIDs(t *testing.T) {
	t.Parallel()
	got := mapRoster(&config.Config{Contacts: []config.ContactConfig{
		{ID: "女儿", Name: " 小红 ", Image: "a.png"},
		{ID: "  ", Name: "nobody"},
	}})
	assert.Equal(t, []contacts.Contact{{ID: "女儿", Name: "小红", ImageRef: "a.png"}}, got)
}

func TestResolveToken(t *testing.T) {
	t.Setenv("CARELINK_TEST_TOKEN", "abc")
	tok, err := resolveToken(config.SessionConfig{Token: "${CARELINK_TEST_TOKEN}"})
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	tok, err = resolveToken(config.SessionConfig{Token: "ignored", TokenFile: path})
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok)

	_, err = resolveToken(config.SessionConfig{TokenFile: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}

func TestAppEndToEnd(t *testing.T) {
	frames := make(chan transport.Frame, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "no", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		payload := `{"type":"notification","timestamp":1,"data":{"id":"n1","title":"新消息","message":"来自女儿的新消息","aiRoleId":"女儿"}}`
		if err := c.Write(r.Context(), websocket.MessageText, []byte(payload)); err != nil {
			return
		}
		for {
			_, b, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if f, err := transport.ParseFrame(b); err == nil {
				frames <- f
			}
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	statePath := filepath.Join(dir, "state", "carelink.json")
	cfgPath := filepath.Join(dir, "carelink.yaml")
	yml := strings.Join([]string{
		"connection:",
		"  url: ws" + strings.TrimPrefix(srv.URL, "http"),
		"  ping_interval: \"off\"",
		"session:",
		"  token: Bearer tok",
		"contacts:",
		"  - id: 女儿",
		"    name: 小红",
		"logging:",
		"  level: error",
		"storage:",
		"  driver: file",
		"  path: " + statePath,
	}, "\n")
	require.NoError(t, os.WriteFile(cfgPath, []byte(yml), 0o600))

	a, err := New(cfgPath)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool { return a.Pipeline().Inbox().Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Contacts().Unread("女儿"))
	assert.Len(t, a.Display().Visible(), 1)

	require.NoError(t, a.Reminders().UpdateSchedule(ctx, []string{"08:00", "20:30"}))
	select {
	case f := <-frames:
		assert.Equal(t, transport.TypeSettingsUpdate, f.Type)
		var settings struct {
			Reminders struct {
				Times []string `json:"times"`
			} `json:"reminders"`
		}
		require.NoError(t, json.Unmarshal(f.Data, &settings))
		assert.Equal(t, []string{"08:00", "20:30"}, settings.Reminders.Times)
	case <-time.After(5 * time.Second):
		t.Fatal("settings_update never reached the server")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))

	st, err := storage.Open(storage.Config{Driver: "file", Path: statePath}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	unread, err := st.LoadUnread(context.Background())
	require.NoError(t, err)
	assert.Contains(t, unread, contacts.Record{ContactID: "女儿", UnreadCount: 1, HasNewActivity: true})
	roster, err := st.LoadRoster(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []contacts.Contact{{ID: "女儿", Name: "小红"}}, roster)
}

func TestTickWait(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	max := 100 * time.Millisecond

	assert.Equal(t, max, tickWait(time.Time{}, now, max))
	assert.Equal(t, max, tickWait(now.Add(5*time.Second), now, max))
	assert.Equal(t, 30*time.Millisecond, tickWait(now.Add(30*time.Millisecond), now, max))
	assert.Equal(t, minTickWait, tickWait(now.Add(-time.Second), now, max))
}
