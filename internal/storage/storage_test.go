package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink/internal/contacts"
	logx "carelink/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "etcd"}, logx.Nop())
	assert.Error(t, err)
}

func TestDriversRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "state", "carelink.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			roster, err := st.LoadRoster(ctx)
			require.NoError(t, err)
			assert.Empty(t, roster)

			want := []contacts.Contact{{ID: "女儿", Name: "小红", ImageRef: "img/1.png"}, {ID: "儿子", Name: "小明"}}
			require.NoError(t, st.SaveRoster(ctx, want))
			got, err := st.LoadRoster(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			records := []contacts.Record{{ContactID: "女儿", UnreadCount: 2, HasNewActivity: true}, {ContactID: "儿子"}}
			require.NoError(t, st.SaveUnread(ctx, records))
			records[0].UnreadCount = 0
			records[0].HasNewActivity = false
			require.NoError(t, st.SaveUnread(ctx, records))
			unread, err := st.LoadUnread(ctx)
			require.NoError(t, err)
			assert.Equal(t, records, unread)
		})
	}
}

func TestFileStoreIgnoresCorruptSnapshot(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "c.json")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.unread.json"), []byte("{nope"), 0o600))

	unread, err := st.LoadUnread(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unread)

	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.SaveUnread(context.Background(), nil), ErrClosed)
}
