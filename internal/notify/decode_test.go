package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLenientFields(t *testing.T) {
	t.Parallel()
	arrival := time.UnixMilli(5000)
	n, err := Decode(json.RawMessage(`{
		"id": 42,
		"title": " 吃药提醒 ",
		"content": "该吃降压药了",
		"type": "WARN",
		"timestamp": "2026-03-01T09:00:00Z",
		"aiRoleId": "女儿",
		"aiName": "小红"
	}`), arrival)
	require.NoError(t, err)

	assert.Equal(t, "42", n.ID)
	assert.Equal(t, "吃药提醒", n.Title)
	assert.Equal(t, "该吃降压药了", n.Message)
	assert.Equal(t, SeverityWarning, n.Severity)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli(), n.Timestamp)
	assert.Equal(t, map[string]string{"aiRoleId": "女儿", "aiName": "小红"}, n.Attrs)
	assert.Empty(t, n.OriginContact)
}

func TestDecodeDefaults(t *testing.T) {
	t.Parallel()
	arrival := time.UnixMilli(5000)
	n, err := Decode(json.RawMessage(`{"title":"t"}`), arrival)
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID, "missing ids are synthesized")
	assert.Equal(t, SeverityInfo, n.Severity)
	assert.Equal(t, int64(5000), n.Timestamp)
	assert.Nil(t, n.Attrs)

	other, err := Decode(json.RawMessage(`{"title":"t"}`), arrival)
	require.NoError(t, err)
	assert.NotEqual(t, n.ID, other.ID)
}

func TestDecodeRejectsNonObjects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{``, `null`, `[1]`, `"x"`} {
		_, err := Decode(json.RawMessage(raw), time.Now())
		assert.Error(t, err, raw)
	}
	_, err := Decode(nil, time.Now())
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()
	assert.Equal(t, SeverityInfo, ParseSeverity(""))
	assert.Equal(t, SeverityError, ParseSeverity(" Error "))
	assert.Equal(t, Severity("critical"), ParseSeverity("critical"))
	assert.False(t, ParseSeverity("critical").Known())
}

func TestSignature(t *testing.T) {
	t.Parallel()
	n := Notification{ID: "a", Title: "t", Message: "m", Severity: SeverityInfo}
	m := n
	m.ID = "b"
	assert.Equal(t, n.Signature(), m.Signature())
	assert.Equal(t, "info|t|m", n.Signature())
}
