package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	t.Parallel()
	f, err := ParseFrame([]byte(`{"type":"notification","data":{"title":"hi"},"timestamp":1700000000000}`))
	require.NoError(t, err)
	assert.Equal(t, TypeNotification, f.Type)
	assert.Equal(t, int64(1700000000000), f.Timestamp)
	assert.JSONEq(t, `{"title":"hi"}`, string(f.Data))
}

func TestParseFrameMalformed(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{`not json`, `{"data":1}`, `{"type":"  "}`, `[]`} {
		_, err := ParseFrame([]byte(raw))
		assert.ErrorIs(t, err, ErrParse, raw)
	}
}

func TestEncodeFrame(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(42)
	b, err := EncodeFrame(TypeChat, map[string]string{"aiRoleId": "女儿"}, now)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"chat","data":{"aiRoleId":"女儿"},"timestamp":42}`, string(b))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want Reason
	}{
		{"unauthorized", &StatusError{StatusCode: http.StatusUnauthorized, Err: errors.New("x")}, ReasonAuthentication},
		{"forbidden wrapped", fmt.Errorf("dial: %w", &StatusError{StatusCode: http.StatusForbidden}), ReasonAuthentication},
		{"bad gateway", &StatusError{StatusCode: http.StatusBadGateway}, ReasonServer},
		{"not found", &StatusError{StatusCode: http.StatusNotFound}, ReasonUnknown},
		{"eof", io.EOF, ReasonNetwork},
		{"deadline", context.DeadlineExceeded, ReasonNetwork},
		{"net timeout", timeoutErr{}, ReasonNetwork},
		{"preclassified", &TransportError{Reason: ReasonServer}, ReasonServer},
		{"other", errors.New("boom"), ReasonUnknown},
		{"nil", nil, ReasonUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestTransportErrorMessage(t *testing.T) {
	t.Parallel()
	e := &TransportError{Reason: ReasonNetwork, Terminal: true, Err: io.EOF}
	assert.Equal(t, "transport network error (giving up): EOF", e.Error())
	assert.ErrorIs(t, e, io.EOF)
}
