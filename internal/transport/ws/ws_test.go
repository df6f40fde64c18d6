package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelink/internal/transport"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialEchoRoundTrip(t *testing.T) {
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
		for {
			typ, b, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if err := c.Write(r.Context(), typ, b); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := http.Header{}
	h.Set("Authorization", "Bearer tok")
	conn, err := NewDialer(Config{}).Dial(ctx, wsURL(srv), h)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Write(ctx, []byte(`{"type":"ping"}`)))
	got, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(got))
}

func TestDialUnauthorizedIsAuthentication(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewDialer(Config{}).Dial(ctx, wsURL(srv), nil)
	require.Error(t, err)
	assert.Equal(t, transport.ReasonAuthentication, transport.Classify(err))
}

func TestServerCloseCarriesReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		_ = c.Close(websocket.StatusTryAgainLater, "overloaded")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := NewDialer(Config{}).Dial(ctx, wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, transport.ReasonServer, transport.Classify(err))
}
