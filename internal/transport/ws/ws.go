// Package ws implements transport.Dialer on top of github.com/coder/websocket.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"carelink/internal/transport"
)

// Maximum inbound frame size. Voice replies carry base64 audio, so this is generous.
const defaultReadLimit = 4 << 20

type Config struct {
	// HandshakeTimeout bounds Dial when the caller's context has no deadline.
	HandshakeTimeout time.Duration
	ReadLimit        int64
	HTTPClient       *http.Client
}

// Dialer opens text-frame websocket connections.
type Dialer struct {
	cfg Config
}

func NewDialer(cfg Config) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &Dialer{cfg: cfg}
}

func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
		defer cancel()
	}
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: d.cfg.HTTPClient,
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &transport.StatusError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	c.SetReadLimit(d.cfg.ReadLimit)
	return &conn{c: c}, nil
}

type conn struct {
	c *websocket.Conn
}

func (c *conn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, b, err := c.c.Read(ctx)
		if err != nil {
			return nil, closeError(err)
		}
		// Binary frames are not part of the protocol.
		if typ != websocket.MessageText {
			continue
		}
		return b, nil
	}
}

func (c *conn) Write(ctx context.Context, p []byte) error {
	return closeError(c.c.Write(ctx, websocket.MessageText, p))
}

func (c *conn) Ping(ctx context.Context) error {
	return closeError(c.c.Ping(ctx))
}

func (c *conn) Close() error {
	err := c.c.Close(websocket.StatusNormalClosure, "")
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return nil
	}
	return err
}

// closeError attaches a Reason to close frames sent by the server.
func closeError(err error) error {
	if err == nil {
		return nil
	}
	switch websocket.CloseStatus(err) {
	case -1:
		return err
	case websocket.StatusPolicyViolation:
		return &transport.TransportError{Reason: transport.ReasonAuthentication, Err: err}
	case websocket.StatusInternalError, websocket.StatusTryAgainLater, websocket.StatusServiceRestart, websocket.StatusBadGateway:
		return &transport.TransportError{Reason: transport.ReasonServer, Err: err}
	default:
		return &transport.TransportError{Reason: transport.ReasonNetwork, Err: err}
	}
}
