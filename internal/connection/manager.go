// Package connection owns the streaming transport: its lifecycle, linear
// reconnect backoff, keep-alive, and demultiplexing of inbound frames to
// listeners keyed by event name.
package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"carelink/internal/transport"
	logx "carelink/pkg/logx"
)

type Option func(*Manager)

// WithLogger sets the logger used by the manager.
func WithLogger(log logx.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithHeader supplies handshake headers per dial (the session's bearer token).
func WithHeader(fn func() http.Header) Option {
	return func(m *Manager) { m.header = fn }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

type listener struct {
	id ListenerID
	fn Handler
}

// Manager is safe for concurrent use. All frame events and post-open lifecycle
// events are emitted from a single reader goroutine, so listeners see frames in
// arrival order.
type Manager struct {
	dialer  transport.Dialer
	header  func() http.Header
	log     logx.Logger
	warnLog logx.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	cfg        Config
	state      State
	conn       transport.Conn
	gen        uint64
	dialSeq    uint64
	connCancel context.CancelCauseFunc
	dialCancel context.CancelFunc
	reconnect  ReconnectState
	terminal   bool
	timer      *time.Timer
	timerGen   uint64
	closed     bool

	wmu sync.Mutex

	lmu       sync.Mutex
	listeners map[string][]listener
	nextID    ListenerID
}

func New(cfg Config, dialer transport.Dialer, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dialer:    dialer,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg.withDefaults(),
		listeners: make(map[string][]listener),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With(logx.String("comp", "connection"))
	m.warnLog = m.log.Throttle(m.cfg.MalformedLogPerSec)
	return m
}

// Apply swaps the configuration. It takes effect on the next dial.
func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Reconnect() ReconnectState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnect
}

// Terminal reports whether the reconnect budget is exhausted.
func (m *Manager) Terminal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminal
}

// On registers fn for events named name. Registering for a name nothing emits
// is allowed; the handler is simply never called.
func (m *Manager) On(name string, fn Handler) ListenerID {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[name] = append(m.listeners[name], listener{id: id, fn: fn})
	return id
}

// Off removes a registration. It is safe to call from inside a handler; the
// event being dispatched still reaches the listeners snapshotted before it.
func (m *Manager) Off(name string, id ListenerID) bool {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	ls := m.listeners[name]
	for i, l := range ls {
		if l.id != id {
			continue
		}
		next := make([]listener, 0, len(ls)-1)
		next = append(next, ls[:i]...)
		next = append(next, ls[i+1:]...)
		if len(next) == 0 {
			delete(m.listeners, name)
		} else {
			m.listeners[name] = next
		}
		return true
	}
	return false
}

func (m *Manager) ListenerCount(name string) int {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	return len(m.listeners[name])
}

func (m *Manager) emit(ev Event) {
	m.lmu.Lock()
	snap := m.listeners[ev.Name]
	m.lmu.Unlock()
	for _, l := range snap {
		m.call(l, ev)
	}
}

func (m *Manager) call(l listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("listener panic", logx.String("event", ev.Name), logx.Any("panic", r))
		}
	}()
	l.fn(ev)
}

// Connect dials if the manager is Closed. It cancels any pending backoff timer
// and resets the attempt counter, so an explicit Connect always gets a fresh
// reconnect budget. It returns once the dial has finished either way; failures
// are reported through "error" events and the return value.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.stopTimerLocked()
	m.reconnect = ReconnectState{}
	m.terminal = false
	m.mu.Unlock()
	return m.attempt(ctx)
}

func (m *Manager) attempt(ctx context.Context) error {
	m.mu.Lock()
	if m.closed || m.state != StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.dialSeq++
	seq := m.dialSeq
	gen := m.gen
	cfg := m.cfg
	dctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	stop := context.AfterFunc(m.ctx, cancel)
	m.dialCancel = cancel
	m.mu.Unlock()

	var header http.Header
	if m.header != nil {
		header = m.header()
	}
	m.log.Debug("dialing", logx.String("url", cfg.URL))
	conn, err := m.dialer.Dial(dctx, cfg.URL, header)
	stop()
	cancel()

	m.mu.Lock()
	owner := m.dialSeq == seq
	if owner {
		m.dialCancel = nil
	}
	if m.closed || m.gen != gen {
		// Disconnect or Close ran while the dial was in flight. They already
		// reset the state; a newer attempt may own Connecting by now.
		if owner && m.state == StateConnecting {
			m.state = StateClosed
		}
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		if err != nil {
			return err
		}
		return errDisconnected
	}
	if err != nil {
		m.state = StateClosed
		te := m.failLocked(err)
		m.mu.Unlock()
		m.logFailure("dial failed", te)
		m.emit(Event{Name: EventError, Err: te, Timestamp: m.now(), ReceivedAt: m.now()})
		return te
	}

	m.state = StateOpen
	m.conn = conn
	m.gen++
	gen = m.gen
	m.reconnect = ReconnectState{}
	m.terminal = false
	rctx, rcancel := context.WithCancelCause(m.ctx)
	m.connCancel = rcancel
	m.wg.Add(1)
	if cfg.PingInterval > 0 {
		m.wg.Add(1)
		go m.pingLoop(rctx, rcancel, conn, cfg.PingInterval, cfg.WriteTimeout)
	}
	m.mu.Unlock()

	m.log.Info("connected", logx.String("url", cfg.URL))
	now := m.now()
	m.emit(Event{Name: EventConnected, Timestamp: now, ReceivedAt: now})
	go m.readLoop(rctx, conn, gen)
	return nil
}

// failLocked bumps the attempt counter and either schedules the next attempt or
// marks the manager terminal.
func (m *Manager) failLocked(err error) *transport.TransportError {
	m.reconnect.Attempts++
	te := transport.Wrap(err, m.reconnect.Attempts)
	if m.reconnect.Attempts < m.cfg.MaxAttempts {
		delay := m.cfg.BaseInterval * time.Duration(m.reconnect.Attempts)
		m.reconnect.NextDelay = delay
		m.scheduleLocked(delay)
		return te
	}
	m.reconnect.NextDelay = 0
	m.terminal = true
	te.Terminal = true
	return te
}

func (m *Manager) scheduleLocked(delay time.Duration) {
	m.stopTimerLocked()
	gen := m.timerGen
	m.wg.Add(1)
	m.timer = time.AfterFunc(delay, func() {
		defer m.wg.Done()
		m.mu.Lock()
		if m.closed || m.timerGen != gen {
			m.mu.Unlock()
			return
		}
		m.timer = nil
		m.mu.Unlock()
		_ = m.attempt(m.ctx)
	})
}

// stopTimerLocked cancels a pending attempt. A callback that already fired sees
// the bumped generation and does nothing.
func (m *Manager) stopTimerLocked() {
	m.timerGen++
	if m.timer != nil && m.timer.Stop() {
		m.wg.Done()
	}
	m.timer = nil
}

func (m *Manager) logFailure(msg string, te *transport.TransportError) {
	fields := []logx.Field{
		logx.String("reason", string(te.Reason)),
		logx.Int("attempts", te.Attempts),
		logx.Err(te.Err),
	}
	if te.Terminal {
		m.log.Error(msg+", giving up", fields...)
		return
	}
	m.log.Warn(msg, fields...)
}

func (m *Manager) readLoop(ctx context.Context, conn transport.Conn, gen uint64) {
	defer m.wg.Done()
	for {
		b, err := conn.Read(ctx)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
				err = cause
			}
			m.connLost(conn, gen, err)
			return
		}
		m.dispatch(b)
	}
}

func (m *Manager) dispatch(b []byte) {
	received := m.now()
	f, err := transport.ParseFrame(b)
	if err != nil {
		m.warnLog.Warn("dropping malformed frame", logx.Err(err), logx.Int("bytes", len(b)))
		return
	}
	ts := received
	if f.Timestamp > 0 {
		ts = time.UnixMilli(f.Timestamp)
	}
	m.emit(Event{Name: f.Type, Data: f.Data, Timestamp: ts, ReceivedAt: received})
}

func (m *Manager) pingLoop(ctx context.Context, kill context.CancelCauseFunc, conn transport.Conn, every, timeout time.Duration) {
	defer m.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				// The reader reports the loss so lifecycle events stay on one goroutine.
				kill(fmt.Errorf("keep-alive: %w", err))
				return
			}
		}
	}
}

// connLost handles an abrupt close of the current connection.
func (m *Manager) connLost(conn transport.Conn, gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateClosed
	if m.connCancel != nil {
		m.connCancel(err)
		m.connCancel = nil
	}
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	te := m.failLocked(err)
	m.mu.Unlock()

	_ = conn.Close()
	m.logFailure("connection lost", te)
	now := m.now()
	m.emit(Event{Name: EventDisconnected, Timestamp: now, ReceivedAt: now})
	m.emit(Event{Name: EventError, Err: te, Timestamp: now, ReceivedAt: now})
}

// Disconnect closes the connection deliberately: no reconnect is scheduled and
// any pending backoff timer is cancelled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopTimerLocked()
	conn := m.conn
	connCancel := m.connCancel
	dialCancel := m.dialCancel
	m.conn = nil
	m.connCancel = nil
	m.state = StateClosed
	m.gen++
	m.mu.Unlock()

	if dialCancel != nil {
		dialCancel()
	}
	if connCancel != nil {
		connCancel(errDisconnected)
	}
	if conn == nil {
		return
	}
	_ = conn.Close()
	m.log.Info("disconnected")
	now := m.now()
	m.emit(Event{Name: EventDisconnected, Timestamp: now, ReceivedAt: now})
}

// Send encodes data into a frame of the given type and writes it. It fails with
// ErrSendRejected unless the connection is Open.
func (m *Manager) Send(ctx context.Context, typ string, data any) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen && conn != nil
	timeout := m.cfg.WriteTimeout
	m.mu.Unlock()
	if !open {
		m.log.Debug("send rejected", logx.String("type", typ))
		return ErrSendRejected
	}

	b, err := transport.EncodeFrame(typ, data, m.now())
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m.wmu.Lock()
	defer m.wmu.Unlock()
	if err := conn.Write(wctx, b); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// Close disconnects and waits for background goroutines. Close is final.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.stopTimerLocked()
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrClosed, ctx.Err())
	}
}
