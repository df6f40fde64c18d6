package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"carelink/internal/config"
	"carelink/internal/connection"
	"carelink/internal/contacts"
	"carelink/internal/dedup"
	"carelink/internal/display"
	"carelink/internal/eventbus"
	"carelink/internal/notify"
	"carelink/internal/pipeline"
	"carelink/internal/reminder"
	"carelink/internal/runtime/supervisor"
	"carelink/internal/session"
	"carelink/internal/storage"
	"carelink/internal/transport/ws"
	logx "carelink/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	session  *session.Session
	conn     *connection.Manager
	dedup    *dedup.Deduplicator
	display  *display.Queue
	contacts *contacts.Aggregator
	pipeline *pipeline.Pipeline
	remind   *reminder.Service

	tick    atomic.Int64 // time.Duration
	persist atomic.Int64 // time.Duration
	dirty   atomic.Bool

	stopOnce sync.Once
}

// New loads the config file and builds every component. Nothing runs until
// Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     eventbus.New(),
	}

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	token, err := resolveToken(cfg.Session)
	if err != nil {
		return nil, err
	}
	if token != "" {
		if a.session, err = session.New(token, cfg.Session.UserID); err != nil {
			return nil, err
		}
		if a.session.Expired() {
			a.log.Warn("session token already expired", logx.Time("expires_at", a.session.Identity().ExpiresAt))
		}
	} else {
		a.log.Warn("no session token configured; connecting unauthenticated")
	}

	ccfg, _ := mapConnectionConfig(cfg)
	dcfg, _ := mapDialerConfig(cfg)
	connOpts := []connection.Option{connection.WithLogger(log)}
	if a.session != nil {
		connOpts = append(connOpts, connection.WithHeader(a.session.Header))
	}
	a.conn = connection.New(ccfg, ws.NewDialer(dcfg), connOpts...)

	dd, _ := mapDedupConfig(cfg)
	a.dedup = dedup.New(dd, dedup.WithLogger(log.With(logx.String("comp", "dedup"))))

	disp, tick, _ := mapDisplayConfig(cfg)
	a.display = display.New(disp, display.WithLogger(log))
	a.tick.Store(int64(tick))

	a.contacts = contacts.New(contacts.WithLogger(log))

	inboxSize, persist, _ := mapPipelineConfig(cfg)
	a.persist.Store(int64(persist))
	a.pipeline = pipeline.New(pipeline.Deps{
		Dedup:    a.dedup,
		Display:  a.display,
		Contacts: a.contacts,
		Inbox:    pipeline.NewInbox(inboxSize),
		Bus:      a.bus,
	}, pipeline.WithLogger(log))

	rcfg, _ := mapReminderConfig(cfg)
	a.remind = reminder.New(rcfg, a.onReminder, a.conn, reminder.WithLogger(log))

	return a, nil
}

func (a *App) Bus() eventbus.Bus                  { return a.bus }
func (a *App) Connection() *connection.Manager    { return a.conn }
func (a *App) Pipeline() *pipeline.Pipeline       { return a.pipeline }
func (a *App) Contacts() *contacts.Aggregator     { return a.contacts }
func (a *App) Display() *display.Queue            { return a.display }
func (a *App) Reminders() *reminder.Service       { return a.remind }
func (a *App) Dedup() *dedup.Deduplicator         { return a.dedup }
func (a *App) Session() *session.Session          { return a.session }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) onReminder(n notify.Notification) {
	a.bus.Publish(eventbus.Event{Type: eventbus.TopicReminder, Time: time.Now(), Data: n})
	a.pipeline.Ingest(n)
}

// restore seeds the aggregator from storage, then from the configured roster.
func (a *App) restore(ctx context.Context, cfg *config.Config) {
	if a.store != nil {
		var (
			roster []contacts.Contact
			unread []contacts.Record
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			roster, err = a.store.LoadRoster(gctx)
			return err
		})
		g.Go(func() (err error) {
			unread, err = a.store.LoadUnread(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			// Counters are a convenience; start from zero rather than refuse to run.
			a.log.Warn("restore from storage failed", logx.Err(err))
		} else {
			a.contacts.Seed(roster)
			a.contacts.Restore(unread)
			a.log.Info("state restored", logx.Int("contacts", len(roster)), logx.Int("records", len(unread)))
		}
	}
	if roster := mapRoster(cfg); len(roster) > 0 {
		a.contacts.Seed(roster)
		if a.store != nil {
			if err := a.store.SaveRoster(ctx, a.contacts.Roster()); err != nil {
				a.log.Warn("save roster failed", logx.Err(err))
			}
		}
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.restore(a.sup.Context(), a.cfgm.Get())
	a.contacts.Subscribe(func(contacts.Record) { a.dirty.Store(true) })
	a.pipeline.Attach(a.conn)

	// Debug view of everything the pipeline publishes.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.GoRestart("display.tick", a.tickLoop)
	if a.store != nil {
		a.sup.GoRestart("storage.persist", a.persistLoop)
	}

	a.remind.Start(a.sup.Context())

	a.sup.Go("connection.connect", func(c context.Context) error {
		if err := a.conn.Connect(c); err != nil && !errors.Is(err, connection.ErrClosed) {
			// The manager reconnects on its own.
			a.log.Warn("initial connect failed", logx.Err(err))
		}
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig pushes a validated reload into the live components.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	if changed("logging") {
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if changed("dedup") {
		dd, _ := mapDedupConfig(newCfg)
		a.dedup.Apply(dd)
	}
	if changed("display") {
		disp, tick, _ := mapDisplayConfig(newCfg)
		a.display.Apply(disp)
		a.tick.Store(int64(tick))
	}
	if changed("pipeline") {
		size, persist, _ := mapPipelineConfig(newCfg)
		a.pipeline.Inbox().Resize(size)
		a.persist.Store(int64(persist))
	}
	if changed("reminders") {
		rcfg, _ := mapReminderConfig(newCfg)
		a.remind.Apply(rcfg)
	}
	if changed("contacts") {
		a.contacts.Seed(mapRoster(newCfg))
		if a.store != nil {
			if err := a.store.SaveRoster(ctx, a.contacts.Roster()); err != nil {
				a.log.Warn("save roster failed", logx.Err(err))
			}
		}
	}
	redial := false
	if changed("session") {
		token, err := resolveToken(newCfg.Session)
		switch {
		case err != nil:
			a.log.Warn("session token unreadable; keeping previous", logx.Err(err))
		case a.session == nil:
			a.log.Warn("session token added; restart required to authenticate")
		default:
			if err := a.session.SetToken(token, newCfg.Session.UserID); err != nil {
				a.log.Warn("invalid session token; keeping previous", logx.Err(err))
			} else {
				redial = true
			}
		}
	}
	if changed("connection") {
		ccfg, _ := mapConnectionConfig(newCfg)
		a.conn.Apply(ccfg)
		redial = redial || oldCfg.Connection.URL != newCfg.Connection.URL
	}
	if redial {
		a.log.Info("reconnecting with new connection settings")
		a.conn.Disconnect()
		a.sup.Go("connection.reconnect", func(c context.Context) error {
			if err := a.conn.Connect(c); err != nil && !errors.Is(err, connection.ErrClosed) {
				a.log.Warn("reconnect failed", logx.Err(err))
			}
			return nil
		})
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TopicConfigReloaded, Time: time.Now(), Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// tickLoop drives display expiry. It sleeps until the queue's next deadline,
// capped by tick_interval so newly admitted work and reloads are picked up.
func (a *App) tickLoop(ctx context.Context) error {
	t := time.NewTimer(tickWait(a.display.NextDeadline(), time.Now(), time.Duration(a.tick.Load())))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			a.pipeline.Tick(now)
			t.Reset(tickWait(a.display.NextDeadline(), time.Now(), time.Duration(a.tick.Load())))
		}
	}
}

const minTickWait = time.Millisecond

// tickWait returns how long to sleep before the next Tick: until next, but
// never longer than max and never shorter than minTickWait. A zero next means
// the queue is idle.
func tickWait(next, now time.Time, max time.Duration) time.Duration {
	if next.IsZero() {
		return max
	}
	d := next.Sub(now)
	if d > max {
		d = max
	}
	if d < minTickWait {
		d = minTickWait
	}
	return d
}

func (a *App) persistLoop(ctx context.Context) error {
	t := time.NewTimer(time.Duration(a.persist.Load()))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := a.flush(ctx); err != nil {
				a.log.Warn("persist unread failed", logx.Err(err))
			}
			t.Reset(time.Duration(a.persist.Load()))
		}
	}
}

// flush writes unread counters when they changed since the last write.
func (a *App) flush(ctx context.Context) error {
	if a.store == nil || !a.dirty.Swap(false) {
		return nil
	}
	if err := a.store.SaveUnread(ctx, a.contacts.Records()); err != nil {
		a.dirty.Store(true)
		return err
	}
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		// Never started: only release what New opened.
		var err error
		if a.store != nil {
			err = a.store.Close()
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
		return err
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("reminders", time.Second, func(c context.Context) error { a.remind.Stop(c); return nil })
	step("pipeline", time.Second, func(context.Context) error { a.pipeline.Detach(); return nil })
	step("connection", 2*time.Second, a.conn.Close)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", 2*time.Second, func(c context.Context) error {
		if a.store == nil {
			return nil
		}
		err := a.flush(c)
		return errors.Join(err, a.store.Close())
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
