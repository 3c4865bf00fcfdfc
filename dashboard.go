package compliancepulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/compliancepulse/dashboard"
	"github.com/jpalmerr/compliancepulse/internal/poller"
	"github.com/jpalmerr/compliancepulse/internal/server"
	"github.com/jpalmerr/compliancepulse/internal/store"
)

const (
	defaultPort         = 8080
	defaultTitle        = "Compliance Dashboard"
	defaultRefreshRate  = rate.Limit(1)
	defaultRefreshBurst = 5
)

// Dashboard keeps a client-side view of a compliance backend fresh.
//
// A Dashboard owns one polling timer, one channel store, and the
// subscriptions that fold every channel into a [Snapshot]. It is created with
// [New] and released with [Dashboard.Close].
//
// The typical lifecycle is:
//
//	d, err := compliancepulse.New(
//	    compliancepulse.WithBackendURL("http://localhost:8000"),
//	    compliancepulse.WithPollingInterval(30*time.Second),
//	)
//	if err != nil {
//	    slog.Error("failed to create dashboard", "error", err)
//	    os.Exit(1)
//	}
//	defer d.Close()
//
//	stop := d.OnChange(func(s compliancepulse.Snapshot) {
//	    render(s)
//	})
//	defer stop()
//
// Polling runs only while the store has at least one subscription. The
// Dashboard holds its own subscriptions until Close, so in practice polling
// runs from [New] (or [Dashboard.StartPolling]) until Close or
// [Dashboard.StopPolling].
//
// All methods are safe for concurrent use.
type Dashboard struct {
	title        string
	port         int
	enabled      []Channel
	fetchTimeout time.Duration
	logger       *slog.Logger
	clock        clockwork.Clock

	client    *poller.Client
	store     *store.MemoryStore
	scheduler *poller.Scheduler
	limiter   *rate.Limiter
	life      *lifecycle

	ctx    context.Context
	cancel context.CancelFunc

	// dispatching counts listener calls in progress
	dispatching atomic.Int32

	mu        sync.Mutex
	agg       *aggregate
	observers []*observer
	disposers []func()
	closed    bool
	closeOnce sync.Once
}

// observer is one OnChange registration.
type observer struct {
	fn      func(Snapshot)
	removed atomic.Bool
}

// New creates a [Dashboard] with the given options.
//
// [WithBackendURL] is required. Other options have defaults:
//   - Polling interval: 30 seconds (never below [MinPollingInterval])
//   - Fetch timeout: 10 seconds
//   - Channels: all data channels enabled
//   - Auto start: true
//   - Timeline days: 30
//   - Refresh limit: 1 per second, burst 5
//   - Port: 8080
//
// Returns an error if the backend URL is missing or invalid, or if any
// option is invalid.
func New(opts ...Option) (*Dashboard, error) {
	cfg := &dashConfig{
		headers:         make(map[string]string),
		pollingInterval: poller.DefaultInterval,
		fetchTimeout:    poller.DefaultFetchTimeout,
		channels:        make(map[Channel]bool),
		autoStart:       true,
		fixtures:        make(map[Channel]json.RawMessage),
		timelineDays:    poller.DefaultTimelineDays,
		refreshLimit:    defaultRefreshRate,
		refreshBurst:    defaultRefreshBurst,
		port:            defaultPort,
		title:           defaultTitle,
	}
	for _, ch := range DataChannels() {
		cfg.channels[ch] = true
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.backendURL == "" {
		return nil, errors.New("backend url is required")
	}

	client, err := poller.NewClient(cfg.backendURL, cfg.headers)
	if err != nil {
		return nil, err
	}

	// default to slog.Default() if no logger provided
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	all := poller.DefaultSources(cfg.timelineDays)
	var enabled []Channel
	var sources []poller.Source
	for _, ch := range DataChannels() {
		if cfg.channels[ch] {
			enabled = append(enabled, ch)
			sources = append(sources, all[ch])
		}
	}

	st := store.NewMemoryStore(logger, clock)
	scheduler := poller.NewScheduler(client, st, poller.Config{
		Sources:         sources,
		Interval:        cfg.pollingInterval,
		FetchTimeout:    cfg.fetchTimeout,
		HealthPath:      cfg.healthPath,
		OfflineFallback: cfg.offlineFallback,
		Fixtures:        cfg.fixtures,
	}, clock, logger)

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		title:        cfg.title,
		port:         cfg.port,
		enabled:      enabled,
		fetchTimeout: cfg.fetchTimeout,
		logger:       logger,
		clock:        clock,
		client:       client,
		store:        st,
		scheduler:    scheduler,
		limiter:      rate.NewLimiter(cfg.refreshLimit, cfg.refreshBurst),
		life:         newLifecycle(scheduler, st, logger),
		ctx:          ctx,
		cancel:       cancel,
		agg:          newAggregate(enabled, cfg.offlineFallback),
	}

	// subscribe before arming the hooks so the first tick cannot publish
	// ahead of the aggregate's own listeners
	for _, ch := range append(slices.Clone(enabled), ChannelConnectivity, ChannelError) {
		d.disposers = append(d.disposers, st.Subscribe(ch, d.apply))
	}
	st.SetActivityHooks(d.life.onActive, d.life.onIdle)

	logger.Info("dashboard created",
		"backend", client.BaseURL(),
		"channels", len(enabled),
		"interval", scheduler.Interval().String(),
		"auto_start", cfg.autoStart,
		"offline_fallback", cfg.offlineFallback,
	)

	if cfg.autoStart {
		d.life.start(ctx)
	}
	return d, nil
}

// apply folds a channel update into the snapshot and notifies observers.
func (d *Dashboard) apply(u Update) {
	d.mu.Lock()
	if d.closed || !d.agg.apply(u) {
		d.mu.Unlock()
		return
	}
	snap := d.agg.snapshot()
	observers := slices.Clone(d.observers)
	d.mu.Unlock()

	d.dispatching.Add(1)
	defer d.dispatching.Add(-1)
	for _, o := range observers {
		if o.removed.Load() {
			continue
		}
		d.notifySafe(o.fn, snap)
	}
}

// notifySafe calls an observer with panic recovery.
func (d *Dashboard) notifySafe(fn func(Snapshot), snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("change listener panicked",
				"correlation_id", uuid.NewString(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn(snap)
}

// Snapshot returns the current aggregated view.
func (d *Dashboard) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.agg.snapshot()
}

// OnChange registers fn to receive a fresh [Snapshot] after every update and
// returns a function that removes it.
//
// fn runs synchronously on the polling goroutine and must not block. Panics
// are recovered and logged. Channels are fetched concurrently, so two
// snapshots produced by the same refresh may arrive in either order; Snapshot
// always returns the latest view. The returned function is idempotent. A nil fn,
// or a call after Close, registers nothing.
func (d *Dashboard) OnChange(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}

	o := &observer{fn: fn}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return func() {}
	}
	d.observers = append(d.observers, o)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.removed.Store(true)
			d.mu.Lock()
			d.observers = slices.DeleteFunc(d.observers, func(x *observer) bool { return x == o })
			d.mu.Unlock()
		})
	}
}

// Subscribe registers fn directly on one channel and returns its disposer.
//
// See [Update] for the value type carried by each channel. A call after
// Close registers nothing.
func (d *Dashboard) Subscribe(ch Channel, fn Listener) func() {
	if fn == nil || d.isClosed() {
		return func() {}
	}
	return d.store.Subscribe(ch, func(u Update) {
		d.dispatching.Add(1)
		defer d.dispatching.Add(-1)
		fn(u)
	})
}

// Last returns the latest update published on ch.
func (d *Dashboard) Last(ch Channel) (Update, bool) {
	return d.store.Last(ch)
}

// Refresh runs one probe-and-fetch cycle immediately in the calling
// goroutine. The polling timer keeps its phase.
//
// Returns [ErrRefreshThrottled] if called more often than the configured
// refresh limit, or [ErrClosed] after Close. Backend failures are published
// on [ChannelError], not returned.
func (d *Dashboard) Refresh(ctx context.Context) error {
	if d.isClosed() {
		return ErrClosed
	}
	if !d.limiter.AllowN(d.clock.Now(), 1) {
		d.logger.Debug("refresh throttled")
		return ErrRefreshThrottled
	}
	return d.scheduler.Refresh(ctx)
}

// StartPolling starts the polling timer. Polling stops when ctx is
// cancelled, [Dashboard.StopPolling] is called, or the dashboard is closed.
// Calling StartPolling while polling is running is a no-op.
func (d *Dashboard) StartPolling(ctx context.Context) {
	if d.isClosed() {
		return
	}
	d.life.start(ctx)
}

// StopPolling stops the polling timer. No further scheduled refreshes occur
// until StartPolling is called again.
func (d *Dashboard) StopPolling() {
	d.life.stop()
}

// SetPollingInterval changes the polling interval and returns the effective
// value after applying the [MinPollingInterval] floor. If polling is running
// the next refresh happens one new interval from now.
func (d *Dashboard) SetPollingInterval(interval time.Duration) time.Duration {
	return d.scheduler.SetInterval(interval)
}

// PollingState reports whether polling is running and at what interval.
func (d *Dashboard) PollingState() PollingState {
	return d.scheduler.State()
}

// Probe runs a single connectivity check without publishing it.
func (d *Dashboard) Probe(ctx context.Context) ConnectivityState {
	return d.scheduler.Probe(ctx)
}

// MarkNotificationRead marks one notification as read on the backend and
// then refreshes every channel so the change is reflected.
//
// The refresh is not subject to the refresh limit.
func (d *Dashboard) MarkNotificationRead(ctx context.Context, id string) error {
	if d.isClosed() {
		return ErrClosed
	}
	if err := poller.MarkNotificationRead(ctx, d.client, id, d.fetchTimeout); err != nil {
		return err
	}
	d.logger.Info("notification marked read", "id", id)
	return d.scheduler.Refresh(ctx)
}

// Serve runs the relay HTTP server until ctx is cancelled.
//
// The relay exposes the embedded page, a JSON view of the current [Snapshot]
// and of every channel, a Server-Sent Events stream of updates, and polling
// controls. Returns nil on
// graceful shutdown, or an error if the server fails to start.
func (d *Dashboard) Serve(ctx context.Context) error {
	if d.isClosed() {
		return ErrClosed
	}

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	d.logger.Info("relay available", "url", fmt.Sprintf("http://localhost:%d", d.port))

	srv := server.NewServer(relayHub{d}, d.port, dashboard.Assets, d.title, d.logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	srv.Wait()
	d.logger.Info("relay stopped")
	return nil
}

// relayHub exposes the dashboard to the relay server.
type relayHub struct {
	*Dashboard
}

// Aggregate returns the current [Snapshot].
func (h relayHub) Aggregate() any {
	return h.Snapshot()
}

// Port returns the configured relay port.
func (d *Dashboard) Port() int {
	return d.port
}

// Channels returns the enabled data channels in display order.
func (d *Dashboard) Channels() []Channel {
	return slices.Clone(d.enabled)
}

// Close removes every subscription the dashboard holds, stops polling,
// cancels any in-flight refresh, waits for it to return, and releases idle
// connections. Nothing is published after Close returns.
//
// Close may be called from an OnChange or Subscribe listener. In that case
// the wait for the refresh running the listener happens in the background.
//
// Close is idempotent. After Close, Snapshot keeps returning the last view and
// control methods return [ErrClosed] or do nothing.
func (d *Dashboard) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		disposers := d.disposers
		d.disposers = nil
		d.observers = nil
		d.mu.Unlock()

		for _, dispose := range disposers {
			dispose()
		}
		d.life.stop()
		d.cancel()
		d.scheduler.Shutdown()

		// a listener may be running on the goroutine Wait would wait for
		if d.dispatching.Load() > 0 {
			go d.scheduler.Wait()
		} else {
			d.scheduler.Wait()
		}
		d.logger.Info("dashboard closed")
	})
}

func (d *Dashboard) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
