package poller

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/jpalmerr/compliancepulse/internal/store"
)

const (
	// MinInterval is the floor applied to every polling interval.
	MinInterval = 5 * time.Second

	// DefaultInterval is used when no interval is configured.
	DefaultInterval = 30 * time.Second

	// DefaultFetchTimeout bounds each backend request.
	DefaultFetchTimeout = 10 * time.Second
)

// ClampInterval applies the [MinInterval] floor.
func ClampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Publisher receives the values produced by each tick.
type Publisher interface {
	Publish(ch store.Channel, value any)
}

// Config holds the scheduler settings.
type Config struct {
	// Sources are the data channels fetched on every tick.
	Sources []Source

	// Interval is the period between scheduled ticks. Clamped to MinInterval.
	Interval time.Duration

	// FetchTimeout bounds each request, including the probe.
	FetchTimeout time.Duration

	// HealthPath overrides the connectivity probe path.
	HealthPath string

	// OfflineFallback publishes Fixtures for enabled channels on ticks where
	// the backend is unreachable.
	OfflineFallback bool

	// Fixtures are the fallback payloads keyed by channel.
	Fixtures map[store.Channel]json.RawMessage
}

// Scheduler owns the single polling timer.
//
// Scheduler is a two-state machine (stopped, running). Start performs one
// immediate tick and then arms a ticker; Stop disarms it. Each tick probes
// connectivity, publishes the result, and, when the backend is reachable,
// fetches every source concurrently. When the backend is unreachable the
// data fetches are skipped for that tick and a single connectivity error is
// published instead.
//
// Stop does not cancel a tick already in flight; its results are still
// published. Shutdown does cancel it, and nothing from that tick is published
// afterwards. A subsequent Start waits for the previous loop to exit before
// its first tick, so ticks of one channel are never published out of order
// outside of [Scheduler.Refresh].
//
// All methods are safe for concurrent use.
type Scheduler struct {
	client       *Client
	prober       *Prober
	publisher    Publisher
	clock        clockwork.Clock
	logger       *slog.Logger
	sources      []Source
	fetchTimeout time.Duration
	fallback     bool
	fixtures     map[store.Channel]json.RawMessage

	// base is cancelled by Shutdown and bounds every tick
	base       context.Context
	cancelBase context.CancelFunc

	mu       sync.Mutex
	interval time.Duration
	running  bool
	closed   bool
	stopCh   chan struct{}
	done     chan struct{}
	ticker   clockwork.Ticker
	wg       sync.WaitGroup
}

// NewScheduler creates a stopped [Scheduler].
//
// A nil clock uses real time; a nil logger uses [slog.Default].
func NewScheduler(client *Client, publisher Publisher, cfg Config, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	fixtures := make(map[store.Channel]json.RawMessage, len(cfg.Fixtures))
	for ch, raw := range cfg.Fixtures {
		fixtures[ch] = raw
	}

	base, cancelBase := context.WithCancel(context.Background())
	return &Scheduler{
		client:       client,
		prober:       NewProber(client, cfg.HealthPath, cfg.FetchTimeout, clock),
		publisher:    publisher,
		clock:        clock,
		logger:       logger,
		sources:      append([]Source(nil), cfg.Sources...),
		fetchTimeout: cfg.FetchTimeout,
		fallback:     cfg.OfflineFallback,
		fixtures:     fixtures,
		interval:     ClampInterval(cfg.Interval),
		base:         base,
		cancelBase:   cancelBase,
	}
}

// bind derives a context from ctx that is also cancelled by Shutdown.
func (s *Scheduler) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// aborted reports whether Shutdown has been called.
func (s *Scheduler) aborted() bool {
	return s.base.Err() != nil
}

// Start transitions the scheduler to running.
//
// Start is non-blocking. The polling goroutine performs one tick right away
// and then ticks every interval until [Scheduler.Stop] or [Scheduler.Close]
// is called or ctx is cancelled. ctx is also the parent of every fetch, so
// cancelling it aborts in-flight requests. Calling Start while running,
// after Close, or with a cancelled ctx is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	if s.running || s.closed {
		s.mu.Unlock()
		return
	}
	s.running = true
	stop := make(chan struct{})
	done := make(chan struct{})
	prev := s.done
	s.stopCh, s.done = stop, done
	s.wg.Add(1)
	interval := s.interval
	s.mu.Unlock()

	s.logger.Info("polling started", "interval", interval.String(), "channels", len(s.sources))

	ctx, release := s.bind(ctx)
	go s.run(ctx, release, stop, done, prev)
}

// run is the polling loop for one Start/Stop cycle.
func (s *Scheduler) run(ctx context.Context, release context.CancelFunc, stop, done, prev chan struct{}) {
	defer s.wg.Done()
	defer close(done)
	defer release()
	defer func() {
		s.mu.Lock()
		if s.stopCh == stop {
			s.running = false
		}
		s.mu.Unlock()
	}()

	// previous loop may still be finishing its last tick
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
	}

	if stopped(stop) {
		return
	}
	s.tick(ctx)

	s.mu.Lock()
	if stopped(stop) {
		s.mu.Unlock()
		return
	}
	ticker := s.clock.NewTicker(s.interval)
	s.ticker = ticker
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		ticker.Stop()
		if s.ticker == ticker {
			s.ticker = nil
		}
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			if stopped(stop) {
				return
			}
			s.tick(ctx)
		}
	}
}

func stopped(stop chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// Stop transitions the scheduler to stopped.
//
// The ticker is disarmed immediately; no further scheduled ticks occur until
// Start is called again. Stop does not wait for an in-flight tick and is
// safe to call from a listener. Calling Stop while stopped is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	s.logger.Info("polling stopped")
}

// Shutdown stops the scheduler for good and cancels any in-flight tick
// without waiting for it. A cancelled tick publishes nothing further.
// Shutdown is idempotent and safe to call from a listener.
func (s *Scheduler) Shutdown() {
	s.Stop()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancelBase()
}

// Wait blocks until every goroutine the scheduler started has exited, then
// releases idle connections. Call it after Shutdown. A listener must not call
// Wait: the tick that invoked it is one of the goroutines being waited for.
func (s *Scheduler) Wait() {
	s.wg.Wait()
	s.client.Close()
}

// Close is Shutdown followed by Wait.
func (s *Scheduler) Close() {
	s.Shutdown()
	s.Wait()
}

// SetInterval changes the polling period and returns the effective value
// after clamping to [MinInterval].
//
// If running, the ticker is re-armed so the next scheduled tick happens one
// new period from now; no extra tick is triggered.
func (s *Scheduler) SetInterval(d time.Duration) time.Duration {
	d = ClampInterval(d)

	s.mu.Lock()
	defer s.mu.Unlock()

	if d == s.interval {
		return d
	}
	s.interval = d
	if s.ticker != nil {
		s.ticker.Reset(d)
	}
	s.logger.Info("polling interval changed", "interval", d.String())
	return d
}

// State is a point-in-time view of the scheduler.
type State struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
}

// State returns the current running flag and interval together.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Running: s.running, Interval: s.interval}
}

// Interval returns the current polling period.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Running reports whether the scheduler is in the running state.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Refresh performs one out-of-band tick in the calling goroutine.
//
// The ticker is left untouched, so the next scheduled tick keeps its phase.
// A Refresh racing a scheduled tick may publish in either order.
// Returns [ErrClosed] after Close.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, release := s.bind(ctx)
	defer release()

	s.tick(ctx)
	return nil
}

// Probe runs a single connectivity check without publishing it.
func (s *Scheduler) Probe(ctx context.Context) ConnectivityState {
	return s.prober.Probe(ctx)
}

// tick runs one probe-then-fetch cycle.
func (s *Scheduler) tick(ctx context.Context) {
	state, err := s.prober.probe(ctx)
	if s.aborted() {
		return
	}
	s.publisher.Publish(store.ChannelConnectivity, state)

	if err != nil {
		s.logger.Warn("backend unreachable",
			"error", err.Error(),
			"response_time_ms", state.ResponseTimeMs,
			"offline_fallback", s.fallback,
		)
		s.publisher.Publish(store.ChannelError, newErrorEvent(err, s.clock.Now()))
		if s.fallback {
			s.publishFixtures()
		}
		return
	}

	s.logger.Debug("backend reachable",
		"response_time_ms", state.ResponseTimeMs,
		"backend_status", state.BackendStatus,
	)

	// fetches never return an error to the group: one failing channel must
	// not cancel or block the others
	var g errgroup.Group
	for _, src := range s.sources {
		g.Go(func() error {
			s.fetch(ctx, src)
			return nil
		})
	}
	_ = g.Wait()
}

// fetch retrieves one source and publishes either its payload or an error.
func (s *Scheduler) fetch(ctx context.Context, src Source) {
	start := s.clock.Now()
	data, err := FetchSource(ctx, s.client, src, s.fetchTimeout)
	if s.aborted() {
		return
	}
	if err != nil {
		s.logger.Warn("channel fetch failed",
			"channel", src.Channel,
			"path", src.Path,
			"error", err.Error(),
		)
		s.publisher.Publish(store.ChannelError, newErrorEvent(err, s.clock.Now()))
		return
	}

	s.logger.Debug("channel fetched",
		"channel", src.Channel,
		"bytes", len(data),
		"latency_ms", s.clock.Since(start).Milliseconds(),
	)
	s.publisher.Publish(src.Channel, data)
}

// publishFixtures publishes fallback payloads for the enabled sources.
func (s *Scheduler) publishFixtures() {
	for _, src := range s.sources {
		if raw, ok := s.fixtures[src.Channel]; ok {
			s.publisher.Publish(src.Channel, raw)
		}
	}
}
