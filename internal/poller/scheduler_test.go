package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/compliancepulse/internal/store"
)

const waitFor = 2 * time.Second

// newTestScheduler wires a scheduler to a fake backend, a recorder, and a
// fake clock. The scheduler is closed on test cleanup.
func newTestScheduler(t *testing.T, fb *fakeBackend, cfg Config) (*Scheduler, *recorder, *clockwork.FakeClock) {
	t.Helper()

	if cfg.Sources == nil {
		cfg.Sources = allSources()
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = time.Second
	}

	rec := &recorder{}
	clock := clockwork.NewFakeClock()
	s := NewScheduler(newTestClient(t, fb.URL), rec, cfg, clock, testLogger())
	t.Cleanup(s.Close)
	return s, rec, clock
}

// waitArmed blocks until the scheduler's ticker is registered with the fake
// clock, which happens right after the immediate tick completes.
func waitArmed(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1), "ticker was never armed")
}

// waitTicks waits until every data channel has been published n times.
func waitTicks(t *testing.T, rec *recorder, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, ch := range store.DataChannels {
			if rec.count(ch) < n {
				return false
			}
		}
		return true
	}, waitFor, 5*time.Millisecond, "expected %d publishes per data channel", n)
}

// assertTicks asserts that exactly n ticks have been published, after giving
// any stray tick a moment to land.
func assertTicks(t *testing.T, rec *recorder, n int) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, rec.count(store.ChannelConnectivity), "connectivity publishes")
	for _, ch := range store.DataChannels {
		assert.Equal(t, n, rec.count(ch), "publishes on %s", ch)
	}
}

func TestClampInterval(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, MinInterval},
		{-time.Second, MinInterval},
		{50 * time.Millisecond, MinInterval},
		{time.Second, MinInterval},
		{MinInterval, MinInterval},
		{time.Minute, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampInterval(tt.in), "ClampInterval(%s)", tt.in)
	}
}

func TestScheduler_StartPublishesImmediately(t *testing.T) {
	fb := newFakeBackend(t)
	s, rec, _ := newTestScheduler(t, fb, Config{Interval: time.Minute})

	s.Start(context.Background())

	// no clock advance: the first tick must not wait for the interval
	waitTicks(t, rec, 1)

	calls := rec.all()
	require.NotEmpty(t, calls)
	assert.Equal(t, store.ChannelConnectivity, calls[0].Channel, "connectivity is published before channel data")

	state, ok := calls[0].Value.(ConnectivityState)
	require.True(t, ok)
	assert.True(t, state.IsConnected)
	assert.Equal(t, "healthy", state.BackendStatus)

	raw, ok := rec.values(store.ChannelOverview)[0].(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"success","path":"/api/dashboard/overview"}`, string(raw))
}

func TestScheduler_TicksOnInterval(t *testing.T) {
	fb := newFakeBackend(t)
	s, rec, clock := newTestScheduler(t, fb, Config{Interval: 10 * time.Second})

	s.Start(context.Background())
	waitArmed(t, clock)
	assertTicks(t, rec, 1)

	clock.Advance(9 * time.Second)
	assertTicks(t, rec, 1)

	clock.Advance(time.Second)
	waitTicks(t, rec, 2)

	clock.Advance(10 * time.Second)
	waitTicks(t, rec, 3)
}

func TestScheduler_StopHaltsTicks(t *testing.T) {
	fb := newFakeBackend(t)
	interval := 10 * time.Second
	s, rec, clock := newTestScheduler(t, fb, Config{Interval: interval})

	s.Start(context.Background())
	waitArmed(t, clock)
	require.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())

	clock.Advance(2 * interval)
	assertTicks(t, rec, 1)

	// restart performs a fresh immediate tick
	s.Start(context.Background())
	waitTicks(t, rec, 2)
}

func TestScheduler_SetIntervalClampsToFloor(t *testing.T) {
	fb := newFakeBackend(t)
	s, rec, clock := newTestScheduler(t, fb, Config{Interval: 30 * time.Second})

	assert.Equal(t, MinInterval, s.SetInterval(time.Second))
	assert.Equal(t, MinInterval, s.SetInterval(50*time.Millisecond))
	assert.Equal(t, MinInterval, s.Interval())

	s.Start(context.Background())
	waitArmed(t, clock)

	clock.Advance(MinInterval - time.Second)
	assertTicks(t, rec, 1)

	clock.Advance(time.Second)
	waitTicks(t, rec, 2)
}

func TestScheduler_SetIntervalWhileRunning(t *testing.T) {
	fb := newFakeBackend(t)
	s, rec, clock := newTestScheduler(t, fb, Config{Interval: time.Minute})

	s.Start(context.Background())
	waitArmed(t, clock)

	// re-arming does not force an extra tick
	assert.Equal(t, 20*time.Second, s.SetInterval(20*time.Second))
	assertTicks(t, rec, 1)

	clock.Advance(20 * time.Second)
	waitTicks(t, rec, 2)
}

func TestScheduler_RefreshKeepsPhase(t *testing.T) {
	fb := newFakeBackend(t)
	s, rec, clock := newTestScheduler(t, fb, Config{Interval: 10 * time.Second})

	s.Start(context.Background())
	waitArmed(t, clock)

	clock.Advance(4 * time.Second)
	require.NoError(t, s.Refresh(context.Background()))
	assertTicks(t, rec, 2)

	// the scheduled tick still lands 10s after arming, not 10s after refresh
	clock.Advance(6 * time.Second)
	waitTicks(t, rec, 3)
}

func TestScheduler_RefreshWhileStopped(t *testing.T) {
	fb := newFakeBackend(t)
	s, rec, _ := newTestScheduler(t, fb, Config{})

	require.NoError(t, s.Refresh(context.Background()))

	assertTicks(t, rec, 1)
	assert.False(t, s.Running())
}

func TestScheduler_PartialFailureIsolation(t *testing.T) {
	fb := newFakeBackend(t)
	fb.fail("/api/dashboard/documents", http.StatusInternalServerError)
	s, rec, _ := newTestScheduler(t, fb, Config{})

	require.NotPanics(t, func() {
		require.NoError(t, s.Refresh(context.Background()))
	})

	assert.Equal(t, 0, rec.count(store.ChannelDocuments))
	for _, ch := range []store.Channel{store.ChannelOverview, store.ChannelNotifications, store.ChannelTimeline, store.ChannelAnalytics} {
		assert.Equal(t, 1, rec.count(ch), "publishes on %s", ch)
	}

	errs := rec.values(store.ChannelError)
	require.Len(t, errs, 1)
	ev, ok := errs[0].(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, store.ChannelDocuments, ev.Channel)
	assert.Equal(t, ErrorKindFetch, ev.Kind)
	assert.Equal(t, http.StatusInternalServerError, ev.StatusCode)
	assert.Contains(t, ev.Message, "bucket offline")

	var fetchErr *FetchError
	require.True(t, errors.As(ev, &fetchErr))
	assert.Equal(t, store.ChannelDocuments, fetchErr.Channel)
}

func TestScheduler_InvalidPayload(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handle("/api/dashboard/analytics", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway</html>"))
	})
	s, rec, _ := newTestScheduler(t, fb, Config{})

	require.NoError(t, s.Refresh(context.Background()))

	errs := rec.values(store.ChannelError)
	require.Len(t, errs, 1)
	ev := errs[0].(ErrorEvent)
	assert.Equal(t, store.ChannelAnalytics, ev.Channel)
	assert.ErrorIs(t, ev, ErrInvalidPayload)
}

func TestScheduler_DisconnectedSkipsFetches(t *testing.T) {
	fb := newFakeBackend(t)
	fb.healthy.Store(false)
	s, rec, _ := newTestScheduler(t, fb, Config{})

	require.NoError(t, s.Refresh(context.Background()))

	conn := rec.values(store.ChannelConnectivity)
	require.Len(t, conn, 1)
	state := conn[0].(ConnectivityState)
	assert.False(t, state.IsConnected)
	assert.NotEmpty(t, state.Error)

	errs := rec.values(store.ChannelError)
	require.Len(t, errs, 1, "a disconnected tick publishes exactly one error")
	ev := errs[0].(ErrorEvent)
	assert.Equal(t, ErrorKindConnectivity, ev.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, ev.StatusCode)

	for _, src := range allSources() {
		assert.Equal(t, 0, fb.hitCount(src.Path), "%s should not be fetched while disconnected", src.Path)
		assert.Equal(t, 0, rec.count(src.Channel))
	}
}

func TestScheduler_RecoversAfterOutage(t *testing.T) {
	fb := newFakeBackend(t)
	fb.healthy.Store(false)
	s, rec, clock := newTestScheduler(t, fb, Config{Interval: 10 * time.Second})

	s.Start(context.Background())
	waitArmed(t, clock)
	assert.Equal(t, 0, rec.count(store.ChannelOverview))

	fb.healthy.Store(true)
	clock.Advance(10 * time.Second)
	waitTicks(t, rec, 1)
}

func TestScheduler_OfflineFallback(t *testing.T) {
	fb := newFakeBackend(t)
	fb.healthy.Store(false)
	fixture := json.RawMessage(`{"status":"success","data":{"totalDocuments":0}}`)
	s, rec, _ := newTestScheduler(t, fb, Config{
		OfflineFallback: true,
		Fixtures:        map[store.Channel]json.RawMessage{store.ChannelOverview: fixture},
	})

	require.NoError(t, s.Refresh(context.Background()))

	overview := rec.values(store.ChannelOverview)
	require.Len(t, overview, 1)
	assert.JSONEq(t, string(fixture), string(overview[0].(json.RawMessage)))

	// channels without a fixture stay empty
	assert.Equal(t, 0, rec.count(store.ChannelDocuments))
}

func TestScheduler_FixturesIgnoredWithoutFallback(t *testing.T) {
	fb := newFakeBackend(t)
	fb.healthy.Store(false)
	s, rec, _ := newTestScheduler(t, fb, Config{
		Fixtures: map[store.Channel]json.RawMessage{store.ChannelOverview: json.RawMessage(`{}`)},
	})

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 0, rec.count(store.ChannelOverview))
}

func TestScheduler_FetchTimeout(t *testing.T) {
	fb := newFakeBackend(t)
	fb.handle("/api/dashboard/timeline", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	s, rec, _ := newTestScheduler(t, fb, Config{FetchTimeout: 100 * time.Millisecond})

	start := time.Now()
	require.NoError(t, s.Refresh(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second, "a hanging channel must not stall the tick")

	assert.Equal(t, 0, rec.count(store.ChannelTimeline))
	assert.Equal(t, 1, rec.count(store.ChannelOverview))

	errs := rec.values(store.ChannelError)
	require.Len(t, errs, 1)
	assert.Equal(t, store.ChannelTimeline, errs[0].(ErrorEvent).Channel)
}

func TestScheduler_ConcurrentFetches(t *testing.T) {
	fb := newFakeBackend(t)

	// every data endpoint waits until all of them are in flight
	var wg sync.WaitGroup
	wg.Add(len(store.DataChannels))
	release := make(chan struct{})
	go func() {
		wg.Wait()
		close(release)
	}()
	for _, src := range allSources() {
		fb.handle(src.Path, func(w http.ResponseWriter, r *http.Request) {
			wg.Done()
			select {
			case <-release:
				_, _ = w.Write([]byte(`{}`))
			case <-r.Context().Done():
			}
		})
	}

	s, rec, _ := newTestScheduler(t, fb, Config{FetchTimeout: time.Second})
	require.NoError(t, s.Refresh(context.Background()))

	// sequential fetches would all time out waiting for each other
	assert.Empty(t, rec.values(store.ChannelError))
	for _, ch := range store.DataChannels {
		assert.Equal(t, 1, rec.count(ch))
	}
}

func TestScheduler_StopDoesNotCancelInflightTick(t *testing.T) {
	fb := newFakeBackend(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	fb.handle("/api/dashboard/overview", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte(`{"late":true}`))
	})
	s, rec, _ := newTestScheduler(t, fb, Config{FetchTimeout: waitFor})

	s.Start(context.Background())
	<-entered
	s.Stop()
	close(release)

	require.Eventually(t, func() bool { return rec.count(store.ChannelOverview) == 1 },
		waitFor, 5*time.Millisecond, "in-flight tick should still publish after Stop")
}

func TestScheduler_EnabledSourcesOnly(t *testing.T) {
	fb := newFakeBackend(t)
	defaults := DefaultSources(7)
	s, rec, _ := newTestScheduler(t, fb, Config{
		Sources: []Source{defaults[store.ChannelTimeline]},
	})

	require.NoError(t, s.Refresh(context.Background()))

	assert.Equal(t, 1, rec.count(store.ChannelTimeline))
	assert.Equal(t, 0, rec.count(store.ChannelOverview))
	assert.Equal(t, 0, fb.hitCount("/api/dashboard/overview"))
}

// TestScheduler_StopBeforeStart verifies that calling Stop() on a scheduler
// that was never started does not panic and is a safe no-op.
func TestScheduler_StopBeforeStart(t *testing.T) {
	fb := newFakeBackend(t)
	s, _, _ := newTestScheduler(t, fb, Config{})

	s.Stop()
	assert.False(t, s.Running())
}

// TestScheduler_StartTwice verifies that Start() is idempotent and calling
// it multiple times does not arm a second timer.
func TestScheduler_StartTwice(t *testing.T) {
	fb := newFakeBackend(t)
	s, rec, clock := newTestScheduler(t, fb, Config{Interval: 10 * time.Second})

	s.Start(context.Background())
	s.Start(context.Background())
	waitArmed(t, clock)
	assertTicks(t, rec, 1)

	clock.Advance(10 * time.Second)
	waitTicks(t, rec, 2)
	assertTicks(t, rec, 2)
}

func TestScheduler_CloseThenUse(t *testing.T) {
	fb := newFakeBackend(t)
	s, rec, _ := newTestScheduler(t, fb, Config{})

	s.Close()
	s.Close()

	s.Start(context.Background())
	assert.False(t, s.Running(), "Start after Close is a no-op")
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrClosed)
	assert.Empty(t, rec.all())
}

func TestScheduler_ContextCancellation(t *testing.T) {
	fb := newFakeBackend(t)
	s, _, clock := newTestScheduler(t, fb, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	waitArmed(t, clock)

	cancel()
	require.Eventually(t, func() bool { return !s.Running() }, waitFor, 5*time.Millisecond)
}

// TestScheduler_ConcurrentStartStop verifies that calling Start() and Stop()
// concurrently does not cause a race condition or panic.
// Run with: go test -race ./internal/poller/...
func TestScheduler_ConcurrentStartStop(t *testing.T) {
	fb := newFakeBackend(t)
	s, _, _ := newTestScheduler(t, fb, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			s.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			s.Stop()
		}()
		go func() {
			defer wg.Done()
			s.SetInterval(time.Duration(i+5) * time.Second)
		}()
	}
	wg.Wait()
}

// publishFunc adapts a function to Publisher.
type publishFunc func(ch store.Channel, value any)

func (f publishFunc) Publish(ch store.Channel, value any) { f(ch, value) }

func TestScheduler_ShutdownFromPublisher(t *testing.T) {
	fb := newFakeBackend(t)

	var s *Scheduler
	var mu sync.Mutex
	var got []store.Channel
	pub := publishFunc(func(ch store.Channel, _ any) {
		mu.Lock()
		got = append(got, ch)
		mu.Unlock()
		s.Shutdown()
	})
	s = NewScheduler(newTestClient(t, fb.URL), pub, Config{
		Sources:      allSources(),
		FetchTimeout: time.Second,
	}, clockwork.NewFakeClock(), testLogger())

	s.Start(context.Background())

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(waitFor):
		t.Fatal("Wait blocked after Shutdown from the tick")
	}

	assert.False(t, s.Running())
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrClosed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []store.Channel{store.ChannelConnectivity}, got, "nothing is published after Shutdown")
}

func TestScheduler_ShutdownCancelsInflightTick(t *testing.T) {
	fb := newFakeBackend(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	fb.handle("/api/dashboard/overview", func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	s, rec, _ := newTestScheduler(t, fb, Config{FetchTimeout: time.Minute})

	done := make(chan error, 1)
	go func() {
		done <- s.Refresh(context.Background())
	}()
	<-entered

	start := time.Now()
	s.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Shutdown did not cancel the in-flight refresh")
	}
	s.Wait()
	assert.Less(t, time.Since(start), waitFor)

	assert.Zero(t, rec.count(store.ChannelOverview))
	assert.Empty(t, rec.values(store.ChannelError), "a cancelled fetch publishes no error")
}
