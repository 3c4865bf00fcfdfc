package store

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewMemoryStore(t *testing.T) {
	store := NewMemoryStore(nil, nil)
	require.NotNil(t, store)

	// should start empty
	assert.Equal(t, 0, store.Count())
	_, ok := store.Last(ChannelOverview)
	assert.False(t, ok, "Last() on empty store should report no value")
}

func TestMemoryStore_PublishStampsTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore(testLogger(), clock)

	store.Publish(ChannelOverview, "first")

	got, ok := store.Last(ChannelOverview)
	require.True(t, ok)
	assert.Equal(t, "first", got.Value)
	assert.Equal(t, ChannelOverview, got.Channel)
	assert.Equal(t, clock.Now(), got.UpdatedAt)
}

func TestMemoryStore_PublishOverwrites(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	store.Publish(ChannelDocuments, 1)
	store.Publish(ChannelDocuments, 2)
	store.Publish(ChannelDocuments, 3)

	got, ok := store.Last(ChannelDocuments)
	require.True(t, ok)
	assert.Equal(t, 3, got.Value)
}

func TestMemoryStore_SubscribeReceivesOnlyItsChannel(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	var overview, timeline []any
	defer store.Subscribe(ChannelOverview, func(u Update) { overview = append(overview, u.Value) })()
	defer store.Subscribe(ChannelTimeline, func(u Update) { timeline = append(timeline, u.Value) })()

	store.Publish(ChannelOverview, "a")
	store.Publish(ChannelTimeline, "b")
	store.Publish(ChannelOverview, "c")

	assert.Equal(t, []any{"a", "c"}, overview)
	assert.Equal(t, []any{"b"}, timeline)
}

func TestMemoryStore_ListenersRunInRegistrationOrder(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		store.Subscribe(ChannelAnalytics, func(Update) { order = append(order, i) })
	}

	store.Publish(ChannelAnalytics, nil)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestMemoryStore_DisposerIsIdempotent(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	var calls atomic.Int32
	unsubscribe := store.Subscribe(ChannelOverview, func(Update) { calls.Add(1) })
	other := store.Subscribe(ChannelOverview, func(Update) {})
	defer other()

	require.Equal(t, 2, store.Count())

	unsubscribe()
	unsubscribe()

	assert.Equal(t, 1, store.Count(), "second disposer call must not remove another subscription")
	store.Publish(ChannelOverview, "x")
	assert.Equal(t, int32(0), calls.Load())
}

func TestMemoryStore_NilListener(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	unsubscribe := store.Subscribe(ChannelOverview, nil)
	unsubscribe()

	assert.Equal(t, 0, store.Count())
}

func TestMemoryStore_PanickingListenerIsIsolated(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	store := NewMemoryStore(logger, nil)

	var before, after atomic.Int32
	store.Subscribe(ChannelNotifications, func(Update) { before.Add(1) })
	store.Subscribe(ChannelNotifications, func(Update) { panic("boom") })
	store.Subscribe(ChannelNotifications, func(Update) { after.Add(1) })

	require.NotPanics(t, func() { store.Publish(ChannelNotifications, "n") })

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
	assert.Contains(t, logs.String(), "listener panicked")
	assert.Contains(t, logs.String(), "correlation_id")
}

func TestMemoryStore_UnsubscribeDuringDispatch(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	var first, second, third atomic.Int32
	var disposeSecond func()

	store.Subscribe(ChannelTimeline, func(Update) {
		first.Add(1)
		disposeSecond()
	})
	disposeSecond = store.Subscribe(ChannelTimeline, func(Update) { second.Add(1) })
	store.Subscribe(ChannelTimeline, func(Update) { third.Add(1) })

	store.Publish(ChannelTimeline, 1)

	// the removed listener is not delivered to, and its removal does not
	// shift the third listener out of the dispatch
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(0), second.Load())
	assert.Equal(t, int32(1), third.Load())

	store.Publish(ChannelTimeline, 2)
	assert.Equal(t, int32(2), first.Load())
	assert.Equal(t, int32(0), second.Load())
	assert.Equal(t, int32(2), third.Load())
}

func TestMemoryStore_SubscribeDuringDispatch(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	var late atomic.Int32
	var once sync.Once
	store.Subscribe(ChannelDocuments, func(Update) {
		once.Do(func() {
			store.Subscribe(ChannelDocuments, func(Update) { late.Add(1) })
		})
	})

	store.Publish(ChannelDocuments, 1)
	assert.Equal(t, int32(0), late.Load(), "listener added mid-dispatch must wait for the next publish")

	store.Publish(ChannelDocuments, 2)
	assert.Equal(t, int32(1), late.Load())
}

func TestMemoryStore_ActivityHooks(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	var active, idle atomic.Int32
	store.SetActivityHooks(func() { active.Add(1) }, func() { idle.Add(1) })

	a := store.Subscribe(ChannelOverview, func(Update) {})
	b := store.Subscribe(ChannelTimeline, func(Update) {})
	assert.Equal(t, int32(1), active.Load(), "only the first subscription activates")

	a()
	assert.Equal(t, int32(0), idle.Load(), "idle fires only when every channel is empty")

	b()
	b()
	assert.Equal(t, int32(1), idle.Load())

	c := store.Subscribe(ChannelError, func(Update) {})
	assert.Equal(t, int32(2), active.Load())
	c()
	assert.Equal(t, int32(2), idle.Load())
}

func TestMemoryStore_LastSurvivesUnsubscribe(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	unsubscribe := store.Subscribe(ChannelOverview, func(Update) {})
	store.Publish(ChannelOverview, "cached")
	unsubscribe()

	got, ok := store.Last(ChannelOverview)
	require.True(t, ok)
	assert.Equal(t, "cached", got.Value)
	assert.Equal(t, 0, store.Listeners(ChannelOverview))
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(testLogger(), nil)

	var wg sync.WaitGroup
	numGoroutines := 10
	numUpdates := 100

	// concurrent publishes
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numUpdates; j++ {
				store.Publish(ChannelOverview, j)
			}
		}()
	}

	// concurrent reads
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < numUpdates; j++ {
				_, _ = store.Last(ChannelOverview)
			}
		}()
	}

	// concurrent subscribe/unsubscribe
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsubscribe := store.Subscribe(ChannelOverview, func(Update) {})
			time.Sleep(time.Millisecond)
			unsubscribe()
		}()
	}

	wg.Wait()
	assert.Equal(t, 0, store.Count())
}

func TestChannel_Valid(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"overview", true},
		{"documents", true},
		{"notifications", true},
		{"timeline", true},
		{"analytics", true},
		{"connectivity", true},
		{"error", true},
		{"reports", false},
		{"", false},
		{"Overview", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ParseChannel(tt.name)
			assert.Equal(t, tt.want, ok)
		})
	}
}
