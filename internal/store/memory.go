package store

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// CallbackError describes a listener that panicked during dispatch.
//
// CallbackError is logged at the dispatch site and never propagated to the
// publisher. The correlation ID ties the log line (which carries the full
// stack) to whatever the caller surfaces.
type CallbackError struct {
	Channel       Channel
	CorrelationID string
	Panic         any
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("listener on %q panicked: %v (correlation_id: %s)", e.Channel, e.Panic, e.CorrelationID)
}

// listener is a registered callback. removed is set by the disposer so a
// dispatch snapshot taken before disposal does not deliver to it afterwards.
type listener struct {
	fn      Listener
	removed atomic.Bool
}

// channelState is the per-channel record owned by the store.
type channelState struct {
	last      Update
	hasValue  bool
	listeners []*listener
}

// MemoryStore is an in-memory implementation of [Store].
//
// Each channel keeps its latest value and an ordered list of listeners.
// Publish delivers synchronously to a snapshot of that list; listeners
// added during a dispatch see the next publish, listeners removed during a
// dispatch are not invoked once their disposer has returned.
//
// The optional activity hooks fire on the 0→1 and 1→0 transitions of the
// total subscription count. They run outside the store lock, serialised
// with respect to each other, and are used to start and stop polling lazily.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[Channel]*channelState
	subs     int

	hookMu   sync.Mutex
	onActive func()
	onIdle   func()

	clock  clockwork.Clock
	logger *slog.Logger
}

// NewMemoryStore creates a new in-memory [Store] implementation.
//
// A nil logger falls back to [slog.Default]; a nil clock uses real time.
func NewMemoryStore(logger *slog.Logger, clock clockwork.Clock) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		channels: make(map[Channel]*channelState),
		clock:    clock,
		logger:   logger,
	}
}

// SetActivityHooks registers the functions called when the store gains its
// first subscription (onActive) and loses its last one (onIdle).
// Either may be nil.
func (m *MemoryStore) SetActivityHooks(onActive, onIdle func()) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.onActive = onActive
	m.onIdle = onIdle
}

// channelLocked returns the state for ch, creating it on first use.
// Caller must hold m.mu for writing.
func (m *MemoryStore) channelLocked(ch Channel) *channelState {
	st, ok := m.channels[ch]
	if !ok {
		st = &channelState{}
		m.channels[ch] = st
	}
	return st
}

// Publish stores value as the latest for ch, stamps the update time, and
// invokes every listener registered on ch at the moment of publication.
func (m *MemoryStore) Publish(ch Channel, value any) {
	m.mu.Lock()
	st := m.channelLocked(ch)
	update := Update{Channel: ch, Value: value, UpdatedAt: m.clock.Now()}
	st.last = update
	st.hasValue = true
	snapshot := slices.Clone(st.listeners)
	m.mu.Unlock()

	for _, l := range snapshot {
		if l.removed.Load() {
			continue
		}
		m.invokeSafe(l.fn, update)
	}
}

// invokeSafe calls a listener with panic recovery.
func (m *MemoryStore) invokeSafe(fn Listener, update Update) {
	defer func() {
		if r := recover(); r != nil {
			cbErr := &CallbackError{
				Channel:       update.Channel,
				CorrelationID: uuid.NewString(),
				Panic:         r,
			}
			m.logger.Error("listener panicked",
				"channel", update.Channel,
				"correlation_id", cbErr.CorrelationID,
				"error", cbErr.Error(),
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn(update)
}

// Subscribe registers fn on ch and returns a disposer.
//
// The disposer is idempotent: only the first call has any effect. A nil fn
// registers nothing and returns a no-op disposer.
func (m *MemoryStore) Subscribe(ch Channel, fn Listener) func() {
	if fn == nil {
		return func() {}
	}

	l := &listener{fn: fn}

	m.hookMu.Lock()
	m.mu.Lock()
	st := m.channelLocked(ch)
	st.listeners = append(st.listeners, l)
	m.subs++
	activated := m.subs == 1
	m.mu.Unlock()
	if activated && m.onActive != nil {
		m.onActive()
	}
	m.hookMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(ch, l) })
	}
}

func (m *MemoryStore) unsubscribe(ch Channel, l *listener) {
	l.removed.Store(true)

	m.hookMu.Lock()
	defer m.hookMu.Unlock()

	m.mu.Lock()
	st, ok := m.channels[ch]
	if !ok {
		m.mu.Unlock()
		return
	}
	before := len(st.listeners)
	st.listeners = slices.DeleteFunc(st.listeners, func(x *listener) bool { return x == l })
	if len(st.listeners) == before {
		m.mu.Unlock()
		return
	}
	m.subs--
	idle := m.subs == 0
	m.mu.Unlock()

	if idle && m.onIdle != nil {
		m.onIdle()
	}
}

// Last returns the latest update published on ch.
// The boolean is false if nothing has been published on ch yet.
func (m *MemoryStore) Last(ch Channel) (Update, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.channels[ch]
	if !ok || !st.hasValue {
		return Update{}, false
	}
	return st.last, true
}

// Count returns the number of live subscriptions across all channels.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subs
}

// Listeners returns the number of live subscriptions on ch.
func (m *MemoryStore) Listeners(ch Channel) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.channels[ch]; ok {
		return len(st.listeners)
	}
	return 0
}
