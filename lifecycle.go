package compliancepulse

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jpalmerr/compliancepulse/internal/poller"
	"github.com/jpalmerr/compliancepulse/internal/store"
)

// lifecycle ties the scheduler to store activity.
//
// armed records whether the caller wants polling. The scheduler actually runs
// only while armed and the store has at least one subscription: onIdle stops
// it without disarming, and onActive restarts it if still armed.
//
// Lock order is store hook lock, then lifecycle.mu. Nothing here may
// subscribe to or unsubscribe from the store while holding mu.
type lifecycle struct {
	scheduler *poller.Scheduler
	store     *store.MemoryStore
	logger    *slog.Logger

	mu    sync.Mutex
	armed bool
	ctx   context.Context
}

func newLifecycle(scheduler *poller.Scheduler, st *store.MemoryStore, logger *slog.Logger) *lifecycle {
	return &lifecycle{
		scheduler: scheduler,
		store:     st,
		logger:    logger,
		ctx:       context.Background(),
	}
}

// start arms polling and starts the scheduler if anyone is subscribed.
func (l *lifecycle) start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.armed = true
	l.ctx = ctx
	if l.store.Count() > 0 {
		l.scheduler.Start(ctx)
	}
}

// stop disarms polling and stops the scheduler.
func (l *lifecycle) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.armed = false
	l.scheduler.Stop()
}

// onActive runs when the store gains its first subscription.
func (l *lifecycle) onActive() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.armed || l.ctx.Err() != nil {
		return
	}
	l.logger.Debug("subscriber attached, resuming polling")
	l.scheduler.Start(l.ctx)
}

// onIdle runs when the store loses its last subscription.
func (l *lifecycle) onIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scheduler.Running() {
		l.logger.Debug("no subscribers, suspending polling")
	}
	l.scheduler.Stop()
}
