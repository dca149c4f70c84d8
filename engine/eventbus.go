package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"flinkly/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// Handler consumes domain events.
type Handler func(context.Context, core.Event)

type subscription struct {
	id int64
	fn Handler
}

// EventBus fans out domain events to subscribers by type. In async mode a
// fixed worker pool drains a bounded queue; Publish blocks while the queue
// is full and only gives up, counting the event in Dropped, once the
// publishing context is done.
type EventBus struct {
	mode    DispatchMode
	mu      sync.RWMutex
	subs    map[core.EventType]map[int64]subscription
	nextID  int64
	queue   chan queued
	workers int
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
	logger  *slog.Logger
}

type queued struct {
	ctx context.Context
	ev  core.Event
}

// NewEventBus creates a bus. A nil logger falls back to slog.Default.
func NewEventBus(mode DispatchMode, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	eb := &EventBus{
		mode:    mode,
		subs:    make(map[core.EventType]map[int64]subscription),
		workers: 4,
		logger:  logger,
	}
	if mode == DispatchAsync {
		eb.queue = make(chan queued, 1024)
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for q := range e.queue {
				e.dispatch(q.ctx, q.ev)
			}
		}()
	}
}

// Close stops accepting async events and waits for queued ones to be
// delivered. Publishing after Close is not allowed.
func (e *EventBus) Close() {
	e.once.Do(func() {
		if e.queue != nil {
			close(e.queue)
			e.wg.Wait()
		}
	})
}

// Subscribe registers a handler for an event type. Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if m := e.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// Publish sends an event to subscribers.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e.mode == DispatchAsync {
		// async handlers outlive the publishing request
		q := queued{ctx: context.WithoutCancel(ctx), ev: ev}
		select {
		case e.queue <- q:
			return
		default:
		}
		select {
		case e.queue <- q:
		case <-ctx.Done():
			e.dropped.Add(1)
			e.logger.Warn("event bus publish cancelled, dropping event", "type", ev.Type, "user_id", ev.UserID, "error", ctx.Err())
		}
		return
	}
	e.dispatch(ctx, ev)
}

// Dropped returns how many async events were discarded because the
// publisher's context ended while the queue was full.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

func (e *EventBus) dispatch(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	subs := e.subs[ev.Type]
	handlers := make([]Handler, 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.fn)
	}
	e.mu.RUnlock()
	for _, h := range handlers {
		e.call(ctx, h, ev)
	}
}

// call isolates subscribers from each other's panics.
func (e *EventBus) call(ctx context.Context, h Handler, ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "type", ev.Type, "panic", r)
		}
	}()
	h(ctx, ev)
}
