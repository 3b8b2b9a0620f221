// Package messaging carries domain events from the progression engine to the
// handlers that push realtime notifications and refresh caches.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/logger"
	"github.com/codekids/codekids-hub/pkg/retry"
)

var ErrBusClosed = errors.New("messaging: bus is closed")

// Observer is told about every handler run.
type Observer interface {
	ObserveEvent(eventType string, success bool, d time.Duration)
}

// Middleware decorates every handler. The first registered runs outermost.
type Middleware func(shared.EventHandler) shared.EventHandler

type Config struct {
	// Async runs handlers on at most Workers goroutines so Publish returns
	// without waiting for them.
	Async   bool
	Workers int

	Logger   *logger.Logger
	Observer Observer
}

func DefaultConfig() Config {
	return Config{Async: true, Workers: 10}
}

// Bus is the in-process shared.EventBus.
type Bus struct {
	cfg  Config
	log  *logger.Logger
	slot chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	chain    []Middleware
	closed   bool
}

var _ shared.EventBus = (*Bus)(nil)

func NewBus(cfg Config) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	return &Bus{
		cfg:    cfg,
		log:    cfg.Logger.With(logger.Component("event_bus")),
		slot:   make(chan struct{}, cfg.Workers),
		done:   make(chan struct{}),
		byType: map[shared.EventType][]shared.EventHandler{},
	}
}

// Use appends middleware. It applies to handlers subscribed before and after.
func (b *Bus) Use(mw ...Middleware) {
	b.mu.Lock()
	b.chain = append(b.chain, mw...)
	b.mu.Unlock()
}

func (b *Bus) Subscribe(eventType shared.EventType, h shared.EventHandler) error {
	return b.add(h, func() { b.byType[eventType] = append(b.byType[eventType], h) })
}

// SubscribeAll receives every event after the type-specific handlers.
func (b *Bus) SubscribeAll(h shared.EventHandler) error {
	return b.add(h, func() { b.wildcard = append(b.wildcard, h) })
}

func (b *Bus) add(h shared.EventHandler, register func()) error {
	if h == nil {
		return errors.New("messaging: nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	register()
	return nil
}

// Publish hands event to its handlers. Handler failures are logged and
// observed; they never reach the publisher.
func (b *Bus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("messaging: nil event")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	targets := append(append([]shared.EventHandler(nil), b.byType[event.EventType()]...), b.wildcard...)
	chain := b.chain
	b.mu.RUnlock()

	for _, h := range targets {
		h = decorate(h, chain)
		if !b.cfg.Async {
			b.run(event, h)
			continue
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if !b.acquire() {
				return
			}
			defer func() { <-b.slot }()
			b.run(event, h)
		}()
	}
	return nil
}

// acquire takes a worker slot. A free slot always wins over a concurrent
// Close; only handlers still queued when the bus closes are dropped.
func (b *Bus) acquire() bool {
	select {
	case b.slot <- struct{}{}:
		return true
	default:
	}
	select {
	case b.slot <- struct{}{}:
		return true
	case <-b.done:
		return false
	}
}

func decorate(h shared.EventHandler, chain []Middleware) shared.EventHandler {
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}

func (b *Bus) run(event shared.Event, h shared.EventHandler) {
	start := time.Now()
	err := h(event)
	took := time.Since(start)

	if b.cfg.Observer != nil {
		b.cfg.Observer.ObserveEvent(string(event.EventType()), err == nil, took)
	}
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.Latency(took),
			logger.Err(err),
		)
	}
}

// Close refuses new work, drops handlers still waiting for a worker and
// waits for the running ones.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryMiddleware converts a handler panic into an error.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("event handler panicked",
						logger.String("event_type", string(event.EventType())),
						logger.Any("panic", r),
						logger.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(event)
		}
	}
}

// RetryMiddleware re-runs a handler whose error is marked retry.Retryable.
func RetryMiddleware(p retry.Policy) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(event shared.Event) error {
			return p.Do(context.Background(), func(context.Context) error {
				return next(event)
			})
		}
	}
}
