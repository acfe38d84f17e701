// Package dispatcher fans workflow events out to subscribers. Asynchronous
// delivery goes through a single ordered queue so subscribers observe events
// in the order the engine emitted them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/workflow-engine/internal/domain/event"
)

// DefaultQueueSize bounds events waiting for asynchronous delivery
const DefaultQueueSize = 256

var (
	// ErrClosed is returned once Close has been called
	ErrClosed = errors.New("dispatcher: closed")
	// ErrDuplicateSubscriber is returned when a subscription name is taken
	ErrDuplicateSubscriber = errors.New("dispatcher: subscriber already registered")
)

// Dispatcher routes workflow events to subscribers
type Dispatcher interface {
	// Subscribe registers a named subscription
	Subscribe(sub Subscription) error

	// Unsubscribe removes a subscription, reporting whether it existed
	Unsubscribe(name string) bool

	// Dispatch delivers evt to every matching subscriber before returning.
	// All subscribers run; their failures are joined.
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync queues evt for in-order background delivery. The caller's
	// cancellation does not reach subscribers.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Stats lists subscriptions with their delivery counts
	Stats() []SubscriberStats

	// Dropped reports async events lost to a full queue or a closed dispatcher
	Dropped() int64

	// Close stops accepting events and drains the queue
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type subscriber struct {
	Subscription
	delivered atomic.Int64
	failed    atomic.Int64
}

type queued struct {
	ctx context.Context
	evt *event.Event
}

type eventDispatcher struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	logger      Logger

	queueSize int
	queue     chan queued
	done      chan struct{}

	// sendMu orders enqueues against Close so nothing is sent on a closed channel
	sendMu  sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithQueueSize sets how many events may wait for asynchronous delivery
func WithQueueSize(n int) Option {
	return func(d *eventDispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// NewDispatcher creates a dispatcher and starts its delivery goroutine
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		logger:    nopLogger{},
		queueSize: DefaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan queued, d.queueSize)

	go d.drain()
	return d
}

func (d *eventDispatcher) Subscribe(sub Subscription) error {
	if sub.Name == "" || sub.Handle == nil {
		return fmt.Errorf("dispatcher: subscription needs a name and a handler")
	}
	for _, t := range sub.Types {
		if !t.IsValid() {
			return fmt.Errorf("dispatcher: unknown event type %q", t)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.subscribers {
		if s.Name == sub.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateSubscriber, sub.Name)
		}
	}
	sub.Types = append([]event.Type(nil), sub.Types...)
	d.subscribers = append(d.subscribers, &subscriber{Subscription: sub})

	d.logger.Info("Event subscriber registered", "subscriber", sub.Name, "types", len(sub.Types))
	return nil
}

func (d *eventDispatcher) Unsubscribe(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subscribers {
		if s.Name != name {
			continue
		}
		d.subscribers = append(d.subscribers[:i:i], d.subscribers[i+1:]...)
		d.logger.Info("Event subscriber removed", "subscriber", name)
		return true
	}
	return false
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.sendMu.RLock()
	closed := d.closed
	d.sendMu.RUnlock()
	if closed {
		return ErrClosed
	}
	return d.deliver(ctx, evt)
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Error("Event dropped, dispatcher closed", "event_type", evt.Type, "instance_id", evt.InstanceID)
		return
	}

	select {
	case d.queue <- queued{ctx: context.WithoutCancel(ctx), evt: evt}:
	default:
		d.dropped.Add(1)
		d.logger.Error("Event dropped, queue full",
			"event_type", evt.Type,
			"instance_id", evt.InstanceID,
			"queue_size", d.queueSize,
		)
	}
}

func (d *eventDispatcher) drain() {
	defer close(d.done)
	for q := range d.queue {
		if err := d.deliver(q.ctx, q.evt); err != nil {
			d.logger.Error("Async event delivery failed", "event_type", q.evt.Type, "event_id", q.evt.ID, "error", err)
		}
	}
}

// deliver runs every matching subscriber; one failure does not starve the rest
func (d *eventDispatcher) deliver(ctx context.Context, evt *event.Event) error {
	d.mu.RLock()
	targets := make([]*subscriber, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		if s.matches(evt) {
			targets = append(targets, s)
		}
	}
	d.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := invoke(ctx, s.Handle, evt); err != nil {
			s.failed.Add(1)
			d.logger.Error("Event subscriber failed",
				"subscriber", s.Name,
				"event_type", evt.Type,
				"instance_id", evt.InstanceID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("subscriber %s: %w", s.Name, err))
			continue
		}
		s.delivered.Add(1)
	}
	return errors.Join(errs...)
}

func invoke(ctx context.Context, h Handler, evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return h(ctx, evt)
}

func (d *eventDispatcher) Stats() []SubscriberStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]SubscriberStats, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		out = append(out, SubscriberStats{
			Name:      s.Name,
			Types:     append([]event.Type(nil), s.Types...),
			Delivered: s.delivered.Load(),
			Failed:    s.failed.Load(),
		})
	}
	return out
}

func (d *eventDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *eventDispatcher) Close() error {
	d.sendMu.Lock()
	if d.closed {
		d.sendMu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.sendMu.Unlock()

	<-d.done
	d.logger.Info("Event dispatcher closed", "dropped", d.dropped.Load())
	return nil
}
