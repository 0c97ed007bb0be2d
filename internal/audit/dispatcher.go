package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher behavior.
type Config struct {
	Enabled    bool
	Async      bool
	BufferSize int
	DropIfFull bool
	// DeliveryTimeout bounds each sink call. Zero means no bound.
	DeliveryTimeout time.Duration
}

// envelope is a queued event with the values of the request that emitted it.
// The context is detached, so a finished request does not cancel delivery.
type envelope struct {
	ctx   context.Context
	event Event
}

// Dispatcher relays events to its sinks without failing the emitter. Each
// sink gets its own delivery, so a slow or panicking sink cannot keep an
// event from the others.
type Dispatcher struct {
	cfg   Config
	sinks []Sink

	mu      sync.RWMutex
	closed  bool
	queue   chan envelope
	stopped chan struct{}

	dropped atomic.Uint64
}

// NewDispatcher returns nil when auditing is disabled; a nil Dispatcher is
// safe to use and drops everything. Nil sinks are skipped.
func NewDispatcher(cfg Config, sinks ...Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}

	d := &Dispatcher{cfg: cfg}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	if !cfg.Async {
		return d
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	d.queue = make(chan envelope, cfg.BufferSize)
	d.stopped = make(chan struct{})
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for env := range d.queue {
		d.deliver(env.ctx, env.event)
	}
}

// Emit hands event to the sinks. Inline mode delivers before returning.
// Async mode queues it; with DropIfFull a full queue drops the event, and
// otherwise Emit waits until the queue has room or ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.queue == nil {
		d.deliver(detached, event)
		return
	}

	env := envelope{ctx: detached, event: event}
	if d.cfg.DropIfFull {
		select {
		case d.queue <- env:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- env:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event Event) {
	for _, s := range d.sinks {
		d.deliverTo(ctx, s, event)
	}
}

func (d *Dispatcher) deliverTo(ctx context.Context, s Sink, event Event) {
	if d.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
	}
	defer func() {
		if recover() != nil {
			d.dropped.Add(1)
		}
	}()
	s.Emit(ctx, event)
}

// Close stops accepting events and, in async mode, waits for the queue to
// drain.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.queue != nil {
		close(d.queue)
	}
	d.mu.Unlock()

	if d.stopped != nil {
		<-d.stopped
	}
}

// Dropped reports how many deliveries were lost, either to backpressure or
// to a panicking sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
