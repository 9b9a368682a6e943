/*
Package notify fans committed ledger events out to downstream consumers.

DESIGN:
  - Dispatcher implements ledger.EventSink with a bounded buffer
  - One background goroutine drains the buffer into a Publisher
  - Emit never blocks: a full buffer drops the event and counts it
  - Each publish gets its own timeout so a stalled broker cannot wedge the
    worker

The financial write path never waits on any of this. Events are advisory;
the database rows are the record.

USAGE:
  d := notify.NewDispatcher(publisher, notify.Options{BufferSize: 256})
  d.Start()
  defer d.Stop()

  engine := ledger.New(store, ledger.WithEventSink(d))
*/
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warp/pos-ledger/ledger"
)

// Publisher delivers one event. Implementations must honour ctx.
type Publisher interface {
	Publish(ctx context.Context, e ledger.Event) error
}

type Options struct {
	BufferSize     int
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// Stats are cumulative counters since the dispatcher was created.
type Stats struct {
	Published uint64
	Failed    uint64
	Dropped   uint64
}

type Dispatcher struct {
	pub     Publisher
	timeout time.Duration
	log     *slog.Logger
	events  chan ledger.Event

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

var _ ledger.EventSink = (*Dispatcher)(nil)

func NewDispatcher(pub Publisher, opts Options) *Dispatcher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 256
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		pub:     pub,
		timeout: opts.PublishTimeout,
		log:     opts.Logger.With("component", "notify"),
		events:  make(chan ledger.Event, opts.BufferSize),
	}
}

// Start launches the worker. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.wg.Add(1)
	go d.run()
	d.log.Info("dispatcher started", "buffer", cap(d.events), "publish_timeout", d.timeout)
}

// Stop stops accepting events, publishes what is buffered and waits for the
// worker.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}
	s := d.Stats()
	d.log.Info("dispatcher stopped", "published", s.Published, "failed", s.Failed, "dropped", s.Dropped)
}

// Emit queues e, or drops it when the buffer is full or the dispatcher is
// stopped.
func (d *Dispatcher) Emit(e ledger.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.events <- e:
	default:
		d.dropped.Add(1)
		d.log.Warn("event dropped, buffer full", "type", e.Type, "order_id", e.OrderID, "session_id", e.SessionID)
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Published: d.published.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.events {
		d.publish(e)
	}
}

func (d *Dispatcher) publish(e ledger.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.pub.Publish(ctx, e); err != nil {
		d.failed.Add(1)
		d.log.Warn("event publish failed", "type", e.Type, "order_id", e.OrderID, "error", err)
		return
	}
	d.published.Add(1)
}

// LogPublisher writes events to a logger. Used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, e ledger.Event) error {
	l := p.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "ledger event", "type", e.Type, "order_id", e.OrderID, "payment_id", e.PaymentID,
		"refund_id", e.RefundID, "session_id", e.SessionID, "actor", e.Actor, "at", e.At)
	return nil
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e ledger.Event) error

func (f PublisherFunc) Publish(ctx context.Context, e ledger.Event) error { return f(ctx, e) }
