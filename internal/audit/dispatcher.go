package audit

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
)

// dropLogEvery throttles drop warnings: the first drop and every
// dropLogEvery-th after it are logged.
const dropLogEvery = 100

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking. Events that do not fit the buffer
	// are dropped and counted.
	DropIfFull bool
	// Logger receives drop warnings and sink panics. Nil selects slog.Default.
	Logger *slog.Logger
}

// Dispatcher forwards audit events to a sink from a single goroutine, so a
// slow sink never sits on an authentication path. A nil *Dispatcher is valid
// and drops everything silently.
type Dispatcher struct {
	sink       Sink
	logger     *slog.Logger
	dropIfFull bool

	events   chan Event
	stop     chan struct{}
	finished chan struct{}
	closing  atomic.Bool
	stopOnce sync.Once

	dropped atomic.Uint64
	mu      sync.Mutex
	drops   map[string]uint64 // event type -> dropped
}

// NewDispatcher starts a dispatcher, or returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		sink:       sink,
		logger:     cfg.Logger,
		dropIfFull: cfg.DropIfFull,
		events:     make(chan Event, cfg.BufferSize),
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
		drops:      make(map[string]uint64),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.finished)
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.events:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver loses only the current event when the sink panics.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("audit sink panicked", "event_type", ev.EventType, "identity", ev.Identity, "panic", r)
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev. In blocking mode it waits for buffer space until ctx ends;
// an event abandoned that way counts as dropped. Emit after Close is a no-op.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closing.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.events <- ev:
		case <-d.stop:
		default:
			d.drop(ev, "buffer full")
		}
		return
	}

	select {
	case d.events <- ev:
	case <-d.stop:
	case <-ctx.Done():
		d.drop(ev, "context done")
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	n := d.dropped.Add(1)
	d.mu.Lock()
	d.drops[ev.EventType]++
	d.mu.Unlock()

	if n == 1 || n%dropLogEvery == 0 {
		d.logger.Warn("audit event dropped",
			"event_type", ev.EventType,
			"identity", ev.Identity,
			"reason", reason,
			"dropped_total", n,
		)
	}
}

// Close stops accepting events, delivers what is buffered and waits for the
// sink to finish. It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.closing.Store(true)
		close(d.stop)
	})
	<-d.finished
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType returns a copy of the drop counts keyed by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return map[string]uint64{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.drops)
}
