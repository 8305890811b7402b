package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Workers is the number of delivery goroutines. Zero means one.
	Workers int
}

// Dispatcher hands items to a delivery function on background goroutines.
// A nil *Dispatcher is valid and discards everything.
type Dispatcher[T any] struct {
	cfg       Config
	deliver   func(context.Context, T)
	ch        chan T
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutines. It returns nil when cfg is
// disabled or deliver is nil.
func NewDispatcher[T any](cfg Config, deliver func(context.Context, T)) *Dispatcher[T] {
	if !cfg.Enabled || deliver == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	d := &Dispatcher[T]{
		cfg:     cfg,
		deliver: deliver,
		ch:      make(chan T, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.run()
	}

	return d
}

// NewEventDispatcher relays audit events to sink.
func NewEventDispatcher(cfg Config, sink Sink) *Dispatcher[Event] {
	if sink == nil {
		sink = NoOpSink{}
	}
	return NewDispatcher(cfg, sink.Emit)
}

func (d *Dispatcher[T]) run() {
	defer d.wg.Done()

	for {
		select {
		case item := <-d.ch:
			d.deliver(context.Background(), item)
		case <-d.done:
			for {
				select {
				case item := <-d.ch:
					d.deliver(context.Background(), item)
				default:
					return
				}
			}
		}
	}
}

// Emit queues item and reports whether it was accepted. With DropIfFull it
// never blocks and counts the drop; otherwise it waits for room, ctx
// cancellation or Close.
func (d *Dispatcher[T]) Emit(ctx context.Context, item T) bool {
	if d == nil || d.closed.Load() {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- item:
			return true
		case <-d.done:
			return false
		default:
			d.dropped.Add(1)
			return false
		}
	}

	select {
	case d.ch <- item:
		return true
	case <-ctx.Done():
		d.dropped.Add(1)
		return false
	case <-d.done:
		return false
	}
}

// Close stops accepting items and waits until the queue is drained.
func (d *Dispatcher[T]) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many items were discarded.
func (d *Dispatcher[T]) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
