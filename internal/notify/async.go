package notify

import (
	"context"
	"time"

	"github.com/loanflow/gatekeeper/internal/audit"
	"go.uber.org/zap"
)

// AsyncConfig sizes the delivery queue.
type AsyncConfig struct {
	BufferSize int
	Workers    int
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
}

// Async queues messages and delivers them on background workers. Enqueue
// never blocks; delivery failures go to the logger and onFailure.
type Async struct {
	next       Sender
	logger     *zap.Logger
	timeout    time.Duration
	onFailure  func(Message, error)
	dispatcher *audit.Dispatcher[Message]
}

// NewAsync starts the workers. onFailure may be nil.
func NewAsync(next Sender, cfg AsyncConfig, logger *zap.Logger, onFailure func(Message, error)) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	a := &Async{
		next:      next,
		logger:    logger.Named("notify"),
		timeout:   cfg.Timeout,
		onFailure: onFailure,
	}
	a.dispatcher = audit.NewDispatcher(audit.Config{
		Enabled:    true,
		BufferSize: cfg.BufferSize,
		DropIfFull: true,
		Workers:    cfg.Workers,
	}, a.deliver)
	return a
}

// Enqueue queues msg. A full queue drops the message and logs it.
func (a *Async) Enqueue(ctx context.Context, msg Message) {
	if a == nil || a.next == nil {
		return
	}
	if !a.dispatcher.Emit(ctx, msg) {
		a.logger.Warn("notification not queued, message dropped",
			zap.String("kind", string(msg.Kind)),
			zap.String("to", msg.To),
		)
		if a.onFailure != nil {
			a.onFailure(msg, errQueueFull)
		}
	}
}

// Dropped reports messages discarded because the queue was full.
func (a *Async) Dropped() uint64 {
	if a == nil {
		return 0
	}
	return a.dispatcher.Dropped()
}

// Close drains queued messages and stops the workers.
func (a *Async) Close() {
	if a == nil {
		return
	}
	a.dispatcher.Close()
}

func (a *Async) deliver(_ context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.next.Send(ctx, msg); err != nil {
		a.logger.Error("notification delivery failed",
			zap.String("kind", string(msg.Kind)),
			zap.String("to", msg.To),
			zap.Error(err),
		)
		if a.onFailure != nil {
			a.onFailure(msg, err)
		}
	}
}
