package audit

import (
	"context"
	"errors"
	"time"

	"github.com/alshuail/portal-access/pkg/async"
	"github.com/alshuail/portal-access/pkg/observability"
)

// AsyncLoggerConfig sizes the background writer
type AsyncLoggerConfig struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration

	// EnqueueTimeout bounds how long Log waits for queue space before
	// writing synchronously
	EnqueueTimeout time.Duration
}

// DefaultAsyncLoggerConfig returns a small pool suited to the audit volume of the portal
func DefaultAsyncLoggerConfig() AsyncLoggerConfig {
	return AsyncLoggerConfig{
		Workers:        2,
		QueueSize:      256,
		WriteTimeout:   5 * time.Second,
		EnqueueTimeout: 50 * time.Millisecond,
	}
}

// AsyncLogger hands events to a worker pool so request handling does not wait
// on the sink. When the queue stays full the event is written inline; events
// are never dropped.
type AsyncLogger struct {
	next   Logger
	pool   *async.WorkerPool
	config AsyncLoggerConfig
	logger *observability.Logger
}

// NewAsyncLogger wraps next with a background worker pool
func NewAsyncLogger(ctx context.Context, next Logger, config AsyncLoggerConfig, logger *observability.Logger) *AsyncLogger {
	defaults := DefaultAsyncLoggerConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.EnqueueTimeout <= 0 {
		config.EnqueueTimeout = defaults.EnqueueTimeout
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	a := &AsyncLogger{
		next:   next,
		config: config,
		logger: logger.WithField("component", "audit"),
	}
	a.pool = async.NewWorkerPool(ctx, a.logger, config.Workers, config.QueueSize, "audit.write", config.WriteTimeout)
	return a
}

// Log queues a copy of event. The copy's ID is assigned by the sink and is not
// visible to the caller.
func (a *AsyncLogger) Log(ctx context.Context, event *Event) error {
	cp := *event
	write := func(taskCtx context.Context) error {
		if err := a.next.Log(taskCtx, &cp); err != nil {
			a.logger.WithError(err).WithField("event_type", string(cp.EventType)).Error("failed to write audit event")
			return err
		}
		return nil
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, a.config.EnqueueTimeout)
	defer cancel()
	err := a.pool.Submit(enqueueCtx, write)
	if err == nil {
		return nil
	}
	if errors.Is(err, async.ErrPoolClosed) {
		return err
	}

	writeCtx, cancelWrite := context.WithTimeout(context.WithoutCancel(ctx), a.config.WriteTimeout)
	defer cancelWrite()
	return write(writeCtx)
}

// Close drains queued events and closes the wrapped sink
func (a *AsyncLogger) Close() error {
	return errors.Join(a.pool.Shutdown(a.config.WriteTimeout), a.next.Close())
}
