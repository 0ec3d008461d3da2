package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"socialboost/internal/metrics"
)

const (
	defaultQueueSize   = 256
	defaultAttempts    = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultSendTimeout = 10 * time.Second
)

// Sink delivers events to one operator channel.
type Sink interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// Config tunes the dispatcher.
type Config struct {
	QueueSize   int
	Attempts    int
	Backoff     time.Duration
	SendTimeout time.Duration
}

// Dispatcher queues events and fans them out to every sink from a single
// background worker. Delivery failures are logged and counted, never returned.
type Dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	sinks   []Sink
	cfg     Config

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
}

// NewDispatcher creates a dispatcher. Call Run to start delivering.
func NewDispatcher(cfg Config, logger *slog.Logger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Dispatcher{
		logger:  logger.With("component", "notify"),
		metrics: m,
		sinks:   sinks,
		cfg:     cfg,
		queue:   make(chan Event, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// Sinks returns the names of the configured sinks.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Notify enqueues evt without blocking. A full or closed queue drops the event.
func (d *Dispatcher) Notify(evt Event) {
	if d == nil || len(d.sinks) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("notification dropped after shutdown", "kind", evt.Kind)
		return
	}
	select {
	case d.queue <- evt:
	default:
		d.logger.Warn("notification queue full, dropping event", "kind", evt.Kind)
		d.count("queue", "dropped")
	}
}

// Run drains the queue until Close is called. Events still queued at Close are delivered first.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	base := context.WithoutCancel(ctx)
	for evt := range d.queue {
		d.deliver(base, evt)
	}
}

// Close stops accepting events and waits for the worker to drain, bounded by ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}

func (d *Dispatcher) deliver(ctx context.Context, evt Event) {
	for _, sink := range d.sinks {
		if err := d.sendWithRetry(ctx, sink, evt); err != nil {
			d.logger.Error("notification failed",
				"sink", sink.Name(),
				"kind", evt.Kind,
				"attempts", d.cfg.Attempts,
				"error", err,
			)
			d.count(sink.Name(), "failed")
			continue
		}
		d.count(sink.Name(), "sent")
	}
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, sink Sink, evt Event) error {
	var err error
	for attempt := 0; attempt < d.cfg.Attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(d.cfg.Backoff << (attempt - 1))
		}
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		err = sink.Send(sendCtx, evt)
		cancel()
		if err == nil {
			return nil
		}
		d.logger.Debug("notification attempt failed", "sink", sink.Name(), "attempt", attempt+1, "error", err)
	}
	return err
}

func (d *Dispatcher) count(sink, outcome string) {
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(sink, outcome).Inc()
	}
}
