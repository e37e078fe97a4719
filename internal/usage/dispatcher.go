package usage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize     = 1024
	defaultWorkers       = 2
	defaultRecordTimeout = 2 * time.Second
)

type Outcome string

const (
	OutcomeEnqueued Outcome = "enqueued"
	OutcomeDropped  Outcome = "dropped"
	OutcomeRecorded Outcome = "recorded"
	OutcomeFailed   Outcome = "failed"
)

var ErrDispatcherClosed = errors.New("usage dispatcher closed")

// Dispatcher hands events to a Recorder on background workers. Enqueue never
// blocks: when the queue is full the event is dropped.
type Dispatcher struct {
	recorder Recorder
	queue    chan Event
	timeout  time.Duration
	workers  int
	logger   *slog.Logger
	observe  func(Outcome)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan Event, size)
		}
	}
}

func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithRecordTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithOutcomeHook is called once per event outcome, typically to feed metrics.
func WithOutcomeHook(hook func(Outcome)) DispatcherOption {
	return func(d *Dispatcher) {
		if hook != nil {
			d.observe = hook
		}
	}
}

func NewDispatcher(recorder Recorder, opts ...DispatcherOption) (*Dispatcher, error) {
	if recorder == nil {
		return nil, errors.New("usage recorder is nil")
	}

	d := &Dispatcher{
		recorder: recorder,
		queue:    make(chan Event, defaultQueueSize),
		timeout:  defaultRecordTimeout,
		workers:  defaultWorkers,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		observe:  func(Outcome) {},
	}
	for _, opt := range opts {
		opt(d)
	}

	for range d.workers {
		d.wg.Add(1)
		go d.run()
	}

	return d, nil
}

// Enqueue queues event for recording and reports whether it was accepted.
func (d *Dispatcher) Enqueue(event Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.observe(OutcomeDropped)
		return false
	}

	select {
	case d.queue <- event:
		d.observe(OutcomeEnqueued)
		return true
	default:
		d.observe(OutcomeDropped)
		d.logger.Debug("usage queue full, dropping event",
			slog.String("feature", event.FeatureName),
			slog.String("user_id", event.UserID),
		)
		return false
	}
}

// RecordUsage satisfies Recorder so a Dispatcher can stand in for a sink.
func (d *Dispatcher) RecordUsage(_ context.Context, event Event) error {
	if !d.Enqueue(event) {
		return fmt.Errorf("enqueue usage event for %q: queue full or %w", event.FeatureName, ErrDispatcherClosed)
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be recorded or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain usage queue: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		d.record(event)
	}
}

func (d *Dispatcher) record(event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.observe(OutcomeFailed)
			d.logger.Error("usage recorder panicked",
				slog.String("feature", event.FeatureName),
				slog.Any("panic", recovered),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.recorder.RecordUsage(ctx, event); err != nil {
		d.observe(OutcomeFailed)
		d.logger.Warn("record usage failed",
			slog.String("feature", event.FeatureName),
			slog.String("user_id", event.UserID),
			slog.String("error", err.Error()),
		)
		return
	}
	d.observe(OutcomeRecorded)
}
