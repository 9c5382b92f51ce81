package auth

import (
	"context"
	"sync"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLoginSuccess     ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure     ActivityEventType = "auth.login.failure"
	ActivityEventLogout           ActivityEventType = "auth.logout"
	ActivityEventLogoutFailure    ActivityEventType = "auth.logout.failure"
	ActivityEventSessionRestored  ActivityEventType = "auth.session.restored"
	ActivityEventSessionRejected  ActivityEventType = "auth.session.rejected"
	ActivityEventTokenRefreshed   ActivityEventType = "auth.token.refreshed"
	ActivityEventSecondaryMerged  ActivityEventType = "auth.secondary.merged"
	ActivityEventSecondaryCleared ActivityEventType = "auth.secondary.cleared"
)

// ActivityEvent captures audit-friendly information about an auth outcome.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Method     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort: errors are logged by the caller, never propagated.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// BatchingSink buffers events and forwards them to a downstream sink in
// batches, flushing when the buffer fills, on an interval, and on Close.
type BatchingSink struct {
	sink     ActivitySink
	size     int
	interval time.Duration
	logger   Logger

	mu  sync.Mutex
	buf []ActivityEvent

	done      chan struct{}
	closeOnce sync.Once
}

// BatchingSinkOption customizes a BatchingSink.
type BatchingSinkOption func(*BatchingSink)

// WithBatchSize sets how many events trigger an immediate flush.
func WithBatchSize(size int) BatchingSinkOption {
	return func(b *BatchingSink) {
		if size > 0 {
			b.size = size
		}
	}
}

// WithFlushInterval sets the periodic flush cadence.
func WithFlushInterval(interval time.Duration) BatchingSinkOption {
	return func(b *BatchingSink) {
		if interval > 0 {
			b.interval = interval
		}
	}
}

// WithBatchingLogger overrides the logger used for downstream failures.
func WithBatchingLogger(logger Logger) BatchingSinkOption {
	return func(b *BatchingSink) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBatchingSink wraps sink with buffering. Call Close to flush and stop the
// background timer.
func NewBatchingSink(sink ActivitySink, opts ...BatchingSinkOption) *BatchingSink {
	b := &BatchingSink{
		sink:     normalizeActivitySink(sink),
		size:     20,
		interval: 30 * time.Second,
		logger:   defLogger{},
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}

	go b.loop()
	return b
}

// Record implements ActivitySink.
func (b *BatchingSink) Record(ctx context.Context, event ActivityEvent) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	b.mu.Lock()
	b.buf = append(b.buf, event)
	full := len(b.buf) >= b.size
	b.mu.Unlock()

	// After Close the ticker is gone; flush inline so late events still
	// reach the downstream sink.
	closed := false
	select {
	case <-b.done:
		closed = true
	default:
	}

	if full || closed {
		b.Flush(ctx)
	}
	return nil
}

// Flush forwards any buffered events downstream.
func (b *BatchingSink) Flush(ctx context.Context) {
	b.mu.Lock()
	batch := b.buf
	b.buf = nil
	b.mu.Unlock()

	for _, event := range batch {
		if err := b.sink.Record(ctx, event); err != nil {
			b.logger.Warn("activity sink record error: %v", err)
		}
	}
}

// Close flushes pending events and stops the background timer. Safe to call
// more than once.
func (b *BatchingSink) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.Flush(context.Background())
	})
}

func (b *BatchingSink) loop() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.Flush(context.Background())
		}
	}
}
