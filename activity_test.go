package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/merkos-302/chabaduniverse-auth-sub000"
)

func TestActivitySinkFunc(t *testing.T) {
	var got auth.ActivityEvent
	sink := auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		got = event
		return nil
	})

	require.NoError(t, sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventLoginSuccess,
		UserID:    "1",
	}))
	assert.Equal(t, auth.ActivityEventLoginSuccess, got.EventType)

	var nilSink auth.ActivitySinkFunc
	assert.NoError(t, nilSink.Record(context.Background(), auth.ActivityEvent{}))
}

func TestBatchingSinkFlushesOnSize(t *testing.T) {
	downstream := &captureSink{}
	sink := auth.NewBatchingSink(downstream,
		auth.WithBatchSize(3),
		auth.WithFlushInterval(time.Hour))
	defer sink.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, sink.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLoginSuccess}))
	}
	assert.Empty(t, downstream.types())

	require.NoError(t, sink.Record(ctx, auth.ActivityEvent{EventType: auth.ActivityEventLogout}))
	assert.Len(t, downstream.types(), 3)
}

func TestBatchingSinkFlushesOnInterval(t *testing.T) {
	downstream := &captureSink{}
	sink := auth.NewBatchingSink(downstream,
		auth.WithBatchSize(100),
		auth.WithFlushInterval(10*time.Millisecond))
	defer sink.Close()

	require.NoError(t, sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventLoginSuccess,
	}))

	require.Eventually(t, func() bool {
		return len(downstream.types()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBatchingSinkCloseFlushes(t *testing.T) {
	downstream := &captureSink{}
	sink := auth.NewBatchingSink(downstream,
		auth.WithBatchSize(100),
		auth.WithFlushInterval(time.Hour))

	require.NoError(t, sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventLogout,
	}))
	assert.Empty(t, downstream.types())

	sink.Close()
	sink.Close() // idempotent
	assert.Len(t, downstream.types(), 1)
}

func TestBatchingSinkRecordAfterClose(t *testing.T) {
	downstream := &captureSink{}
	sink := auth.NewBatchingSink(downstream,
		auth.WithBatchSize(100),
		auth.WithFlushInterval(time.Hour))

	sink.Close()

	// Nothing will flush the buffer again, so late events go straight down.
	require.NoError(t, sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventLogout,
	}))
	assert.Len(t, downstream.types(), 1)
}

func TestBatchingSinkStampsOccurredAt(t *testing.T) {
	downstream := &captureSink{}
	sink := auth.NewBatchingSink(downstream, auth.WithBatchSize(1))
	defer sink.Close()

	require.NoError(t, sink.Record(context.Background(), auth.ActivityEvent{
		EventType: auth.ActivityEventLoginSuccess,
	}))

	downstream.mu.Lock()
	defer downstream.mu.Unlock()
	require.Len(t, downstream.events, 1)
	assert.False(t, downstream.events[0].OccurredAt.IsZero())
}
