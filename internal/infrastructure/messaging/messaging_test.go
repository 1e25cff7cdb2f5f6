package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/retry"
)

var testNow = time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)

func newSyncBus(mws ...Middleware) *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:  false,
		Middleware: mws,
		Logger:     logger.Nop(),
	})
}

func TestPublish_RoutesByTypeAndToAll(t *testing.T) {
	bus := newSyncBus()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventXPGained, func(_ context.Context, e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(_ context.Context, e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	err := bus.Publish(context.Background(),
		shared.NewXPGainedEvent("acc-1", "two-sum", 50, 50, 50, testNow, testNow),
		shared.NewLevelUpEvent("acc-1", 1, 2, testNow),
		nil,
	)
	require.NoError(t, err)

	assert.Equal(t, []shared.EventType{shared.EventXPGained}, typed)
	assert.Equal(t, []shared.EventType{shared.EventXPGained, shared.EventLevelUp}, all)
}

func TestPublish_HandlerErrorIsNotReturned(t *testing.T) {
	bus := newSyncBus()
	require.NoError(t, bus.SubscribeAll(func(context.Context, shared.Event) error {
		return errors.New("redis down")
	}))

	assert.NoError(t, bus.Publish(context.Background(), shared.NewLevelUpEvent("acc-1", 1, 2, testNow)))
}

func TestClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, Logger: logger.Nop()})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(context.Context, shared.Event) error {
		time.Sleep(10 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), shared.NewLevelUpEvent("acc-1", 1, 2, testNow)))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(3), handled.Load(), "close waits for in-flight handlers")

	assert.ErrorIs(t, bus.Publish(context.Background(), shared.NewLevelUpEvent("acc-1", 1, 2, testNow)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(context.Context, shared.Event) error { return nil }), ErrEventBusClosed)
	assert.NoError(t, bus.Close())
}

func TestChain_Order(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	mark := func(name string) Middleware {
		return func(next shared.EventHandler) shared.EventHandler {
			return func(ctx context.Context, e shared.Event) error {
				mu.Lock()
				trace = append(trace, name)
				mu.Unlock()
				return next(ctx, e)
			}
		}
	}

	h := Chain(func(context.Context, shared.Event) error {
		trace = append(trace, "handler")
		return nil
	}, mark("outer"), mark("inner"))

	require.NoError(t, h(context.Background(), shared.NewLevelUpEvent("acc-1", 1, 2, testNow)))
	assert.Equal(t, []string{"outer", "inner", "handler"}, trace)
}

func TestMiddleware_RetryThenDeadLetter(t *testing.T) {
	dlq := NewDeadLetterQueue(10)
	retrier := retry.New(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithJitter(0),
		retry.WithRetryIf(func(error) bool { return true }))
	bus := newSyncBus(
		RecoveryMiddleware(logger.Nop()),
		DeadLetterMiddleware(dlq, func() time.Time { return testNow }),
		RetryMiddleware(retrier),
	)

	var calls atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventXPGained, func(context.Context, shared.Event) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(context.Context, shared.Event) error {
		return errors.New("always fails")
	}))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, shared.NewXPGainedEvent("acc-1", "p", 50, 50, 50, testNow, testNow)))
	assert.Equal(t, int32(3), calls.Load())
	assert.Zero(t, dlq.Size(), "recovered on the third attempt")

	require.NoError(t, bus.Publish(ctx, shared.NewLevelUpEvent("acc-2", 1, 2, testNow)))
	require.Equal(t, 1, dlq.Size())
	entry := dlq.Entries()[0]
	assert.Equal(t, "acc-2", entry.Event.AggregateID())
	assert.Equal(t, testNow, entry.FailedAt)
	assert.EqualError(t, entry.Error, "always fails")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(func(context.Context, shared.Event) error {
		panic("boom")
	}, RecoveryMiddleware(logger.Nop()))

	err := h(context.Background(), shared.NewLevelUpEvent("acc-1", 1, 2, testNow))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic: boom")
}

func TestDeadLetterQueue_DropsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2)
	for _, id := range []string{"a", "b", "c"} {
		q.Add(DeadLetterEntry{Event: shared.NewLevelUpEvent(id, 1, 2, testNow)})
	}

	entries := q.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Event.AggregateID())
	assert.Equal(t, "c", entries[1].Event.AggregateID())
}

func TestClose_WhilePublishing(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 4, Logger: logger.Nop()})

	var handled, accepted atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(context.Context, shared.Event) error {
		handled.Add(1)
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				err := bus.Publish(context.Background(), shared.NewLevelUpEvent("acc-1", 1, 2, testNow))
				if errors.Is(err, ErrEventBusClosed) {
					return
				}
				accepted.Add(1)
			}
		}()
	}

	time.Sleep(time.Millisecond)
	require.NoError(t, bus.Close())
	wg.Wait()

	// nothing runs after Close returns
	after := handled.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, handled.Load())
	assert.LessOrEqual(t, handled.Load(), accepted.Load())
}
