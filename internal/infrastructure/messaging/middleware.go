package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution. The bus applies its middleware to
// every handler at subscription time.
type Middleware func(shared.EventHandler) shared.EventHandler

// ProjectionMiddleware is the standard stack for projection handlers:
// panics become errors, failures are retried briefly, and what still fails
// lands in dlq.
func ProjectionMiddleware(log *logger.Logger, dlq *DeadLetterQueue) []Middleware {
	retrier := retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(50*time.Millisecond),
		retry.WithRetryIf(func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
	)
	return []Middleware{
		RecoveryMiddleware(log),
		DeadLetterMiddleware(dlq, time.Now),
		RetryMiddleware(retrier),
	}
}

// Chain applies middlewares so the first one is outermost.
func Chain(h shared.EventHandler, mws ...Middleware) shared.EventHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RecoveryMiddleware turns a handler panic into an error.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic recovered",
						logger.String("event_type", string(event.EventType())),
						logger.Any("panic", r),
						logger.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("handler panic: %v", r)
				}
			}()
			return next(ctx, event)
		}
	}
}

// RetryMiddleware reruns a failed handler with the retrier's backoff.
// Projection writes (league board) are idempotent, so reruns are safe.
func RetryMiddleware(r *retry.Retrier) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) error {
			return r.Do(ctx, func(ctx context.Context) error {
				return next(ctx, event)
			})
		}
	}
}

// DeadLetterMiddleware records events whose handler still failed after
// the inner middlewares gave up. The error is passed through.
func DeadLetterMiddleware(q *DeadLetterQueue, now func() time.Time) Middleware {
	if now == nil {
		now = time.Now
	}
	return func(next shared.EventHandler) shared.EventHandler {
		return func(ctx context.Context, event shared.Event) error {
			err := next(ctx, event)
			if err != nil {
				q.Add(DeadLetterEntry{Event: event, Error: err, FailedAt: now()})
			}
			return err
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry represents a failed event.
type DeadLetterEntry struct {
	Event    shared.Event
	Error    error
	FailedAt time.Time
}

// DeadLetterQueue keeps the most recent failed events for inspection.
// Projections can be rebuilt from ledgers, so entries are informational.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{maxSize: maxSize}
}

// Add adds an entry, dropping the oldest at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]DeadLetterEntry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}
