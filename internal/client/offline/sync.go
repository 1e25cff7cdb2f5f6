package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/retry"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// ContentFetcher loads content from the server.
type ContentFetcher interface {
	FetchContent(ctx context.Context, id string) ([]byte, error)
}

// SubmitFunc delivers one mutation and returns the acknowledged mutation id.
// Validation and not-found errors are treated as permanent rejections;
// anything else is retried on a later drain.
type SubmitFunc func(ctx context.Context, m PendingMutation) (ackID string, err error)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Redelivery backoff: 1s·2^(attempts-1), capped.
const (
	BackoffInitial = time.Second
	BackoffMax     = 15 * time.Minute
)

// SyncClient serves content through the local cache and delivers queued
// mutations at least once.
type SyncClient struct {
	store  *Store
	remote ContentFetcher
	clock  timeutil.Clock
	log    *logger.Logger

	// drains are serialized; enqueues are not blocked by a drain.
	drainMu sync.Mutex
}

// NewSyncClient creates a client. remote may be nil for a fully offline device.
func NewSyncClient(store *Store, remote ContentFetcher, clock timeutil.Clock, log *logger.Logger) *SyncClient {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &SyncClient{
		store:  store,
		remote: remote,
		clock:  clock,
		log:    log.With(logger.Component("sync_client")),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Content
// ─────────────────────────────────────────────────────────────────────────────

// GetContent tries the server first and falls back to the cache on any
// remote failure. A fresh copy refreshes an existing cache entry.
// Neither source → shared.ErrContentUnavailable.
func (c *SyncClient) GetContent(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, shared.Validationf("sync", "GetContent", "id is required")
	}

	var remoteErr error
	if c.remote != nil {
		payload, err := c.remote.FetchContent(ctx, id)
		if err == nil {
			c.refresh(ctx, id, payload)
			return payload, nil
		}
		remoteErr = err
		c.log.Debug("remote fetch failed, using cache", logger.String("content_id", id), logger.Err(err))
	}

	entry, err := c.store.GetContent(ctx, id)
	if errors.Is(err, ErrNotCached) {
		if remoteErr != nil {
			return nil, shared.WrapError("sync", "GetContent", shared.ErrContentUnavailable, "content unavailable: "+id, remoteErr)
		}
		return nil, shared.NewDomainError("sync", "GetContent", shared.ErrContentUnavailable, "content unavailable: "+id)
	}
	if err != nil {
		return nil, err
	}
	return entry.Payload, nil
}

func (c *SyncClient) refresh(ctx context.Context, id string, payload []byte) {
	cached, err := c.store.HasContent(ctx, id)
	if err != nil || !cached {
		return
	}
	if err := c.store.PutContent(ctx, ContentEntry{ID: id, Payload: payload, CachedAt: c.clock.Now()}); err != nil {
		c.log.Warn("cache refresh failed", logger.String("content_id", id), logger.Err(err))
	}
}

// SaveContent makes id available offline, overwriting any previous entry.
func (c *SyncClient) SaveContent(ctx context.Context, id string, payload []byte, now time.Time) error {
	if id == "" {
		return shared.Validationf("sync", "SaveContent", "id is required")
	}
	if payload == nil {
		payload = []byte{}
	}
	return c.store.PutContent(ctx, ContentEntry{ID: id, Payload: payload, CachedAt: now})
}

// RemoveContent evicts id. Removing an absent id is not an error.
func (c *SyncClient) RemoveContent(ctx context.Context, id string) error {
	return c.store.DeleteContent(ctx, id)
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutation queue
// ─────────────────────────────────────────────────────────────────────────────

// EnqueueMutation durably queues a mutation under a fresh id. The only
// failure is a local storage error.
func (c *SyncClient) EnqueueMutation(ctx context.Context, kind progress.MutationKind, payload json.RawMessage, now time.Time) (PendingMutation, error) {
	if !kind.Valid() {
		return PendingMutation{}, shared.Validationf("sync", "EnqueueMutation", "unknown mutation kind %q", kind)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	m := PendingMutation{
		MutationID:    uuid.NewString(),
		Kind:          kind,
		Payload:       payload,
		CreatedAt:     now.UTC(),
		NextAttemptAt: now.UTC(),
		Status:        StatusPending,
	}
	seq, err := c.store.Enqueue(ctx, m)
	if err != nil {
		return PendingMutation{}, err
	}
	m.Seq = seq

	c.log.Debug("mutation queued", logger.MutationID(m.MutationID), logger.String("kind", string(kind)))
	return m, nil
}

// DrainResult summarizes one drain cycle.
type DrainResult struct {
	Delivered int
	Rejected  int
	Remaining int

	// Blocked is the head mutation that stopped the cycle, if any.
	Blocked string
}

// DrainQueue delivers the queued mutations in FIFO order. Mutations enqueued
// after the drain starts wait for the next cycle.
//
// A mutation is removed only when submit acknowledges its id. A transient
// failure reschedules the head with backoff and ends the cycle, so later
// mutations never overtake it. A permanent rejection moves the mutation to
// the rejected list and the drain continues.
func (c *SyncClient) DrainQueue(ctx context.Context, submit SubmitFunc) (DrainResult, error) {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	var res DrainResult

	upTo, err := c.store.LastSeq(ctx)
	if err != nil {
		return res, err
	}
	if upTo == 0 {
		return res, nil
	}
	batch, err := c.store.Pending(ctx, upTo)
	if err != nil {
		return res, err
	}

	for i, m := range batch {
		if err := ctx.Err(); err != nil {
			res.Remaining = len(batch) - i
			return res, err
		}

		now := c.clock.Now()
		if m.NextAttemptAt.After(now) {
			res.Blocked = m.MutationID
			res.Remaining = len(batch) - i
			break
		}

		ackID, err := submit(ctx, m)
		if err == nil && ackID != m.MutationID {
			err = fmt.Errorf("acknowledgment for %q does not match %q", ackID, m.MutationID)
		}

		switch {
		case err == nil:
			if err := c.store.Remove(ctx, m.MutationID); err != nil {
				return res, err
			}
			res.Delivered++

		case isPermanent(err):
			if err := c.store.MarkRejected(ctx, m.MutationID, m.AttemptCount+1, err.Error()); err != nil {
				return res, err
			}
			res.Rejected++
			c.log.Warn("mutation rejected",
				logger.MutationID(m.MutationID),
				logger.String("kind", string(m.Kind)),
				logger.Err(err),
			)

		default:
			attempts := m.AttemptCount + 1
			delay := retry.Backoff(attempts-1, BackoffInitial, BackoffMax, 2)
			if err := c.store.MarkFailed(ctx, m.MutationID, attempts, now.Add(delay), err.Error()); err != nil {
				return res, err
			}
			c.log.Info("mutation delivery failed, will retry",
				logger.MutationID(m.MutationID),
				logger.Int("attempt", attempts),
				logger.Duration("retry_in", delay),
				logger.Err(err),
			)
			res.Blocked = m.MutationID
			res.Remaining = len(batch) - i
			return res, nil
		}
	}

	return res, nil
}

func isPermanent(err error) bool {
	return shared.IsValidation(err) || shared.IsNotFound(err)
}

// PendingCount is the number of mutations not yet acknowledged. Drives the
// "pending sync" indicator.
func (c *SyncClient) PendingCount(ctx context.Context) (int, error) {
	return c.store.CountPending(ctx)
}

// Rejected lists mutations the server refused.
func (c *SyncClient) Rejected(ctx context.Context) ([]PendingMutation, error) {
	return c.store.Rejected(ctx)
}

// Requeue moves a rejected mutation back into the pending queue, due now.
func (c *SyncClient) Requeue(ctx context.Context, mutationID string) error {
	return c.store.Requeue(ctx, mutationID, c.clock.Now())
}

// Queue lists every queued mutation, pending and rejected, in FIFO order.
func (c *SyncClient) Queue(ctx context.Context) ([]PendingMutation, error) {
	return c.store.All(ctx)
}

// CachedContent lists the entries saved for offline use.
func (c *SyncClient) CachedContent(ctx context.Context) ([]ContentEntry, error) {
	return c.store.ListContent(ctx)
}
