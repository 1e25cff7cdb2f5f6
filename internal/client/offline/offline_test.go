package offline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/logger"
)

var t0 = time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRemote struct {
	content map[string][]byte
	err     error
	calls   int
}

func (r *fakeRemote) FetchContent(_ context.Context, id string) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.content[id]
	if !ok {
		return nil, shared.NewDomainError("remote", "FetchContent", shared.ErrNotFound, "not found")
	}
	return p, nil
}

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "device.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newClient(t *testing.T, remote ContentFetcher) (*SyncClient, *Store, *stepClock) {
	t.Helper()
	store := newStore(t)
	clock := &stepClock{now: t0}
	return NewSyncClient(store, remote, clock, logger.Nop()), store, clock
}

var errOffline = shared.NewDomainError("remote", "Do", shared.ErrNetworkUnavailable, "connection refused")

// ══════════════════════════════════════════════════════════════════════════════
// Content
// ══════════════════════════════════════════════════════════════════════════════

func TestGetContent_RemoteFirst(t *testing.T) {
	remote := &fakeRemote{content: map[string][]byte{"p1": []byte(`{"v":2}`)}}
	c, _, _ := newClient(t, remote)
	ctx := context.Background()

	require.NoError(t, c.SaveContent(ctx, "p1", []byte(`{"v":1}`), t0))

	got, err := c.GetContent(ctx, "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))

	// the fresh copy replaced the cached one
	remote.err = errOffline
	got, err = c.GetContent(ctx, "p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(got))
}

func TestGetContent_DoesNotCacheUnsavedContent(t *testing.T) {
	remote := &fakeRemote{content: map[string][]byte{"p1": []byte(`{}`)}}
	c, store, _ := newClient(t, remote)
	ctx := context.Background()

	_, err := c.GetContent(ctx, "p1")
	require.NoError(t, err)

	cached, err := store.HasContent(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestGetContent_OfflineFallsBackToCache(t *testing.T) {
	c, _, _ := newClient(t, &fakeRemote{err: errOffline})
	ctx := context.Background()

	require.NoError(t, c.SaveContent(ctx, "p1", []byte("payload"), t0))

	got, err := c.GetContent(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
}

func TestGetContent_Unavailable(t *testing.T) {
	c, _, _ := newClient(t, &fakeRemote{err: errOffline})

	_, err := c.GetContent(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrContentUnavailable))
}

func TestGetContent_NoRemote(t *testing.T) {
	c, _, _ := newClient(t, nil)

	_, err := c.GetContent(context.Background(), "missing")
	assert.True(t, errors.Is(err, shared.ErrContentUnavailable))
}

func TestSaveAndRemoveContent(t *testing.T) {
	c, store, _ := newClient(t, nil)
	ctx := context.Background()

	require.NoError(t, c.SaveContent(ctx, "p1", []byte("a"), t0))
	require.NoError(t, c.SaveContent(ctx, "p1", []byte("b"), t0.Add(time.Hour)))

	e, err := store.GetContent(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "b", string(e.Payload))
	assert.Equal(t, t0.Add(time.Hour), e.CachedAt)

	list, err := store.ListContent(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p1", list[0].ID)

	require.NoError(t, c.RemoveContent(ctx, "p1"))
	require.NoError(t, c.RemoveContent(ctx, "p1"), "removing an absent id is not an error")

	_, err = store.GetContent(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotCached)
}

// ══════════════════════════════════════════════════════════════════════════════
// Queue
// ══════════════════════════════════════════════════════════════════════════════

func enqueue(t *testing.T, c *SyncClient, kind progress.MutationKind, payload string) PendingMutation {
	t.Helper()
	m, err := c.EnqueueMutation(context.Background(), kind, json.RawMessage(payload), t0)
	require.NoError(t, err)
	return m
}

func TestEnqueueMutation(t *testing.T) {
	c, store, _ := newClient(t, nil)
	ctx := context.Background()

	a := enqueue(t, c, progress.KindSolve, `{"problemId":"p1","xpReward":50}`)
	b := enqueue(t, c, progress.KindRegisterMistake, `{"problemId":"p2"}`)
	assert.NotEqual(t, a.MutationID, b.MutationID)
	assert.Less(t, a.Seq, b.Seq)

	n, err := c.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.MutationID, all[0].MutationID)
	assert.JSONEq(t, `{"problemId":"p1","xpReward":50}`, string(all[0].Payload))
	assert.Equal(t, t0, all[0].CreatedAt)
	assert.Equal(t, StatusPending, all[0].Status)

	_, err = c.EnqueueMutation(ctx, progress.KindCloseWeek, nil, t0)
	assert.True(t, shared.IsValidation(err))
}

func TestDrainQueue_FIFOAndAck(t *testing.T) {
	c, _, _ := newClient(t, nil)
	ctx := context.Background()

	a := enqueue(t, c, progress.KindSolve, `{}`)
	b := enqueue(t, c, progress.KindSolve, `{}`)
	d := enqueue(t, c, progress.KindPurchase, `{}`)

	var order []string
	res, err := c.DrainQueue(ctx, func(_ context.Context, m PendingMutation) (string, error) {
		order = append(order, m.MutationID)
		return m.MutationID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a.MutationID, b.MutationID, d.MutationID}, order)
	assert.Equal(t, 3, res.Delivered)

	n, err := c.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainQueue_WrongAckKeepsMutation(t *testing.T) {
	c, _, _ := newClient(t, nil)
	enqueue(t, c, progress.KindSolve, `{}`)

	res, err := c.DrainQueue(context.Background(), func(context.Context, PendingMutation) (string, error) {
		return "someone-else", nil
	})
	require.NoError(t, err)
	assert.Zero(t, res.Delivered)

	n, _ := c.PendingCount(context.Background())
	assert.Equal(t, 1, n)
}

func TestDrainQueue_HeadOfLineBackoff(t *testing.T) {
	c, store, clock := newClient(t, nil)
	ctx := context.Background()

	a := enqueue(t, c, progress.KindSolve, `{}`)
	b := enqueue(t, c, progress.KindSolve, `{}`)

	var calls []string
	failing := func(_ context.Context, m PendingMutation) (string, error) {
		calls = append(calls, m.MutationID)
		return "", errOffline
	}

	res, err := c.DrainQueue(ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, a.MutationID, res.Blocked)
	assert.Equal(t, []string{a.MutationID}, calls, "later mutations must not overtake the head")

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, all[0].AttemptCount)
	assert.Equal(t, t0.Add(time.Second), all[0].NextAttemptAt)
	assert.Contains(t, all[0].LastError, "connection refused")

	// still backing off: nothing is submitted
	calls = nil
	_, err = c.DrainQueue(ctx, failing)
	require.NoError(t, err)
	assert.Empty(t, calls)

	clock.Advance(time.Second)
	_, err = c.DrainQueue(ctx, failing)
	require.NoError(t, err)

	all, _ = store.All(ctx)
	assert.Equal(t, 2, all[0].AttemptCount)
	assert.Equal(t, t0.Add(time.Second).Add(2*time.Second), all[0].NextAttemptAt)

	clock.Advance(time.Hour)
	var delivered []string
	res, err = c.DrainQueue(ctx, func(_ context.Context, m PendingMutation) (string, error) {
		delivered = append(delivered, m.MutationID)
		return m.MutationID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a.MutationID, b.MutationID}, delivered)
	assert.Equal(t, 2, res.Delivered)
}

func TestDrainQueue_BackoffIsCapped(t *testing.T) {
	c, store, clock := newClient(t, nil)
	ctx := context.Background()
	enqueue(t, c, progress.KindSolve, `{}`)

	failing := func(context.Context, PendingMutation) (string, error) { return "", errOffline }
	for i := 0; i < 20; i++ {
		_, err := c.DrainQueue(ctx, failing)
		require.NoError(t, err)
		clock.Advance(BackoffMax)
	}

	all, err := store.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, all[0].AttemptCount)
	assert.Equal(t, BackoffMax, all[0].NextAttemptAt.Sub(clock.Now().Add(-BackoffMax)))
}

func TestDrainQueue_RejectionIsKept(t *testing.T) {
	c, _, _ := newClient(t, nil)
	ctx := context.Background()

	bad := enqueue(t, c, progress.KindPurchase, `{"itemId":"x","price":999}`)
	enqueue(t, c, progress.KindSolve, `{}`)

	res, err := c.DrainQueue(ctx, func(_ context.Context, m PendingMutation) (string, error) {
		if m.MutationID == bad.MutationID {
			return "", shared.ErrInsufficientBalance
		}
		return m.MutationID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Delivered)

	rejected, err := c.Rejected(ctx)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, bad.MutationID, rejected[0].MutationID)
	assert.Equal(t, StatusRejected, rejected[0].Status)
	assert.NotEmpty(t, rejected[0].LastError)

	n, _ := c.PendingCount(ctx)
	assert.Zero(t, n)
}

func TestDrainQueue_EnqueueDuringDrainJoinsNextCycle(t *testing.T) {
	c, _, _ := newClient(t, nil)
	ctx := context.Background()

	first := enqueue(t, c, progress.KindSolve, `{}`)

	var late PendingMutation
	var seen []string
	_, err := c.DrainQueue(ctx, func(ctx context.Context, m PendingMutation) (string, error) {
		seen = append(seen, m.MutationID)
		if late.MutationID == "" {
			var err error
			late, err = c.EnqueueMutation(ctx, progress.KindSolve, json.RawMessage(`{}`), t0)
			require.NoError(t, err)
		}
		return m.MutationID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{first.MutationID}, seen)

	n, _ := c.PendingCount(ctx)
	assert.Equal(t, 1, n)

	seen = nil
	_, err = c.DrainQueue(ctx, func(_ context.Context, m PendingMutation) (string, error) {
		seen = append(seen, m.MutationID)
		return m.MutationID, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{late.MutationID}, seen)
}

func TestDrainQueue_ConcurrentDrainsDeliverOnce(t *testing.T) {
	c, _, _ := newClient(t, nil)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		enqueue(t, c, progress.KindSolve, `{}`)
	}

	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	submit := func(_ context.Context, m PendingMutation) (string, error) {
		mu.Lock()
		counts[m.MutationID]++
		mu.Unlock()
		return m.MutationID, nil
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.DrainQueue(ctx, submit)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, counts, 10)
	for id, n := range counts {
		assert.Equal(t, 1, n, id)
	}
}

func TestStore_Requeue(t *testing.T) {
	c, store, _ := newClient(t, nil)
	ctx := context.Background()

	m := enqueue(t, c, progress.KindSolve, `{}`)
	require.NoError(t, store.MarkRejected(ctx, m.MutationID, 1, "bad"))
	require.NoError(t, store.Requeue(ctx, m.MutationID, t0))
	assert.Error(t, store.Requeue(ctx, m.MutationID, t0))

	n, err := c.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_Durable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	c := NewSyncClient(s, nil, &stepClock{now: t0}, logger.Nop())
	m, err := c.EnqueueMutation(ctx, progress.KindSolve, json.RawMessage(`{}`), t0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	pending, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, m.MutationID, pending[0].MutationID)
}
