// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/retry"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER MUTATOR
// Shared write path for every command: idempotency by mutation id, pure
// transition, version-checked save, re-read and retry on conflict.
// ══════════════════════════════════════════════════════════════════════════════

// errNoChange is returned by a transition that has nothing to write.
var errNoChange = errors.New("no change")

// Transition computes the next ledger snapshot. It must be pure: it may be
// called several times with fresher snapshots when saves conflict.
type Transition func(l progress.Ledger, now time.Time) (progress.Ledger, error)

// Mutation describes one requested change to a ledger.
type Mutation struct {
	AccountID string

	// MutationID is the idempotency key. Empty means "not logged"
	// (server-internal mutations such as the weekly league close).
	MutationID string
	Kind       progress.MutationKind
	Payload    json.RawMessage

	// Precheck runs once, after replay detection and before the first read.
	Precheck func(ctx context.Context) error

	Apply Transition
}

// MutationResult contains the outcome of a mutation.
type MutationResult struct {
	Ledger progress.Ledger

	// Replayed is true when the mutation id had already been applied and the
	// stored result was returned without re-applying.
	Replayed bool

	// Attempts is the number of save attempts (1 without conflicts).
	Attempts int

	Events []shared.Event
}

// LedgerMutatorConfig contains configuration for the mutator.
type LedgerMutatorConfig struct {
	// MaxAttempts bounds save attempts under contention.
	MaxAttempts int
}

// DefaultLedgerMutatorConfig returns default configuration.
func DefaultLedgerMutatorConfig() LedgerMutatorConfig {
	return LedgerMutatorConfig{MaxAttempts: 8}
}

// LedgerMutator applies transitions to ledgers with optimistic concurrency.
type LedgerMutator struct {
	repo      progress.Repository
	publisher shared.EventPublisher
	clock     timeutil.Clock
	retrier   *retry.Retrier
	log       *logger.Logger
}

// NewLedgerMutator creates a new LedgerMutator.
func NewLedgerMutator(
	repo progress.Repository,
	publisher shared.EventPublisher,
	clock timeutil.Clock,
	log *logger.Logger,
	config LedgerMutatorConfig,
) *LedgerMutator {
	if config.MaxAttempts <= 0 {
		config = DefaultLedgerMutatorConfig()
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}

	m := &LedgerMutator{
		repo:      repo,
		publisher: publisher,
		clock:     clock,
		log:       log.With(logger.Component("ledger_mutator")),
	}
	m.retrier = retry.LedgerRetrier(config.MaxAttempts).With(
		retry.WithRetryIf(shared.IsConcurrencyConflict),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			m.log.Debug("ledger write conflict, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
			)
		}),
	)
	return m
}

// Mutate runs the mutation to completion.
func (m *LedgerMutator) Mutate(ctx context.Context, mut Mutation) (*MutationResult, error) {
	if mut.AccountID == "" {
		return nil, shared.Validationf("progress", "Mutate", "accountId must not be empty")
	}

	if mut.MutationID != "" {
		replay, err := m.findApplied(ctx, mut)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	if mut.Precheck != nil {
		if err := mut.Precheck(ctx); err != nil {
			return nil, err
		}
	}

	result := &MutationResult{}
	err := m.retrier.Do(ctx, func(ctx context.Context) error {
		result.Attempts++

		current, err := m.repo.Get(ctx, mut.AccountID)
		if err != nil {
			return err
		}

		now := m.clock.Now().UTC()
		next, err := mut.Apply(current, now)
		if errors.Is(err, errNoChange) {
			result.Ledger = current
			return nil
		}
		if err != nil {
			return err
		}
		next.UpdatedAt = now

		var record *progress.AppliedMutation
		if mut.MutationID != "" {
			record = &progress.AppliedMutation{
				MutationID: mut.MutationID,
				AccountID:  mut.AccountID,
				Kind:       mut.Kind,
				Payload:    mut.Payload,
				AppliedAt:  now,
			}
		}

		err = m.repo.Save(ctx, current, next, record)
		if errors.Is(err, progress.ErrDuplicateMutation) {
			// A concurrent request with the same id won the race.
			stored, findErr := m.repo.FindMutation(ctx, mut.AccountID, mut.MutationID)
			if findErr != nil {
				return findErr
			}
			result.Ledger = stored.Result
			result.Replayed = true
			return nil
		}
		if err != nil {
			return err
		}

		next.Version = current.Version + 1
		result.Ledger = next
		result.Events = progress.Events(current, next, now)
		return nil
	})
	if err != nil {
		if shared.IsConcurrencyConflict(err) {
			m.log.Warn("ledger write retries exhausted",
				logger.AccountID(mut.AccountID),
				logger.MutationID(mut.MutationID),
				logger.Int("attempts", result.Attempts),
			)
			return nil, fmt.Errorf("mutate %s: retries exhausted: %w", mut.AccountID, err)
		}
		return nil, fmt.Errorf("mutate %s: %w", mut.AccountID, err)
	}

	if len(result.Events) > 0 && m.publisher != nil {
		if err := m.publisher.Publish(ctx, result.Events...); err != nil {
			m.log.Error("failed to publish ledger events", logger.AccountID(mut.AccountID), logger.Err(err))
		}
	}

	return result, nil
}

func (m *LedgerMutator) findApplied(ctx context.Context, mut Mutation) (*MutationResult, error) {
	stored, err := m.repo.FindMutation(ctx, mut.AccountID, mut.MutationID)
	switch {
	case err == nil:
		if stored.Kind != "" && mut.Kind != "" && stored.Kind != mut.Kind {
			return nil, shared.Validationf("progress", "Mutate",
				"mutation %s was already applied as %s", mut.MutationID, stored.Kind)
		}
		m.log.Debug("mutation replayed",
			logger.AccountID(mut.AccountID),
			logger.MutationID(mut.MutationID),
		)
		return &MutationResult{Ledger: stored.Result, Replayed: true}, nil
	case shared.IsNotFound(err):
		return nil, nil
	default:
		return nil, fmt.Errorf("mutate %s: find mutation: %w", mut.AccountID, err)
	}
}
