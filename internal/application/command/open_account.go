package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// OpenAccountCommand creates the zero-state ledger for a verified account.
type OpenAccountCommand struct {
	AccountID string
}

// Validate validates the command. Account ids are UUIDs issued by the
// identity service.
func (c OpenAccountCommand) Validate() error {
	if _, err := uuid.Parse(c.AccountID); err != nil {
		return shared.WrapError("progress", "OpenAccount", shared.ErrValidation, "accountId must be a UUID", err)
	}
	return nil
}

// OpenAccountHandler handles OpenAccountCommand. Opening an existing account
// returns its current ledger.
type OpenAccountHandler struct {
	repo  progress.Repository
	clock timeutil.Clock
}

// NewOpenAccountHandler creates a new OpenAccountHandler.
func NewOpenAccountHandler(repo progress.Repository, clock timeutil.Clock) *OpenAccountHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &OpenAccountHandler{repo: repo, clock: clock}
}

// Handle executes the command.
func (h *OpenAccountHandler) Handle(ctx context.Context, cmd OpenAccountCommand) (progress.Ledger, error) {
	if err := cmd.Validate(); err != nil {
		return progress.Ledger{}, fmt.Errorf("open_account: %w", err)
	}

	if err := h.repo.Create(ctx, progress.NewLedger(cmd.AccountID, h.clock.Now())); err != nil {
		return progress.Ledger{}, fmt.Errorf("open_account: %w", err)
	}

	l, err := h.repo.Get(ctx, cmd.AccountID)
	if err != nil {
		return progress.Ledger{}, fmt.Errorf("open_account: %w", err)
	}
	return l, nil
}

// PurgeMutationsHandler trims the idempotency log. Devices replay queued
// mutations within days, so entries older than the retention window are
// no longer needed.
type PurgeMutationsHandler struct {
	repo      progress.Repository
	clock     timeutil.Clock
	retention time.Duration
	log       *logger.Logger
}

// NewPurgeMutationsHandler creates a new PurgeMutationsHandler.
func NewPurgeMutationsHandler(repo progress.Repository, clock timeutil.Clock, retention time.Duration, log *logger.Logger) *PurgeMutationsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &PurgeMutationsHandler{repo: repo, clock: clock, retention: retention, log: log}
}

// Handle deletes log entries older than the retention window.
func (h *PurgeMutationsHandler) Handle(ctx context.Context) (int64, error) {
	cutoff := h.clock.Now().Add(-h.retention)
	n, err := h.repo.PurgeMutations(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge_mutations: %w", err)
	}
	h.log.Info("mutation log purged", logger.Int64("deleted", n), logger.Time("cutoff", cutoff))
	return n, nil
}
