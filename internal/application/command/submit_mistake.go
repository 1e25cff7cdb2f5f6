package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT MISTAKE COMMAND
// A failed attempt: schedules (or reschedules) the problem in the mistake bank.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitMistakeCommand contains the data of a failed attempt.
type SubmitMistakeCommand struct {
	AccountID  string
	ProblemID  string
	MutationID string
}

// Validate validates the command.
func (c SubmitMistakeCommand) Validate() error {
	switch {
	case c.AccountID == "":
		return shared.Validationf("progress", "SubmitMistake", "accountId is required")
	case c.ProblemID == "":
		return shared.Validationf("progress", "SubmitMistake", "problemId is required")
	case c.MutationID == "":
		return shared.Validationf("progress", "SubmitMistake", "mutationId is required")
	}
	return nil
}

// SubmitMistakeResult contains the updated mistake set.
type SubmitMistakeResult struct {
	Mistakes []progress.Mistake
	Ledger   progress.Ledger
	Replayed bool
}

// SubmitMistakeHandler handles SubmitMistakeCommand.
type SubmitMistakeHandler struct {
	mutator *LedgerMutator
	catalog catalog.Catalog
}

// NewSubmitMistakeHandler creates a new SubmitMistakeHandler.
func NewSubmitMistakeHandler(mutator *LedgerMutator, problems catalog.Catalog) *SubmitMistakeHandler {
	return &SubmitMistakeHandler{mutator: mutator, catalog: problems}
}

// Handle executes the command.
func (h *SubmitMistakeHandler) Handle(ctx context.Context, cmd SubmitMistakeCommand) (*SubmitMistakeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_mistake: %w", err)
	}

	payload, _ := json.Marshal(progress.MistakePayload{ProblemID: cmd.ProblemID})

	res, err := h.mutator.Mutate(ctx, Mutation{
		AccountID:  cmd.AccountID,
		MutationID: cmd.MutationID,
		Kind:       progress.KindRegisterMistake,
		Payload:    payload,
		Precheck:   problemExists(h.catalog, cmd.ProblemID),
		Apply: func(l progress.Ledger, now time.Time) (progress.Ledger, error) {
			return progress.RegisterMistake(l, cmd.ProblemID, now)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("submit_mistake: %w", err)
	}

	return &SubmitMistakeResult{
		Mistakes: progress.MistakeBank(res.Ledger),
		Ledger:   res.Ledger,
		Replayed: res.Replayed,
	}, nil
}
