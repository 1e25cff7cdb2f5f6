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
// SUBMIT SOLVE COMMAND
// A correct solve: credits XP, advances the streak, resolves the problem in
// the mistake bank if it was there.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitSolveCommand contains the data of a solved problem.
type SubmitSolveCommand struct {
	AccountID        string
	ProblemID        string
	XPReward         int
	TimeSpentMinutes int
	MutationID       string
}

// Validate validates the command.
func (c SubmitSolveCommand) Validate() error {
	switch {
	case c.AccountID == "":
		return shared.Validationf("progress", "SubmitSolve", "accountId is required")
	case c.MutationID == "":
		return shared.Validationf("progress", "SubmitSolve", "mutationId is required")
	}
	return progress.Reward{
		ProblemID:        c.ProblemID,
		XP:               c.XPReward,
		TimeSpentMinutes: c.TimeSpentMinutes,
	}.Validate()
}

// SubmitSolveResult contains the updated ledger snapshot.
type SubmitSolveResult struct {
	Ledger   progress.Ledger
	Replayed bool
}

// SubmitSolveHandler handles SubmitSolveCommand.
type SubmitSolveHandler struct {
	mutator *LedgerMutator
	catalog catalog.Catalog
}

// NewSubmitSolveHandler creates a new SubmitSolveHandler. problems may be nil,
// in which case problem existence is not checked.
func NewSubmitSolveHandler(mutator *LedgerMutator, problems catalog.Catalog) *SubmitSolveHandler {
	return &SubmitSolveHandler{mutator: mutator, catalog: problems}
}

// Handle executes the command.
func (h *SubmitSolveHandler) Handle(ctx context.Context, cmd SubmitSolveCommand) (*SubmitSolveResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("submit_solve: %w", err)
	}

	payload, _ := json.Marshal(progress.SolvePayload{
		ProblemID:        cmd.ProblemID,
		XPReward:         cmd.XPReward,
		TimeSpentMinutes: cmd.TimeSpentMinutes,
	})
	reward := progress.Reward{ProblemID: cmd.ProblemID, XP: cmd.XPReward, TimeSpentMinutes: cmd.TimeSpentMinutes}

	res, err := h.mutator.Mutate(ctx, Mutation{
		AccountID:  cmd.AccountID,
		MutationID: cmd.MutationID,
		Kind:       progress.KindSolve,
		Payload:    payload,
		Precheck:   problemExists(h.catalog, cmd.ProblemID),
		Apply: func(l progress.Ledger, now time.Time) (progress.Ledger, error) {
			next, err := progress.ApplyReward(l, reward, now)
			if err != nil {
				return l, err
			}
			return progress.ResolveMistake(next, cmd.ProblemID)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("submit_solve: %w", err)
	}

	return &SubmitSolveResult{Ledger: res.Ledger, Replayed: res.Replayed}, nil
}

func problemExists(c catalog.Catalog, problemID string) func(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := c.Get(ctx, problemID)
		return err
	}
}
