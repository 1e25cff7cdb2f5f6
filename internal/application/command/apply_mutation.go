package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY MUTATION COMMAND
// Replay endpoint for the device sync queue. The response carries the
// mutation id back and serves as the acknowledgment.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyMutationCommand is a queued device intent.
type ApplyMutationCommand struct {
	AccountID  string
	MutationID string
	Kind       progress.MutationKind
	Payload    json.RawMessage
}

// Validate validates the envelope; the payload is validated by the target handler.
func (c ApplyMutationCommand) Validate() error {
	switch {
	case c.AccountID == "":
		return shared.Validationf("progress", "ApplyMutation", "accountId is required")
	case c.MutationID == "":
		return shared.Validationf("progress", "ApplyMutation", "mutationId is required")
	case !c.Kind.Valid():
		return shared.Validationf("progress", "ApplyMutation", "unknown mutation kind %q", c.Kind)
	}
	return nil
}

// ApplyMutationResult is the acknowledgment.
type ApplyMutationResult struct {
	MutationID string
	Ledger     progress.Ledger
	Replayed   bool
}

// ApplyMutationHandler dispatches queued mutations to the command handlers.
type ApplyMutationHandler struct {
	solve    *SubmitSolveHandler
	mistake  *SubmitMistakeHandler
	purchase *PurchaseItemHandler
}

// NewApplyMutationHandler creates a new ApplyMutationHandler.
func NewApplyMutationHandler(solve *SubmitSolveHandler, mistake *SubmitMistakeHandler, purchase *PurchaseItemHandler) *ApplyMutationHandler {
	return &ApplyMutationHandler{solve: solve, mistake: mistake, purchase: purchase}
}

// Handle executes the command.
func (h *ApplyMutationHandler) Handle(ctx context.Context, cmd ApplyMutationCommand) (*ApplyMutationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("apply_mutation: %w", err)
	}

	ack := &ApplyMutationResult{MutationID: cmd.MutationID}

	switch cmd.Kind {
	case progress.KindSolve:
		var p progress.SolvePayload
		if err := decodePayload(cmd.Payload, &p); err != nil {
			return nil, err
		}
		res, err := h.solve.Handle(ctx, SubmitSolveCommand{
			AccountID:        cmd.AccountID,
			ProblemID:        p.ProblemID,
			XPReward:         p.XPReward,
			TimeSpentMinutes: p.TimeSpentMinutes,
			MutationID:       cmd.MutationID,
		})
		if err != nil {
			return nil, err
		}
		ack.Ledger, ack.Replayed = res.Ledger, res.Replayed

	case progress.KindRegisterMistake:
		var p progress.MistakePayload
		if err := decodePayload(cmd.Payload, &p); err != nil {
			return nil, err
		}
		res, err := h.mistake.Handle(ctx, SubmitMistakeCommand{
			AccountID:  cmd.AccountID,
			ProblemID:  p.ProblemID,
			MutationID: cmd.MutationID,
		})
		if err != nil {
			return nil, err
		}
		ack.Ledger, ack.Replayed = res.Ledger, res.Replayed

	case progress.KindPurchase:
		var p progress.PurchasePayload
		if err := decodePayload(cmd.Payload, &p); err != nil {
			return nil, err
		}
		res, err := h.purchase.Handle(ctx, PurchaseItemCommand{
			AccountID:  cmd.AccountID,
			ItemID:     p.ItemID,
			Price:      p.Price,
			MutationID: cmd.MutationID,
		})
		if err != nil {
			return nil, err
		}
		ack.Ledger, ack.Replayed = res.Ledger, res.Replayed
	}

	return ack, nil
}

func decodePayload(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return shared.WrapError("progress", "ApplyMutation", shared.ErrValidation, "malformed payload", err)
	}
	return nil
}
