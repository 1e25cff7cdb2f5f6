package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// PurchaseItemCommand spends XP balance on a store item.
type PurchaseItemCommand struct {
	AccountID  string
	ItemID     string
	Price      int
	MutationID string
}

// Validate validates the command.
func (c PurchaseItemCommand) Validate() error {
	switch {
	case c.AccountID == "":
		return shared.Validationf("progress", "Purchase", "accountId is required")
	case c.ItemID == "":
		return shared.Validationf("progress", "Purchase", "itemId is required")
	case c.Price < 0:
		return shared.Validationf("progress", "Purchase", "price must not be negative")
	case c.MutationID == "":
		return shared.Validationf("progress", "Purchase", "mutationId is required")
	}
	return nil
}

// PurchaseItemHandler handles PurchaseItemCommand.
type PurchaseItemHandler struct {
	mutator *LedgerMutator
}

// NewPurchaseItemHandler creates a new PurchaseItemHandler.
func NewPurchaseItemHandler(mutator *LedgerMutator) *PurchaseItemHandler {
	return &PurchaseItemHandler{mutator: mutator}
}

// Handle executes the command.
func (h *PurchaseItemHandler) Handle(ctx context.Context, cmd PurchaseItemCommand) (*MutationResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("purchase_item: %w", err)
	}

	payload, _ := json.Marshal(progress.PurchasePayload{ItemID: cmd.ItemID, Price: cmd.Price})

	res, err := h.mutator.Mutate(ctx, Mutation{
		AccountID:  cmd.AccountID,
		MutationID: cmd.MutationID,
		Kind:       progress.KindPurchase,
		Payload:    payload,
		Apply: func(l progress.Ledger, now time.Time) (progress.Ledger, error) {
			return progress.Purchase(l, cmd.ItemID, cmd.Price, now)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("purchase_item: %w", err)
	}
	return res, nil
}
