package progress

import (
	"sort"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// Purchase списывает price с XPBalance и добавляет предмет в купленные.
// TotalXP и уровень не меняются.
func Purchase(l Ledger, itemID string, price int, now time.Time) (Ledger, error) {
	if itemID == "" {
		return l, errEmpty("Purchase", "itemId")
	}
	if price < 0 {
		return l, errNegative("Purchase", "price")
	}
	if l.Owns(itemID) {
		return l, shared.ErrItemAlreadyOwned
	}
	if l.XPBalance < price {
		return l, shared.ErrInsufficientBalance
	}

	next := l.Clone()
	next.XPBalance -= price

	i := sort.SearchStrings(next.PurchasedItemIDs, itemID)
	next.PurchasedItemIDs = append(next.PurchasedItemIDs, "")
	copy(next.PurchasedItemIDs[i+1:], next.PurchasedItemIDs[i:])
	next.PurchasedItemIDs[i] = itemID

	next.UpdatedAt = now.UTC()
	return next, nil
}
