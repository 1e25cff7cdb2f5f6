package progress

import (
	"context"
	"encoding/json"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MUTATIONS
// ══════════════════════════════════════════════════════════════════════════════

// MutationKind - тип намерения, изменяющего ledger.
type MutationKind string

const (
	KindSolve           MutationKind = "Solve"
	KindRegisterMistake MutationKind = "RegisterMistake"
	KindPurchase        MutationKind = "Purchase"
	KindCloseWeek       MutationKind = "CloseWeek"
)

// Valid проверяет тип, принимаемый от устройств. CloseWeek - только серверный.
func (k MutationKind) Valid() bool {
	switch k {
	case KindSolve, KindRegisterMistake, KindPurchase:
		return true
	}
	return false
}

// SolvePayload - полезная нагрузка Solve.
type SolvePayload struct {
	ProblemID        string `json:"problemId"`
	XPReward         int    `json:"xpReward"`
	TimeSpentMinutes int    `json:"timeSpentMinutes"`
}

// MistakePayload - полезная нагрузка RegisterMistake.
type MistakePayload struct {
	ProblemID string `json:"problemId"`
}

// PurchasePayload - полезная нагрузка Purchase.
type PurchasePayload struct {
	ItemID string `json:"itemId"`
	Price  int    `json:"price"`
}

// AppliedMutation - запись журнала идемпотентности: mutationId и снимок,
// получившийся после её применения. Повтор возвращает Result без изменений.
type AppliedMutation struct {
	MutationID string          `json:"mutationId"`
	AccountID  string          `json:"accountId"`
	Kind       MutationKind    `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Result     Ledger          `json:"result"`
	AppliedAt  time.Time       `json:"appliedAt"`
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository - порт хранилища ledger'ов.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Чтение
	// ─────────────────────────────────────────────────────────────────────────

	// Get возвращает снимок с текущей версией или ErrAccountNotFound.
	Get(ctx context.Context, accountID string) (Ledger, error)

	// FindMutation возвращает запись журнала или ErrMutationNotFound.
	FindMutation(ctx context.Context, accountID, mutationID string) (AppliedMutation, error)

	// ListAccountIDs возвращает все аккаунты (для недельного закрытия лиг).
	ListAccountIDs(ctx context.Context) ([]string, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Запись
	// ─────────────────────────────────────────────────────────────────────────

	// Create сохраняет нулевой ledger. Повторное создание не ошибка.
	Create(ctx context.Context, l Ledger) error

	// Save атомарно записывает next, если сохранённая версия равна prev.Version,
	// и, если m != nil, добавляет запись в журнал мутаций в той же транзакции.
	// Несовпадение версии - ErrVersionConflict, повтор mutationId - ErrDuplicateMutation.
	Save(ctx context.Context, prev, next Ledger, m *AppliedMutation) error

	// PurgeMutations удаляет записи журнала старше olderThan.
	PurgeMutations(ctx context.Context, olderThan time.Time) (int64, error)
}
