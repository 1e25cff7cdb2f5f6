// Package catalog описывает внешний каталог задач. Движок только читает
// краткие сводки (id, категория, сложность, награда); авторинг задач вне его.
package catalog

import (
	"context"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// Difficulty - сложность задачи.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Valid проверяет, что сложность известна.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	}
	return false
}

// ProblemSummary - сводка задачи из каталога.
type ProblemSummary struct {
	ID         string     `json:"id" yaml:"id"`
	Category   string     `json:"category" yaml:"category"`
	Difficulty Difficulty `json:"difficulty" yaml:"difficulty"`
	XPReward   int        `json:"xpReward" yaml:"xpReward"`
}

// Validate проверяет сводку на границе (при загрузке каталога).
func (p ProblemSummary) Validate() error {
	switch {
	case p.ID == "":
		return shared.Validationf("catalog", "Validate", "problem id must not be empty")
	case !p.Difficulty.Valid():
		return shared.Validationf("catalog", "Validate", "problem %s: unknown difficulty %q", p.ID, p.Difficulty)
	case p.XPReward < 0:
		return shared.Validationf("catalog", "Validate", "problem %s: negative xpReward", p.ID)
	}
	return nil
}

// Catalog - порт каталога задач (только чтение).
type Catalog interface {
	// List возвращает все задачи в стабильном порядке (по id).
	List(ctx context.Context) ([]ProblemSummary, error)

	// Get возвращает задачу или shared.ErrProblemNotFound.
	Get(ctx context.Context, id string) (ProblemSummary, error)

	// GetByIDs возвращает найденные задачи; отсутствующие id пропускаются.
	GetByIDs(ctx context.Context, ids []string) (map[string]ProblemSummary, error)
}
