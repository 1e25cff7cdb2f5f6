// Package eventhandler содержит обработчики доменных событий прогресса.
// Обработчики реагируют на уже зафиксированные изменения ledger'а и
// обновляют производные проекции. Ошибка обработчика не откатывает мутацию.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/logger"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON XP GAINED HANDLER
// Переносит недельный XP аккаунта в таблицу лиги.
// ═══════════════════════════════════════════════════════════════════════════

// WeeklyXPRecorder - запись недельного XP в таблицу лиги.
// Внутри одной недели значение только растёт: событие, доставленное с
// опозданием (повтор, гонка горутин), не затирает более свежий итог.
type WeeklyXPRecorder interface {
	Record(ctx context.Context, accountID string, weeklyXP int, weekStart time.Time) error
}

// OnXPGainedHandler обрабатывает shared.EventXPGained.
type OnXPGainedHandler struct {
	board WeeklyXPRecorder
	log   *logger.Logger
}

// NewOnXPGainedHandler создаёт обработчик.
func NewOnXPGainedHandler(board WeeklyXPRecorder, log *logger.Logger) *OnXPGainedHandler {
	if log == nil {
		log = logger.Default()
	}
	return &OnXPGainedHandler{
		board: board,
		log:   log.With(logger.Component("on_xp_gained")),
	}
}

// Handle реализует shared.EventHandler.
// Неделя берётся из ledger'а, а не из времени события: до закрытия недели
// WeeklyXP всё ещё относится к прошлой неделе.
func (h *OnXPGainedHandler) Handle(ctx context.Context, event shared.Event) error {
	e, ok := event.(shared.XPGainedEvent)
	if !ok {
		return fmt.Errorf("on_xp_gained: unexpected event %T", event)
	}

	weekStart := e.WeekStart
	if weekStart.IsZero() {
		weekStart = timeutil.StartOfWeek(e.OccurredAt())
	}

	if err := h.board.Record(ctx, e.AggregateID(), e.WeeklyXP, weekStart); err != nil {
		h.log.Warn("league board update failed",
			logger.AccountID(e.AggregateID()),
			logger.Int("weekly_xp", e.WeeklyXP),
			logger.Err(err),
		)
		return err
	}

	h.log.Debug("league board updated",
		logger.AccountID(e.AggregateID()),
		logger.ProblemID(e.ProblemID),
		logger.XPAmount(e.Amount),
	)
	return nil
}

// EventType возвращает тип события, который обрабатывает этот handler.
func (h *OnXPGainedHandler) EventType() shared.EventType {
	return shared.EventXPGained
}
