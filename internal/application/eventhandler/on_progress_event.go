package eventhandler

import (
	"context"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
	"github.com/alem-hub/mastery-engine/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// PROGRESS AUDIT HANDLER
// Пишет каждое событие прогресса в структурированный лог.
// Повышение уровня и смена лиги - на уровне Info, остальное - Debug.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressAuditHandler подписывается на все события.
type ProgressAuditHandler struct {
	log *logger.Logger
}

// NewProgressAuditHandler создаёт обработчик.
func NewProgressAuditHandler(log *logger.Logger) *ProgressAuditHandler {
	if log == nil {
		log = logger.Default()
	}
	return &ProgressAuditHandler{log: log.With(logger.Component("progress_audit"))}
}

// Handle реализует shared.EventHandler.
func (h *ProgressAuditHandler) Handle(_ context.Context, event shared.Event) error {
	fields := []logger.Field{
		logger.AccountID(event.AggregateID()),
		logger.String("event_type", string(event.EventType())),
		logger.Time("occurred_at", event.OccurredAt()),
	}
	for k, v := range event.Payload() {
		fields = append(fields, logger.Any(k, v))
	}

	switch event.EventType() {
	case shared.EventLevelUp, shared.EventLeagueChanged:
		h.log.Info("progress milestone", fields...)
	default:
		h.log.Debug("progress event", fields...)
	}
	return nil
}

// Subscriber - шина, на которую подписываются обработчики.
type Subscriber interface {
	Subscribe(eventType shared.EventType, handler shared.EventHandler) error
	SubscribeAll(handler shared.EventHandler) error
}

// Register подписывает обработчики прогресса на шину.
// board может быть nil: тогда таблица лиги не ведётся.
func Register(bus Subscriber, board WeeklyXPRecorder, log *logger.Logger) error {
	if board != nil {
		xp := NewOnXPGainedHandler(board, log)
		if err := bus.Subscribe(xp.EventType(), xp.Handle); err != nil {
			return err
		}
	}
	return bus.SubscribeAll(NewProgressAuditHandler(log).Handle)
}
