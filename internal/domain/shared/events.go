package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types emitted after a ledger mutation is committed.
const (
	EventXPGained          EventType = "progress.xp_gained"
	EventLevelUp           EventType = "progress.level_up"
	EventStreakUpdated     EventType = "progress.streak_updated"
	EventMistakeRegistered EventType = "progress.mistake_registered"
	EventMistakeResolved   EventType = "progress.mistake_resolved"
	EventItemPurchased     EventType = "progress.item_purchased"
	EventLeagueChanged     EventType = "progress.league_changed"
)

// Event is the base interface for all domain events.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]interface{}
}

// EventHandler reacts to a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher is the outbound port used by command handlers.
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event for the given account.
func NewBaseEvent(eventType EventType, accountID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: accountID,
	}
}

// WithCorrelationID sets the correlation ID (the mutation id) for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent is emitted when a solve credits XP. WeeklyXP is the
// ledger's total for the league week starting at WeekStart.
type XPGainedEvent struct {
	BaseEvent
	ProblemID string    `json:"problem_id"`
	Amount    int       `json:"amount"`
	NewTotal  int       `json:"new_total"`
	WeeklyXP  int       `json:"weekly_xp"`
	WeekStart time.Time `json:"week_start"`
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"problem_id": e.ProblemID,
		"amount":     e.Amount,
		"new_total":  e.NewTotal,
		"weekly_xp":  e.WeeklyXP,
		"week_start": e.WeekStart,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(accountID, problemID string, amount, newTotal, weeklyXP int, weekStart, at time.Time) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent: NewBaseEvent(EventXPGained, accountID, at),
		ProblemID: problemID,
		Amount:    amount,
		NewTotal:  newTotal,
		WeeklyXP:  weeklyXP,
		WeekStart: weekStart,
	}
}

// LevelUpEvent is emitted when the derived level increases.
type LevelUpEvent struct {
	BaseEvent
	OldLevel int `json:"old_level"`
	NewLevel int `json:"new_level"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level": e.OldLevel,
		"new_level": e.NewLevel,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(accountID string, oldLevel, newLevel int, at time.Time) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, accountID, at),
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
	}
}

// StreakUpdatedEvent is emitted when the current streak changes value.
type StreakUpdatedEvent struct {
	BaseEvent
	Current int  `json:"current"`
	Longest int  `json:"longest"`
	Broken  bool `json:"broken"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"current": e.Current,
		"longest": e.Longest,
		"broken":  e.Broken,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(accountID string, current, longest int, broken bool, at time.Time) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent: NewBaseEvent(EventStreakUpdated, accountID, at),
		Current:   current,
		Longest:   longest,
		Broken:    broken,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Mistake Bank Events
// ═══════════════════════════════════════════════════════════════════════════

// MistakeRegisteredEvent is emitted when a failed attempt is recorded.
type MistakeRegisteredEvent struct {
	BaseEvent
	ProblemID   string    `json:"problem_id"`
	RetryCount  int       `json:"retry_count"`
	NextRetryAt time.Time `json:"next_retry_at"`
}

// Payload implements Event interface.
func (e MistakeRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"problem_id":    e.ProblemID,
		"retry_count":   e.RetryCount,
		"next_retry_at": e.NextRetryAt,
	}
}

// NewMistakeRegisteredEvent creates a new MistakeRegisteredEvent.
func NewMistakeRegisteredEvent(accountID, problemID string, retryCount int, nextRetryAt, at time.Time) MistakeRegisteredEvent {
	return MistakeRegisteredEvent{
		BaseEvent:   NewBaseEvent(EventMistakeRegistered, accountID, at),
		ProblemID:   problemID,
		RetryCount:  retryCount,
		NextRetryAt: nextRetryAt,
	}
}

// MistakeResolvedEvent is emitted when a problem leaves the mistake bank.
type MistakeResolvedEvent struct {
	BaseEvent
	ProblemID string `json:"problem_id"`
}

// Payload implements Event interface.
func (e MistakeResolvedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{"problem_id": e.ProblemID}
}

// NewMistakeResolvedEvent creates a new MistakeResolvedEvent.
func NewMistakeResolvedEvent(accountID, problemID string, at time.Time) MistakeResolvedEvent {
	return MistakeResolvedEvent{
		BaseEvent: NewBaseEvent(EventMistakeResolved, accountID, at),
		ProblemID: problemID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Store & League Events
// ═══════════════════════════════════════════════════════════════════════════

// ItemPurchasedEvent is emitted when XP balance is spent.
type ItemPurchasedEvent struct {
	BaseEvent
	ItemID  string `json:"item_id"`
	Price   int    `json:"price"`
	Balance int    `json:"balance"`
}

// Payload implements Event interface.
func (e ItemPurchasedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"item_id": e.ItemID,
		"price":   e.Price,
		"balance": e.Balance,
	}
}

// NewItemPurchasedEvent creates a new ItemPurchasedEvent.
func NewItemPurchasedEvent(accountID, itemID string, price, balance int, at time.Time) ItemPurchasedEvent {
	return ItemPurchasedEvent{
		BaseEvent: NewBaseEvent(EventItemPurchased, accountID, at),
		ItemID:    itemID,
		Price:     price,
		Balance:   balance,
	}
}

// LeagueChangedEvent is emitted by the weekly close when the tier moves.
type LeagueChangedEvent struct {
	BaseEvent
	From     string `json:"from"`
	To       string `json:"to"`
	WeeklyXP int    `json:"weekly_xp"`
}

// Payload implements Event interface.
func (e LeagueChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"from":      e.From,
		"to":        e.To,
		"weekly_xp": e.WeeklyXP,
	}
}

// NewLeagueChangedEvent creates a new LeagueChangedEvent.
func NewLeagueChangedEvent(accountID, from, to string, weeklyXP int, at time.Time) LeagueChangedEvent {
	return LeagueChangedEvent{
		BaseEvent: NewBaseEvent(EventLeagueChanged, accountID, at),
		From:      from,
		To:        to,
		WeeklyXP:  weeklyXP,
	}
}
