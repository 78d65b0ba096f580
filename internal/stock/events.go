package stock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/stockledger/internal/platform/events"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Event types emitted after a ledger commit.
const (
	EventMovementRecorded = "stock.movement.recorded"
	EventMovementReversed = "stock.movement.reversed"
)

// MovementEvent describes a movement appended to or removed from the ledger.
type MovementEvent struct {
	Type       string    `json:"event_type"`
	Movement   Movement  `json:"movement"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LowStockAlert is raised when a commit leaves an item at or below its reorder level.
type LowStockAlert struct {
	ItemID       int64  `json:"item_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	CurrentStock int64  `json:"current_stock"`
	ReorderLevel int64  `json:"reorder_level"`
	MinimumStock int64  `json:"minimum_stock"`
}

// MessageBus is the transport used by NewEventPublisher.
type MessageBus interface {
	Publish(ctx context.Context, msg events.Message) error
}

type busPublisher struct {
	bus MessageBus
}

// NewEventPublisher adapts a message bus into an EventPublisher keyed by item.
func NewEventPublisher(bus MessageBus) EventPublisher {
	return &busPublisher{bus: bus}
}

func (p *busPublisher) PublishMovement(ctx context.Context, event MovementEvent) error {
	return p.bus.Publish(ctx, events.Message{
		Key:     fmt.Sprintf("item_%d", event.Movement.ItemID),
		Type:    event.Type,
		Payload: event,
	})
}

// commitEffects carries what a committed operation changed.
type commitEffects struct {
	action   string
	entity   string
	entityID string
	actorID  int64
	meta     map[string]any
	recorded []Movement
	reversed []Movement
	items    []Item
}

// afterCommit runs the side effects of a committed operation. Failures are
// logged only; the ledger is already durable.
func (s *Service) afterCommit(ctx context.Context, fx commitEffects) {
	if s.deps.Audit != nil {
		if err := s.deps.Audit.Record(ctx, shared.AuditLog{
			ActorID:  fx.actorID,
			Action:   fx.action,
			Entity:   fx.entity,
			EntityID: fx.entityID,
			Meta:     fx.meta,
		}); err != nil {
			s.logger.Warn("stock audit record failed", slog.String("action", fx.action), slog.Any("error", err))
		}
	}

	itemIDs := make([]int64, 0, len(fx.items))
	for _, item := range fx.items {
		itemIDs = append(itemIDs, item.ID)
	}
	if err := s.deps.Cache.Invalidate(ctx, itemIDs...); err != nil {
		s.logger.Warn("stock cache invalidation failed", slog.Any("items", itemIDs), slog.Any("error", err))
	}

	if s.deps.Metrics != nil {
		for _, m := range fx.recorded {
			s.deps.Metrics.RecordMovement(string(m.Type), m.Quantity)
		}
	}

	if s.deps.Events != nil {
		now := s.now()
		s.emit(ctx, EventMovementRecorded, fx.recorded, now)
		s.emit(ctx, EventMovementReversed, fx.reversed, now)
	}

	if s.deps.Alerts != nil && s.cfg.LowStockAlerts {
		for _, item := range fx.items {
			if !item.BelowReorderLevel() {
				continue
			}
			alert := LowStockAlert{
				ItemID:       item.ID,
				SKU:          item.SKU,
				Name:         item.Name,
				CurrentStock: item.CurrentStock,
				ReorderLevel: item.ReorderLevel,
				MinimumStock: item.MinimumStock,
			}
			if err := s.deps.Alerts.NotifyLowStock(ctx, alert); err != nil {
				s.logger.Warn("low stock alert enqueue failed", slog.Int64("item_id", item.ID), slog.Any("error", err))
			}
		}
	}
}

func (s *Service) emit(ctx context.Context, eventType string, movements []Movement, at time.Time) {
	for _, m := range movements {
		if err := s.deps.Events.PublishMovement(ctx, MovementEvent{Type: eventType, Movement: m, OccurredAt: at}); err != nil {
			s.logger.Warn("stock event publish failed", slog.String("type", eventType), slog.Int64("movement_id", m.ID), slog.Any("error", err))
		}
	}
}
