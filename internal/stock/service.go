package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, itemID int64) (Item, error)
	ListItemIDs(ctx context.Context) ([]int64, error)
	ListMovementsByItem(ctx context.Context, itemID int64, limit int) ([]Movement, error)
	ListMovementsByReference(ctx context.Context, ref string) ([]Movement, error)
	GetStockOut(ctx context.Context, id int64) (StockOut, error)
	ListStockOutsByReference(ctx context.Context, ref string) ([]StockOut, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards batch submissions against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// DestinationLookup resolves master data referenced by stock-outs. Unknown
// ids are reported with shared.ErrNotFound.
type DestinationLookup interface {
	BranchName(ctx context.Context, id int64) (string, error)
	EmployeeName(ctx context.Context, id int64) (string, error)
	WarehouseName(ctx context.Context, id int64) (string, error)
}

// EventPublisher ships ledger events to downstream consumers.
type EventPublisher interface {
	PublishMovement(ctx context.Context, event MovementEvent) error
}

// AlertNotifier schedules low-stock notifications.
type AlertNotifier interface {
	NotifyLowStock(ctx context.Context, alert LowStockAlert) error
}

// MetricsRecorder receives ledger counters.
type MetricsRecorder interface {
	RecordMovement(movementType string, quantity int64)
	RecordInsufficientStock()
	RecordLedgerCheck(consistent bool)
}

// Dependencies groups the optional collaborators of Service. Nil members are skipped.
type Dependencies struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Lookup      DestinationLookup
	Events      EventPublisher
	Alerts      AlertNotifier
	Metrics     MetricsRecorder
	Cache       *BalanceCache
	Logger      *slog.Logger
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	LowStockAlerts bool
	HistoryLimit   int
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	idempotencyModule   = "stock"
)

// Service coordinates every balance-changing operation on the ledger.
type Service struct {
	repo     RepositoryPort
	deps     Dependencies
	cfg      ServiceConfig
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Dependencies, cfg ServiceConfig) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Service{
		repo:     repo,
		deps:     deps,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RecordStockIn adds quantity to an item and appends an IN movement.
func (s *Service) RecordStockIn(ctx context.Context, input StockInInput) (Movement, error) {
	if input.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if err := s.checkWarehouse(ctx, input.WarehouseID); err != nil {
		return Movement{}, err
	}
	now := s.now()
	var (
		movement Movement
		item     Item
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetItemForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}
		movement, err = post(ctx, tx, &locked, input.Quantity, Movement{
			Type:            MovementTypeIn,
			Quantity:        input.Quantity,
			ReferenceNumber: input.ReferenceNumber,
			WarehouseID:     input.WarehouseID,
			Notes:           input.Notes,
			CreatedBy:       input.ActorID,
			CreatedAt:       now,
		})
		item = locked
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.afterCommit(ctx, commitEffects{
		action:   "stock:in",
		entity:   "stock_movement",
		entityID: fmt.Sprint(movement.ID),
		actorID:  input.ActorID,
		meta:     map[string]any{"item_id": input.ItemID, "quantity": input.Quantity, "reference": input.ReferenceNumber},
		recorded: []Movement{movement},
		items:    []Item{item},
	})
	return movement, nil
}

// RecordStockOut removes quantity from an item and appends an OUT movement.
func (s *Service) RecordStockOut(ctx context.Context, input StockOutInput) (Movement, error) {
	if input.Quantity <= 0 {
		return Movement{}, ErrInvalidQuantity
	}
	reason, err := NewReason(input.Reason, input.ReasonType)
	if err != nil {
		return Movement{}, err
	}
	if err := s.checkWarehouse(ctx, input.WarehouseID); err != nil {
		return Movement{}, err
	}
	now := s.now()
	var (
		movement Movement
		item     Item
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetItemForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}
		movement, err = post(ctx, tx, &locked, -input.Quantity, Movement{
			Type:            MovementTypeOut,
			Quantity:        input.Quantity,
			ReferenceNumber: input.ReferenceNumber,
			Reason:          reason.String(),
			ReasonType:      reason.Type,
			Recipient:       input.Recipient,
			WarehouseID:     input.WarehouseID,
			Notes:           input.Notes,
			CreatedBy:       input.ActorID,
			CreatedAt:       now,
		})
		item = locked
		return err
	})
	if err != nil {
		s.observeFailure(err)
		return Movement{}, err
	}
	s.afterCommit(ctx, commitEffects{
		action:   "stock:out",
		entity:   "stock_movement",
		entityID: fmt.Sprint(movement.ID),
		actorID:  input.ActorID,
		meta:     map[string]any{"item_id": input.ItemID, "quantity": input.Quantity, "reason": movement.Reason},
		recorded: []Movement{movement},
		items:    []Item{item},
	})
	return movement, nil
}

const defaultAdjustmentReason = "Stock count correction"

// AdjustStock sets an item to a physically counted quantity and records the
// difference as an ADJUSTMENT movement.
func (s *Service) AdjustStock(ctx context.Context, input AdjustmentInput) (Movement, error) {
	if input.CountedQuantity < 0 {
		return Movement{}, validationErr("counted_quantity", "must not be negative")
	}
	reason := Reason{Text: defaultAdjustmentReason}
	if input.Reason != "" {
		parsed, err := NewReason(input.Reason, "")
		if err != nil {
			return Movement{}, err
		}
		reason = parsed
	}
	now := s.now()
	var (
		movement Movement
		item     Item
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetItemForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}
		diff := input.CountedQuantity - locked.CurrentStock
		if diff == 0 {
			return validationErr("counted_quantity", "matches current stock")
		}
		movement, err = post(ctx, tx, &locked, diff, Movement{
			Type:       MovementTypeAdjustment,
			Quantity:   abs(diff),
			Reason:     reason.String(),
			ReasonType: reason.Type,
			Notes:      input.Notes,
			CreatedBy:  input.ActorID,
			CreatedAt:  now,
		})
		item = locked
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.afterCommit(ctx, commitEffects{
		action:   "stock:adjust",
		entity:   "stock_movement",
		entityID: fmt.Sprint(movement.ID),
		actorID:  input.ActorID,
		meta:     map[string]any{"item_id": input.ItemID, "counted": input.CountedQuantity, "difference": movement.SignedQuantity()},
		recorded: []Movement{movement},
		items:    []Item{item},
	})
	return movement, nil
}

// GetCurrentStock returns the item's balance, served from cache when possible.
func (s *Service) GetCurrentStock(ctx context.Context, itemID int64) (int64, error) {
	return s.deps.Cache.Current(ctx, itemID, func(ctx context.Context) (int64, error) {
		item, err := s.repo.GetItem(ctx, itemID)
		if err != nil {
			return 0, err
		}
		return item.CurrentStock, nil
	})
}

// GetItem returns the item record.
func (s *Service) GetItem(ctx context.Context, itemID int64) (Item, error) {
	return s.repo.GetItem(ctx, itemID)
}

// GetMovementHistory lists an item's movements, newest first.
func (s *Service) GetMovementHistory(ctx context.Context, itemID int64, limit int) ([]Movement, error) {
	if _, err := s.repo.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListMovementsByItem(ctx, itemID, limit)
}

// GetMovementsByReference lists the movements sharing a reference number.
func (s *Service) GetMovementsByReference(ctx context.Context, ref string) ([]Movement, error) {
	if ref == "" {
		return nil, validationErr("reference", "is required")
	}
	return s.repo.ListMovementsByReference(ctx, ref)
}

// GetStockOut loads a stock-out.
func (s *Service) GetStockOut(ctx context.Context, id int64) (StockOut, error) {
	return s.repo.GetStockOut(ctx, id)
}

// GetStockOutsByReference lists the stock-outs of one batch.
func (s *Service) GetStockOutsByReference(ctx context.Context, ref string) ([]StockOut, error) {
	if ref == "" {
		return nil, validationErr("reference", "is required")
	}
	return s.repo.ListStockOutsByReference(ctx, ref)
}

// post moves item's balance by delta and appends m with the resulting snapshots.
func post(ctx context.Context, tx TxRepository, item *Item, delta int64, m Movement) (Movement, error) {
	if delta > 0 && item.CurrentStock > math.MaxInt64-delta {
		return Movement{}, fmt.Errorf("%w: item %d cannot hold %d more units", ErrInvalidQuantity, item.ID, delta)
	}
	newStock := item.CurrentStock + delta
	if newStock < 0 {
		return Movement{}, &InsufficientStockError{ItemID: item.ID, Available: item.CurrentStock, Requested: -delta}
	}
	m.ItemID = item.ID
	m.PreviousStock = item.CurrentStock
	m.NewStock = newStock
	if err := tx.UpdateItemStock(ctx, item.ID, newStock); err != nil {
		return Movement{}, err
	}
	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	item.CurrentStock = newStock
	return m, nil
}

func (s *Service) checkWarehouse(ctx context.Context, warehouseID int64) error {
	if warehouseID == 0 || s.deps.Lookup == nil {
		return nil
	}
	if _, err := s.deps.Lookup.WarehouseName(ctx, warehouseID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return ErrWarehouseNotFound
		}
		return err
	}
	return nil
}

func (s *Service) observeFailure(err error) {
	if s.deps.Metrics != nil && errors.Is(err, ErrInsufficientStock) {
		s.deps.Metrics.RecordInsufficientStock()
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
