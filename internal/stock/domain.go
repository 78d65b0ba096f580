package stock

import (
	"errors"
	"fmt"
	"time"
)

// MovementType enumerates ledger entry kinds.
type MovementType string

const (
	// MovementTypeIn represents an inbound movement.
	MovementTypeIn MovementType = "IN"
	// MovementTypeOut represents an outbound movement.
	MovementTypeOut MovementType = "OUT"
	// MovementTypeAdjustment represents a correction whose direction is carried by the snapshots.
	MovementTypeAdjustment MovementType = "ADJUSTMENT"
)

// StockOutType classifies where a stock-out went.
type StockOutType string

const (
	// StockOutTypeOther is a stock-out without a tracked destination.
	StockOutTypeOther StockOutType = "OTHER"
	// StockOutTypeBranchTransfer sends stock to another branch.
	StockOutTypeBranchTransfer StockOutType = "BRANCH_TRANSFER"
	// StockOutTypeEmployee hands stock to an employee.
	StockOutTypeEmployee StockOutType = "EMPLOYEE"
)

// Valid reports whether t is a known stock-out type.
func (t StockOutType) Valid() bool {
	switch t {
	case StockOutTypeOther, StockOutTypeBranchTransfer, StockOutTypeEmployee:
		return true
	}
	return false
}

// ReasonType maps the stock-out type onto the ledger reason classification.
func (t StockOutType) ReasonType() ReasonType {
	switch t {
	case StockOutTypeBranchTransfer:
		return ReasonTransferred
	case StockOutTypeEmployee:
		return ReasonGiven
	default:
		return ReasonOther
	}
}

// Item is the balance-store record for one stock keeping unit.
type Item struct {
	ID           int64     `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	CurrentStock int64     `json:"current_stock"`
	MinimumStock int64     `json:"minimum_stock"`
	MaximumStock int64     `json:"maximum_stock"`
	ReorderLevel int64     `json:"reorder_level"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// BelowReorderLevel reports whether the balance sits at or under the reorder level.
func (i Item) BelowReorderLevel() bool {
	return i.ReorderLevel > 0 && i.CurrentStock <= i.ReorderLevel
}

// Movement is one immutable ledger entry.
type Movement struct {
	ID              int64        `json:"id"`
	ItemID          int64        `json:"item_id"`
	Type            MovementType `json:"movement_type"`
	Quantity        int64        `json:"quantity"`
	PreviousStock   int64        `json:"previous_stock"`
	NewStock        int64        `json:"new_stock"`
	ReferenceNumber string       `json:"reference_number,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	ReasonType      ReasonType   `json:"reason_type,omitempty"`
	Recipient       string       `json:"recipient,omitempty"`
	WarehouseID     int64        `json:"warehouse_id,omitempty"`
	StockOutID      int64        `json:"stock_out_id,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	CreatedBy       int64        `json:"created_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// SignedQuantity returns the balance change carried by the movement.
func (m Movement) SignedQuantity() int64 {
	return m.NewStock - m.PreviousStock
}

// StockOut is the user-facing record of stock leaving inventory.
type StockOut struct {
	ID              int64        `json:"id"`
	Type            StockOutType `json:"stock_out_type"`
	ItemID          int64        `json:"item_id"`
	Quantity        int64        `json:"quantity"`
	Date            time.Time    `json:"date"`
	Note            string       `json:"note,omitempty"`
	BranchID        int64        `json:"branch_id,omitempty"`
	EmployeeID      int64        `json:"employee_id,omitempty"`
	ReferenceNumber string       `json:"reference_number,omitempty"`
	MovementID      int64        `json:"movement_id,omitempty"`
	CreatedBy       int64        `json:"created_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// StockInInput describes a receipt into stock.
type StockInInput struct {
	ItemID          int64
	Quantity        int64
	ReferenceNumber string
	Notes           string
	WarehouseID     int64
	ActorID         int64
}

// StockOutInput describes a single stock-out.
type StockOutInput struct {
	ItemID          int64
	Quantity        int64
	Reason          string
	ReasonType      string
	Recipient       string
	ReferenceNumber string
	Notes           string
	WarehouseID     int64
	ActorID         int64
}

// AdjustmentInput records a physical count for an item.
type AdjustmentInput struct {
	ItemID          int64
	CountedQuantity int64
	Reason          string
	Notes           string
	ActorID         int64
}

// BatchLine is one item of a stock-out batch.
type BatchLine struct {
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Quantity int64  `json:"quantity"`
	Note     string `json:"note,omitempty" validate:"max=500"`
}

// BatchInput describes a multi-line stock-out sharing one reference number.
type BatchInput struct {
	Type           StockOutType `json:"stock_out_type" validate:"required"`
	Lines          []BatchLine  `json:"items" validate:"required,min=1,dive"`
	BranchID       int64        `json:"branch_id,omitempty"`
	EmployeeID     int64        `json:"employee_id,omitempty"`
	Date           time.Time    `json:"date"`
	Note           string       `json:"note,omitempty" validate:"max=500"`
	ActorID        int64        `json:"-"`
	IdempotencyKey string       `json:"-"`
}

// UpdateInput carries the new state of an existing stock-out.
type UpdateInput struct {
	ItemID     int64
	Quantity   int64
	Type       StockOutType
	BranchID   int64
	EmployeeID int64
	Note       string
	ActorID    int64
}

var (
	// ErrItemNotFound indicates the item does not exist.
	ErrItemNotFound = errors.New("stock: item not found")
	// ErrInsufficientStock is matched by every InsufficientStockError.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrInvalidQuantity indicates a quantity that is not strictly positive.
	ErrInvalidQuantity = errors.New("stock: quantity must be greater than zero")
	// ErrMissingDestination indicates a branch or employee is required but absent.
	ErrMissingDestination = errors.New("stock: destination required for stock-out type")
	// ErrInvalidReasonType indicates a reason type outside the enumeration.
	ErrInvalidReasonType = errors.New("stock: invalid reason type")
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("stock: validation failed")
	// ErrStockOutNotFound indicates the stock-out record does not exist.
	ErrStockOutNotFound = errors.New("stock: stock-out not found")
	// ErrWarehouseNotFound indicates an unknown warehouse reference.
	ErrWarehouseNotFound = errors.New("stock: warehouse not found")
	// ErrMovementNotFound indicates the ledger has no matching entry.
	ErrMovementNotFound = errors.New("stock: movement not found")
)

// InsufficientStockError reports a stock-out larger than the balance.
type InsufficientStockError struct {
	ItemID    int64
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock: insufficient stock for item %d: available %d, requested %d", e.ItemID, e.Available, e.Requested)
}

// Is lets errors.Is match ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ValidationError describes malformed input. Line is 1-based, zero when not a batch line.
type ValidationError struct {
	Field string
	Line  int
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("stock: validation failed: line %d: %s %s", e.Line, e.Field, e.Msg)
	}
	if e.Field == "" {
		return "stock: validation failed: " + e.Msg
	}
	return fmt.Sprintf("stock: validation failed: %s %s", e.Field, e.Msg)
}

// Is lets errors.Is match ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func validationErr(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}
