package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// CreateStockOutBatch applies every line of input under one reference number
// in a single transaction. Either all lines are recorded or none.
func (s *Service) CreateStockOutBatch(ctx context.Context, input BatchInput) ([]StockOut, error) {
	if err := s.validateBatch(input); err != nil {
		return nil, err
	}
	dest, err := s.resolveDestination(ctx, input.Type, input.BranchID, input.EmployeeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	date := input.Date
	if date.IsZero() {
		date = now
	}
	ref := NewReferenceNumber(now)
	reasonType := input.Type.ReasonType()

	idemKey := ""
	if s.deps.Idempotency != nil && input.IdempotencyKey != "" {
		idemKey = "stock-out-batch:" + input.IdempotencyKey
		if err := s.deps.Idempotency.CheckAndInsert(ctx, idemKey, idempotencyModule); err != nil {
			return nil, err
		}
	}

	var (
		created   []StockOut
		movements []Movement
		items     []Item
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created = make([]StockOut, 0, len(input.Lines))
		movements = make([]Movement, 0, len(input.Lines))
		locked, order, err := lockItems(ctx, tx, batchItemIDs(input.Lines))
		if err != nil {
			return err
		}
		for i, line := range input.Lines {
			note := line.Note
			if note == "" {
				note = input.Note
			}
			so := StockOut{
				Type:            input.Type,
				ItemID:          line.ItemID,
				Quantity:        line.Quantity,
				Date:            date,
				Note:            note,
				BranchID:        dest.branchID,
				EmployeeID:      dest.employeeID,
				ReferenceNumber: ref,
				CreatedBy:       input.ActorID,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			id, err := tx.InsertStockOut(ctx, so)
			if err != nil {
				return err
			}
			so.ID = id
			m, err := post(ctx, tx, locked[line.ItemID], -line.Quantity, Movement{
				Type:            MovementTypeOut,
				Quantity:        line.Quantity,
				ReferenceNumber: ref,
				Reason:          reasonType.Label(),
				ReasonType:      reasonType,
				Recipient:       dest.name,
				StockOutID:      id,
				Notes:           note,
				CreatedBy:       input.ActorID,
				CreatedAt:       now,
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			so.MovementID = m.ID
			if err := tx.UpdateStockOut(ctx, so); err != nil {
				return err
			}
			created = append(created, so)
			movements = append(movements, m)
		}
		items = make([]Item, 0, len(order))
		for _, id := range order {
			items = append(items, *locked[id])
		}
		return nil
	})
	if err != nil {
		if idemKey != "" {
			if delErr := s.deps.Idempotency.Delete(context.WithoutCancel(ctx), idemKey); delErr != nil {
				s.logger.Warn("stock idempotency key release failed", slog.String("key", idemKey), slog.Any("error", delErr))
			}
		}
		s.observeFailure(err)
		return nil, err
	}

	s.afterCommit(ctx, commitEffects{
		action:   "stock:batch_out",
		entity:   "stock_out_batch",
		entityID: ref,
		actorID:  input.ActorID,
		meta: map[string]any{
			"stock_out_type": string(input.Type),
			"lines":          len(input.Lines),
			"branch_id":      dest.branchID,
			"employee_id":    dest.employeeID,
		},
		recorded: movements,
		items:    items,
	})
	return created, nil
}

func batchItemIDs(lines []BatchLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ItemID)
	}
	return ids
}

// lockItems locks the distinct items in ascending id order so concurrent
// multi-item operations cannot deadlock each other.
func lockItems(ctx context.Context, tx TxRepository, ids []int64) (map[int64]*Item, []int64, error) {
	seen := make(map[int64]struct{}, len(ids))
	order := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	locked := make(map[int64]*Item, len(order))
	for _, id := range order {
		item, err := tx.GetItemForUpdate(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("item %d: %w", id, err)
		}
		locked[id] = &item
	}
	return locked, order, nil
}

type destination struct {
	branchID   int64
	employeeID int64
	name       string
}

// resolveDestination checks the branch or employee a stock-out type requires.
// OTHER carries no destination.
func (s *Service) resolveDestination(ctx context.Context, typ StockOutType, branchID, employeeID int64) (destination, error) {
	switch typ {
	case StockOutTypeBranchTransfer:
		if branchID <= 0 {
			return destination{}, fmt.Errorf("%w: branch_id required for %s", ErrMissingDestination, typ)
		}
		name, err := s.lookupName(ctx, branchID, "branch", lookupBranch(s.deps.Lookup))
		if err != nil {
			return destination{}, err
		}
		return destination{branchID: branchID, name: name}, nil
	case StockOutTypeEmployee:
		if employeeID <= 0 {
			return destination{}, fmt.Errorf("%w: employee_id required for %s", ErrMissingDestination, typ)
		}
		name, err := s.lookupName(ctx, employeeID, "employee", lookupEmployee(s.deps.Lookup))
		if err != nil {
			return destination{}, err
		}
		return destination{employeeID: employeeID, name: name}, nil
	case StockOutTypeOther:
		return destination{}, nil
	default:
		return destination{}, validationErr("stock_out_type", "is not supported")
	}
}

type nameLookup func(ctx context.Context, id int64) (string, error)

func lookupBranch(l DestinationLookup) nameLookup {
	if l == nil {
		return nil
	}
	return l.BranchName
}

func lookupEmployee(l DestinationLookup) nameLookup {
	if l == nil {
		return nil
	}
	return l.EmployeeName
}

func (s *Service) lookupName(ctx context.Context, id int64, kind string, fn nameLookup) (string, error) {
	if fn == nil {
		return "", nil
	}
	name, err := fn(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", fmt.Errorf("%w: %s %d not found", ErrMissingDestination, kind, id)
		}
		return "", err
	}
	return name, nil
}

func (s *Service) validateBatch(input BatchInput) error {
	if err := s.validate.Struct(input); err != nil {
		return toValidationError(err)
	}
	if !input.Type.Valid() {
		return validationErr("stock_out_type", "is not supported")
	}
	for i, line := range input.Lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("line %d: %w", i+1, ErrInvalidQuantity)
		}
	}
	return nil
}

var lineIndexPattern = regexp.MustCompile(`\[(\d+)\]`)

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Msg: err.Error()}
	}
	fe := fieldErrs[0]
	verr := &ValidationError{Field: jsonFieldName(fe), Msg: describeTag(fe)}
	if match := lineIndexPattern.FindStringSubmatch(fe.StructNamespace()); match != nil {
		if idx, convErr := strconv.Atoi(match[1]); convErr == nil {
			verr.Line = idx + 1
		}
	}
	return verr
}

func jsonFieldName(fe validator.FieldError) string {
	field, ok := reflect.TypeOf(BatchInput{}).FieldByName(fe.StructField())
	if !ok {
		field, ok = reflect.TypeOf(BatchLine{}).FieldByName(fe.StructField())
	}
	if !ok {
		return strings.ToLower(fe.Field())
	}
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return strings.ToLower(fe.Field())
	}
	return name
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	default:
		return "is invalid"
	}
}
