package stock

import (
	"context"
	"errors"
	"fmt"
)

const updateAdjustmentReason = "Stock-out quantity corrected"

// DeleteStockOut removes a stock-out, returns its quantity to the item and
// drops the ledger entries it produced.
func (s *Service) DeleteStockOut(ctx context.Context, id int64, actorID int64) error {
	var (
		removed StockOut
		dropped []Movement
		item    Item
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		so, err := tx.GetStockOutForUpdate(ctx, id)
		if err != nil {
			return err
		}
		locked, err := tx.GetItemForUpdate(ctx, so.ItemID)
		if err != nil {
			return err
		}
		dropped, err = s.reverse(ctx, tx, so, &locked)
		if err != nil {
			return err
		}
		if err := tx.DeleteStockOut(ctx, so.ID); err != nil {
			return err
		}
		removed = so
		item = locked
		return nil
	})
	if err != nil {
		return err
	}
	s.afterCommit(ctx, commitEffects{
		action:   "stock:stock_out_delete",
		entity:   "stock_out",
		entityID: fmt.Sprint(removed.ID),
		actorID:  actorID,
		meta: map[string]any{
			"item_id":   removed.ItemID,
			"quantity":  removed.Quantity,
			"reference": removed.ReferenceNumber,
			"movements": len(dropped),
		},
		reversed: dropped,
		items:    []Item{item},
	})
	return nil
}

// UpdateStockOut rewrites a stock-out. A quantity change on the same item is
// recorded as an ADJUSTMENT; moving it to another item restores the old item
// and records a fresh OUT on the new one.
func (s *Service) UpdateStockOut(ctx context.Context, id int64, input UpdateInput) (StockOut, error) {
	if input.Quantity <= 0 {
		return StockOut{}, ErrInvalidQuantity
	}
	if input.Type != "" && !input.Type.Valid() {
		return StockOut{}, validationErr("stock_out_type", "is not supported")
	}
	now := s.now()
	var (
		updated  StockOut
		recorded []Movement
		reversed []Movement
		items    []Item
		oldItem  int64
		oldQty   int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		recorded, reversed, items = nil, nil, nil
		so, err := tx.GetStockOutForUpdate(ctx, id)
		if err != nil {
			return err
		}
		oldItem, oldQty = so.ItemID, so.Quantity

		typ := so.Type
		if input.Type != "" {
			typ = input.Type
		}
		branchID, employeeID := input.BranchID, input.EmployeeID
		if typ == so.Type {
			if branchID == 0 {
				branchID = so.BranchID
			}
			if employeeID == 0 {
				employeeID = so.EmployeeID
			}
		}
		dest, err := s.resolveDestination(ctx, typ, branchID, employeeID)
		if err != nil {
			return err
		}
		reasonType := typ.ReasonType()

		targetItem := input.ItemID
		if targetItem == 0 {
			targetItem = so.ItemID
		}

		if targetItem == so.ItemID {
			locked, err := tx.GetItemForUpdate(ctx, so.ItemID)
			if err != nil {
				return err
			}
			if delta := input.Quantity - so.Quantity; delta != 0 {
				m, err := post(ctx, tx, &locked, -delta, Movement{
					Type:            MovementTypeAdjustment,
					Quantity:        abs(delta),
					ReferenceNumber: so.ReferenceNumber,
					Reason:          updateAdjustmentReason,
					ReasonType:      reasonType,
					Recipient:       dest.name,
					StockOutID:      so.ID,
					Notes:           input.Note,
					CreatedBy:       input.ActorID,
					CreatedAt:       now,
				})
				if err != nil {
					return err
				}
				recorded = append(recorded, m)
			}
			items = append(items, locked)
		} else {
			locked, order, err := lockItems(ctx, tx, []int64{so.ItemID, targetItem})
			if err != nil {
				return err
			}
			reversed, err = s.reverse(ctx, tx, so, locked[so.ItemID])
			if err != nil {
				return err
			}
			m, err := post(ctx, tx, locked[targetItem], -input.Quantity, Movement{
				Type:            MovementTypeOut,
				Quantity:        input.Quantity,
				ReferenceNumber: so.ReferenceNumber,
				Reason:          reasonType.Label(),
				ReasonType:      reasonType,
				Recipient:       dest.name,
				StockOutID:      so.ID,
				Notes:           input.Note,
				CreatedBy:       input.ActorID,
				CreatedAt:       now,
			})
			if err != nil {
				return err
			}
			so.MovementID = m.ID
			recorded = append(recorded, m)
			for _, itemID := range order {
				items = append(items, *locked[itemID])
			}
		}

		so.Type = typ
		so.ItemID = targetItem
		so.Quantity = input.Quantity
		so.BranchID = dest.branchID
		so.EmployeeID = dest.employeeID
		so.Note = input.Note
		so.UpdatedAt = now
		if err := tx.UpdateStockOut(ctx, so); err != nil {
			return err
		}
		updated = so
		return nil
	})
	if err != nil {
		s.observeFailure(err)
		return StockOut{}, err
	}
	s.afterCommit(ctx, commitEffects{
		action:   "stock:stock_out_update",
		entity:   "stock_out",
		entityID: fmt.Sprint(updated.ID),
		actorID:  input.ActorID,
		meta: map[string]any{
			"old_item_id":  oldItem,
			"old_quantity": oldQty,
			"item_id":      updated.ItemID,
			"quantity":     updated.Quantity,
			"type":         string(updated.Type),
		},
		recorded: recorded,
		reversed: reversed,
		items:    items,
	})
	return updated, nil
}

// reverse returns so's quantity to item and deletes the movements linked to
// so. Rows written before movements carried a stock-out link fall back to the
// first movement sharing the reference number and item.
func (s *Service) reverse(ctx context.Context, tx TxRepository, so StockOut, item *Item) ([]Movement, error) {
	linked, err := tx.ListMovementsByStockOut(ctx, so.ID)
	if err != nil {
		return nil, err
	}
	if len(linked) == 0 && so.ReferenceNumber != "" {
		legacy, err := tx.FindFirstMovementByReference(ctx, so.ReferenceNumber, so.ItemID)
		switch {
		case err == nil:
			linked = []Movement{legacy}
		case errors.Is(err, ErrMovementNotFound):
			s.logger.Warn("stock-out has no ledger entry", "stock_out_id", so.ID, "reference", so.ReferenceNumber)
		default:
			return nil, err
		}
	}
	restored := item.CurrentStock + so.Quantity
	if err := tx.UpdateItemStock(ctx, item.ID, restored); err != nil {
		return nil, err
	}
	item.CurrentStock = restored
	ids := make([]int64, 0, len(linked))
	for _, m := range linked {
		ids = append(ids, m.ID)
	}
	if err := tx.DeleteMovements(ctx, ids); err != nil {
		return nil, err
	}
	return linked, nil
}
