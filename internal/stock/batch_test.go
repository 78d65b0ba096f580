package stock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestBatchSharesReferenceAndLinksRecords(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stocked(1, 20)
	f.stocked(2, 20)
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	created, err := f.svc.CreateStockOutBatch(ctx, BatchInput{
		Type:     StockOutTypeBranchTransfer,
		BranchID: 7,
		Date:     date,
		Note:     "weekly restock",
		ActorID:  5,
		Lines: []BatchLine{
			{ItemID: 2, Quantity: 4},
			{ItemID: 1, Quantity: 6, Note: "fragile"},
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	ref := created[0].ReferenceNumber
	require.True(t, IsReferenceNumber(ref))
	require.Equal(t, ref, created[1].ReferenceNumber)
	require.Equal(t, int64(2), created[0].ItemID)
	require.Equal(t, "weekly restock", created[0].Note)
	require.Equal(t, "fragile", created[1].Note)
	require.Equal(t, date, created[0].Date)
	require.Equal(t, int64(7), created[0].BranchID)

	movements, err := f.svc.GetMovementsByReference(ctx, ref)
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for i, m := range movements {
		require.Equal(t, MovementTypeOut, m.Type)
		require.Equal(t, ReasonTransferred, m.ReasonType)
		require.Equal(t, "Transferred to Branch", m.Reason)
		require.Equal(t, "Bandung Branch", m.Recipient)
		require.Equal(t, created[i].ID, m.StockOutID)
		require.Equal(t, created[i].MovementID, m.ID)
	}

	stored, err := f.svc.GetStockOutsByReference(ctx, ref)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, created[0].MovementID, stored[0].MovementID)

	require.Equal(t, int64(14), f.repo.item(1).CurrentStock)
	require.Equal(t, int64(16), f.repo.item(2).CurrentStock)
}

func TestBatchScenarioIsAtomic(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stocked(1, 50)
	f.stocked(2, 50)
	f.stocked(3, 50)
	movementsBefore := f.repo.movementCount()

	_, err := f.svc.CreateStockOutBatch(ctx, BatchInput{
		Type: StockOutTypeOther,
		Lines: []BatchLine{
			{ItemID: 1, Quantity: 10},
			{ItemID: 2, Quantity: 999999},
			{ItemID: 3, Quantity: 5},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Contains(t, err.Error(), "line 2")
	var insufficient *InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	require.Equal(t, int64(2), insufficient.ItemID)

	for _, id := range []int64{1, 2, 3} {
		require.Equal(t, int64(50), f.repo.item(id).CurrentStock)
	}
	require.Equal(t, movementsBefore, f.repo.movementCount())
	require.Zero(t, f.repo.stockOutCount())
}

func TestBatchRollsBackOnStorageFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stocked(1, 10)
	f.stocked(2, 10)
	f.repo.failMovement = func(m Movement) error {
		if m.ItemID == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := f.svc.CreateStockOutBatch(ctx, BatchInput{
		Type:  StockOutTypeOther,
		Lines: []BatchLine{{ItemID: 1, Quantity: 1}, {ItemID: 2, Quantity: 1}},
	})
	require.Error(t, err)
	require.Equal(t, int64(10), f.repo.item(1).CurrentStock)
	require.Zero(t, f.repo.stockOutCount())
}

func TestBatchDuplicateLinesAreCumulative(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stocked(1, 10)

	created, err := f.svc.CreateStockOutBatch(ctx, BatchInput{
		Type:  StockOutTypeOther,
		Lines: []BatchLine{{ItemID: 1, Quantity: 6}, {ItemID: 1, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Equal(t, int64(1), f.repo.item(1).CurrentStock)

	movements, err := f.svc.GetMovementsByReference(ctx, created[0].ReferenceNumber)
	require.NoError(t, err)
	require.Equal(t, int64(10), movements[0].PreviousStock)
	require.Equal(t, int64(4), movements[1].PreviousStock)
	require.Equal(t, int64(1), movements[1].NewStock)

	_, err = f.svc.CreateStockOutBatch(ctx, BatchInput{
		Type:  StockOutTypeOther,
		Lines: []BatchLine{{ItemID: 1, Quantity: 1}, {ItemID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, int64(1), f.repo.item(1).CurrentStock)
}

func TestBatchDestinationRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stocked(1, 10)
	lines := []BatchLine{{ItemID: 1, Quantity: 1}}

	_, err := f.svc.CreateStockOutBatch(ctx, BatchInput{Type: StockOutTypeBranchTransfer, Lines: lines})
	require.ErrorIs(t, err, ErrMissingDestination)

	_, err = f.svc.CreateStockOutBatch(ctx, BatchInput{Type: StockOutTypeEmployee, Lines: lines})
	require.ErrorIs(t, err, ErrMissingDestination)

	_, err = f.svc.CreateStockOutBatch(ctx, BatchInput{Type: StockOutTypeEmployee, EmployeeID: 404, Lines: lines})
	require.ErrorIs(t, err, ErrMissingDestination)

	_, err = f.svc.CreateStockOutBatch(ctx, BatchInput{Type: "WRITE_OFF", Lines: lines})
	require.ErrorIs(t, err, ErrValidation)

	require.Equal(t, int64(10), f.repo.item(1).CurrentStock)

	created, err := f.svc.CreateStockOutBatch(ctx, BatchInput{Type: StockOutTypeEmployee, EmployeeID: 42, BranchID: 7, Lines: lines})
	require.NoError(t, err)
	require.Equal(t, int64(42), created[0].EmployeeID)
	require.Zero(t, created[0].BranchID)

	movements, err := f.svc.GetMovementsByReference(ctx, created[0].ReferenceNumber)
	require.NoError(t, err)
	require.Equal(t, ReasonGiven, movements[0].ReasonType)
	require.Equal(t, "Sari Wulandari", movements[0].Recipient)
}

func TestBatchValidationReportsLine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stocked(1, 10)

	_, err := f.svc.CreateStockOutBatch(ctx, BatchInput{Type: StockOutTypeOther})
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, "items", verr.Field)

	_, err = f.svc.CreateStockOutBatch(ctx, BatchInput{
		Type:  StockOutTypeOther,
		Lines: []BatchLine{{ItemID: 1, Quantity: 1}, {ItemID: 0, Quantity: 1}},
	})
	require.True(t, errors.As(err, &verr))
	require.Equal(t, 2, verr.Line)
	require.Equal(t, "item_id", verr.Field)

	_, err = f.svc.CreateStockOutBatch(ctx, BatchInput{
		Type:  StockOutTypeOther,
		Lines: []BatchLine{{ItemID: 1, Quantity: 0}},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Contains(t, err.Error(), "line 1")

	_, err = f.svc.CreateStockOutBatch(ctx, BatchInput{
		Type:  StockOutTypeOther,
		Lines: []BatchLine{{ItemID: 1, Quantity: 1}, {ItemID: 99, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrItemNotFound)
	require.Equal(t, int64(10), f.repo.item(1).CurrentStock)
}

func TestBatchIdempotencyKey(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stocked(1, 3)

	_, err := f.svc.CreateStockOutBatch(ctx, BatchInput{
		Type:           StockOutTypeOther,
		IdempotencyKey: "req-1",
		Lines:          []BatchLine{{ItemID: 1, Quantity: 5}},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Empty(t, f.idem.keys)

	input := BatchInput{
		Type:           StockOutTypeOther,
		IdempotencyKey: "req-1",
		Lines:          []BatchLine{{ItemID: 1, Quantity: 2}},
	}
	_, err = f.svc.CreateStockOutBatch(ctx, input)
	require.NoError(t, err)

	_, err = f.svc.CreateStockOutBatch(ctx, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, int64(1), f.repo.item(1).CurrentStock)
}

func TestLockItemsOrdersAscending(t *testing.T) {
	repo := newMemoryRepo()
	for _, id := range []int64{3, 1, 2} {
		repo.addItem(id, skuFor(id), 0)
	}
	var seen []int64
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		locked, order, err := lockItems(ctx, &orderRecorder{TxRepository: tx, seen: &seen}, []int64{3, 1, 3, 2, 1})
		require.Len(t, locked, 3)
		require.Equal(t, []int64{1, 2, 3}, order)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, seen)
}

type orderRecorder struct {
	TxRepository
	seen *[]int64
}

func (r *orderRecorder) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	*r.seen = append(*r.seen, itemID)
	return r.TxRepository.GetItemForUpdate(ctx, itemID)
}

func TestBatchReleasesIdempotencyKeyAfterCancellation(t *testing.T) {
	f := newFixture()
	f.stocked(1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.repo.failMovement = func(Movement) error {
		cancel()
		return context.Canceled
	}

	input := BatchInput{
		Type:           StockOutTypeOther,
		IdempotencyKey: "req-disconnect",
		Lines:          []BatchLine{{ItemID: 1, Quantity: 2}},
	}
	_, err := f.svc.CreateStockOutBatch(ctx, input)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, f.idem.keys)

	f.repo.failMovement = nil
	created, err := f.svc.CreateStockOutBatch(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, int64(8), f.repo.item(1).CurrentStock)
}
