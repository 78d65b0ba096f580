package stock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLedgerReplayMatchesBalance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stocked(1, 100)
	f.stocked(2, 60)
	f.repo.addItem(3, "SKU-C", 0)

	a := createSingle(t, f, 1, 30)
	b := createSingle(t, f, 1, 20)
	_, err := f.svc.AdjustStock(ctx, AdjustmentInput{ItemID: 1, CountedQuantity: 48})
	require.NoError(t, err)
	_, err = f.svc.UpdateStockOut(ctx, b.ID, UpdateInput{ItemID: 2, Quantity: 10})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteStockOut(ctx, a.ID, 0))

	report, err := f.svc.VerifyItemLedger(ctx, 1)
	require.NoError(t, err)
	require.True(t, report.Consistent)
	require.Equal(t, f.repo.item(1).CurrentStock, report.ReplayedStock)
	require.Equal(t, 2, report.Movements)
	require.Equal(t, 1, report.BrokenLinks)

	reports, err := f.svc.VerifyAllLedgers(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for i, r := range reports {
		require.Equal(t, int64(i+1), r.ItemID)
		require.True(t, r.Consistent, "item %d", r.ItemID)
	}
	require.Equal(t, 4, f.metrics.checks[true])
}

func TestLedgerReplayDetectsDrift(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.stocked(1, 10)

	f.repo.mu.Lock()
	item := f.repo.state.items[1]
	item.CurrentStock = 12
	f.repo.state.items[1] = item
	f.repo.mu.Unlock()

	report, err := f.svc.VerifyItemLedger(ctx, 1)
	require.NoError(t, err)
	require.False(t, report.Consistent)
	require.Equal(t, int64(10), report.ReplayedStock)
	require.Equal(t, int64(12), report.CurrentStock)
	require.Equal(t, 1, f.metrics.checks[false])

	_, err = f.svc.VerifyItemLedger(ctx, 9)
	require.ErrorIs(t, err, ErrItemNotFound)
}

func TestReplayFlagsInvalidSnapshots(t *testing.T) {
	report := replay(Item{ID: 1, CurrentStock: 5}, []Movement{
		{Type: MovementTypeIn, Quantity: 5, PreviousStock: 0, NewStock: 5},
		{Type: MovementTypeOut, Quantity: 3, PreviousStock: 5, NewStock: 5},
	})
	require.Equal(t, int64(5), report.ReplayedStock)
	require.Equal(t, 1, report.InvalidEntries)
	require.False(t, report.Consistent)

	empty := replay(Item{ID: 2}, nil)
	require.True(t, empty.Consistent)
}

// gatedRepo holds the first transaction until release is closed.
type gatedRepo struct {
	*memoryRepo
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *gatedRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.entered)
		<-r.release
	}
	return r.memoryRepo.WithTx(ctx, fn)
}

func TestLedgerOrderFollowsCommitNotClock(t *testing.T) {
	repo := &gatedRepo{memoryRepo: newMemoryRepo(), entered: make(chan struct{}), release: make(chan struct{})}
	repo.addItem(1, "SKU-A", 0)
	svc := NewService(repo, Dependencies{}, ServiceConfig{})
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	var (
		clockMu sync.Mutex
		ticks   int
	)
	svc.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, err := svc.RecordStockIn(ctx, StockInInput{ItemID: 1, Quantity: 10})
		slow <- err
	}()
	<-repo.entered

	fast, err := svc.RecordStockIn(ctx, StockInInput{ItemID: 1, Quantity: 5})
	require.NoError(t, err)
	close(repo.release)
	require.NoError(t, <-slow)

	history, err := svc.GetMovementHistory(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	latest := history[0]
	require.True(t, latest.CreatedAt.Before(fast.CreatedAt))
	require.Equal(t, fast.NewStock, latest.PreviousStock)
	require.Equal(t, int64(15), latest.NewStock)

	report, err := svc.VerifyItemLedger(ctx, 1)
	require.NoError(t, err)
	require.True(t, report.Consistent)
	require.Equal(t, int64(15), report.ReplayedStock)
	require.Zero(t, report.BrokenLinks)
}
