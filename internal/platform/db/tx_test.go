package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeBeginner struct {
	txs    []*fakeTx
	levels []pgx.TxIsoLevel
}

func (b *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.levels = append(b.levels, opts.IsoLevel)
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func TestWithTxRetriesSerializationFailures(t *testing.T) {
	b := &fakeBeginner{}
	var retries []int
	calls := 0
	err := WithTx(context.Background(), b, TxOptions{MaxRetries: 3, OnRetry: func(attempt int, err error) {
		retries = append(retries, attempt)
	}}, func(tx pgx.Tx) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("update items: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []int{1, 2}, retries)
	require.True(t, b.txs[0].rolledBack)
	require.True(t, b.txs[2].committed)
}

func TestWithTxGivesUpAfterMaxRetries(t *testing.T) {
	b := &fakeBeginner{}
	calls := 0
	err := WithTx(context.Background(), b, TxOptions{MaxRetries: 1}, func(tx pgx.Tx) error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.True(t, IsRetryable(err))
	require.Equal(t, 2, calls)
}

func TestWithTxDoesNotRetryDomainErrors(t *testing.T) {
	b := &fakeBeginner{}
	boom := errors.New("insufficient stock")
	calls := 0
	err := WithTx(context.Background(), b, TxOptions{MaxRetries: 5}, func(tx pgx.Tx) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
	require.True(t, b.txs[0].rolledBack)
	require.False(t, b.txs[0].committed)
}

func TestWithTxIsolationLevel(t *testing.T) {
	b := &fakeBeginner{}
	noop := func(tx pgx.Tx) error { return nil }
	require.NoError(t, WithTx(context.Background(), b, TxOptions{}, noop))
	require.NoError(t, WithTx(context.Background(), b, TxOptions{IsoLevel: pgx.ReadCommitted}, noop))
	require.Equal(t, []pgx.TxIsoLevel{pgx.RepeatableRead, pgx.ReadCommitted}, b.levels)
}
