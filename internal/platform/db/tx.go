package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Beginner starts transactions; satisfied by *pgxpool.Pool.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxOptions controls the isolation level and retries of WithTx.
type TxOptions struct {
	// IsoLevel defaults to RepeatableRead.
	IsoLevel pgx.TxIsoLevel
	// MaxRetries is how many extra attempts follow a retryable failure.
	MaxRetries int
	// OnRetry is invoked before each extra attempt.
	OnRetry func(attempt int, err error)
}

// WithTx executes fn within a transaction at opts.IsoLevel. The transaction is
// rolled back when fn fails and fn is re-run from the start on serialization
// failures and deadlocks.
func WithTx(ctx context.Context, db Beginner, opts TxOptions, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = runTx(ctx, db, opts.isoLevel(), fn)
		if err == nil || !IsRetryable(err) || attempt >= opts.MaxRetries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err)
		}
	}
}

func (o TxOptions) isoLevel() pgx.TxIsoLevel {
	if o.IsoLevel == "" {
		return pgx.RepeatableRead
	}
	return o.IsoLevel
}

func runTx(ctx context.Context, db Beginner, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}
