package stock

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestRepositoryRunsLedgerAtReadCommitted(t *testing.T) {
	var retried []error
	repo := NewRepository(nil, RepositoryConfig{MaxRetries: 3, OnRetry: func(err error) { retried = append(retried, err) }})
	require.Equal(t, pgx.ReadCommitted, repo.txc.IsoLevel)
	require.Equal(t, 3, repo.txc.MaxRetries)

	deadlock := errors.New("deadlock detected")
	repo.txc.OnRetry(1, deadlock)
	require.Equal(t, []error{deadlock}, retried)

	clamped := NewRepository(nil, RepositoryConfig{MaxRetries: -2})
	require.Zero(t, clamped.txc.MaxRetries)
	require.Equal(t, pgx.ReadCommitted, clamped.txc.IsoLevel)
}
