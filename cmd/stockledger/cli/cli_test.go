package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/stock"
	"github.com/odyssey-erp/stockledger/jobs"
)

type stubVerifier struct {
	reports []stock.LedgerReport
	err     error
}

func (s stubVerifier) VerifyItemLedger(_ context.Context, itemID int64) (stock.LedgerReport, error) {
	for _, r := range s.reports {
		if r.ItemID == itemID {
			return r, s.err
		}
	}
	return stock.LedgerReport{}, stock.ErrItemNotFound
}

func (s stubVerifier) VerifyAllLedgers(context.Context) ([]stock.LedgerReport, error) {
	return s.reports, s.err
}

func TestVerifyCommandJSON(t *testing.T) {
	ledger, err := NewLedgerCLI(stubVerifier{reports: []stock.LedgerReport{
		{ItemID: 2, CurrentStock: 9, ReplayedStock: 7},
		{ItemID: 1, CurrentStock: 5, ReplayedStock: 5, Consistent: true},
	}})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := ledger.VerifyCommand(context.Background(), VerifyOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 10, exitCode)
	require.Empty(t, stderr.String())

	var summary VerifySummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Equal(t, 2, summary.Items)
	require.Len(t, summary.Mismatched, 1)
	require.Equal(t, int64(2), summary.Mismatched[0].ItemID)
}

func TestVerifyCommandSingleItemHuman(t *testing.T) {
	ledger, err := NewLedgerCLI(stubVerifier{reports: []stock.LedgerReport{{ItemID: 1, Consistent: true}}})
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	exitCode := ledger.VerifyCommand(context.Background(), VerifyOptions{ItemID: 1, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "All balances match")

	stderr := new(bytes.Buffer)
	exitCode = ledger.VerifyCommand(context.Background(), VerifyOptions{ItemID: 8, Stdout: stdout, Stderr: stderr})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "item not found")
}

func TestVerifyCommandFailure(t *testing.T) {
	ledger, err := NewLedgerCLI(stubVerifier{err: errors.New("db down")})
	require.NoError(t, err)
	stderr := new(bytes.Buffer)
	require.Equal(t, 1, ledger.VerifyCommand(context.Background(), VerifyOptions{Stdout: new(bytes.Buffer), Stderr: stderr}))
	require.Contains(t, stderr.String(), "db down")

	_, err = NewLedgerCLI(nil)
	require.Error(t, err)
}

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskLedgerIntegrity, 4, 0)
	require.NoError(t, err)
	require.JSONEq(t, `{"item_id":4}`, string(task.Payload()))

	task, err = BuildTask(jobs.TaskIdempotencyCleanup, 0, time.Hour)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskIdempotencyCleanup, task.Type())

	_, err = BuildTask("mail:send", 0, 0)
	require.Error(t, err)
}
