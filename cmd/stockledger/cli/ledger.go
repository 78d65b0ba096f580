package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/odyssey-erp/stockledger/internal/stock"
)

// LedgerVerifier replays item ledgers.
type LedgerVerifier interface {
	VerifyItemLedger(ctx context.Context, itemID int64) (stock.LedgerReport, error)
	VerifyAllLedgers(ctx context.Context) ([]stock.LedgerReport, error)
}

// LedgerCLI runs ledger maintenance commands against a verifier.
type LedgerCLI struct {
	verifier LedgerVerifier
}

// NewLedgerCLI constructs the CLI helper.
func NewLedgerCLI(verifier LedgerVerifier) (*LedgerCLI, error) {
	if verifier == nil {
		return nil, errors.New("ledger cli: verifier required")
	}
	return &LedgerCLI{verifier: verifier}, nil
}

// VerifyOptions defines available flags for the verify command.
type VerifyOptions struct {
	ItemID     int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// VerifySummary describes the JSON response for verify.
type VerifySummary struct {
	OK         bool                 `json:"ok"`
	Items      int                  `json:"items"`
	Mismatched []stock.LedgerReport `json:"mismatched"`
}

// VerifyCommand replays one or every ledger and prints the outcome. The exit
// code is 10 when any ledger disagrees with its stored balance.
func (c *LedgerCLI) VerifyCommand(ctx context.Context, opts VerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.ItemID < 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger verify: --item must be positive")
		return 1
	}

	var (
		reports []stock.LedgerReport
		err     error
	)
	if opts.ItemID > 0 {
		var report stock.LedgerReport
		report, err = c.verifier.VerifyItemLedger(ctx, opts.ItemID)
		reports = []stock.LedgerReport{report}
	} else {
		reports, err = c.verifier.VerifyAllLedgers(ctx)
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: %v\n", err)
		return 1
	}

	summary := buildVerifySummary(reports)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: encode json: %v\n", err)
			return 1
		}
	} else {
		renderVerifyHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildVerifySummary(reports []stock.LedgerReport) VerifySummary {
	mismatched := make([]stock.LedgerReport, 0)
	for _, report := range reports {
		if !report.Consistent {
			mismatched = append(mismatched, report)
		}
	}
	sort.Slice(mismatched, func(i, j int) bool {
		return mismatched[i].ItemID < mismatched[j].ItemID
	})
	return VerifySummary{OK: len(mismatched) == 0, Items: len(reports), Mismatched: mismatched}
}

func renderVerifyHuman(out io.Writer, summary VerifySummary) {
	_, _ = fmt.Fprintf(out, "Ledger verification over %d item(s)\n", summary.Items)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "All balances match their movement history.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d mismatch(es) detected:\n", len(summary.Mismatched))
	for _, report := range summary.Mismatched {
		_, _ = fmt.Fprintf(out, " - item %d: stored %d, replayed %d, invalid entries %d\n",
			report.ItemID, report.CurrentStock, report.ReplayedStock, report.InvalidEntries)
	}
}
