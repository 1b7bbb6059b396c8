package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
)

// Reconciler rebuilds stock balances from the ledger.
type Reconciler interface {
	ReconcileAll(ctx context.Context, companyID int64, concurrency int) ([]inventory.ReconcileReport, error)
}

// LedgerCLI verifies the stock ledger from the command line.
type LedgerCLI struct {
	reconciler Reconciler
}

// NewLedgerCLI constructs the helper.
func NewLedgerCLI(reconciler Reconciler) *LedgerCLI {
	return &LedgerCLI{reconciler: reconciler}
}

// LedgerVerifyOptions defines available flags for the ledger verify command.
type LedgerVerifyOptions struct {
	CompanyID   int64
	Concurrency int
	JSONOutput  bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// LedgerVerifySummary describes the JSON response for ledger verify.
type LedgerVerifySummary struct {
	OK           bool                `json:"ok"`
	Stocks       int                 `json:"stocks"`
	Inconsistent []LedgerVerifyIssue `json:"inconsistent"`
}

// LedgerVerifyIssue reports one stock row that disagrees with its ledger.
type LedgerVerifyIssue struct {
	CompanyID     int64    `json:"company_id"`
	ItemID        int64    `json:"item_id"`
	StoreID       int64    `json:"store_id"`
	StockQuantity string   `json:"stock_quantity"`
	LedgerSum     string   `json:"ledger_sum"`
	LastBalance   string   `json:"last_balance"`
	Entries       int      `json:"entries"`
	BrokenEntries []string `json:"broken_entries"`
}

// VerifyCommand reconciles every stock row and prints the outcome. It returns 0
// when the ledger is consistent, 10 when drift was found and 1 on failure.
func (c *LedgerCLI) VerifyCommand(ctx context.Context, opts LedgerVerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.CompanyID < 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger verify: --company must not be negative")
		return 1
	}
	if c == nil || c.reconciler == nil {
		_, _ = fmt.Fprintln(opts.Stderr, "ledger verify: reconciler not configured")
		return 1
	}
	reports, err := c.reconciler.ReconcileAll(ctx, opts.CompanyID, opts.Concurrency)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: %v\n", err)
		return 1
	}
	summary := buildLedgerSummary(reports)
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "ledger verify: encode json: %v\n", err)
			return 1
		}
	} else {
		renderLedgerHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func buildLedgerSummary(reports []inventory.ReconcileReport) LedgerVerifySummary {
	issues := make([]LedgerVerifyIssue, 0)
	for _, r := range reports {
		if r.Consistent() {
			continue
		}
		broken := make([]string, 0, len(r.Breaks))
		for _, b := range r.Breaks {
			broken = append(broken, b.Code)
		}
		issues = append(issues, LedgerVerifyIssue{
			CompanyID:     r.CompanyID,
			ItemID:        r.ItemID,
			StoreID:       r.StoreID,
			StockQuantity: r.StockQuantity.String(),
			LedgerSum:     r.LedgerSum.String(),
			LastBalance:   r.LastBalance.String(),
			Entries:       r.Entries,
			BrokenEntries: broken,
		})
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].CompanyID != issues[j].CompanyID {
			return issues[i].CompanyID < issues[j].CompanyID
		}
		if issues[i].ItemID != issues[j].ItemID {
			return issues[i].ItemID < issues[j].ItemID
		}
		return issues[i].StoreID < issues[j].StoreID
	})
	return LedgerVerifySummary{OK: len(issues) == 0, Stocks: len(reports), Inconsistent: issues}
}

func renderLedgerHuman(out io.Writer, summary LedgerVerifySummary) {
	_, _ = fmt.Fprintf(out, "Ledger verification: %d stock row(s) checked\n", summary.Stocks)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "All stock rows match their ledger.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d inconsistent row(s):\n", len(summary.Inconsistent))
	for _, issue := range summary.Inconsistent {
		_, _ = fmt.Fprintf(out, " - company %d item %d store %d: stock %s, ledger sum %s, last balance %s",
			issue.CompanyID, issue.ItemID, issue.StoreID, issue.StockQuantity, issue.LedgerSum, issue.LastBalance)
		if len(issue.BrokenEntries) > 0 {
			_, _ = fmt.Fprintf(out, ", %d chain break(s)", len(issue.BrokenEntries))
		}
		_, _ = fmt.Fprintln(out)
	}
}
