package inventory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxRepository exposes the transactional operations the ledger needs. Every
// method runs inside the caller's transaction; ForUpdate variants take row locks.
type TxRepository interface {
	GetItem(ctx context.Context, companyID, itemID int64) (Item, error)
	GetItemForUpdate(ctx context.Context, companyID, itemID int64) (Item, error)
	UpdateItemAverageCost(ctx context.Context, companyID, itemID int64, avg decimal.Decimal) error
	SumItemQuantity(ctx context.Context, companyID, itemID int64) (decimal.Decimal, error)
	StoreExists(ctx context.Context, companyID, storeID int64) (bool, error)
	InsertStock(ctx context.Context, stock ItemStock) (int64, error)
	GetStockForUpdate(ctx context.Context, companyID, itemID, storeID int64) (ItemStock, error)
	GetStockForShare(ctx context.Context, companyID, itemID, storeID int64) (ItemStock, error)
	UpdateStockQuantity(ctx context.Context, companyID, stockID int64, qty decimal.Decimal) error
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (int64, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error)
}

// Ledger posts movements. It holds no state: callers own the transaction, so
// other workflows can post movements atomically with their own writes.
type Ledger struct {
	clock func() time.Time
}

// NewLedger builds a Ledger using clock for entry timestamps (nil means UTC now).
func NewLedger(clock func() time.Time) *Ledger {
	return &Ledger{clock: clock}
}

func (l *Ledger) now() time.Time {
	if l != nil && l.clock != nil {
		return l.clock()
	}
	return time.Now().UTC()
}

// Post applies m inside tx: lock the stock row, compute the new balance, write the
// entry and the new quantity. Receipts lock the item first and revalue it.
func (l *Ledger) Post(ctx context.Context, tx TxRepository, m Movement) (LedgerEntry, error) {
	if err := m.validate(); err != nil {
		return LedgerEntry{}, err
	}

	var (
		item    Item
		hasItem bool
		err     error
	)
	// Item before stock row: the only lock order used anywhere.
	if m.Type.RecomputesAverage() {
		item, err = tx.GetItemForUpdate(ctx, m.CompanyID, m.ItemID)
		hasItem = true
	} else if !m.UnitCost.Valid {
		item, err = tx.GetItem(ctx, m.CompanyID, m.ItemID)
		hasItem = true
	}
	if err != nil {
		return LedgerEntry{}, err
	}

	stock, err := tx.GetStockForUpdate(ctx, m.CompanyID, m.ItemID, m.StoreID)
	if err != nil {
		return LedgerEntry{}, err
	}
	newBalance := stock.Quantity.Add(m.Quantity)
	if newBalance.IsNegative() {
		return LedgerEntry{}, fmt.Errorf("%w: item %d store %d has %s, movement %s", ErrInsufficientStock, m.ItemID, m.StoreID, stock.Quantity, m.Quantity)
	}

	unitCost := m.UnitCost.Decimal
	if !m.UnitCost.Valid && hasItem {
		unitCost = CostForCredit(item)
	}

	if m.Type.RecomputesAverage() {
		onHand, err := tx.SumItemQuantity(ctx, m.CompanyID, m.ItemID)
		if err != nil {
			return LedgerEntry{}, err
		}
		avg := WeightedAverage(onHand, AverageBasis(item), m.Quantity, unitCost)
		if err := tx.UpdateItemAverageCost(ctx, m.CompanyID, m.ItemID, avg); err != nil {
			return LedgerEntry{}, err
		}
	}

	entry := LedgerEntry{
		Code:         "LED-" + uuid.NewString(),
		CompanyID:    m.CompanyID,
		ItemID:       m.ItemID,
		StoreID:      m.StoreID,
		Type:         m.Type,
		Quantity:     m.Quantity,
		BalanceAfter: newBalance,
		UnitCost:     unitCost,
		TotalValue:   m.Quantity.Mul(unitCost),
		Reference:    m.Reference,
		CreatedBy:    m.ActorID,
		CreatedAt:    l.now(),
	}
	id, err := tx.InsertLedgerEntry(ctx, entry)
	if err != nil {
		return LedgerEntry{}, err
	}
	entry.ID = id
	if err := tx.UpdateStockQuantity(ctx, m.CompanyID, stock.ID, newBalance); err != nil {
		return LedgerEntry{}, err
	}
	return entry, nil
}

// Reconcile checks entries against the stock quantity. The chain follows entry
// ids: entries of one stock row are inserted under its row lock, so ids give
// the posting order even when replica clocks disagree on created_at.
func Reconcile(stock ItemStock, entries []LedgerEntry) ReconcileReport {
	entries = slices.SortedFunc(slices.Values(entries), func(a, b LedgerEntry) int { return cmp.Compare(a.ID, b.ID) })
	report := ReconcileReport{
		CompanyID:     stock.CompanyID,
		ItemID:        stock.ItemID,
		StoreID:       stock.StoreID,
		StockQuantity: stock.Quantity,
		Entries:       len(entries),
	}
	running := decimal.Zero
	for _, e := range entries {
		running = running.Add(e.Quantity)
		expected := report.LastBalance.Add(e.Quantity)
		if !e.BalanceAfter.Equal(expected) {
			report.Breaks = append(report.Breaks, ChainBreak{EntryID: e.ID, Code: e.Code, Expected: expected, Actual: e.BalanceAfter})
		}
		report.LastBalance = e.BalanceAfter
	}
	report.LedgerSum = running
	return report
}
