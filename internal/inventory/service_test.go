package inventory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	"github.com/odyssey-erp/odyssey-cmms/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

const (
	companyID = int64(1)
	itemID    = int64(100)
	storeID   = int64(10)
)

var storekeeper = shared.Principal{UserID: 7, CompanyID: companyID, Role: shared.RoleStorekeeper}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

type countingObserver struct {
	mu     sync.Mutex
	byType map[inventory.MovementType]int
}

func (o *countingObserver) ObserveMovement(entry inventory.LedgerEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byType == nil {
		o.byType = make(map[inventory.MovementType]int)
	}
	o.byType[entry.Type]++
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seededStore(avg, price string) *inventorytest.Store {
	store := inventorytest.New()
	item := inventory.Item{ID: itemID, CompanyID: companyID, Code: "BRG-6204", ValuationMethod: inventory.ValuationWeightedAverage}
	if avg != "" {
		item.AvgCost = decimal.NewNullDecimal(dec(avg))
	}
	if price != "" {
		item.UnitPrice = decimal.NewNullDecimal(dec(price))
	}
	store.AddItem(item)
	store.AddStore(companyID, storeID)
	store.SetStock(companyID, itemID, storeID, decimal.Zero)
	return store
}

func movement(t inventory.MovementType, qty string) inventory.Movement {
	return inventory.Movement{
		ItemID:    itemID,
		StoreID:   storeID,
		Type:      t,
		Quantity:  dec(qty),
		Reference: inventory.Reference{Type: inventory.ReferenceAdjustment, ID: 1},
	}
}

func TestRecordMovementChainsBalances(t *testing.T) {
	store := seededStore("4", "")
	audit := &recordingAudit{}
	observer := &countingObserver{}
	svc := inventory.NewService(store, audit, inventory.ServiceConfig{Observer: observer})
	ctx := context.Background()

	receipt := movement(inventory.MovementReceipt, "10")
	receipt.UnitCost = decimal.NewNullDecimal(dec("4"))
	first, err := svc.RecordMovement(ctx, storekeeper, receipt)
	require.NoError(t, err)
	require.True(t, first.Entry.BalanceAfter.Equal(dec("10")))
	require.False(t, first.Outcome.Degraded())

	second, err := svc.RecordMovement(ctx, storekeeper, movement(inventory.MovementIssue, "-3"))
	require.NoError(t, err)
	require.True(t, second.Entry.BalanceAfter.Equal(dec("7")))

	entries := store.Entries()
	require.Len(t, entries, 2)
	require.True(t, entries[0].BalanceAfter.Equal(dec("10")))
	require.True(t, entries[1].BalanceAfter.Equal(dec("7")))
	require.True(t, store.Quantity(companyID, itemID, storeID).Equal(dec("7")))
	require.Equal(t, storekeeper.UserID, entries[1].CreatedBy)
	require.Len(t, audit.logs, 2)
	require.Equal(t, 1, observer.byType[inventory.MovementReceipt])
	require.Equal(t, 1, observer.byType[inventory.MovementIssue])

	report, err := svc.Reconcile(ctx, companyID, itemID, storeID)
	require.NoError(t, err)
	require.True(t, report.Consistent())
	require.Equal(t, 2, report.Entries)
}

func TestRecordMovementRejectsNegativeBalance(t *testing.T) {
	store := seededStore("2", "")
	store.SetStock(companyID, itemID, storeID, dec("2"))
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})

	_, err := svc.RecordMovement(context.Background(), storekeeper, movement(inventory.MovementIssue, "-3"))
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
	require.Empty(t, store.Entries())
	require.True(t, store.Quantity(companyID, itemID, storeID).Equal(dec("2")))
}

func TestRecordMovementAllowsDrainToZero(t *testing.T) {
	store := seededStore("2", "")
	store.SetStock(companyID, itemID, storeID, dec("3"))
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})

	result, err := svc.RecordMovement(context.Background(), storekeeper, movement(inventory.MovementIssue, "-3"))
	require.NoError(t, err)
	require.True(t, result.Entry.BalanceAfter.IsZero())
}

func TestRecordMovementMissingStockRow(t *testing.T) {
	store := seededStore("2", "")
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	m := movement(inventory.MovementReturn, "1")
	m.StoreID = 99

	_, err := svc.RecordMovement(context.Background(), storekeeper, m)
	require.ErrorIs(t, err, inventory.ErrStockRecordNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordMovementRollsBackOnWriteFailure(t *testing.T) {
	store := seededStore("2", "")
	store.SetStock(companyID, itemID, storeID, dec("5"))
	store.FailInsertLedger = errors.New("connection reset")
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})

	receipt := movement(inventory.MovementReceipt, "5")
	receipt.UnitCost = decimal.NewNullDecimal(dec("10"))
	_, err := svc.RecordMovement(context.Background(), storekeeper, receipt)
	require.ErrorIs(t, err, shared.ErrDependencyFailure)
	require.True(t, store.Quantity(companyID, itemID, storeID).Equal(dec("5")))
	require.True(t, store.Item(itemID).AvgCost.Decimal.Equal(dec("2")))
}

func TestRecordMovementAuditFailureIsDegraded(t *testing.T) {
	store := seededStore("2", "")
	svc := inventory.NewService(store, &recordingAudit{err: errors.New("audit down")}, inventory.ServiceConfig{})

	result, err := svc.RecordMovement(context.Background(), storekeeper, movement(inventory.MovementAdjustment, "4"))
	require.NoError(t, err)
	require.True(t, result.Outcome.Degraded())
	require.Equal(t, shared.SideEffectAudit, result.Outcome.Failures[0].Effect)
	require.Len(t, store.Entries(), 1)
}

func TestMovementDirections(t *testing.T) {
	cases := []struct {
		typ     inventory.MovementType
		qty     string
		wantErr bool
	}{
		{inventory.MovementReceipt, "1", false},
		{inventory.MovementReceipt, "-1", true},
		{inventory.MovementIssue, "-1", false},
		{inventory.MovementIssue, "1", true},
		{inventory.MovementReturn, "1", false},
		{inventory.MovementReturn, "-1", true},
		{inventory.MovementAdjustment, "1", false},
		{inventory.MovementAdjustment, "-1", false},
		{inventory.MovementTransferIn, "1", false},
		{inventory.MovementTransferOut, "-1", false},
		{inventory.MovementTransferOut, "1", true},
		{inventory.MovementAdjustment, "0", true},
		{inventory.MovementType("SCRAP"), "-1", true},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ)+tc.qty, func(t *testing.T) {
			store := seededStore("1", "")
			store.SetStock(companyID, itemID, storeID, dec("5"))
			svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
			_, err := svc.RecordMovement(context.Background(), storekeeper, movement(tc.typ, tc.qty))
			if tc.wantErr {
				require.ErrorIs(t, err, shared.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
		})
	}
	require.Len(t, inventory.MovementTypes(), 6)
}

func TestReceiptRecomputesWeightedAverage(t *testing.T) {
	store := seededStore("10", "")
	store.SetStock(companyID, itemID, storeID, dec("10"))
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})

	receipt := movement(inventory.MovementReceipt, "10")
	receipt.UnitCost = decimal.NewNullDecimal(dec("20"))
	receipt.Reference = inventory.Reference{Type: inventory.ReferencePurchaseReceipt, ID: 3}
	result, err := svc.RecordMovement(context.Background(), storekeeper, receipt)
	require.NoError(t, err)
	require.True(t, result.Entry.TotalValue.Equal(dec("200")))
	require.True(t, store.Item(itemID).AvgCost.Decimal.Equal(dec("15")))

	// Non-receipts keep the average.
	_, err = svc.RecordMovement(context.Background(), storekeeper, movement(inventory.MovementIssue, "-5"))
	require.NoError(t, err)
	require.True(t, store.Item(itemID).AvgCost.Decimal.Equal(dec("15")))
}

func TestZeroCostReceiptKeepsZeroAverage(t *testing.T) {
	store := seededStore("", "100")
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	ctx := context.Background()

	free := movement(inventory.MovementReceipt, "10")
	free.UnitCost = decimal.NewNullDecimal(decimal.Zero)
	_, err := svc.RecordMovement(ctx, storekeeper, free)
	require.NoError(t, err)
	avg := store.Item(itemID).AvgCost
	require.True(t, avg.Valid)
	require.True(t, avg.Decimal.IsZero(), "got %s", avg.Decimal)

	// (10 x 0 + 10 x 10) / 20: the list price never enters the average once one exists.
	paid := movement(inventory.MovementReceipt, "10")
	paid.UnitCost = decimal.NewNullDecimal(dec("10"))
	_, err = svc.RecordMovement(ctx, storekeeper, paid)
	require.NoError(t, err)
	require.True(t, store.Item(itemID).AvgCost.Decimal.Equal(dec("5")), "got %s", store.Item(itemID).AvgCost.Decimal)
}

func TestAverageBasis(t *testing.T) {
	price := decimal.NewNullDecimal(dec("100"))
	require.True(t, inventory.AverageBasis(inventory.Item{AvgCost: decimal.NewNullDecimal(decimal.Zero), UnitPrice: price}).IsZero())
	require.True(t, inventory.AverageBasis(inventory.Item{UnitPrice: price}).Equal(dec("100")))
	require.True(t, inventory.AverageBasis(inventory.Item{}).IsZero())
}

func TestIssueUsesCostForCreditWhenUnset(t *testing.T) {
	store := seededStore("", "8.25")
	store.SetStock(companyID, itemID, storeID, dec("4"))
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})

	result, err := svc.RecordMovement(context.Background(), storekeeper, movement(inventory.MovementIssue, "-2"))
	require.NoError(t, err)
	require.True(t, result.Entry.UnitCost.Equal(dec("8.25")))
	require.True(t, result.Entry.TotalValue.Equal(dec("-16.5")))
}

func TestCostForCredit(t *testing.T) {
	null := decimal.NullDecimal{}
	cases := []struct {
		name  string
		avg   decimal.NullDecimal
		price decimal.NullDecimal
		want  string
	}{
		{"average wins", decimal.NewNullDecimal(dec("12.5")), decimal.NewNullDecimal(dec("15")), "12.5"},
		{"zero average falls back to price", decimal.NewNullDecimal(decimal.Zero), decimal.NewNullDecimal(dec("15")), "15"},
		{"missing average falls back to price", null, decimal.NewNullDecimal(dec("15")), "15"},
		{"nothing set", null, null, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := inventory.CostForCredit(inventory.Item{AvgCost: tc.avg, UnitPrice: tc.price})
			require.True(t, got.Equal(dec(tc.want)), "got %s", got)
		})
	}
}

func TestWeightedAverage(t *testing.T) {
	require.True(t, inventory.WeightedAverage(dec("3"), dec("10"), dec("1"), dec("11")).Equal(dec("10.25")))
	require.True(t, inventory.WeightedAverage(decimal.Zero, decimal.Zero, dec("5"), dec("7")).Equal(dec("7")))
	require.True(t, inventory.WeightedAverage(decimal.Zero, dec("9"), decimal.Zero, dec("7")).Equal(dec("9")))
}

func TestConcurrentMovementsKeepLedgerConsistent(t *testing.T) {
	store := seededStore("1", "")
	store.SetStock(companyID, itemID, storeID, dec("50"))
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		rejected int
	)
	for range 80 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RecordMovement(ctx, storekeeper, movement(inventory.MovementIssue, "-1"))
			if err != nil {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 30, rejected)
	require.True(t, store.Quantity(companyID, itemID, storeID).IsZero())
	entries := store.Entries()
	require.Len(t, entries, 50)
	for i, e := range entries {
		require.True(t, e.BalanceAfter.Equal(decimal.NewFromInt(int64(49-i))))
	}
}

func TestReconcileDetectsDrift(t *testing.T) {
	store := seededStore("1", "")
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	ctx := context.Background()
	_, err := svc.RecordMovement(ctx, storekeeper, movement(inventory.MovementAdjustment, "6"))
	require.NoError(t, err)

	store.CorruptStock(companyID, itemID, storeID, dec("9"))
	report, err := svc.Reconcile(ctx, companyID, itemID, storeID)
	require.NoError(t, err)
	require.False(t, report.Consistent())
	require.True(t, report.LedgerSum.Equal(dec("6")))

	reports, err := svc.ReconcileAll(ctx, companyID, 2)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.False(t, reports[0].Consistent())
}

// postingStore commits a movement right after the stock rows are listed, the
// way a live request lands in the middle of an audit sweep.
type postingStore struct {
	*inventorytest.Store
	post func()
}

func (p *postingStore) ListStocks(ctx context.Context, companyID int64) ([]inventory.ItemStock, error) {
	stocks, err := p.Store.ListStocks(ctx, companyID)
	if p.post != nil {
		p.post()
		p.post = nil
	}
	return stocks, err
}

func TestReconcileAllIgnoresMovementCommittedMidSweep(t *testing.T) {
	repo := &postingStore{Store: seededStore("", "")}
	svc := inventory.NewService(repo, nil, inventory.ServiceConfig{})
	ctx := context.Background()
	repo.post = func() {
		receipt := movement(inventory.MovementReceipt, "5")
		receipt.UnitCost = decimal.NewNullDecimal(dec("2"))
		_, err := svc.RecordMovement(ctx, storekeeper, receipt)
		require.NoError(t, err)
	}

	reports, err := svc.ReconcileAll(ctx, companyID, 1)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.True(t, reports[0].Consistent(), "%+v", reports[0])
	require.True(t, reports[0].StockQuantity.Equal(dec("5")))
	require.Equal(t, 1, reports[0].Entries)
}

func TestReconcileFindsChainBreak(t *testing.T) {
	stock := inventory.ItemStock{Quantity: dec("5")}
	entries := []inventory.LedgerEntry{
		{ID: 1, Quantity: dec("3"), BalanceAfter: dec("3")},
		{ID: 2, Quantity: dec("2"), BalanceAfter: dec("4")},
	}
	report := inventory.Reconcile(stock, entries)
	require.Len(t, report.Breaks, 1)
	require.Equal(t, int64(2), report.Breaks[0].EntryID)
	require.False(t, report.Consistent())
}

func TestReconcileFollowsEntryIDsNotClock(t *testing.T) {
	stock := inventory.ItemStock{Quantity: dec("7")}
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	// Entry 2 was posted by a replica whose clock ran a minute behind.
	entries := []inventory.LedgerEntry{
		{ID: 2, Quantity: dec("-3"), BalanceAfter: dec("7"), CreatedAt: base.Add(-time.Minute)},
		{ID: 1, Quantity: dec("10"), BalanceAfter: dec("10"), CreatedAt: base},
	}
	report := inventory.Reconcile(stock, entries)
	require.Empty(t, report.Breaks)
	require.True(t, report.Consistent())
	require.True(t, report.LastBalance.Equal(dec("7")))
	require.Equal(t, int64(2), entries[0].ID, "caller slice left untouched")
}

func TestStockUpdateIsCompanyScoped(t *testing.T) {
	store := seededStore("", "")
	ctx := context.Background()
	err := store.RunTx(func(tx inventory.TxRepository) error {
		stock, err := tx.GetStockForUpdate(ctx, companyID, itemID, storeID)
		require.NoError(t, err)
		require.ErrorIs(t, tx.UpdateStockQuantity(ctx, companyID+1, stock.ID, dec("9")), inventory.ErrStockRecordNotFound)
		return tx.UpdateStockQuantity(ctx, companyID, stock.ID, dec("4"))
	})
	require.NoError(t, err)
	require.True(t, store.Quantity(companyID, itemID, storeID).Equal(dec("4")))
}

func TestOpenStock(t *testing.T) {
	store := inventorytest.New()
	store.AddItem(inventory.Item{ID: itemID, CompanyID: companyID})
	store.AddStore(companyID, storeID)
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	ctx := context.Background()

	stock, err := svc.OpenStock(ctx, storekeeper, itemID, storeID)
	require.NoError(t, err)
	require.True(t, stock.Quantity.IsZero())

	_, err = svc.OpenStock(ctx, storekeeper, itemID, storeID)
	require.ErrorIs(t, err, shared.ErrAlreadyProcessed)

	_, err = svc.OpenStock(ctx, storekeeper, itemID, 404)
	require.ErrorIs(t, err, inventory.ErrStoreNotFound)

	other := shared.Principal{UserID: 8, CompanyID: 2, Role: shared.RoleStorekeeper}
	_, err = svc.OpenStock(ctx, other, itemID, storeID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListLedgerScopedToCompany(t *testing.T) {
	store := seededStore("1", "")
	clock := func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{Clock: clock})
	ctx := context.Background()
	for range 3 {
		_, err := svc.RecordMovement(ctx, storekeeper, movement(inventory.MovementAdjustment, "1"))
		require.NoError(t, err)
	}

	entries, err := svc.ListLedger(ctx, storekeeper, inventory.LedgerFilter{ItemID: itemID, StoreID: storeID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, clock(), entries[0].CreatedAt)

	other := shared.Principal{UserID: 8, CompanyID: 2, Role: shared.RoleViewer}
	entries, err = svc.ListLedger(ctx, other, inventory.LedgerFilter{ItemID: itemID, StoreID: storeID})
	require.NoError(t, err)
	require.Empty(t, entries)
}
