// Package inventorytest provides an in-memory inventory store for tests.
package inventorytest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
)

type stockKey struct {
	companyID int64
	itemID    int64
	storeID   int64
}

// Store keeps items, stock rows and the ledger in memory. Transactions are
// serialized by a single mutex and roll back on error.
type Store struct {
	mu     sync.Mutex
	items  map[int64]inventory.Item
	stores map[int64]int64
	stocks map[stockKey]inventory.ItemStock
	ledger []inventory.LedgerEntry
	nextID int64

	// FailInsertLedger, when set, is returned by InsertLedgerEntry.
	FailInsertLedger error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		items:  make(map[int64]inventory.Item),
		stores: make(map[int64]int64),
		stocks: make(map[stockKey]inventory.ItemStock),
	}
}

// AddItem seeds an item.
func (s *Store) AddItem(item inventory.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}

// AddStore seeds a store owned by companyID.
func (s *Store) AddStore(companyID, storeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[storeID] = companyID
}

// SetStock seeds a stock row without a ledger entry.
func (s *Store) SetStock(companyID, itemID, storeID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stockKey{companyID, itemID, storeID}
	stock, ok := s.stocks[key]
	if !ok {
		s.nextID++
		stock = inventory.ItemStock{ID: s.nextID, CompanyID: companyID, ItemID: itemID, StoreID: storeID}
	}
	stock.Quantity = qty
	s.stocks[key] = stock
}

// Item returns the current item state.
func (s *Store) Item(itemID int64) inventory.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[itemID]
}

// Quantity returns the on-hand quantity of a stock row, zero when absent.
func (s *Store) Quantity(companyID, itemID, storeID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stocks[stockKey{companyID, itemID, storeID}].Quantity
}

// Entries returns a copy of the whole ledger.
func (s *Store) Entries() []inventory.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ledger)
}

// RunTx runs fn under the store lock and restores the previous state when fn fails.
func (s *Store) RunTx(fn func(inventory.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := maps.Clone(s.items)
	stocks := maps.Clone(s.stocks)
	ledger := slices.Clone(s.ledger)
	nextID := s.nextID
	if err := fn(&tx{s: s}); err != nil {
		s.items, s.stocks, s.ledger, s.nextID = items, stocks, ledger, nextID
		return err
	}
	return nil
}

// WithTx implements inventory.RepositoryPort.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return s.RunTx(func(tx inventory.TxRepository) error {
		return fn(ctx, tx)
	})
}

// ListStocks implements inventory.RepositoryPort.
func (s *Store) ListStocks(_ context.Context, companyID int64) ([]inventory.ItemStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.ItemStock, 0, len(s.stocks))
	for _, stock := range s.stocks {
		if companyID == 0 || stock.CompanyID == companyID {
			out = append(out, stock)
		}
	}
	slices.SortFunc(out, func(a, b inventory.ItemStock) int { return int(a.ID - b.ID) })
	return out, nil
}

// ListLedger implements inventory.RepositoryPort.
func (s *Store) ListLedger(_ context.Context, filter inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledgerFor(filter), nil
}

func (s *Store) ledgerFor(filter inventory.LedgerFilter) []inventory.LedgerEntry {
	var out []inventory.LedgerEntry
	for _, e := range s.ledger {
		if e.CompanyID != filter.CompanyID || e.ItemID != filter.ItemID || e.StoreID != filter.StoreID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// CorruptStock overwrites a stock quantity so reconciliation tests can detect drift.
func (s *Store) CorruptStock(companyID, itemID, storeID int64, qty decimal.Decimal) {
	s.SetStock(companyID, itemID, storeID, qty)
}

type tx struct {
	s *Store
}

func (t *tx) GetItem(_ context.Context, companyID, itemID int64) (inventory.Item, error) {
	item, ok := t.s.items[itemID]
	if !ok || item.CompanyID != companyID {
		return inventory.Item{}, fmt.Errorf("%w: %d", inventory.ErrItemNotFound, itemID)
	}
	return item, nil
}

func (t *tx) GetItemForUpdate(ctx context.Context, companyID, itemID int64) (inventory.Item, error) {
	return t.GetItem(ctx, companyID, itemID)
}

func (t *tx) UpdateItemAverageCost(_ context.Context, companyID, itemID int64, avg decimal.Decimal) error {
	item, ok := t.s.items[itemID]
	if !ok || item.CompanyID != companyID {
		return fmt.Errorf("%w: %d", inventory.ErrItemNotFound, itemID)
	}
	item.AvgCost = decimal.NewNullDecimal(avg)
	t.s.items[itemID] = item
	return nil
}

func (t *tx) SumItemQuantity(_ context.Context, companyID, itemID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for key, stock := range t.s.stocks {
		if key.companyID == companyID && key.itemID == itemID {
			total = total.Add(stock.Quantity)
		}
	}
	return total, nil
}

func (t *tx) StoreExists(_ context.Context, companyID, storeID int64) (bool, error) {
	owner, ok := t.s.stores[storeID]
	return ok && owner == companyID, nil
}

func (t *tx) InsertStock(_ context.Context, stock inventory.ItemStock) (int64, error) {
	key := stockKey{stock.CompanyID, stock.ItemID, stock.StoreID}
	if _, ok := t.s.stocks[key]; ok {
		return 0, inventory.ErrStockExists
	}
	t.s.nextID++
	stock.ID = t.s.nextID
	stock.Quantity = decimal.Zero
	t.s.stocks[key] = stock
	return stock.ID, nil
}

func (t *tx) GetStockForUpdate(_ context.Context, companyID, itemID, storeID int64) (inventory.ItemStock, error) {
	stock, ok := t.s.stocks[stockKey{companyID, itemID, storeID}]
	if !ok {
		return inventory.ItemStock{}, fmt.Errorf("%w: item %d store %d", inventory.ErrStockRecordNotFound, itemID, storeID)
	}
	return stock, nil
}

func (t *tx) GetStockForShare(ctx context.Context, companyID, itemID, storeID int64) (inventory.ItemStock, error) {
	return t.GetStockForUpdate(ctx, companyID, itemID, storeID)
}

func (t *tx) ListLedger(_ context.Context, filter inventory.LedgerFilter) ([]inventory.LedgerEntry, error) {
	return t.s.ledgerFor(filter), nil
}

func (t *tx) UpdateStockQuantity(_ context.Context, companyID, stockID int64, qty decimal.Decimal) error {
	for key, stock := range t.s.stocks {
		if stock.ID == stockID && key.companyID == companyID {
			stock.Quantity = qty
			t.s.stocks[key] = stock
			return nil
		}
	}
	return fmt.Errorf("%w: stock %d", inventory.ErrStockRecordNotFound, stockID)
}

func (t *tx) InsertLedgerEntry(_ context.Context, entry inventory.LedgerEntry) (int64, error) {
	if t.s.FailInsertLedger != nil {
		return 0, t.s.FailInsertLedger
	}
	t.s.nextID++
	entry.ID = t.s.nextID
	t.s.ledger = append(t.s.ledger, entry)
	return entry.ID, nil
}
