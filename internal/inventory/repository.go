package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-cmms/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the ledger's transactional operations to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const stockColumns = `id, company_id, item_id, store_id, quantity, updated_at`

func (r *Repository) ListStocks(ctx context.Context, companyID int64) ([]ItemStock, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+stockColumns+` FROM item_stocks WHERE ($1 = 0 OR company_id=$1) ORDER BY company_id, item_id, store_id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stocks := []ItemStock{}
	for rows.Next() {
		var s ItemStock
		if err := rows.Scan(&s.ID, &s.CompanyID, &s.ItemID, &s.StoreID, &s.Quantity, &s.UpdatedAt); err != nil {
			return nil, err
		}
		stocks = append(stocks, s)
	}
	return stocks, rows.Err()
}

func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	return listLedger(ctx, r.pool, filter)
}

func (r *txRepository) ListLedger(ctx context.Context, filter LedgerFilter) ([]LedgerEntry, error) {
	return listLedger(ctx, r.tx, filter)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listLedger(ctx context.Context, q querier, filter LedgerFilter) ([]LedgerEntry, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := q.Query(ctx, `SELECT id, code, company_id, item_id, store_id, movement_type, quantity, balance_after, unit_cost, total_value, reference_type, reference_id, created_by, created_at
FROM stock_ledger
WHERE company_id=$1 AND item_id=$2 AND store_id=$3
ORDER BY id ASC
LIMIT $4`, filter.CompanyID, filter.ItemID, filter.StoreID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.Code, &e.CompanyID, &e.ItemID, &e.StoreID, &e.Type, &e.Quantity, &e.BalanceAfter,
			&e.UnitCost, &e.TotalValue, &e.Reference.Type, &e.Reference.ID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const itemColumns = `id, company_id, code, description, unit_of_measure, category, valuation_method, unit_price, avg_cost, min_stock, max_stock`

func (r *txRepository) GetItem(ctx context.Context, companyID, itemID int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE company_id=$1 AND id=$2`, companyID, itemID), itemID)
}

func (r *txRepository) GetItemForUpdate(ctx context.Context, companyID, itemID int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, itemID), itemID)
}

func (r *txRepository) UpdateItemAverageCost(ctx context.Context, companyID, itemID int64, avg decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE items SET avg_cost=$3, updated_at=NOW() WHERE company_id=$1 AND id=$2`, companyID, itemID, avg)
	return err
}

func (r *txRepository) SumItemQuantity(ctx context.Context, companyID, itemID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM item_stocks WHERE company_id=$1 AND item_id=$2`, companyID, itemID).Scan(&total)
	return total, err
}

func (r *txRepository) StoreExists(ctx context.Context, companyID, storeID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stores WHERE company_id=$1 AND id=$2)`, companyID, storeID).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertStock(ctx context.Context, stock ItemStock) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO item_stocks (company_id, item_id, store_id, quantity, updated_at)
VALUES ($1,$2,$3,0,NOW()) RETURNING id`, stock.CompanyID, stock.ItemID, stock.StoreID).Scan(&id)
	if db.IsUniqueViolation(err) {
		return 0, fmt.Errorf("%w: item %d store %d", ErrStockExists, stock.ItemID, stock.StoreID)
	}
	return id, err
}

func (r *txRepository) GetStockForUpdate(ctx context.Context, companyID, itemID, storeID int64) (ItemStock, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM item_stocks WHERE company_id=$1 AND item_id=$2 AND store_id=$3 FOR UPDATE`, companyID, itemID, storeID)
	return scanStock(row, itemID, storeID)
}

func (r *txRepository) GetStockForShare(ctx context.Context, companyID, itemID, storeID int64) (ItemStock, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM item_stocks WHERE company_id=$1 AND item_id=$2 AND store_id=$3 FOR SHARE`, companyID, itemID, storeID)
	return scanStock(row, itemID, storeID)
}

func (r *txRepository) UpdateStockQuantity(ctx context.Context, companyID, stockID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE item_stocks SET quantity=$3, updated_at=NOW() WHERE company_id=$1 AND id=$2`, companyID, stockID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: stock %d", ErrStockRecordNotFound, stockID)
	}
	return nil
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, e LedgerEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_ledger (code, company_id, item_id, store_id, movement_type, quantity, balance_after, unit_cost, total_value, reference_type, reference_id, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		e.Code, e.CompanyID, e.ItemID, e.StoreID, string(e.Type), e.Quantity, e.BalanceAfter, e.UnitCost, e.TotalValue,
		string(e.Reference.Type), e.Reference.ID, e.CreatedBy, e.CreatedAt).Scan(&id)
	return id, err
}

func scanItem(row pgx.Row, itemID int64) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.CompanyID, &it.Code, &it.Description, &it.UnitOfMeasure, &it.Category, &it.ValuationMethod,
		&it.UnitPrice, &it.AvgCost, &it.MinStock, &it.MaxStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
	}
	return it, err
}

func scanStock(row pgx.Row, itemID, storeID int64) (ItemStock, error) {
	var s ItemStock
	err := row.Scan(&s.ID, &s.CompanyID, &s.ItemID, &s.StoreID, &s.Quantity, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ItemStock{}, fmt.Errorf("%w: item %d store %d", ErrStockRecordNotFound, itemID, storeID)
	}
	return s, err
}
