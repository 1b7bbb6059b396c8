package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	"github.com/odyssey-erp/odyssey-cmms/internal/jobcost"
	"github.com/odyssey-erp/odyssey-cmms/internal/platform/db"
)

// Repository persists returns in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type (
	ledgerStore interface{ inventory.TxRepository }
	costStore   interface{ jobcost.TxRepository }
)

type txRepository struct {
	ledgerStore
	costStore
	tx pgx.Tx
}

// WithTx runs fn with ledger, job costing and return writes bound to one transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("returns repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			ledgerStore: inventory.NewTxRepository(tx),
			costStore:   jobcost.NewTxRepository(tx),
			tx:          tx,
		})
	})
}

const returnColumns = `id, company_id, item_id, store_id, quantity, job_id, request_line_id, status, unit_cost, total_credit, reason,
requested_by, requested_at, resolved_store, resolved_by, resolved_at`

func (r *Repository) GetReturn(ctx context.Context, companyID, returnID int64) (ItemReturn, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+returnColumns+` FROM item_returns WHERE company_id=$1 AND id=$2`, companyID, returnID)
	return scanReturn(row, returnID)
}

func (r *txRepository) GetReturnForUpdate(ctx context.Context, companyID, returnID int64) (ItemReturn, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+returnColumns+` FROM item_returns WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, returnID)
	return scanReturn(row, returnID)
}

func (r *txRepository) InsertReturn(ctx context.Context, ret ItemReturn) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO item_returns (company_id, item_id, store_id, quantity, job_id, request_line_id, status, reason, requested_by, requested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		ret.CompanyID, ret.ItemID, ret.StoreID, ret.Quantity, nullID(ret.JobID), nullID(ret.RequestLineID),
		ret.Status, ret.Reason, ret.RequestedBy, ret.RequestedAt).Scan(&id)
	return id, err
}

func (r *txRepository) ResolveReturn(ctx context.Context, ret ItemReturn) error {
	tag, err := r.tx.Exec(ctx, `UPDATE item_returns
SET status=$3, unit_cost=$4, total_credit=$5, reason=$6, resolved_store=$7, resolved_by=$8, resolved_at=$9
WHERE company_id=$1 AND id=$2 AND status='PENDING'`,
		ret.CompanyID, ret.ID, ret.Status, ret.UnitCost, ret.TotalCredit, ret.Reason,
		nullID(ret.ResolvedStoreID), ret.ResolvedBy, ret.ResolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: return %d", ErrAlreadyProcessed, ret.ID)
	}
	return nil
}

func (r *txRepository) RequestLineExists(ctx context.Context, companyID, lineID int64) (bool, error) {
	var ok bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM request_lines WHERE company_id=$1 AND id=$2)`, companyID, lineID).Scan(&ok)
	return ok, err
}

func (r *txRepository) IncrementReturnedQuantity(ctx context.Context, companyID, lineID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE request_lines SET returned_quantity = GREATEST(returned_quantity + $3, 0) WHERE company_id=$1 AND id=$2`, companyID, lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrRequestLineNotFound, lineID)
	}
	return nil
}

func scanReturn(row pgx.Row, returnID int64) (ItemReturn, error) {
	var (
		ret                                    ItemReturn
		jobID, lineID, resolvedStore, resolver *int64
		resolvedAt                             *time.Time
	)
	err := row.Scan(&ret.ID, &ret.CompanyID, &ret.ItemID, &ret.StoreID, &ret.Quantity, &jobID, &lineID, &ret.Status,
		&ret.UnitCost, &ret.TotalCredit, &ret.Reason, &ret.RequestedBy, &ret.RequestedAt, &resolvedStore, &resolver, &resolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ItemReturn{}, fmt.Errorf("%w: %d", ErrReturnNotFound, returnID)
	}
	if err != nil {
		return ItemReturn{}, err
	}
	ret.JobID = derefID(jobID)
	ret.RequestLineID = derefID(lineID)
	ret.ResolvedStoreID = derefID(resolvedStore)
	ret.ResolvedBy = derefID(resolver)
	ret.ResolvedAt = resolvedAt
	return ret, nil
}

func nullID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
