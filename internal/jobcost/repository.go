package jobcost

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds job costing writes to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) GetJobForUpdate(ctx context.Context, companyID, jobID int64) (Job, error) {
	var job Job
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, code, material_cost FROM jobs WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, jobID).
		Scan(&job.ID, &job.CompanyID, &job.Code, &job.MaterialCost)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	}
	return job, err
}

func (r *txRepository) InsertCostLine(ctx context.Context, line CostLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO job_cost_lines (company_id, job_id, item_id, quantity, unit_cost, amount, source_type, source_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		line.CompanyID, line.JobID, line.ItemID, line.Quantity, line.UnitCost, line.Amount, line.SourceType, line.SourceID, line.CreatedBy, line.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateMaterialCost(ctx context.Context, companyID, jobID int64, cost decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE jobs SET material_cost=$3, updated_at=NOW() WHERE company_id=$1 AND id=$2`, companyID, jobID, cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	}
	return nil
}
