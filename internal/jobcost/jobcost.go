// Package jobcost keeps the material cost of maintenance jobs. It participates
// in the caller's transaction so credits commit together with the movement
// that caused them.
package jobcost

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// Job is the costing view of a maintenance job.
type Job struct {
	ID           int64
	CompanyID    int64
	Code         string
	MaterialCost decimal.Decimal
}

// CostLine is one signed adjustment of a job's material cost.
type CostLine struct {
	ID         int64
	CompanyID  int64
	JobID      int64
	ItemID     int64
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	Amount     decimal.Decimal
	SourceType string
	SourceID   int64
	CreatedBy  int64
	CreatedAt  time.Time
}

// Credit asks to reduce a job's material cost by Quantity x UnitCost.
type Credit struct {
	CompanyID  int64
	JobID      int64
	ItemID     int64
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	SourceType string
	SourceID   int64
	ActorID    int64
	At         time.Time
}

// Amount is the value removed from the job.
func (c Credit) Amount() decimal.Decimal {
	return c.Quantity.Mul(c.UnitCost)
}

// TxRepository is implemented by transaction-bound stores.
type TxRepository interface {
	GetJobForUpdate(ctx context.Context, companyID, jobID int64) (Job, error)
	InsertCostLine(ctx context.Context, line CostLine) (int64, error)
	UpdateMaterialCost(ctx context.Context, companyID, jobID int64, cost decimal.Decimal) error
}

var (
	// ErrJobNotFound indicates a missing job in the caller's company.
	ErrJobNotFound = fmt.Errorf("%w: jobcost: job", shared.ErrNotFound)
	// ErrInvalidCredit indicates a credit without quantity, cost or source.
	ErrInvalidCredit = fmt.Errorf("%w: jobcost: credit", shared.ErrInvalidInput)
)

// CreditMaterialCost locks the job, writes a negative cost line and lowers the
// job's material cost. The cost may go below zero when a return is valued above
// the original issue; the line history keeps that visible.
func CreditMaterialCost(ctx context.Context, tx TxRepository, c Credit) (CostLine, error) {
	if c.CompanyID <= 0 || c.JobID <= 0 || c.ItemID <= 0 || c.ActorID <= 0 {
		return CostLine{}, fmt.Errorf("%w: company, job, item and actor required", ErrInvalidCredit)
	}
	if !c.Quantity.IsPositive() || c.UnitCost.IsNegative() {
		return CostLine{}, fmt.Errorf("%w: quantity %s unit cost %s", ErrInvalidCredit, c.Quantity, c.UnitCost)
	}
	if c.SourceType == "" || c.SourceID <= 0 {
		return CostLine{}, fmt.Errorf("%w: source required", ErrInvalidCredit)
	}

	job, err := tx.GetJobForUpdate(ctx, c.CompanyID, c.JobID)
	if err != nil {
		return CostLine{}, err
	}
	amount := c.Amount()
	line := CostLine{
		CompanyID:  c.CompanyID,
		JobID:      job.ID,
		ItemID:     c.ItemID,
		Quantity:   c.Quantity.Neg(),
		UnitCost:   c.UnitCost,
		Amount:     amount.Neg(),
		SourceType: c.SourceType,
		SourceID:   c.SourceID,
		CreatedBy:  c.ActorID,
		CreatedAt:  c.At,
	}
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}
	id, err := tx.InsertCostLine(ctx, line)
	if err != nil {
		return CostLine{}, err
	}
	line.ID = id
	if err := tx.UpdateMaterialCost(ctx, c.CompanyID, job.ID, job.MaterialCost.Sub(amount)); err != nil {
		return CostLine{}, err
	}
	return line, nil
}
