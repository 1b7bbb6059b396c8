package pm

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-cmms/internal/platform/db"
)

// Repository persists PM schedules in PostgreSQL.
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

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("pm repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const scheduleColumns = `id, company_id, asset_id, name, interval_type, interval_value, interval_unit, last_service_meter, next_due_meter,
job_title, job_description, job_priority, estimated_hours, active, created_by, created_at, updated_at`

func (r *Repository) GetSchedule(ctx context.Context, companyID, scheduleID int64) (Schedule, error) {
	return scanSchedule(r.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM pm_schedules WHERE company_id=$1 AND id=$2`, companyID, scheduleID), scheduleID)
}

func (r *Repository) ListSchedules(ctx context.Context, companyID, assetID int64) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM pm_schedules WHERE company_id=$1 AND asset_id=$2 ORDER BY id`, companyID, assetID)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *Repository) ListDueMeterSchedules(ctx context.Context, companyID, assetID int64, meter float64) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+scheduleColumns+` FROM pm_schedules
WHERE company_id=$1 AND asset_id=$2 AND active AND interval_type='METER' AND next_due_meter <= $3
ORDER BY next_due_meter, id`, companyID, assetID, meter)
	if err != nil {
		return nil, err
	}
	return collectSchedules(rows)
}

func (r *txRepository) GetAssetMeter(ctx context.Context, companyID, assetID int64) (*float64, error) {
	var meter *float64
	err := r.tx.QueryRow(ctx, `SELECT current_meter FROM assets WHERE company_id=$1 AND id=$2 FOR SHARE`, companyID, assetID).Scan(&meter)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrAssetNotFound, assetID)
	}
	return meter, err
}

func (r *txRepository) InsertSchedule(ctx context.Context, s Schedule) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO pm_schedules (company_id, asset_id, name, interval_type, interval_value, interval_unit,
last_service_meter, next_due_meter, job_title, job_description, job_priority, estimated_hours, active, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING id`,
		s.CompanyID, s.AssetID, s.Name, s.IntervalType, s.IntervalValue, s.IntervalUnit, s.LastServiceMeter, s.NextDueMeter,
		s.JobTitle, s.JobDescription, s.JobPriority, s.EstimatedHours, s.Active, s.CreatedBy, s.CreatedAt, s.UpdatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetScheduleForUpdate(ctx context.Context, companyID, scheduleID int64) (Schedule, error) {
	return scanSchedule(r.tx.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM pm_schedules WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, scheduleID), scheduleID)
}

func (r *txRepository) UpdateServiceMeter(ctx context.Context, s Schedule) error {
	_, err := r.tx.Exec(ctx, `UPDATE pm_schedules SET last_service_meter=$3, next_due_meter=$4, updated_at=$5 WHERE company_id=$1 AND id=$2`,
		s.CompanyID, s.ID, s.LastServiceMeter, s.NextDueMeter, s.UpdatedAt)
	return err
}

func scanSchedule(row pgx.Row, scheduleID int64) (Schedule, error) {
	s, err := scanScheduleRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Schedule{}, fmt.Errorf("%w: %d", ErrScheduleNotFound, scheduleID)
	}
	return s, err
}

func scanScheduleRow(row pgx.Row) (Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.CompanyID, &s.AssetID, &s.Name, &s.IntervalType, &s.IntervalValue, &s.IntervalUnit, &s.LastServiceMeter,
		&s.NextDueMeter, &s.JobTitle, &s.JobDescription, &s.JobPriority, &s.EstimatedHours, &s.Active, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func collectSchedules(rows pgx.Rows) ([]Schedule, error) {
	defer rows.Close()
	out := []Schedule{}
	for rows.Next() {
		s, err := scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
