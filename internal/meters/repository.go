package meters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-cmms/internal/platform/db"
)

// Repository persists readings and asset meter state in PostgreSQL.
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
		return errors.New("meters repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const assetColumns = `id, company_id, code, name, meter_type, current_meter, last_meter_update, meter_broken`

func (r *Repository) GetAsset(ctx context.Context, companyID, assetID int64) (Asset, error) {
	return scanAsset(r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE company_id=$1 AND id=$2`, companyID, assetID), assetID)
}

func (r *Repository) ListReadings(ctx context.Context, companyID, assetID int64, limit int) ([]Reading, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, asset_id, value, previous_reading, reading_at, effective_at, is_rollback, is_late_entry,
rollback_handled, COALESCE(job_id, 0), reference, notes, recorded_by
FROM meter_readings
WHERE company_id=$1 AND asset_id=$2
ORDER BY reading_at DESC, id DESC
LIMIT $3`, companyID, assetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	readings := []Reading{}
	for rows.Next() {
		var rd Reading
		if err := rows.Scan(&rd.ID, &rd.CompanyID, &rd.AssetID, &rd.Value, &rd.PreviousReading, &rd.ReadingAt, &rd.EffectiveAt,
			&rd.IsRollback, &rd.IsLateEntry, &rd.RollbackHandled, &rd.JobID, &rd.Reference, &rd.Notes, &rd.RecordedBy); err != nil {
			return nil, err
		}
		readings = append(readings, rd)
	}
	return readings, rows.Err()
}

func (r *txRepository) GetAssetForUpdate(ctx context.Context, companyID, assetID int64) (Asset, error) {
	return scanAsset(r.tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, assetID), assetID)
}

func (r *txRepository) InsertReading(ctx context.Context, rd Reading) (int64, error) {
	var jobID *int64
	if rd.JobID > 0 {
		jobID = &rd.JobID
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO meter_readings (company_id, asset_id, value, previous_reading, reading_at, effective_at,
is_rollback, is_late_entry, rollback_handled, job_id, reference, notes, recorded_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $11, $12) RETURNING id`,
		rd.CompanyID, rd.AssetID, rd.Value, rd.PreviousReading, rd.ReadingAt, rd.EffectiveAt,
		rd.IsRollback, rd.IsLateEntry, jobID, rd.Reference, rd.Notes, rd.RecordedBy).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateAssetMeter(ctx context.Context, companyID, assetID int64, value float64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE assets SET current_meter=$3, last_meter_update=$4, meter_broken=FALSE WHERE company_id=$1 AND id=$2`,
		companyID, assetID, value, at)
	return err
}

func scanAsset(row pgx.Row, assetID int64) (Asset, error) {
	var a Asset
	err := row.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.MeterType, &a.CurrentMeter, &a.LastMeterUpdate, &a.MeterBroken)
	if errors.Is(err, pgx.ErrNoRows) {
		return Asset{}, fmt.Errorf("%w: %d", ErrAssetNotFound, assetID)
	}
	return a, err
}
