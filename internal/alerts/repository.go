package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores alerts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, a Alert) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO alerts (company_id, alert_type, severity, title, message, reference_type, reference_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		a.CompanyID, a.Type, a.Severity, a.Title, a.Message, a.ReferenceType, a.ReferenceID, a.CreatedAt).Scan(&id)
	return id, err
}

func (r *Repository) Get(ctx context.Context, companyID, alertID int64) (Alert, error) {
	var a Alert
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, alert_type, severity, title, message, reference_type, reference_id, created_at, dispatched_at
FROM alerts WHERE company_id=$1 AND id=$2`, companyID, alertID).
		Scan(&a.ID, &a.CompanyID, &a.Type, &a.Severity, &a.Title, &a.Message, &a.ReferenceType, &a.ReferenceID, &a.CreatedAt, &a.DispatchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Alert{}, fmt.Errorf("%w: %d", ErrAlertNotFound, alertID)
	}
	return a, err
}

func (r *Repository) MarkDispatched(ctx context.Context, companyID, alertID int64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE alerts SET dispatched_at=$3 WHERE company_id=$1 AND id=$2 AND dispatched_at IS NULL`, companyID, alertID, at)
	return err
}
