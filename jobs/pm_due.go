package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-cmms/internal/jobs"
	"github.com/odyssey-erp/odyssey-cmms/internal/pm"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// DueConfirmer re-checks a schedule against the meter that triggered it.
type DueConfirmer interface {
	ConfirmDue(ctx context.Context, companyID, scheduleID int64, meter float64) (pm.Schedule, bool, error)
}

// PMDueJob processes pm:due tasks. Work order creation lives in the job
// generator, which consumes the structured log record emitted here.
type PMDueJob struct {
	Schedules DueConfirmer
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewPMDueJob initialises the pm due handler.
func NewPMDueJob(schedules DueConfirmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *PMDueJob {
	return &PMDueJob{Schedules: schedules, Logger: logger, Metrics: metrics}
}

// Handle confirms the schedule is still due and publishes it.
func (j *PMDueJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Schedules == nil {
		return errors.New("pm due: handler not configured")
	}
	var payload PMDuePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskPMDue)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(
		slog.Int64("company_id", payload.CompanyID),
		slog.Int64("schedule_id", payload.ScheduleID),
		slog.Float64("meter", payload.Meter),
	)
	sched, due, err := j.Schedules.ConfirmDue(ctx, payload.CompanyID, payload.ScheduleID, payload.Meter)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Warn("pm schedule vanished")
			return errors.Join(err, asynq.SkipRetry)
		}
		return err
	}
	if !due {
		logger.Info("pm schedule no longer due", slog.Float64("last_service_meter", sched.LastServiceMeter))
		return nil
	}
	logger.Info("pm schedule due",
		slog.Int64("asset_id", sched.AssetID),
		slog.String("name", sched.Name),
		slog.Float64("next_due_meter", payload.NextDueMeter),
		slog.String("job_title", sched.JobTitle),
		slog.String("priority", string(sched.JobPriority)),
		slog.Float64("estimated_hours", sched.EstimatedHours),
	)
	return nil
}

func (j *PMDueJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPMDue))
	}
	return slog.Default().With(slog.String("job", TaskPMDue))
}

func (j *PMDueJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
