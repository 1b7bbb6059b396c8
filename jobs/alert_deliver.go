package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-cmms/internal/jobs"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// AlertDeliverer delivers one persisted alert.
type AlertDeliverer interface {
	Deliver(ctx context.Context, companyID, alertID int64) error
}

// AlertDeliveryJob processes alerts:deliver tasks.
type AlertDeliveryJob struct {
	Alerts  AlertDeliverer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAlertDeliveryJob initialises the alert delivery handler.
func NewAlertDeliveryJob(alerts AlertDeliverer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AlertDeliveryJob {
	return &AlertDeliveryJob{Alerts: alerts, Logger: logger, Metrics: metrics}
}

// Handle delivers the alert named by the task payload.
func (j *AlertDeliveryJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Alerts == nil {
		return errors.New("alert delivery: handler not configured")
	}
	var payload AlertDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskAlertDeliver)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Int64("company_id", payload.CompanyID), slog.Int64("alert_id", payload.AlertID))
	if err := j.Alerts.Deliver(ctx, payload.CompanyID, payload.AlertID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			logger.Warn("alert vanished before delivery")
			return errors.Join(err, asynq.SkipRetry)
		}
		logger.Error("alert delivery failed", slog.Any("error", err))
		return err
	}
	logger.Info("alert delivered")
	return nil
}

func (j *AlertDeliveryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAlertDeliver))
	}
	return slog.Default().With(slog.String("job", TaskAlertDeliver))
}

func (j *AlertDeliveryJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
