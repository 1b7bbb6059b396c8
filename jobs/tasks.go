package jobs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-cmms/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries alert deliveries ahead of routine work.
	QueueCritical = "critical"

	// TaskAlertDeliver hands a persisted alert to the notifier.
	TaskAlertDeliver = "alerts:deliver"
	// TaskPMDue announces a meter schedule that reached its threshold.
	TaskPMDue = "pm:due"
	// TaskLedgerAudit reconciles stock rows against the ledger.
	TaskLedgerAudit = "inventory:ledger-audit"
)

// pmDueRetention keeps finished pm:due tasks around so their ids keep
// suppressing duplicates for the same service cycle.
const pmDueRetention = 24 * time.Hour

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AlertDeliverPayload identifies an alert to deliver.
type AlertDeliverPayload struct {
	CompanyID int64 `json:"company_id"`
	AlertID   int64 `json:"alert_id"`
}

// PMDuePayload carries the schedule state observed when the threshold was crossed.
type PMDuePayload struct {
	CompanyID        int64   `json:"company_id"`
	ScheduleID       int64   `json:"schedule_id"`
	AssetID          int64   `json:"asset_id"`
	Meter            float64 `json:"meter"`
	NextDueMeter     float64 `json:"next_due_meter"`
	LastServiceMeter float64 `json:"last_service_meter"`
}

// LedgerAuditPayload scopes an audit run. CompanyID 0 audits every company.
type LedgerAuditPayload struct {
	CompanyID   int64 `json:"company_id"`
	Concurrency int   `json:"concurrency"`
}

// NewAlertDeliverTask constructs an alert delivery task keyed by alert id.
func NewAlertDeliverTask(payload AlertDeliverPayload) (*asynq.Task, error) {
	if payload.CompanyID <= 0 || payload.AlertID <= 0 {
		return nil, fmt.Errorf("jobs: alert delivery requires company and alert")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertDeliver, body,
		asynq.Queue(QueueCritical),
		asynq.TaskID(AlertTaskID(payload.AlertID)),
		asynq.MaxRetry(10),
	), nil
}

// NewPMDueTask constructs a pm:due task. One task exists per schedule and
// service cycle; repeated readings above the threshold collapse onto it.
func NewPMDueTask(payload PMDuePayload) (*asynq.Task, error) {
	if payload.CompanyID <= 0 || payload.ScheduleID <= 0 {
		return nil, fmt.Errorf("jobs: pm due requires company and schedule")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPMDue, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(PMDueTaskID(payload.ScheduleID, payload.LastServiceMeter)),
		asynq.Retention(pmDueRetention),
		asynq.MaxRetry(5),
	), nil
}

// NewLedgerAuditTask constructs an inventory ledger audit task.
func NewLedgerAuditTask(companyID int64, concurrency int) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerAuditPayload{CompanyID: companyID, Concurrency: concurrency})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerAudit, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// AlertTaskID is the dedup id of an alert delivery.
func AlertTaskID(alertID int64) string {
	return "alert-" + strconv.FormatInt(alertID, 10)
}

// PMDueTaskID is the dedup id of a schedule's due notification for one service cycle.
func PMDueTaskID(scheduleID int64, lastServiceMeter float64) string {
	return fmt.Sprintf("pm-due-%d-%s", scheduleID, strconv.FormatFloat(lastServiceMeter, 'f', -1, 64))
}
