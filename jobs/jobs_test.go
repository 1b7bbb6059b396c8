package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-cmms/internal/alerts"
	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	"github.com/odyssey-erp/odyssey-cmms/internal/inventory/inventorytest"
	jobmetrics "github.com/odyssey-erp/odyssey-cmms/internal/jobs"
	"github.com/odyssey-erp/odyssey-cmms/internal/platform/lock"
	"github.com/odyssey-erp/odyssey-cmms/internal/pm"
	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	seen  map[string]bool
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := task.Type() + string(task.Payload())
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[key] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.seen[key] = true
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientNotifyDueCollapsesDuplicates(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)
	next := 1250.0
	sched := pm.Schedule{ID: 4, CompanyID: 1, AssetID: 9, LastServiceMeter: 1000, NextDueMeter: &next}

	require.NoError(t, client.NotifyDue(context.Background(), sched, 1260))
	require.NoError(t, client.NotifyDue(context.Background(), sched, 1260))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskPMDue, enq.tasks[0].Type())

	var payload PMDuePayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, int64(4), payload.ScheduleID)
	require.Equal(t, 1250.0, payload.NextDueMeter)
	require.Equal(t, 1260.0, payload.Meter)
}

func TestClientEnqueueAlertDelivery(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)

	require.NoError(t, client.EnqueueAlertDelivery(context.Background(), 1, 77))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskAlertDeliver, enq.tasks[0].Type())

	require.Error(t, client.EnqueueAlertDelivery(context.Background(), 0, 77))

	enq.err = errors.New("redis down")
	require.ErrorContains(t, client.EnqueueAlertDelivery(context.Background(), 1, 78), "redis down")
}

func TestTaskIDs(t *testing.T) {
	require.Equal(t, "alert-77", AlertTaskID(77))
	require.Equal(t, "pm-due-4-1000", PMDueTaskID(4, 1000))
	require.Equal(t, "pm-due-4-1000.5", PMDueTaskID(4, 1000.5))
	require.NotEqual(t, PMDueTaskID(4, 1000), PMDueTaskID(4, 1250))
}

type fakeDeliverer struct {
	calls []int64
	err   error
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ int64, alertID int64) error {
	f.calls = append(f.calls, alertID)
	return f.err
}

func mustTask(t *testing.T, typ string, payload any) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(typ, body)
}

func TestAlertDeliveryJob(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	deliverer := &fakeDeliverer{}
	job := NewAlertDeliveryJob(deliverer, nil, metrics)
	ctx := context.Background()

	require.NoError(t, job.Handle(ctx, mustTask(t, TaskAlertDeliver, AlertDeliverPayload{CompanyID: 1, AlertID: 5})))
	require.Equal(t, []int64{5}, deliverer.calls)

	deliverer.err = fmt.Errorf("%w: gone", shared.ErrNotFound)
	err := job.Handle(ctx, mustTask(t, TaskAlertDeliver, AlertDeliverPayload{CompanyID: 1, AlertID: 6}))
	require.ErrorIs(t, err, asynq.SkipRetry)

	deliverer.err = errors.New("smtp down")
	err = job.Handle(ctx, mustTask(t, TaskAlertDeliver, AlertDeliverPayload{CompanyID: 1, AlertID: 7}))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(ctx, asynq.NewTask(TaskAlertDeliver, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeConfirmer struct {
	sched pm.Schedule
	err   error
}

func (f fakeConfirmer) ConfirmDue(_ context.Context, _, _ int64, meter float64) (pm.Schedule, bool, error) {
	if f.err != nil {
		return pm.Schedule{}, false, f.err
	}
	return f.sched, f.sched.NextDueMeter != nil && meter >= *f.sched.NextDueMeter, nil
}

func TestPMDueJob(t *testing.T) {
	next := 1250.0
	job := NewPMDueJob(fakeConfirmer{sched: pm.Schedule{ID: 4, CompanyID: 1, NextDueMeter: &next}}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	ctx := context.Background()

	require.NoError(t, job.Handle(ctx, mustTask(t, TaskPMDue, PMDuePayload{CompanyID: 1, ScheduleID: 4, Meter: 1260})))
	require.NoError(t, job.Handle(ctx, mustTask(t, TaskPMDue, PMDuePayload{CompanyID: 1, ScheduleID: 4, Meter: 1100})))

	job.Schedules = fakeConfirmer{err: pm.ErrScheduleNotFound}
	err := job.Handle(ctx, mustTask(t, TaskPMDue, PMDuePayload{CompanyID: 1, ScheduleID: 4, Meter: 1260}))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type recordingRaiser struct {
	mu     sync.Mutex
	alerts []alerts.Alert
}

func (r *recordingRaiser) Raise(_ context.Context, a alerts.Alert) (alerts.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = int64(len(r.alerts) + 1)
	r.alerts = append(r.alerts, a)
	return a, nil
}

func newTestLocker(t *testing.T) *lock.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.New(client)
}

func auditFixture(t *testing.T) (*LedgerAuditJob, *inventorytest.Store, *recordingRaiser) {
	t.Helper()
	store := inventorytest.New()
	for _, id := range []int64{10, 11} {
		store.AddItem(inventory.Item{ID: id, CompanyID: 1})
		store.SetStock(1, id, 3, decimal.Zero)
	}
	svc := inventory.NewService(store, nil, inventory.ServiceConfig{})
	raiser := &recordingRaiser{}
	job := NewLedgerAuditJob(svc, newTestLocker(t), raiser, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	return job, store, raiser
}

func TestLedgerAuditRaisesDriftAlerts(t *testing.T) {
	job, store, raiser := auditFixture(t)
	ctx := context.Background()

	summary, err := job.Run(ctx, LedgerAuditPayload{CompanyID: 1, Concurrency: 2})
	require.NoError(t, err)
	require.Equal(t, LedgerAuditSummary{Stocks: 2}, summary)
	require.Empty(t, raiser.alerts)

	store.CorruptStock(1, 11, 3, decimal.NewFromInt(3))
	summary, err = job.Run(ctx, LedgerAuditPayload{CompanyID: 1})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Inconsistent)
	require.Equal(t, 1, summary.Drifts)
	require.Len(t, raiser.alerts, 1)
	require.Equal(t, alerts.TypeLedgerDrift, raiser.alerts[0].Type)
	require.Equal(t, alerts.SeverityCritical, raiser.alerts[0].Severity)
	require.Equal(t, int64(11), raiser.alerts[0].ReferenceID)
}

func TestLedgerAuditSkipsWhenLockHeld(t *testing.T) {
	job, _, _ := auditFixture(t)
	ctx := context.Background()

	err := job.Locker.WithLock(ctx, shared.LedgerAuditLockKey(1), time.Minute, func(ctx context.Context) error {
		summary, err := job.Run(ctx, LedgerAuditPayload{CompanyID: 1})
		require.NoError(t, err)
		require.True(t, summary.Skipped)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerAuditHandleRejectsBadPayload(t *testing.T) {
	job, _, _ := auditFixture(t)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerAudit, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthEndpoint(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueDefault: {Queue: QueueDefault, Pending: 3, Failed: 1},
	}}, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body []queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, []queueHealth{
		{Queue: QueueCritical},
		{Queue: QueueDefault, Pending: 3, Failed: 1},
	}, body)

	r = chi.NewRouter()
	NewHandler(fakeInspector{err: errors.New("redis down")}, nil).MountRoutes(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
