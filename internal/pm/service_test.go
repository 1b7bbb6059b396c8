package pm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

const (
	companyID = int64(1)
	assetID   = int64(3)
)

var (
	supervisor = shared.Principal{UserID: 4, CompanyID: companyID, Role: shared.RoleSupervisor}
	technician = shared.Principal{UserID: 8, CompanyID: companyID, Role: shared.RoleTechnician}
)

type memoryRepo struct {
	mu        sync.Mutex
	meters    map[int64]*float64
	schedules map[int64]Schedule
	nextID    int64
}

type memoryTx struct{ repo *memoryRepo }

func newMemoryRepo(meter *float64) *memoryRepo {
	return &memoryRepo{meters: map[int64]*float64{assetID: meter}, schedules: make(map[int64]Schedule)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := maps.Clone(r.schedules)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.schedules = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) GetSchedule(_ context.Context, company, id int64) (Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(company, id)
}

func (r *memoryRepo) lookup(company, id int64) (Schedule, error) {
	s, ok := r.schedules[id]
	if !ok || s.CompanyID != company {
		return Schedule{}, fmt.Errorf("%w: %d", ErrScheduleNotFound, id)
	}
	return s, nil
}

func (r *memoryRepo) ListSchedules(_ context.Context, company, asset int64) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Schedule
	for id := int64(1); id <= r.nextID; id++ {
		if s, ok := r.schedules[id]; ok && s.CompanyID == company && s.AssetID == asset {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListDueMeterSchedules(ctx context.Context, company, asset int64, meter float64) ([]Schedule, error) {
	all, _ := r.ListSchedules(ctx, company, asset)
	var out []Schedule
	for _, s := range all {
		if s.IsDue(meter) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *memoryTx) GetAssetMeter(_ context.Context, company, asset int64) (*float64, error) {
	meter, ok := t.repo.meters[asset]
	if !ok || company != companyID {
		return nil, fmt.Errorf("%w: %d", ErrAssetNotFound, asset)
	}
	return meter, nil
}

func (t *memoryTx) InsertSchedule(_ context.Context, s Schedule) (int64, error) {
	t.repo.nextID++
	s.ID = t.repo.nextID
	t.repo.schedules[s.ID] = s
	return s.ID, nil
}

func (t *memoryTx) GetScheduleForUpdate(_ context.Context, company, id int64) (Schedule, error) {
	return t.repo.lookup(company, id)
}

func (t *memoryTx) UpdateServiceMeter(_ context.Context, s Schedule) error {
	t.repo.schedules[s.ID] = s
	return nil
}

type recordingNotifier struct {
	notified []int64
	failFor  int64
}

func (n *recordingNotifier) NotifyDue(_ context.Context, s Schedule, _ float64) error {
	if s.ID == n.failFor {
		return errors.New("queue unavailable")
	}
	n.notified = append(n.notified, s.ID)
	return nil
}

func ptr[T any](v T) *T { return &v }

func meterInput(interval float64) CreateInput {
	return CreateInput{
		AssetID:       assetID,
		Name:          "250h service",
		IntervalType:  IntervalMeter,
		IntervalValue: interval,
		JobTitle:      "Replace filters",
	}
}

func TestCreateScheduleFromCurrentMeter(t *testing.T) {
	svc := NewService(newMemoryRepo(ptr(1000.0)), ServiceConfig{})

	sched, outcome, err := svc.CreateSchedule(context.Background(), supervisor, meterInput(250))
	require.NoError(t, err)
	require.False(t, outcome.Degraded())
	require.Equal(t, 1000.0, sched.LastServiceMeter)
	require.NotNil(t, sched.NextDueMeter)
	require.Equal(t, 1250.0, *sched.NextDueMeter)
	require.Equal(t, PriorityMedium, sched.JobPriority)
	require.True(t, sched.Active)
}

func TestCreateScheduleUnreadAssetStartsAtZero(t *testing.T) {
	svc := NewService(newMemoryRepo(nil), ServiceConfig{})

	sched, _, err := svc.CreateSchedule(context.Background(), supervisor, meterInput(500))
	require.NoError(t, err)
	require.Zero(t, sched.LastServiceMeter)
	require.Equal(t, 500.0, *sched.NextDueMeter)
}

func TestCreateTimeScheduleHasNoMeterThreshold(t *testing.T) {
	svc := NewService(newMemoryRepo(ptr(40.0)), ServiceConfig{})
	in := meterInput(2)
	in.IntervalType = IntervalTime
	in.IntervalUnit = UnitWeeks

	sched, _, err := svc.CreateSchedule(context.Background(), supervisor, in)
	require.NoError(t, err)
	require.Equal(t, 40.0, sched.LastServiceMeter)
	require.Nil(t, sched.NextDueMeter)
	require.False(t, sched.IsDue(1e9))

	in.IntervalUnit = "YEARS"
	_, _, err = svc.CreateSchedule(context.Background(), supervisor, in)
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestCreateScheduleRequiresPlannerRole(t *testing.T) {
	svc := NewService(newMemoryRepo(ptr(1.0)), ServiceConfig{})
	_, _, err := svc.CreateSchedule(context.Background(), technician, meterInput(10))
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCreateScheduleValidation(t *testing.T) {
	svc := NewService(newMemoryRepo(ptr(1.0)), ServiceConfig{})
	ctx := context.Background()

	_, _, err := svc.CreateSchedule(ctx, supervisor, meterInput(0))
	require.ErrorIs(t, err, ErrInvalidInterval)

	in := meterInput(10)
	in.AssetID = 99
	_, _, err = svc.CreateSchedule(ctx, supervisor, in)
	require.ErrorIs(t, err, ErrAssetNotFound)
}

func TestMeterMustBeNonNegative(t *testing.T) {
	repo := newMemoryRepo(ptr(-5.0))
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()

	_, _, err := svc.CreateSchedule(ctx, supervisor, meterInput(250))
	require.ErrorIs(t, err, ErrInvalidAssetMeter)
	require.ErrorIs(t, err, shared.ErrInvariantViolation)
	require.Empty(t, repo.schedules)

	repo.meters[assetID] = ptr(0.0)
	sched, _, err := svc.CreateSchedule(ctx, supervisor, meterInput(250))
	require.NoError(t, err)
	require.Equal(t, 250.0, *sched.NextDueMeter)

	_, _, err = svc.RecomputeDue(ctx, supervisor, sched.ID, -1)
	require.ErrorIs(t, err, ErrInvalidServiceMeter)
}

func TestRecomputeDueKeepsThresholdDerived(t *testing.T) {
	repo := newMemoryRepo(ptr(1000.0))
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()
	sched, _, err := svc.CreateSchedule(ctx, supervisor, meterInput(250))
	require.NoError(t, err)

	updated, _, err := svc.RecomputeDue(ctx, technician, sched.ID, 1260)
	require.NoError(t, err)
	require.Equal(t, 1260.0, updated.LastServiceMeter)
	require.Equal(t, 1510.0, *updated.NextDueMeter)
	require.GreaterOrEqual(t, *updated.NextDueMeter, updated.LastServiceMeter)

	_, _, err = svc.RecomputeDue(ctx, technician, sched.ID, -1)
	require.ErrorIs(t, err, ErrInvalidServiceMeter)

	outsider := shared.Principal{UserID: 1, CompanyID: 2, Role: shared.RoleAdmin}
	_, _, err = svc.RecomputeDue(ctx, outsider, sched.ID, 10)
	require.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestEvaluateMeterNotifiesDueSchedules(t *testing.T) {
	repo := newMemoryRepo(ptr(1000.0))
	notifier := &recordingNotifier{}
	svc := NewService(repo, ServiceConfig{Notifier: notifier})
	ctx := context.Background()
	short, _, err := svc.CreateSchedule(ctx, supervisor, meterInput(100))
	require.NoError(t, err)
	_, _, err = svc.CreateSchedule(ctx, supervisor, meterInput(500))
	require.NoError(t, err)

	n, err := svc.EvaluateMeter(ctx, companyID, assetID, 1100)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []int64{short.ID}, notifier.notified)

	n, err = svc.EvaluateMeter(ctx, companyID, assetID, 1099.5)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestEvaluateMeterReportsNotifierFailure(t *testing.T) {
	repo := newMemoryRepo(ptr(0.0))
	notifier := &recordingNotifier{}
	svc := NewService(repo, ServiceConfig{Notifier: notifier})
	ctx := context.Background()
	first, _, err := svc.CreateSchedule(ctx, supervisor, meterInput(10))
	require.NoError(t, err)
	second, _, err := svc.CreateSchedule(ctx, supervisor, meterInput(20))
	require.NoError(t, err)
	notifier.failFor = first.ID

	n, err := svc.EvaluateMeter(ctx, companyID, assetID, 25)
	require.ErrorIs(t, err, shared.ErrDependencyFailure)
	require.Equal(t, 1, n)
	require.Equal(t, []int64{second.ID}, notifier.notified)
}

func TestConfirmDue(t *testing.T) {
	repo := newMemoryRepo(ptr(0.0))
	svc := NewService(repo, ServiceConfig{})
	ctx := context.Background()
	sched, _, err := svc.CreateSchedule(ctx, supervisor, meterInput(10))
	require.NoError(t, err)

	_, due, err := svc.ConfirmDue(ctx, companyID, sched.ID, 10)
	require.NoError(t, err)
	require.True(t, due)

	_, _, err = svc.RecomputeDue(ctx, technician, sched.ID, 10)
	require.NoError(t, err)
	_, due, err = svc.ConfirmDue(ctx, companyID, sched.ID, 10)
	require.NoError(t, err)
	require.False(t, due)
}

func TestHandlerCreateSchedule(t *testing.T) {
	svc := NewService(newMemoryRepo(ptr(1000.0)), ServiceConfig{Clock: func() time.Time { return time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC) }})
	h := NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Route("/pm/schedules", h.MountRoutes)

	body := `{"asset_id":3,"name":"250h","interval_type":"METER","interval_value":250,"job_title":"Service"}`
	req := httptest.NewRequest(http.MethodPost, "/pm/schedules/", strings.NewReader(body))
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), supervisor))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"next_due_meter":1250`)
	require.Contains(t, rr.Body.String(), `"degraded":false`)

	req = httptest.NewRequest(http.MethodPost, "/pm/schedules/", strings.NewReader(body))
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), technician))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/pm/schedules/", strings.NewReader(`{"asset_id":3}`))
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), supervisor))
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
