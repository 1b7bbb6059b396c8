package pm

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-cmms/internal/platform/httpx"
)

// Handler wires HTTP endpoints for PM schedules.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs pm handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers /pm/schedules routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/service", h.handleService)
}

// MountAssetRoutes registers the schedules listing below /assets/{id}.
func (h *Handler) MountAssetRoutes(r chi.Router) {
	r.Get("/pm-schedules", h.handleListByAsset)
}

type createRequest struct {
	AssetID        int64   `json:"asset_id" validate:"required,gt=0"`
	Name           string  `json:"name" validate:"required,max=200"`
	IntervalType   string  `json:"interval_type" validate:"required,oneof=METER TIME"`
	IntervalValue  float64 `json:"interval_value" validate:"required,gt=0"`
	IntervalUnit   string  `json:"interval_unit" validate:"omitempty,oneof=DAYS WEEKS MONTHS"`
	JobTitle       string  `json:"job_title" validate:"required,max=200"`
	JobDescription string  `json:"job_description" validate:"max=4000"`
	JobPriority    string  `json:"job_priority" validate:"omitempty,oneof=LOW MEDIUM HIGH CRITICAL"`
	EstimatedHours float64 `json:"estimated_hours" validate:"gte=0"`
}

type serviceRequest struct {
	ServiceMeter *float64 `json:"service_meter" validate:"required"`
}

type scheduleResponse struct {
	ID               int64        `json:"id"`
	AssetID          int64        `json:"asset_id"`
	Name             string       `json:"name"`
	IntervalType     IntervalType `json:"interval_type"`
	IntervalValue    float64      `json:"interval_value"`
	IntervalUnit     IntervalUnit `json:"interval_unit,omitempty"`
	LastServiceMeter float64      `json:"last_service_meter"`
	NextDueMeter     *float64     `json:"next_due_meter,omitempty"`
	JobTitle         string       `json:"job_title"`
	JobDescription   string       `json:"job_description,omitempty"`
	JobPriority      Priority     `json:"job_priority"`
	EstimatedHours   float64      `json:"estimated_hours"`
	Active           bool         `json:"active"`
	CreatedBy        int64        `json:"created_by"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func toResponse(s Schedule) scheduleResponse {
	return scheduleResponse{
		ID:               s.ID,
		AssetID:          s.AssetID,
		Name:             s.Name,
		IntervalType:     s.IntervalType,
		IntervalValue:    s.IntervalValue,
		IntervalUnit:     s.IntervalUnit,
		LastServiceMeter: s.LastServiceMeter,
		NextDueMeter:     s.NextDueMeter,
		JobTitle:         s.JobTitle,
		JobDescription:   s.JobDescription,
		JobPriority:      s.JobPriority,
		EstimatedHours:   s.EstimatedHours,
		Active:           s.Active,
		CreatedBy:        s.CreatedBy,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, outcome, err := h.service.CreateSchedule(r.Context(), p, CreateInput{
		AssetID:        req.AssetID,
		Name:           req.Name,
		IntervalType:   IntervalType(req.IntervalType),
		IntervalValue:  req.IntervalValue,
		IntervalUnit:   IntervalUnit(req.IntervalUnit),
		JobTitle:       req.JobTitle,
		JobDescription: req.JobDescription,
		JobPriority:    Priority(req.JobPriority),
		EstimatedHours: req.EstimatedHours,
	})
	if err != nil {
		h.fail(w, "create schedule", err)
		return
	}
	httpx.WithOutcome(w, http.StatusCreated, toResponse(sched), outcome)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, err := h.service.GetSchedule(r.Context(), p, id)
	if err != nil {
		h.fail(w, "get schedule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(sched))
}

func (h *Handler) handleService(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req serviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, outcome, err := h.service.RecomputeDue(r.Context(), p, id, *req.ServiceMeter)
	if err != nil {
		h.fail(w, "recompute due", err)
		return
	}
	httpx.WithOutcome(w, http.StatusOK, toResponse(sched), outcome)
}

func (h *Handler) handleListByAsset(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	assetID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.ListSchedules(r.Context(), p, assetID)
	if err != nil {
		h.fail(w, "list schedules", err)
		return
	}
	out := make([]scheduleResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toResponse(s))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("pm "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
