package meters

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-cmms/internal/platform/httpx"
)

// Handler wires HTTP endpoints for meter readings.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs meters handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers reading routes below /assets/{id}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/readings", h.handleRecord)
	r.Get("/readings", h.handleList)
}

type readingRequest struct {
	Value         *float64   `json:"value" validate:"required"`
	EffectiveDate *time.Time `json:"effective_date"`
	JobID         int64      `json:"job_id" validate:"gte=0"`
	Reference     string     `json:"reference" validate:"max=120"`
	Notes         string     `json:"notes" validate:"max=2000"`
}

type readingResponse struct {
	ID              int64     `json:"id"`
	AssetID         int64     `json:"asset_id"`
	Value           float64   `json:"value"`
	PreviousReading float64   `json:"previous_reading"`
	ReadingAt       time.Time `json:"reading_at"`
	EffectiveAt     time.Time `json:"effective_at"`
	IsRollback      bool      `json:"is_rollback"`
	IsLateEntry     bool      `json:"is_late_entry"`
	RollbackHandled bool      `json:"rollback_handled"`
	JobID           int64     `json:"job_id,omitempty"`
	Reference       string    `json:"reference,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	RecordedBy      int64     `json:"recorded_by"`
}

func toResponse(r Reading) readingResponse {
	return readingResponse{
		ID:              r.ID,
		AssetID:         r.AssetID,
		Value:           r.Value,
		PreviousReading: r.PreviousReading,
		ReadingAt:       r.ReadingAt,
		EffectiveAt:     r.EffectiveAt,
		IsRollback:      r.IsRollback,
		IsLateEntry:     r.IsLateEntry,
		RollbackHandled: r.RollbackHandled,
		JobID:           r.JobID,
		Reference:       r.Reference,
		Notes:           r.Notes,
		RecordedBy:      r.RecordedBy,
	}
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
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
	var req readingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.RecordReading(r.Context(), p, ReadingInput{
		AssetID:        assetID,
		Value:          req.Value,
		EffectiveAt:    req.EffectiveDate,
		JobID:          req.JobID,
		Reference:      req.Reference,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("meters record reading", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.WithOutcome(w, http.StatusCreated, map[string]any{
		"reading":     toResponse(result.Reading),
		"is_rollback": result.IsRollback,
		"pm_due":      result.DueCount,
	}, result.Outcome)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
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
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	readings, err := h.service.ListReadings(r.Context(), p, assetID, int(limit))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]readingResponse, 0, len(readings))
	for _, rd := range readings {
		out = append(out, toResponse(rd))
	}
	httpx.JSON(w, http.StatusOK, out)
}
