package returns

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-cmms/internal/platform/httpx"
)

// Handler wires HTTP endpoints for item returns.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs returns handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers return routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleRequest)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/accept", h.handleAccept)
		r.Post("/reject", h.handleReject)
	})
}

type requestReturnRequest struct {
	ItemID        int64            `json:"item_id" validate:"required,gt=0"`
	StoreID       int64            `json:"store_id" validate:"required,gt=0"`
	Quantity      *decimal.Decimal `json:"quantity" validate:"required"`
	JobID         int64            `json:"job_id" validate:"gte=0"`
	RequestLineID int64            `json:"request_line_id" validate:"gte=0"`
	Reason        string           `json:"reason" validate:"max=500"`
}

type acceptRequest struct {
	StoreID int64 `json:"store_id" validate:"gte=0"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type returnResponse struct {
	ID              int64            `json:"id"`
	ItemID          int64            `json:"item_id"`
	StoreID         int64            `json:"store_id"`
	Quantity        decimal.Decimal  `json:"quantity"`
	JobID           int64            `json:"job_id,omitempty"`
	RequestLineID   int64            `json:"request_line_id,omitempty"`
	Status          Status           `json:"status"`
	UnitCost        *decimal.Decimal `json:"unit_cost,omitempty"`
	TotalCredit     *decimal.Decimal `json:"total_credit,omitempty"`
	Reason          string           `json:"reason,omitempty"`
	RequestedBy     int64            `json:"requested_by"`
	RequestedAt     time.Time        `json:"requested_at"`
	ResolvedStoreID int64            `json:"resolved_store_id,omitempty"`
	ResolvedBy      int64            `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty"`
}

func toResponse(ret ItemReturn) returnResponse {
	out := returnResponse{
		ID:              ret.ID,
		ItemID:          ret.ItemID,
		StoreID:         ret.StoreID,
		Quantity:        ret.Quantity,
		JobID:           ret.JobID,
		RequestLineID:   ret.RequestLineID,
		Status:          ret.Status,
		Reason:          ret.Reason,
		RequestedBy:     ret.RequestedBy,
		RequestedAt:     ret.RequestedAt,
		ResolvedStoreID: ret.ResolvedStoreID,
		ResolvedBy:      ret.ResolvedBy,
		ResolvedAt:      ret.ResolvedAt,
	}
	if ret.UnitCost.Valid {
		out.UnitCost = &ret.UnitCost.Decimal
	}
	if ret.TotalCredit.Valid {
		out.TotalCredit = &ret.TotalCredit.Decimal
	}
	return out
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req requestReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.service.RequestReturn(r.Context(), p, RequestInput{
		ItemID:        req.ItemID,
		StoreID:       req.StoreID,
		Quantity:      *req.Quantity,
		JobID:         req.JobID,
		RequestLineID: req.RequestLineID,
		Reason:        req.Reason,
	})
	if err != nil {
		h.fail(w, "request", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(ret))
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
	ret, err := h.service.GetReturn(r.Context(), p, id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(ret))
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
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
	var req acceptRequest
	if err := httpx.DecodeOptionalJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Accept(r.Context(), p, AcceptInput{ReturnID: id, StoreID: req.StoreID})
	if err != nil {
		h.fail(w, "accept", err)
		return
	}
	httpx.WithOutcome(w, http.StatusOK, map[string]any{
		"return":          toResponse(result.Return),
		"ledger_entry_id": result.Entry.ID,
		"balance_after":   result.Entry.BalanceAfter,
	}, result.Outcome)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
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
	var req rejectRequest
	if err := httpx.DecodeOptionalJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, outcome, err := h.service.Reject(r.Context(), p, RejectInput{ReturnID: id, Reason: req.Reason})
	if err != nil {
		h.fail(w, "reject", err)
		return
	}
	httpx.WithOutcome(w, http.StatusOK, toResponse(ret), outcome)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("returns "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
