package inventory

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-cmms/internal/platform/httpx"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/stocks", h.handleOpenStock)
	r.Post("/movements", h.handleMovement)
	r.Get("/ledger", h.handleLedger)
	r.Get("/reconcile", h.handleReconcile)
}

type openStockRequest struct {
	ItemID  int64 `json:"item_id" validate:"required,gt=0"`
	StoreID int64 `json:"store_id" validate:"required,gt=0"`
}

type movementRequest struct {
	ItemID        int64            `json:"item_id" validate:"required,gt=0"`
	StoreID       int64            `json:"store_id" validate:"required,gt=0"`
	MovementType  string           `json:"movement_type" validate:"required"`
	Quantity      *decimal.Decimal `json:"quantity" validate:"required"`
	UnitCost      *decimal.Decimal `json:"unit_cost"`
	ReferenceType string           `json:"reference_type" validate:"required"`
	ReferenceID   int64            `json:"reference_id" validate:"required,gt=0"`
}

type ledgerEntryResponse struct {
	ID            int64           `json:"id"`
	Code          string          `json:"code"`
	ItemID        int64           `json:"item_id"`
	StoreID       int64           `json:"store_id"`
	MovementType  MovementType    `json:"movement_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalValue    decimal.Decimal `json:"total_value"`
	ReferenceType ReferenceType   `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toEntryResponse(e LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:            e.ID,
		Code:          e.Code,
		ItemID:        e.ItemID,
		StoreID:       e.StoreID,
		MovementType:  e.Type,
		Quantity:      e.Quantity,
		BalanceAfter:  e.BalanceAfter,
		UnitCost:      e.UnitCost,
		TotalValue:    e.TotalValue,
		ReferenceType: e.Reference.Type,
		ReferenceID:   e.Reference.ID,
		CreatedBy:     e.CreatedBy,
		CreatedAt:     e.CreatedAt,
	}
}

func (h *Handler) handleOpenStock(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req openStockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	stock, err := h.service.OpenStock(r.Context(), p, req.ItemID, req.StoreID)
	if err != nil {
		h.fail(w, "open stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":       stock.ID,
		"item_id":  stock.ItemID,
		"store_id": stock.StoreID,
		"quantity": stock.Quantity,
	})
}

func (h *Handler) handleMovement(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(h.validator, req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m := Movement{
		ItemID:    req.ItemID,
		StoreID:   req.StoreID,
		Type:      MovementType(req.MovementType),
		Quantity:  *req.Quantity,
		Reference: Reference{Type: ReferenceType(req.ReferenceType), ID: req.ReferenceID},
	}
	if req.UnitCost != nil {
		m.UnitCost = decimal.NewNullDecimal(*req.UnitCost)
	}
	result, err := h.service.RecordMovement(r.Context(), p, m)
	if err != nil {
		h.fail(w, "record movement", err)
		return
	}
	httpx.WithOutcome(w, http.StatusCreated, toEntryResponse(result.Entry), result.Outcome)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := stockQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.QueryInt64(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit = int(limit)
	entries, err := h.service.ListLedger(r.Context(), p, filter)
	if err != nil {
		h.fail(w, "list ledger", err)
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := stockQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Reconcile(r.Context(), p.CompanyID, filter.ItemID, filter.StoreID)
	if err != nil {
		h.fail(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_id":        report.ItemID,
		"store_id":       report.StoreID,
		"stock_quantity": report.StockQuantity,
		"ledger_sum":     report.LedgerSum,
		"last_balance":   report.LastBalance,
		"entries":        report.Entries,
		"breaks":         len(report.Breaks),
		"consistent":     report.Consistent(),
	})
}

func stockQuery(r *http.Request) (LedgerFilter, error) {
	itemID, err := httpx.QueryInt64(r, "item_id")
	if err != nil {
		return LedgerFilter{}, err
	}
	storeID, err := httpx.QueryInt64(r, "store_id")
	if err != nil {
		return LedgerFilter{}, err
	}
	return LedgerFilter{ItemID: itemID, StoreID: storeID}, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("inventory "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
