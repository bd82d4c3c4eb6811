package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"

	"checkoutcore/internal/service/inventory/application"
	"checkoutcore/internal/service/inventory/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InventoryHandler 暴露库存账本与预留单的 HTTP 接口。
type InventoryHandler struct {
	ledger *application.Ledger
	holds  *application.HoldManager
}

func NewInventoryHandler(ledger *application.Ledger, holds *application.HoldManager) *InventoryHandler {
	return &InventoryHandler{ledger: ledger, holds: holds}
}

func (h *InventoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders/{id}/holds", h.handleReserve)
	mux.HandleFunc("GET /orders/{id}/hold", h.handleGetHold)
	mux.HandleFunc("POST /orders/{id}/holds/finalize", h.handleFinalize)
	mux.HandleFunc("POST /orders/{id}/holds/release", h.handleRelease)
	mux.HandleFunc("POST /inventory/receipts", h.handleReceive)
	mux.HandleFunc("POST /inventory/adjustments", h.handleAdjust)
	mux.HandleFunc("POST /inventory/variants", h.handleDefineVariant)
	mux.HandleFunc("GET /inventory/{product}/{location}", h.handleGetRecord)
	mux.HandleFunc("GET /movements/{reference}", h.handleMovements)
}

type reserveRequest struct {
	Claims []domain.ClaimRequest `json:"claims"`
}

type receiptRequest struct {
	Item       domain.ItemKey `json:"item"`
	LocationID string         `json:"location_id"`
	Quantity   int            `json:"quantity"`
	Reference  string         `json:"reference"`
}

type adjustmentRequest struct {
	Item       domain.ItemKey `json:"item"`
	LocationID string         `json:"location_id"`
	Delta      int            `json:"delta"`
	Reason     string         `json:"reason"`
}

type variantRequest struct {
	Item            domain.ItemKey `json:"item"`
	LocationID      string         `json:"location_id"`
	ConversionRatio int            `json:"conversion_ratio"`
}

func (h *InventoryHandler) handleReserve(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	hold, err := h.holds.Reserve(ctx, r.PathValue("id"), req.Claims)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

func (h *InventoryHandler) handleGetHold(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	hold, err := h.holds.Hold(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if hold == nil {
		http.Error(w, "no hold for order", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, hold)
}

func (h *InventoryHandler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	if err := h.holds.Finalize(ctx, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) handleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	if err := h.holds.Release(ctx, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) handleReceive(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	var req receiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.ledger.Receive(ctx, req.Item, req.LocationID, req.Quantity, req.Reference); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	var req adjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.ledger.Adjust(ctx, req.Item, req.LocationID, req.Delta, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) handleDefineVariant(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	var req variantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.ledger.DefineVariant(ctx, req.Item, req.LocationID, req.ConversionRatio); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InventoryHandler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	rec, err := h.ledger.Record(ctx, r.PathValue("product"), r.PathValue("location"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id":  rec.ProductID,
		"location_id": rec.LocationID,
		"on_hand":     rec.OnHand,
		"reserved":    rec.Reserved,
		"available":   rec.Available(),
	})
}

func (h *InventoryHandler) handleMovements(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	movements, err := h.ledger.Movements(ctx, r.PathValue("reference"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

// statusFor 根据错误类型返回不同的 HTTP 状态码
func statusFor(err error) int {
	var insufficient *domain.InsufficientInventoryError
	switch {
	case errors.As(err, &insufficient),
		errors.Is(err, domain.ErrHoldStateConflict),
		errors.Is(err, domain.ErrBelowReserved):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidClaim),
		errors.Is(err, domain.ErrEmptyPlan),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidRatio):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
