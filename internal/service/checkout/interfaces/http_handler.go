package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"checkoutcore/internal/pkg/logger"
	"checkoutcore/internal/service/checkout/application"
	"checkoutcore/internal/service/checkout/domain"
	invdomain "checkoutcore/internal/service/inventory/domain"
	rdomain "checkoutcore/internal/service/routing/domain"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Planner 是路由器对 HTTP 层暴露的能力。
type Planner interface {
	Route(ctx context.Context, orderID string) (*rdomain.Plan, error)
}

// CheckoutHandler 封装结算服务的 HTTP 入口。
type CheckoutHandler struct {
	service *application.CheckoutService
	router  Planner
}

func NewCheckoutHandler(service *application.CheckoutService, router Planner) *CheckoutHandler {
	return &CheckoutHandler{service: service, router: router}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *CheckoutHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /orders", h.handlePlaceOrder)
	mux.HandleFunc("GET /orders/{id}", h.handleGetOrder)
	mux.HandleFunc("POST /orders/{id}/route", h.handleRoute)
	mux.HandleFunc("POST /checkout", h.handleCheckout)
}

type checkoutRequest struct {
	OrderID    string `json:"orderId"`
	Instrument string `json:"instrument"`
}

func (h *CheckoutHandler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	order, err := h.service.PlaceOrder(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *CheckoutHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	order, err := h.service.GetOrder(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *CheckoutHandler) handleRoute(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	plan, err := h.router.Route(ctx, r.PathValue("id"))
	var partial *rdomain.PartialAvailabilityError
	if errors.As(err, &partial) && plan != nil {
		// 部分可分配时仍返回计划，调用方决定拆单或取消
		writeJSON(w, http.StatusConflict, plan)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *CheckoutHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := h.service.Checkout(ctx, req.OrderID, req.Instrument)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order_id", req.OrderID).Msg("Checkout did not complete")
		if res != nil {
			writeJSON(w, statusFor(err), res)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// statusFor 根据错误类型返回不同的 HTTP 状态码
func statusFor(err error) int {
	var (
		partial *rdomain.PartialAvailabilityError
		authErr *domain.PaymentAuthorizationError
		capErr  *domain.PaymentCaptureError
	)
	switch {
	case errors.Is(err, domain.ErrReconciliationRequired):
		return http.StatusAccepted
	case errors.As(err, &authErr), errors.As(err, &capErr):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, rdomain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, rdomain.ErrEmptyOrder):
		return http.StatusBadRequest
	case errors.As(err, &partial),
		errors.Is(err, domain.ErrOrderExists),
		errors.Is(err, domain.ErrOrderClosed),
		errors.Is(err, domain.ErrCheckoutInProgress),
		isInventoryConflict(err):
		return http.StatusConflict
	case errors.Is(err, rdomain.ErrUnknownVendor):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func isInventoryConflict(err error) bool {
	var insufficient *invdomain.InsufficientInventoryError
	return errors.As(err, &insufficient) || errors.Is(err, invdomain.ErrHoldStateConflict)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
