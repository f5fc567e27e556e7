package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"orders-service/internal/model"
	"orders-service/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultPage  = 1
	defaultLimit = 10

	maxBodyBytes = 1 << 20
)

// OrderHandler handles order-related HTTP requests.
type OrderHandler struct {
	service service.OrderService
	logger  zerolog.Logger
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(service service.OrderService, logger zerolog.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		logger:  logger.With().Str("handler", "order").Logger(),
	}
}

// Create handles POST /api/orders requests. The order is placed first; a failed
// payment session is reported next to it rather than failing the request.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.OrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.service.CreateOrder(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	resp := model.CreateOrderResponse{Order: order}

	session, err := h.service.CreatePaymentSession(r.Context(), order)
	if err != nil {
		_, _, message := statusFor(err)
		resp.PaymentSessionError = message
		h.logger.Warn().
			Err(err).
			Str("order_id", order.ID.String()).
			Msg("order placed without a payment session")
	} else {
		resp.PaymentSession = session
	}

	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /api/orders requests.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, err := queryInt(query.Get("page"), defaultPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidPagination, "page must be an integer", h.logger)
		return
	}

	limit, err := queryInt(query.Get("limit"), defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidPagination, "limit must be an integer", h.logger)
		return
	}

	req := model.ListOrdersRequest{Page: page, Limit: limit}

	if raw := query.Get("status"); raw != "" {
		status, err := model.ParseOrderStatus(raw)
		if err != nil {
			writeServiceError(w, err, h.logger)
			return
		}
		req.Status = &status
	}

	result, err := h.service.List(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetByID handles GET /api/orders/{id} requests.
func (h *OrderHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetByID(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// ChangeStatus handles PATCH /api/orders/{id}/status requests.
func (h *OrderHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req model.ChangeStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	if req.Status == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeMissingField, "status is required", h.logger)
		return
	}

	status, err := model.ParseOrderStatus(req.Status)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	order, err := h.service.ChangeStatus(r.Context(), orderID, status)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// CreatePaymentSession handles POST /api/orders/{id}/payment-session requests.
func (h *OrderHandler) CreatePaymentSession(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	session, err := h.service.CreatePaymentSessionByID(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(session)
}

func (h *OrderHandler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.PathValue("id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, model.ErrCodeMissingField, "order ID is required", h.logger)
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidJSON, "invalid order ID format", h.logger)
		return uuid.Nil, false
	}

	return id, true
}

func (h *OrderHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidJSON, "invalid request body", h.logger)
		return false
	}
	return true
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, err)
	}
	return v, nil
}
