package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"orders-service/internal/metrics"
	"orders-service/internal/model"
	"orders-service/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// orderService implements OrderService.
type orderService struct {
	orderRepo repository.OrderRepository
	catalog   ProductValidator
	payments  PaymentGateway
	cfg       Config
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	orderRepo repository.OrderRepository,
	catalog ProductValidator,
	payments PaymentGateway,
	cfg Config,
	m *metrics.Metrics,
	logger zerolog.Logger,
) OrderService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.CatalogTimeout <= 0 {
		cfg.CatalogTimeout = 5 * time.Second
	}
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &orderService{
		orderRepo: orderRepo,
		catalog:   catalog,
		payments:  payments,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With().Str("service", "order").Logger(),
	}
}

// CreateOrder validates the request, prices it from the catalog and persists it.
func (s *orderService) CreateOrder(ctx context.Context, req *model.OrderRequest) (*model.Order, error) {
	if err := s.validateOrderRequest(req); err != nil {
		return nil, err
	}

	productIDs := distinctProductIDs(req.Items)

	products, err := s.lookupProducts(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	if missing := missingProducts(productIDs, products); len(missing) > 0 {
		s.logger.Warn().
			Strs("missing_product_ids", missing).
			Int("product_count", len(productIDs)).
			Msg("order references unknown products")
		return nil, model.NewValidationError(model.ErrCodeProductNotFound,
			fmt.Sprintf("Products not found: %s", strings.Join(missing, ", ")))
	}

	now := time.Now().UTC()
	order := &model.Order{
		ID:        uuid.New(),
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     make([]model.OrderItem, len(req.Items)),
	}

	for i, item := range req.Items {
		product := products[item.ProductID]
		order.Items[i] = model.OrderItem{
			ID:        uuid.New(),
			OrderID:   order.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     product.Price,
			Name:      product.Name,
		}
	}
	order.TotalAmount, order.TotalItems = computeTotals(order.Items)

	// Nothing has been written yet, so an abandoned request leaves no trace.
	if err := ctx.Err(); err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.ID.String()).Msg("order creation abandoned before write")
		return nil, model.NewDependencyError(model.ErrCodeRequestAbandoned, "order creation abandoned", err)
	}

	if err := s.orderRepo.CreateWithItems(ctx, order); err != nil {
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to persist order")
		return nil, model.NewStorageError("failed to create order", err)
	}

	s.metrics.OrdersCreated.Inc()
	s.logger.Info().
		Str("order_id", order.ID.String()).
		Int("item_count", len(order.Items)).
		Int("total_items", order.TotalItems).
		Str("total_amount", order.TotalAmount.StringFixed(2)).
		Msg("order created successfully")

	return order, nil
}

// GetByID retrieves an order by its ID and joins product names from the catalog.
func (s *orderService) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.joinProductNames(ctx, order.Items); err != nil {
		return nil, err
	}

	return order, nil
}

// List returns a page of orders and its pagination metadata.
func (s *orderService) List(ctx context.Context, req model.ListOrdersRequest) (*model.OrderPage, error) {
	if req.Page < 1 {
		return nil, model.NewValidationError(model.ErrCodeInvalidPagination, "Page must be at least 1")
	}
	if req.Limit < 1 || req.Limit > MaxPageLimit {
		return nil, model.NewValidationError(model.ErrCodeInvalidPagination,
			fmt.Sprintf("Limit must be between 1 and %d", MaxPageLimit))
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, model.NewValidationError(model.ErrCodeInvalidStatus,
			fmt.Sprintf("Valid statuses are %v", model.OrderStatuses))
	}

	total, err := s.orderRepo.Count(ctx, req.Status)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to count orders")
		return nil, model.NewStorageError("failed to count orders", err)
	}

	orders, err := s.orderRepo.FindPage(ctx, (req.Page-1)*req.Limit, req.Limit, req.Status)
	if err != nil {
		s.logger.Error().Err(err).Int("page", req.Page).Msg("failed to list orders")
		return nil, model.NewStorageError("failed to list orders", err)
	}

	return &model.OrderPage{
		Data: orders,
		Meta: model.PageMeta{
			Total:    total,
			Page:     req.Page,
			LastPage: lastPage(total, req.Limit),
		},
	}, nil
}

// ChangeStatus sets a new status. Any status may follow any other; repeating the
// current status writes nothing. Setting PAID here does not record a payment.
// Item names are joined like GetByID, but a catalog outage leaves them empty
// instead of failing a change that is already stored.
func (s *orderService) ChangeStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	if !status.Valid() {
		return nil, model.NewValidationError(model.ErrCodeInvalidStatus,
			fmt.Sprintf("Order status must be one of %v", model.OrderStatuses))
	}

	order, err := s.findOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.Status == status {
		s.logger.Debug().
			Str("order_id", id.String()).
			Str("status", string(status)).
			Msg("status unchanged")
		s.tryJoinProductNames(ctx, order)
		return order, nil
	}

	updated, err := s.orderRepo.UpdateStatus(ctx, id, status)
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to update status")
		return nil, model.NewStorageError("failed to update order status", err)
	}
	if updated == nil {
		return nil, model.NewNotFoundError(fmt.Sprintf("Order '%s' not found", id))
	}

	updated.Items = order.Items
	updated.Receipt = order.Receipt

	s.logger.Info().
		Str("order_id", id.String()).
		Str("from", string(order.Status)).
		Str("to", string(status)).
		Msg("order status changed")

	s.tryJoinProductNames(ctx, updated)
	return updated, nil
}

// CreatePaymentSession asks the payment service for a checkout session.
func (s *orderService) CreatePaymentSession(ctx context.Context, order *model.Order) (json.RawMessage, error) {
	if order == nil {
		return nil, model.NewValidationError(model.ErrCodeMissingField, "Order is required")
	}

	req := model.PaymentSessionRequest{
		OrderID:  order.ID,
		Currency: s.cfg.Currency,
		Items:    make([]model.PaymentSessionItem, len(order.Items)),
	}
	for i, item := range order.Items {
		req.Items[i] = model.PaymentSessionItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.PaymentTimeout)
	defer cancel()

	session, err := s.payments.CreateSession(callCtx, req)
	if err != nil {
		s.metrics.DependencyErrors.WithLabelValues("payment").Inc()
		s.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to create payment session")
		return nil, asDependencyError(model.ErrCodePaymentUnavailable, "failed to create payment session", err)
	}

	return session, nil
}

// CreatePaymentSessionByID loads the order with product names, then opens a session.
func (s *orderService) CreatePaymentSessionByID(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	order, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.Paid {
		return nil, model.NewValidationError(model.ErrCodeInvalidStatus,
			fmt.Sprintf("Order '%s' is already paid", id))
	}

	return s.CreatePaymentSession(ctx, order)
}

// MarkPaid applies a payment confirmation exactly once per order.
func (s *orderService) MarkPaid(ctx context.Context, req model.PaidOrderRequest) (*model.Order, error) {
	orderID, err := uuid.Parse(strings.TrimSpace(req.OrderID))
	if err != nil {
		// No order with this id can exist in the ledger.
		s.metrics.IntegrityErrors.Inc()
		s.logger.Error().
			Bool("alert", true).
			Str("order_id", req.OrderID).
			Str("charge_id", req.StripePaymentID).
			Msg("payment confirmed for a malformed order id")
		return nil, model.NewValidationError(model.ErrCodeMissingField, "Payment confirmation has an invalid order id")
	}
	if strings.TrimSpace(req.StripePaymentID) == "" {
		return nil, model.NewValidationError(model.ErrCodeMissingField, "Payment confirmation has no charge id")
	}
	if strings.TrimSpace(req.ReceiptURL) == "" {
		return nil, model.NewValidationError(model.ErrCodeMissingField, "Payment confirmation has no receipt URL")
	}

	logger := s.logger.With().
		Str("order_id", orderID.String()).
		Str("charge_id", req.StripePaymentID).
		Logger()

	result, err := s.orderRepo.MarkPaidAtomic(ctx, orderID, req.StripePaymentID, req.ReceiptURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark order as paid")
		return nil, model.NewStorageError("failed to mark order as paid", err)
	}

	if result == nil {
		s.metrics.IntegrityErrors.Inc()
		logger.Error().
			Bool("alert", true).
			Msg("payment confirmed for an order the ledger never created")
		return nil, model.NewIntegrityError(model.ErrCodeUnknownOrderPaid,
			fmt.Sprintf("Payment confirmed for unknown order '%s'", orderID))
	}

	if result.Duplicate {
		s.metrics.DuplicatePayments.Inc()
		if result.ChargeMismatch {
			s.metrics.ChargeMismatches.Inc()
			stored := ""
			if result.Order.PaymentChargeID != nil {
				stored = *result.Order.PaymentChargeID
			}
			logger.Warn().
				Str("stored_charge_id", stored).
				Msg("duplicate payment confirmation with a different charge id")
		} else {
			logger.Info().Msg("duplicate payment confirmation ignored")
		}
		return result.Order, nil
	}

	s.metrics.OrdersPaid.Inc()
	logger.Info().Msg("order marked as paid")

	return result.Order, nil
}

func (s *orderService) findOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to get order")
		return nil, model.NewStorageError("failed to get order", err)
	}

	if order == nil {
		s.logger.Debug().Str("order_id", id.String()).Msg("order not found")
		return nil, model.NewNotFoundError(fmt.Sprintf("Order '%s' not found", id))
	}

	return order, nil
}

// joinProductNames fills item names from the catalog in one call.
// Products since removed from the catalog keep an empty name.
func (s *orderService) joinProductNames(ctx context.Context, items []model.OrderItem) error {
	productIDs := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; !ok {
			seen[item.ProductID] = struct{}{}
			productIDs = append(productIDs, item.ProductID)
		}
	}

	products, err := s.lookupProducts(ctx, productIDs)
	if err != nil {
		return err
	}

	for i := range items {
		items[i].Name = products[items[i].ProductID].Name
	}
	return nil
}

func (s *orderService) tryJoinProductNames(ctx context.Context, order *model.Order) {
	if err := s.joinProductNames(ctx, order.Items); err != nil {
		s.logger.Warn().Err(err).Str("order_id", order.ID.String()).Msg("product names unavailable")
	}
}

// lookupProducts makes one catalog call and indexes the result by product id.
func (s *orderService) lookupProducts(ctx context.Context, ids []string) (map[string]model.Product, error) {
	index := make(map[string]model.Product, len(ids))
	if len(ids) == 0 {
		return index, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CatalogTimeout)
	defer cancel()

	products, err := s.catalog.Validate(callCtx, ids)
	if err != nil {
		s.metrics.DependencyErrors.WithLabelValues("catalog").Inc()
		s.logger.Error().Err(err).Int("product_count", len(ids)).Msg("catalog lookup failed")
		return nil, asDependencyError(model.ErrCodeCatalogUnavailable, "failed to validate products", err)
	}

	for _, p := range products {
		if p.Price.IsNegative() {
			s.metrics.DependencyErrors.WithLabelValues("catalog").Inc()
			return nil, model.NewDependencyError(model.ErrCodeCatalogUnavailable,
				fmt.Sprintf("catalog returned a negative price for product %s", p.ID), nil)
		}
		index[p.ID] = p
	}

	return index, nil
}

// validateOrderRequest validates the order request.
func (s *orderService) validateOrderRequest(req *model.OrderRequest) error {
	if req == nil || len(req.Items) == 0 {
		return model.ErrEmptyOrder
	}

	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			s.logger.Warn().Int("item_index", i).Msg("missing product id")
			return model.ErrMissingProductID
		}

		if item.Quantity <= 0 {
			s.logger.Warn().
				Int("item_index", i).
				Str("product_id", item.ProductID).
				Int("quantity", item.Quantity).
				Msg("invalid quantity")
			return model.ErrInvalidQuantity
		}
	}

	return nil
}

// asDependencyError keeps an existing dependency classification and wraps anything else.
func asDependencyError(code, message string, err error) error {
	if model.IsKind(err, model.KindDependency) {
		return err
	}
	return model.NewDependencyError(code, message, err)
}

// distinctProductIDs returns each product id once, in first-seen order.
func distinctProductIDs(items []model.OrderItemRequest) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

func missingProducts(ids []string, found map[string]model.Product) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// computeTotals sums price x quantity and quantity over the items.
func computeTotals(items []model.OrderItem) (decimal.Decimal, int) {
	amount := decimal.Zero
	count := 0
	for _, item := range items {
		amount = amount.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		count += item.Quantity
	}
	return amount, count
}

func lastPage(total, limit int) int {
	return (total + limit - 1) / limit
}
