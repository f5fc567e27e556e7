package service

import (
	"context"
	"encoding/json"
	"time"

	"orders-service/internal/model"

	"github.com/google/uuid"
)

// ProductValidator resolves product ids against the catalog.
// Ids the catalog does not know are absent from the result.
type ProductValidator interface {
	Validate(ctx context.Context, ids []string) ([]model.Product, error)
}

// PaymentGateway opens checkout sessions with the payment service.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req model.PaymentSessionRequest) (json.RawMessage, error)
}

// OrderService defines operations for order management.
type OrderService interface {
	// CreateOrder validates the items against the catalog and persists the order.
	CreateOrder(ctx context.Context, req *model.OrderRequest) (*model.Order, error)

	// GetByID retrieves an order with its items, receipt and product names.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// List returns a page of orders, optionally filtered by status.
	List(ctx context.Context, req model.ListOrdersRequest) (*model.OrderPage, error)

	// ChangeStatus applies a manual status edit.
	ChangeStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) (*model.Order, error)

	// CreatePaymentSession requests a checkout session for an order. The order is not modified.
	CreatePaymentSession(ctx context.Context, order *model.Order) (json.RawMessage, error)

	// CreatePaymentSessionByID loads the order and requests a checkout session for it.
	CreatePaymentSessionByID(ctx context.Context, id uuid.UUID) (json.RawMessage, error)

	// MarkPaid reconciles a payment confirmation. Repeated confirmations are no-ops.
	MarkPaid(ctx context.Context, req model.PaidOrderRequest) (*model.Order, error)
}

// Config holds the orchestration settings.
type Config struct {
	Currency       string
	CatalogTimeout time.Duration
	PaymentTimeout time.Duration
}

// MaxPageLimit bounds the page size accepted by List.
const MaxPageLimit = 100
