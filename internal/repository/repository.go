package repository

import (
	"context"

	"orders-service/internal/model"

	"github.com/google/uuid"
)

// OrderRepository defines the interface for order data access operations.
// Lookups that find nothing return a nil order and a nil error.
type OrderRepository interface {
	// CreateWithItems inserts the order and all of its items in one transaction.
	CreateWithItems(ctx context.Context, order *model.Order) error

	// Count returns the number of orders, optionally restricted to one status.
	Count(ctx context.Context, status *model.OrderStatus) (int, error)

	// FindPage returns up to take orders after skipping skip, oldest first.
	// Items are not loaded.
	FindPage(ctx context.Context, skip, take int, status *model.OrderStatus) ([]model.Order, error)

	// FindByID retrieves an order with its items and receipt.
	FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error)

	// UpdateStatus sets the status and bumps updated_at. Items are not loaded.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) (*model.Order, error)

	// MarkPaidAtomic records a confirmed payment and its receipt in one transaction.
	// An order that is already paid is returned unchanged with Duplicate set.
	MarkPaidAtomic(ctx context.Context, id uuid.UUID, chargeID, receiptURL string) (*MarkPaidResult, error)
}

// MarkPaidResult reports how a payment confirmation was applied.
type MarkPaidResult struct {
	Order *model.Order

	// Duplicate is set when the order was already paid and nothing was written.
	Duplicate bool

	// ChargeMismatch is set on a duplicate whose charge id differs from the stored one.
	ChargeMismatch bool
}
