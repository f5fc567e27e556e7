package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPaid      OrderStatus = "PAID"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// OrderStatuses lists every valid status.
var OrderStatuses = []OrderStatus{StatusPending, StatusPaid, StatusDelivered, StatusCancelled}

// Valid reports whether s belongs to the closed status set.
func (s OrderStatus) Valid() bool {
	for _, status := range OrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ParseOrderStatus parses a status name case-insensitively.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", NewValidationError(ErrCodeInvalidStatus,
			fmt.Sprintf("Order status must be one of %v", OrderStatuses))
	}
	return status, nil
}

// Order represents a customer order.
type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Status          OrderStatus     `json:"status" db:"status"`
	TotalAmount     decimal.Decimal `json:"totalAmount" db:"total_amount"`
	TotalItems      int             `json:"totalItems" db:"total_items"`
	Paid            bool            `json:"paid" db:"paid"`
	PaidAt          *time.Time      `json:"paidAt,omitempty" db:"paid_at"`
	PaymentChargeID *string         `json:"paymentChargeId,omitempty" db:"payment_charge_id"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
	Items           []OrderItem     `json:"items,omitempty"`
	Receipt         *OrderReceipt   `json:"receipt,omitempty"`
}

// OrderItem represents a line item in an order.
// Name is joined from the catalog at read time and is not persisted.
type OrderItem struct {
	ID        uuid.UUID       `json:"-" db:"id"`
	OrderID   uuid.UUID       `json:"-" db:"order_id"`
	ProductID string          `json:"productId" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Name      string          `json:"name,omitempty" db:"-"`
}

// OrderReceipt is the proof of payment recorded once per order.
type OrderReceipt struct {
	ID         uuid.UUID `json:"id" db:"id"`
	OrderID    uuid.UUID `json:"-" db:"order_id"`
	ReceiptURL string    `json:"receiptUrl" db:"receipt_url"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// OrderRequest represents the request payload for creating an order.
type OrderRequest struct {
	Items []OrderItemRequest `json:"items"`
}

// OrderItemRequest represents a single item in an order request.
type OrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ListOrdersRequest selects a page of orders.
type ListOrdersRequest struct {
	Page   int          `json:"page"`
	Limit  int          `json:"limit"`
	Status *OrderStatus `json:"status,omitempty"`
}

// PageMeta describes the pagination of a list result.
type PageMeta struct {
	Total    int `json:"total"`
	Page     int `json:"page"`
	LastPage int `json:"lastPage"`
}

// OrderPage is a page of orders with its metadata.
type OrderPage struct {
	Data []Order  `json:"data"`
	Meta PageMeta `json:"meta"`
}

// ChangeStatusRequest represents a manual status edit.
type ChangeStatusRequest struct {
	Status string `json:"status"`
}

// PaidOrderRequest is the payment service's confirmation that an order was charged.
type PaidOrderRequest struct {
	OrderID         string `json:"orderId"`
	StripePaymentID string `json:"stripePaymentId"`
	ReceiptURL      string `json:"receiptUrl"`
}

// PaymentSessionItem is a line sent to the payment service.
type PaymentSessionItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// PaymentSessionRequest is sent to the payment service to open a checkout session.
type PaymentSessionRequest struct {
	OrderID  uuid.UUID            `json:"orderId"`
	Currency string               `json:"currency"`
	Items    []PaymentSessionItem `json:"items"`
}

// CreateOrderResponse is returned when an order is placed.
// PaymentSession is the provider payload, passed through untouched.
type CreateOrderResponse struct {
	Order               *Order          `json:"order"`
	PaymentSession      json.RawMessage `json:"paymentSession,omitempty"`
	PaymentSessionError string          `json:"paymentSessionError,omitempty"`
}
