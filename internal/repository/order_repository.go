package repository

import (
	"context"
	"errors"
	"fmt"

	"orders-service/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const uniqueViolation = "23505"

const orderColumns = `id, status::text, total_amount, total_items, paid, paid_at, payment_charge_id, created_at, updated_at`

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// orderRepository implements the OrderRepository interface using PostgreSQL.
type orderRepository struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool, logger zerolog.Logger) OrderRepository {
	return &orderRepository{
		pool:   pool,
		logger: logger.With().Str("repository", "order").Logger(),
	}
}

// CreateWithItems inserts the order and its items in a single transaction.
func (r *orderRepository) CreateWithItems(ctx context.Context, order *model.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(ctx, tx)

	orderQuery := `
		INSERT INTO orders (id, status, total_amount, total_items, paid, created_at, updated_at)
		VALUES ($1, $2::text::order_status, $3, $4, FALSE, $5, $6)
	`

	_, err = tx.Exec(ctx, orderQuery,
		order.ID,
		string(order.Status),
		order.TotalAmount,
		order.TotalItems,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", order.ID.String()).
			Msg("failed to create order")
		return fmt.Errorf("failed to create order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, position, product_id, quantity, price)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	// Items keep the position they had in the request.
	batch := &pgx.Batch{}
	for i, item := range order.Items {
		batch.Queue(itemQuery, item.ID, order.ID, i, item.ProductID, item.Quantity, item.Price)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range order.Items {
		if _, err := results.Exec(); err != nil {
			results.Close()
			r.logger.Error().
				Err(err).
				Str("order_id", order.ID.String()).
				Str("product_id", order.Items[i].ProductID).
				Msg("failed to create order item")
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		r.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to close item batch")
		return fmt.Errorf("failed to create order items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to commit transaction")
		return fmt.Errorf("failed to commit order: %w", err)
	}

	r.logger.Debug().
		Str("order_id", order.ID.String()).
		Int("item_count", len(order.Items)).
		Msg("order created successfully")

	return nil
}

// Count returns the number of orders matching the optional status.
func (r *orderRepository) Count(ctx context.Context, status *model.OrderStatus) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM orders
		WHERE ($1::text IS NULL OR status = $1::text::order_status)
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, statusArg(status)).Scan(&count); err != nil {
		r.logger.Error().Err(err).Msg("failed to count orders")
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}

	return count, nil
}

// FindPage returns a page of orders ordered by creation time.
func (r *orderRepository) FindPage(ctx context.Context, skip, take int, status *model.OrderStatus) ([]model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text IS NULL OR status = $1::text::order_status)
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, statusArg(status), take, skip)
	if err != nil {
		r.logger.Error().Err(err).
			Int("skip", skip).
			Int("take", take).
			Msg("failed to query orders")
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []model.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to scan order row")
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order rows")
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// FindByID retrieves an order by its ID along with its items and receipt.
func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	order, err := r.loadOrder(ctx, r.pool, id, false)
	if err != nil || order == nil {
		return nil, err
	}

	if err := r.loadDetails(ctx, r.pool, order); err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateStatus changes the status of an order.
func (r *orderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	query := `
		UPDATE orders
		SET status = $2::text::order_status, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orderColumns

	order, err := scanOrder(r.pool.QueryRow(ctx, query, id, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Str("order_id", id.String()).Msg("order not found for status update")
			return nil, nil
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to update order status")
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	r.logger.Debug().
		Str("order_id", id.String()).
		Str("status", string(status)).
		Msg("order status updated")

	return order, nil
}

// MarkPaidAtomic locks the order row, then either reports a duplicate or applies
// the paid flag, charge id, status and receipt together.
func (r *orderRepository) MarkPaidAtomic(ctx context.Context, id uuid.UUID, chargeID, receiptURL string) (*MarkPaidResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to begin transaction")
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer r.rollback(ctx, tx)

	current, err := r.loadOrder(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	if current.Paid {
		if err := r.loadDetails(ctx, tx, current); err != nil {
			return nil, err
		}
		return &MarkPaidResult{
			Order:          current,
			Duplicate:      true,
			ChargeMismatch: current.PaymentChargeID == nil || *current.PaymentChargeID != chargeID,
		}, nil
	}

	updateQuery := `
		UPDATE orders
		SET paid = TRUE,
			paid_at = NOW(),
			status = 'PAID',
			payment_charge_id = $2,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRow(ctx, updateQuery, id, chargeID))
	if err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to mark order paid")
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}

	receiptQuery := `
		INSERT INTO order_receipts (id, order_id, receipt_url)
		VALUES ($1, $2, $3)
	`

	if _, err := tx.Exec(ctx, receiptQuery, uuid.New(), id, receiptURL); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// A receipt without the paid flag means the row was written outside this path.
			r.logger.Warn().Str("order_id", id.String()).Msg("receipt already exists for unpaid order")
			return nil, fmt.Errorf("receipt already exists for order %s: %w", id, err)
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to create receipt")
		return nil, fmt.Errorf("failed to create receipt: %w", err)
	}

	if err := r.loadDetails(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to commit payment")
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	r.logger.Debug().
		Str("order_id", id.String()).
		Str("charge_id", chargeID).
		Msg("order marked as paid")

	return &MarkPaidResult{Order: order}, nil
}

func (r *orderRepository) loadOrder(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*model.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	order, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug().Str("order_id", id.String()).Msg("order not found")
			return nil, nil
		}
		r.logger.Error().Err(err).Str("order_id", id.String()).Msg("failed to query order")
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	return order, nil
}

// loadDetails attaches items and the receipt, if any, to order.
func (r *orderRepository) loadDetails(ctx context.Context, q querier, order *model.Order) error {
	itemsQuery := `
		SELECT id, order_id, product_id, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position, id
	`

	rows, err := q.Query(ctx, itemsQuery, order.ID)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("order_id", order.ID.String()).
			Msg("failed to query order items")
		return fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	items := []model.OrderItem{}
	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price); err != nil {
			r.logger.Error().Err(err).Msg("failed to scan order item row")
			return fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error().Err(err).Msg("error iterating order item rows")
		return fmt.Errorf("error iterating order items: %w", err)
	}
	order.Items = items

	receiptQuery := `
		SELECT id, order_id, receipt_url, created_at
		FROM order_receipts
		WHERE order_id = $1
	`

	var receipt model.OrderReceipt
	err = q.QueryRow(ctx, receiptQuery, order.ID).Scan(
		&receipt.ID,
		&receipt.OrderID,
		&receipt.ReceiptURL,
		&receipt.CreatedAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		order.Receipt = nil
	case err != nil:
		r.logger.Error().Err(err).Str("order_id", order.ID.String()).Msg("failed to query receipt")
		return fmt.Errorf("failed to query receipt: %w", err)
	default:
		order.Receipt = &receipt
	}

	return nil
}

func (r *orderRepository) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.Error().Err(err).Msg("failed to rollback transaction")
	}
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		order  model.Order
		status string
	)
	err := row.Scan(
		&order.ID,
		&status,
		&order.TotalAmount,
		&order.TotalItems,
		&order.Paid,
		&order.PaidAt,
		&order.PaymentChargeID,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	order.Status = model.OrderStatus(status)
	return &order, nil
}

func statusArg(status *model.OrderStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}
