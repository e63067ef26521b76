package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/storeline/walkin/internal/domain"
	"github.com/storeline/walkin/internal/repository"
	"github.com/storeline/walkin/pkg/database"
	apperrors "github.com/storeline/walkin/pkg/errors"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts a new pending order with no items.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	query := `
		INSERT INTO orders
			(id, order_number, order_type, status, payment_status,
			 customer_name, customer_phone, customer_email,
			 subtotal, tax_amount, discount_amount, total_amount,
			 notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.pool.Exec(ctx, query,
		o.ID,
		o.OrderNumber,
		o.OrderType,
		o.Status,
		o.PaymentStatus,
		o.CustomerName,
		o.CustomerPhone,
		o.CustomerEmail,
		o.Subtotal,
		o.TaxAmount,
		o.DiscountAmount,
		o.TotalAmount,
		o.Notes,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// GetByID returns an order with its items in one query using a LEFT
// JOIN + JSONB_AGG, skipping soft-deleted orders.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT
			o.id, o.order_number, o.order_type, o.status, o.payment_status,
			o.customer_name, o.customer_phone, o.customer_email,
			o.subtotal, o.tax_amount, o.discount_amount, o.total_amount,
			o.notes, o.confirmed_at, o.cancelled_at, o.created_at, o.updated_at,
			COALESCE(
				JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', oi.id,
						'order_id', oi.order_id,
						'product_id', oi.product_id,
						'product_name', oi.product_name,
						'quantity', oi.quantity,
						'unit_price', oi.unit_price,
						'total_price', oi.total_price
					) ORDER BY oi.created_at
				) FILTER (WHERE oi.id IS NOT NULL),
				'[]'::jsonb
			) AS items
		FROM orders o
		LEFT JOIN order_items oi ON o.id = oi.order_id
		WHERE o.id = $1 AND o.deleted_at IS NULL
		GROUP BY o.id, o.order_number, o.order_type, o.status, o.payment_status,
			o.customer_name, o.customer_phone, o.customer_email,
			o.subtotal, o.tax_amount, o.discount_amount, o.total_amount,
			o.notes, o.confirmed_at, o.cancelled_at, o.created_at, o.updated_at`

	var (
		o         domain.Order
		itemsJSON []byte
	)

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.OrderNumber, &o.OrderType, &o.Status, &o.PaymentStatus,
		&o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&o.Subtotal, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
		&o.Notes, &o.ConfirmedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
		&itemsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if len(itemsJSON) > 0 && string(itemsJSON) != "null" && string(itemsJSON) != "[]" {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal order items: %w", err)
		}
	} else {
		o.Items = []domain.OrderItem{}
	}

	return &o, nil
}

// GetItem returns one order item by ID.
func (r *OrderRepository) GetItem(ctx context.Context, itemID string) (*domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price, created_at, updated_at
		FROM order_items
		WHERE id = $1`

	var item domain.OrderItem
	err := r.pool.QueryRow(ctx, query, itemID).Scan(
		&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
		&item.Quantity, &item.UnitPrice, &item.TotalPrice,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan order item: %w", err)
	}

	return &item, nil
}

// List returns orders matching the filter with the total count.
// Soft-deleted orders are excluded.
func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []any
	argIndex := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.CustomerPhone != nil {
		conditions = append(conditions, fmt.Sprintf("customer_phone = $%d", argIndex))
		args = append(args, *filter.CustomerPhone)
		argIndex++
	}

	perPage := filter.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * perPage
	}

	query := fmt.Sprintf(`
		SELECT id, order_number, order_type, status, payment_status,
		       customer_name, customer_phone, customer_email,
		       subtotal, tax_amount, discount_amount, total_amount,
		       notes, confirmed_at, cancelled_at, created_at, updated_at,
		       count(*) OVER() AS total_count
		FROM orders
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(conditions, " AND "), argIndex, argIndex+1,
	)

	args = append(args, perPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var totalCount int
	orders := make([]domain.Order, 0)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID, &o.OrderNumber, &o.OrderType, &o.Status, &o.PaymentStatus,
			&o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
			&o.Subtotal, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
			&o.Notes, &o.ConfirmedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	// Batch-load items to avoid one query per order.
	if len(orders) > 0 {
		orderIDs := make([]string, len(orders))
		for i := range orders {
			orderIDs[i] = orders[i].ID
		}

		itemsQuery := `
			SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price, created_at, updated_at
			FROM order_items
			WHERE order_id = ANY($1)
			ORDER BY created_at`

		itemRows, err := r.pool.Query(ctx, itemsQuery, orderIDs)
		if err != nil {
			return nil, 0, fmt.Errorf("batch load order items: %w", err)
		}
		defer itemRows.Close()

		itemsByOrderID := make(map[string][]domain.OrderItem, len(orders))
		for itemRows.Next() {
			var item domain.OrderItem
			if err := itemRows.Scan(
				&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
				&item.Quantity, &item.UnitPrice, &item.TotalPrice,
				&item.CreatedAt, &item.UpdatedAt,
			); err != nil {
				return nil, 0, fmt.Errorf("scan order item: %w", err)
			}
			itemsByOrderID[item.OrderID] = append(itemsByOrderID[item.OrderID], item)
		}
		if err := itemRows.Err(); err != nil {
			return nil, 0, fmt.Errorf("iterate order item rows: %w", err)
		}

		for i := range orders {
			if items, ok := itemsByOrderID[orders[i].ID]; ok {
				orders[i].Items = items
			} else {
				orders[i].Items = []domain.OrderItem{}
			}
		}
	}

	return orders, totalCount, nil
}

// SoftDelete tombstones an order. Terminal orders only; the service
// enforces that.
func (r *OrderRepository) SoftDelete(ctx context.Context, id string) error {
	query := `
		UPDATE orders
		SET deleted_at = $1, updated_at = $1
		WHERE id = $2 AND deleted_at IS NULL`

	ct, err := r.pool.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}

	return nil
}
