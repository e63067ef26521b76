package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/storeline/walkin/internal/catalog"
	"github.com/storeline/walkin/internal/domain"
	"github.com/storeline/walkin/internal/ledger"
	"github.com/storeline/walkin/internal/repository"
	"github.com/storeline/walkin/pkg/database"
	apperrors "github.com/storeline/walkin/pkg/errors"
	"github.com/storeline/walkin/pkg/logger"
)

// ProductCatalog is the catalog surface the transaction service needs.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*catalog.Product, error)
}

// StockEvents is the stock-side event surface.
type StockEvents interface {
	PublishStockUpdated(ctx context.Context, entry *domain.StockEntry) error
	PublishStockLow(ctx context.Context, entry *domain.StockEntry) error
}

// OrderEvents is the event surface the transaction service publishes to.
type OrderEvents interface {
	StockEvents
	PublishOrderChanged(ctx context.Context, order *domain.Order) error
	PublishOrderCompleted(ctx context.Context, order *domain.Order) error
	PublishOrderCancelled(ctx context.Context, order *domain.Order) error
}

// CreateOrderInput carries the walk-in customer details.
type CreateOrderInput struct {
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Notes         string
}

// PaymentInput carries the settlement details for completion.
type PaymentInput struct {
	Method string
}

// TransactionService drives a walk-in order through its
// pending -> completed/cancelled lifecycle. Every mutating operation
// runs as one read-committed database transaction: the order row is
// locked first, then ledger mutations, item changes and total
// recomputation happen on the same transaction, so a failure anywhere
// rolls everything back. Events are published only after commit.
type TransactionService struct {
	pool       database.DBTX
	orderRepo  repository.OrderRepository
	ledger     *ledger.Ledger
	catalog    ProductCatalog
	events     OrderEvents
	logger     *slog.Logger
	location   string
	taxRateBps int64
}

// NewTransactionService creates a transaction service.
func NewTransactionService(
	pool database.DBTX,
	orderRepo repository.OrderRepository,
	stockLedger *ledger.Ledger,
	productCatalog ProductCatalog,
	events OrderEvents,
	log *slog.Logger,
	location string,
	taxRateBasisPoints int64,
) *TransactionService {
	return &TransactionService{
		pool:       pool,
		orderRepo:  orderRepo,
		ledger:     stockLedger,
		catalog:    productCatalog,
		events:     events,
		logger:     log,
		location:   location,
		taxRateBps: taxRateBasisPoints,
	}
}

// Create opens a new pending order with no items and no stock effects.
func (s *TransactionService) Create(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	now := time.Now().UTC()
	order := &domain.Order{
		ID:            uuid.New().String(),
		OrderNumber:   domain.NewOrderNumber(now),
		OrderType:     domain.OrderTypeWalkIn,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusUnpaid,
		CustomerName:  input.CustomerName,
		CustomerPhone: input.CustomerPhone,
		CustomerEmail: input.CustomerEmail,
		Notes:         input.Notes,
		Items:         []domain.OrderItem{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.InfoContext(ctx, "walk-in order created",
		slog.String("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
	)

	return order, nil
}

// GetOrder returns an order with its items.
func (s *TransactionService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.orderRepo.GetByID(ctx, orderID)
}

// ListOrders returns orders matching the filter with the total count.
func (s *TransactionService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	return s.orderRepo.List(ctx, filter)
}

// AddItem reserves stock for a product and adds it as a line item,
// freezing the catalog's effective price into the item. An
// insufficient-stock failure leaves the order and counters untouched.
func (s *TransactionService) AddItem(ctx context.Context, orderID, productID string, quantity int) (*domain.OrderItem, error) {
	if quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be positive")
	}

	// Catalog lookup happens before the transaction to keep the row
	// lock window short.
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Status != catalog.StatusActive {
		return nil, apperrors.Unprocessable("PRODUCT_INACTIVE",
			fmt.Sprintf("product %s is not available for sale", productID))
	}
	unitPrice := product.EffectivePrice()

	actor := logger.ActorFromContext(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin add item transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPending() {
		return nil, s.notPending(order)
	}

	entry, err := s.ledger.Reserve(ctx, tx, productID, s.location, quantity, actor,
		&ledger.Ref{Type: domain.ReferenceOrder, ID: orderID})
	if err != nil {
		return nil, s.mapLedgerError(ctx, err, orderID, productID, quantity)
	}

	now := time.Now().UTC()
	item := &domain.OrderItem{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		ProductID:   productID,
		ProductName: product.Name,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		TotalPrice:  int64(quantity) * unitPrice,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	insertItem := `
		INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.Exec(ctx, insertItem,
		item.ID, item.OrderID, item.ProductID, item.ProductName,
		item.Quantity, item.UnitPrice, item.TotalPrice, item.CreatedAt, item.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("insert order item: %w", err)
	}

	order, err = s.recomputeTotals(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit add item transaction: %w", err)
	}

	s.publishOrderChanged(ctx, order)
	s.publishStock(ctx, entry)

	s.logger.InfoContext(ctx, "item added to order",
		slog.String("order_id", orderID),
		slog.String("product_id", productID),
		slog.Int("quantity", quantity),
		slog.Int64("unit_price", unitPrice),
	)

	return item, nil
}

// UpdateItemQuantity changes a line item's quantity, reserving or
// releasing the difference. A reserve failure leaves the item at its
// prior quantity.
func (s *TransactionService) UpdateItemQuantity(ctx context.Context, itemID string, newQuantity int) (*domain.OrderItem, error) {
	if newQuantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be positive")
	}

	actor := logger.ActorFromContext(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin update item transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	item, err := s.lockItem(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}

	order, err := s.lockOrder(ctx, tx, item.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPending() {
		return nil, s.notPending(order)
	}

	delta := newQuantity - item.Quantity
	ref := &ledger.Ref{Type: domain.ReferenceOrder, ID: item.OrderID}

	var entry *domain.StockEntry
	switch {
	case delta > 0:
		entry, err = s.ledger.Reserve(ctx, tx, item.ProductID, s.location, delta, actor, ref)
	case delta < 0:
		entry, err = s.ledger.Release(ctx, tx, item.ProductID, s.location, -delta, actor, ref)
	default:
		return item, nil
	}
	if err != nil {
		return nil, s.mapLedgerError(ctx, err, item.OrderID, item.ProductID, delta)
	}

	item.Quantity = newQuantity
	item.TotalPrice = int64(newQuantity) * item.UnitPrice
	item.UpdatedAt = time.Now().UTC()

	updateItem := `
		UPDATE order_items
		SET quantity = $1, total_price = $2, updated_at = $3
		WHERE id = $4`
	if _, err := tx.Exec(ctx, updateItem, item.Quantity, item.TotalPrice, item.UpdatedAt, item.ID); err != nil {
		return nil, fmt.Errorf("update order item: %w", err)
	}

	order, err = s.recomputeTotals(ctx, tx, item.OrderID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit update item transaction: %w", err)
	}

	s.publishOrderChanged(ctx, order)
	s.publishStock(ctx, entry)

	return item, nil
}

// RemoveItem releases the item's reserved stock and deletes the line.
func (s *TransactionService) RemoveItem(ctx context.Context, itemID string) error {
	actor := logger.ActorFromContext(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin remove item transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	item, err := s.lockItem(ctx, tx, itemID)
	if err != nil {
		return err
	}

	order, err := s.lockOrder(ctx, tx, item.OrderID)
	if err != nil {
		return err
	}
	if !order.IsPending() {
		return s.notPending(order)
	}

	entry, err := s.ledger.Release(ctx, tx, item.ProductID, s.location, item.Quantity, actor,
		&ledger.Ref{Type: domain.ReferenceOrder, ID: item.OrderID})
	if err != nil {
		return s.mapLedgerError(ctx, err, item.OrderID, item.ProductID, item.Quantity)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_items WHERE id = $1`, itemID); err != nil {
		return fmt.Errorf("delete order item: %w", err)
	}

	order, err = s.recomputeTotals(ctx, tx, item.OrderID)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remove item transaction: %w", err)
	}

	s.publishOrderChanged(ctx, order)
	s.publishStock(ctx, entry)

	return nil
}

// Complete fulfills every line item's reservation, marks the order
// completed and paid, and writes exactly one payment row with the
// order's total. Any fulfill failure rolls the whole completion back.
func (s *TransactionService) Complete(ctx context.Context, orderID string, payment PaymentInput) (*domain.Order, error) {
	if payment.Method == "" {
		return nil, apperrors.InvalidInput("payment_method is required")
	}

	actor := logger.ActorFromContext(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin complete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPending() {
		return nil, s.notPending(order)
	}

	items, err := s.loadItems(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apperrors.Unprocessable("EMPTY_ORDER", domain.ErrEmptyOrder.Error())
	}
	order.Items = items

	entries := make([]*domain.StockEntry, 0, len(items))
	ref := &ledger.Ref{Type: domain.ReferenceOrder, ID: orderID}
	for _, item := range items {
		entry, err := s.ledger.Fulfill(ctx, tx, item.ProductID, s.location, item.Quantity, actor, ref)
		if err != nil {
			return nil, s.mapLedgerError(ctx, err, orderID, item.ProductID, item.Quantity)
		}
		entries = append(entries, entry)
	}

	now := time.Now().UTC()
	order.RecomputeTotals(s.taxRateBps)
	order.Status = domain.OrderStatusCompleted
	order.PaymentStatus = domain.PaymentStatusPaid
	order.ConfirmedAt = &now
	order.UpdatedAt = now

	updateOrder := `
		UPDATE orders
		SET status = $1, payment_status = $2, subtotal = $3, tax_amount = $4,
		    total_amount = $5, confirmed_at = $6, updated_at = $6
		WHERE id = $7`
	if _, err := tx.Exec(ctx, updateOrder,
		order.Status, order.PaymentStatus, order.Subtotal, order.TaxAmount,
		order.TotalAmount, now, orderID,
	); err != nil {
		return nil, fmt.Errorf("update order on completion: %w", err)
	}

	insertPayment := `
		INSERT INTO payments (id, order_id, payment_method, payment_status, amount, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`
	if _, err := tx.Exec(ctx, insertPayment,
		uuid.New().String(), orderID, payment.Method, domain.PaymentStatusPaid,
		order.TotalAmount, now,
	); err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit complete transaction: %w", err)
	}

	if err := s.events.PublishOrderCompleted(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.completed event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
	for _, entry := range entries {
		s.publishStock(ctx, entry)
	}

	s.logger.InfoContext(ctx, "walk-in order completed",
		slog.String("order_id", orderID),
		slog.String("order_number", order.OrderNumber),
		slog.Int64("total_amount", order.TotalAmount),
		slog.Int("item_count", len(items)),
	)

	return order, nil
}

// Cancel releases every remaining reservation and marks the order
// cancelled. Items stay in place for audit, inert once terminal.
func (s *TransactionService) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	actor := logger.ActorFromContext(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin cancel transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	order, err := s.lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPending() {
		return nil, s.notPending(order)
	}

	items, err := s.loadItems(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	entries := make([]*domain.StockEntry, 0, len(items))
	ref := &ledger.Ref{Type: domain.ReferenceOrder, ID: orderID}
	for _, item := range items {
		entry, err := s.ledger.Release(ctx, tx, item.ProductID, s.location, item.Quantity, actor, ref)
		if err != nil {
			return nil, s.mapLedgerError(ctx, err, orderID, item.ProductID, item.Quantity)
		}
		entries = append(entries, entry)
	}

	now := time.Now().UTC()
	order.Status = domain.OrderStatusCancelled
	order.CancelledAt = &now
	order.UpdatedAt = now

	updateOrder := `
		UPDATE orders
		SET status = $1, cancelled_at = $2, updated_at = $2
		WHERE id = $3`
	if _, err := tx.Exec(ctx, updateOrder, order.Status, now, orderID); err != nil {
		return nil, fmt.Errorf("update order on cancellation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel transaction: %w", err)
	}

	if err := s.events.PublishOrderCancelled(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.cancelled event",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
	for _, entry := range entries {
		s.publishStock(ctx, entry)
	}

	s.logger.InfoContext(ctx, "walk-in order cancelled",
		slog.String("order_id", orderID),
		slog.Int("released_items", len(items)),
	)

	return order, nil
}

// DeleteOrder tombstones a terminal order.
func (s *TransactionService) DeleteOrder(ctx context.Context, orderID string) error {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsPending() {
		return apperrors.Unprocessable("ORDER_PENDING", "pending orders must be cancelled before deletion")
	}
	return s.orderRepo.SoftDelete(ctx, orderID)
}

// lockOrder reads the order row under FOR UPDATE so concurrent
// mutations on the same order serialize on the database.
func (s *TransactionService) lockOrder(ctx context.Context, q database.Querier, orderID string) (*domain.Order, error) {
	query := `
		SELECT id, order_number, order_type, status, payment_status,
		       customer_name, customer_phone, customer_email,
		       subtotal, tax_amount, discount_amount, total_amount,
		       notes, confirmed_at, cancelled_at, created_at, updated_at
		FROM orders
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE`

	var o domain.Order
	err := q.QueryRow(ctx, query, orderID).Scan(
		&o.ID, &o.OrderNumber, &o.OrderType, &o.Status, &o.PaymentStatus,
		&o.CustomerName, &o.CustomerPhone, &o.CustomerEmail,
		&o.Subtotal, &o.TaxAmount, &o.DiscountAmount, &o.TotalAmount,
		&o.Notes, &o.ConfirmedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", orderID)
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return &o, nil
}

func (s *TransactionService) lockItem(ctx context.Context, q database.Querier, itemID string) (*domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price, created_at, updated_at
		FROM order_items
		WHERE id = $1
		FOR UPDATE`

	var item domain.OrderItem
	err := q.QueryRow(ctx, query, itemID).Scan(
		&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
		&item.Quantity, &item.UnitPrice, &item.TotalPrice,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order item", itemID)
		}
		return nil, fmt.Errorf("lock order item: %w", err)
	}
	return &item, nil
}

func (s *TransactionService) loadItems(ctx context.Context, q database.Querier, orderID string) ([]domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, total_price, created_at, updated_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at`

	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.ProductName,
			&item.Quantity, &item.UnitPrice, &item.TotalPrice,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

// recomputeTotals rederives the order's money columns from its items
// inside the transaction and returns the fresh order.
func (s *TransactionService) recomputeTotals(ctx context.Context, q database.Querier, orderID string) (*domain.Order, error) {
	items, err := s.loadItems(ctx, q, orderID)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{ID: orderID, Items: items}
	order.RecomputeTotals(s.taxRateBps)

	query := `
		UPDATE orders
		SET subtotal = $1, tax_amount = $2, total_amount = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING order_number, status, discount_amount`
	err = q.QueryRow(ctx, query, order.Subtotal, order.TaxAmount, order.TotalAmount, orderID).
		Scan(&order.OrderNumber, &order.Status, &order.DiscountAmount)
	if err != nil {
		return nil, fmt.Errorf("update order totals: %w", err)
	}

	return order, nil
}

func (s *TransactionService) publishOrderChanged(ctx context.Context, order *domain.Order) {
	if err := s.events.PublishOrderChanged(ctx, order); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order.changed event",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

// publishStock emits stock.updated and, when the entry has crossed its
// reorder level, stock.low. Publish failures never affect the committed
// transaction.
func (s *TransactionService) publishStock(ctx context.Context, entry *domain.StockEntry) {
	if entry == nil {
		return
	}
	if err := s.events.PublishStockUpdated(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish stock.updated event",
			slog.String("product_id", entry.ProductID),
			slog.String("error", err.Error()),
		)
	}
	if entry.BelowReorderLevel() {
		if err := s.events.PublishStockLow(ctx, entry); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish stock.low event",
				slog.String("product_id", entry.ProductID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *TransactionService) notPending(order *domain.Order) error {
	return apperrors.Unprocessable("INVALID_ORDER_STATE",
		fmt.Sprintf("order %s is %s, only pending orders can be modified", order.ID, order.Status))
}

// mapLedgerError translates ledger failures into user-facing errors.
// Insufficient stock surfaces verbatim with the available count;
// inconsistencies stay internal and get logged with full context.
func (s *TransactionService) mapLedgerError(ctx context.Context, err error, orderID, productID string, quantity int) error {
	var insufficientErr *domain.InsufficientStockError
	if errors.As(err, &insufficientErr) {
		return apperrors.Unprocessable("INSUFFICIENT_STOCK", insufficientErr.Error())
	}

	var inconsistencyErr *domain.LedgerInconsistencyError
	if errors.As(err, &inconsistencyErr) {
		s.logger.ErrorContext(ctx, "ledger inconsistency while mutating order",
			slog.String("order_id", orderID),
			slog.String("product_id", productID),
			slog.Int("quantity", quantity),
			slog.String("error", err.Error()),
		)
		return apperrors.Internal(err)
	}

	return err
}
