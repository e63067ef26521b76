package service

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeline/walkin/internal/catalog"
	"github.com/storeline/walkin/internal/domain"
	"github.com/storeline/walkin/internal/ledger"
	"github.com/storeline/walkin/internal/repository"
	"github.com/storeline/walkin/pkg/database"
	apperrors "github.com/storeline/walkin/pkg/errors"
)

type fakeCatalog struct {
	products map[string]*catalog.Product
	err      error
}

func (f *fakeCatalog) GetProduct(_ context.Context, productID string) (*catalog.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[productID]
	if !ok {
		return nil, apperrors.NotFound("product", productID)
	}
	return p, nil
}

type fakeEvents struct {
	orderChanged   []string
	orderCompleted []string
	orderCancelled []string
	stockUpdated   []string
	stockLow       []string
}

func (f *fakeEvents) PublishOrderChanged(_ context.Context, o *domain.Order) error {
	f.orderChanged = append(f.orderChanged, o.ID)
	return nil
}

func (f *fakeEvents) PublishOrderCompleted(_ context.Context, o *domain.Order) error {
	f.orderCompleted = append(f.orderCompleted, o.ID)
	return nil
}

func (f *fakeEvents) PublishOrderCancelled(_ context.Context, o *domain.Order) error {
	f.orderCancelled = append(f.orderCancelled, o.ID)
	return nil
}

func (f *fakeEvents) PublishStockUpdated(_ context.Context, e *domain.StockEntry) error {
	f.stockUpdated = append(f.stockUpdated, e.ProductID)
	return nil
}

func (f *fakeEvents) PublishStockLow(_ context.Context, e *domain.StockEntry) error {
	f.stockLow = append(f.stockLow, e.ProductID)
	return nil
}

type fakeOrderRepo struct {
	created *domain.Order
	orders  map[string]*domain.Order
	deleted []string
}

func (f *fakeOrderRepo) Create(_ context.Context, order *domain.Order) error {
	f.created = order
	return nil
}

func (f *fakeOrderRepo) GetByID(_ context.Context, id string) (*domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	return o, nil
}

func (f *fakeOrderRepo) GetItem(_ context.Context, itemID string) (*domain.OrderItem, error) {
	return nil, apperrors.NotFound("order item", itemID)
}

func (f *fakeOrderRepo) List(_ context.Context, _ repository.OrderFilter) ([]domain.Order, int, error) {
	return nil, 0, nil
}

func (f *fakeOrderRepo) SoftDelete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func setupTransactionService(t *testing.T) (*TransactionService, pgxmock.PgxPoolIface, *fakeEvents, *fakeOrderRepo) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	products := map[string]*catalog.Product{
		"prod-1": {ID: "prod-1", Name: "Espresso Beans 1kg", BasePrice: 500, Status: catalog.StatusActive},
		"prod-2": {ID: "prod-2", Name: "Grinder", BasePrice: 9000, SalePrice: 7500, Status: catalog.StatusActive},
		"prod-off": {ID: "prod-off", Name: "Retired", BasePrice: 100, Status: "discontinued"},
	}
	events := &fakeEvents{}
	repo := &fakeOrderRepo{orders: map[string]*domain.Order{}}
	svc := NewTransactionService(mock, repo, ledger.New(ledger.NewRecorder(), log),
		&fakeCatalog{products: products}, events, log, domain.DefaultLocation, 0)
	return svc, mock, events, repo
}

var orderColumns = []string{
	"id", "order_number", "order_type", "status", "payment_status",
	"customer_name", "customer_phone", "customer_email",
	"subtotal", "tax_amount", "discount_amount", "total_amount",
	"notes", "confirmed_at", "cancelled_at", "created_at", "updated_at",
}

var itemColumns = []string{
	"id", "order_id", "product_id", "product_name",
	"quantity", "unit_price", "total_price", "created_at", "updated_at",
}

func orderRow(id, status string) *pgxmock.Rows {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(orderColumns).
		AddRow(id, "WI-20260201-abc123", domain.OrderTypeWalkIn, status, domain.PaymentStatusUnpaid,
			"", "", "", int64(0), int64(0), int64(0), int64(0), "", nil, nil, now, now)
}

func itemRow(id, orderID, productID string, qty int, unitPrice int64) *pgxmock.Rows {
	now := time.Date(2026, 2, 1, 9, 5, 0, 0, time.UTC)
	return pgxmock.NewRows(itemColumns).
		AddRow(id, orderID, productID, "Espresso Beans 1kg", qty, unitPrice, int64(qty)*unitPrice, now, now)
}

func expectOrderLock(mock pgxmock.PgxPoolIface, orderID string, rows *pgxmock.Rows) {
	mock.ExpectQuery("SELECT .+ FROM orders WHERE id = .+ FOR UPDATE").
		WithArgs(orderID).
		WillReturnRows(rows)
}

func expectItemLock(mock pgxmock.PgxPoolIface, itemID string, rows *pgxmock.Rows) {
	mock.ExpectQuery("SELECT .+ FROM order_items WHERE id = .+ FOR UPDATE").
		WithArgs(itemID).
		WillReturnRows(rows)
}

func expectStockLock(mock pgxmock.PgxPoolIface, productID string, available, reserved, sold int) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "product_id", "location", "quantity_available", "quantity_reserved", "quantity_sold",
		"reorder_level", "reorder_quantity", "last_restocked_at", "created_at", "updated_at",
	}).AddRow("entry-1", productID, domain.DefaultLocation, available, reserved, sold, 0, 0, nil, now, now)
	mock.ExpectQuery("SELECT .+ FROM stock_entries WHERE .+ FOR UPDATE").
		WithArgs(productID, domain.DefaultLocation).
		WillReturnRows(rows)
}

func expectMovementInsert(mock pgxmock.PgxPoolIface) {
	mock.ExpectExec("INSERT INTO movement_records").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func expectLoadItems(mock pgxmock.PgxPoolIface, orderID string, rows *pgxmock.Rows) {
	mock.ExpectQuery("SELECT .+ FROM order_items WHERE order_id = .+ ORDER BY created_at").
		WithArgs(orderID).
		WillReturnRows(rows)
}

func expectTotalsUpdate(mock pgxmock.PgxPoolIface, orderID string, subtotal, total int64, status string) {
	mock.ExpectQuery("UPDATE orders SET subtotal = .+ RETURNING order_number, status, discount_amount").
		WithArgs(subtotal, int64(0), total, orderID).
		WillReturnRows(pgxmock.NewRows([]string{"order_number", "status", "discount_amount"}).
			AddRow("WI-20260201-abc123", status, int64(0)))
}

func TestTransactionService_Create(t *testing.T) {
	svc, mock, _, repo := setupTransactionService(t)
	defer mock.Close()

	order, err := svc.Create(context.Background(), CreateOrderInput{CustomerName: "Ada"})

	require.NoError(t, err)
	assert.Same(t, order, repo.created)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.PaymentStatusUnpaid, order.PaymentStatus)
	assert.Equal(t, domain.OrderTypeWalkIn, order.OrderType)
	assert.Regexp(t, regexp.MustCompile(`^WI-\d{8}-[0-9a-f]{6}$`), order.OrderNumber)
	assert.Empty(t, order.Items)
}

func TestTransactionService_AddItem_ReservesStock(t *testing.T) {
	svc, mock, events, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectStockLock(mock, "prod-1", 20, 0, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available - .+ quantity_reserved = quantity_reserved \\+").
		WithArgs(5, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs(pgxmock.AnyArg(), "ord-1", "prod-1", "Espresso Beans 1kg",
			5, int64(500), int64(2500), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectLoadItems(mock, "ord-1", itemRow("item-1", "ord-1", "prod-1", 5, 500))
	expectTotalsUpdate(mock, "ord-1", 2500, 2500, domain.OrderStatusPending)
	mock.ExpectCommit()

	item, err := svc.AddItem(context.Background(), "ord-1", "prod-1", 5)

	require.NoError(t, err)
	assert.Equal(t, 5, item.Quantity)
	assert.Equal(t, int64(500), item.UnitPrice)
	assert.Equal(t, int64(2500), item.TotalPrice)
	assert.Equal(t, []string{"ord-1"}, events.orderChanged)
	assert.Equal(t, []string{"prod-1"}, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_AddItem_UsesSalePrice(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectStockLock(mock, "prod-2", 3, 0, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available -").
		WithArgs(1, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs(pgxmock.AnyArg(), "ord-1", "prod-2", "Grinder",
			1, int64(7500), int64(7500), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectLoadItems(mock, "ord-1", itemRow("item-1", "ord-1", "prod-2", 1, 7500))
	expectTotalsUpdate(mock, "ord-1", 7500, 7500, domain.OrderStatusPending)
	mock.ExpectCommit()

	item, err := svc.AddItem(context.Background(), "ord-1", "prod-2", 1)

	require.NoError(t, err)
	assert.Equal(t, int64(7500), item.UnitPrice)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_AddItem_InsufficientStock(t *testing.T) {
	svc, mock, events, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectStockLock(mock, "prod-1", 5, 0, 0)
	mock.ExpectRollback()

	_, err := svc.AddItem(context.Background(), "ord-1", "prod-1", 10)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)
	assert.Contains(t, appErr.Message, "Available: 5")
	assert.Empty(t, events.orderChanged)
	assert.Empty(t, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_AddItem_InactiveProduct(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	defer mock.Close()

	_, err := svc.AddItem(context.Background(), "ord-1", "prod-off", 1)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PRODUCT_INACTIVE", appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_AddItem_NonPendingOrder(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusCompleted))
	mock.ExpectRollback()

	_, err := svc.AddItem(context.Background(), "ord-1", "prod-1", 1)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INVALID_ORDER_STATE", appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_AddItem_InvalidQuantity(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	defer mock.Close()

	_, err := svc.AddItem(context.Background(), "ord-1", "prod-1", 0)

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_UpdateItemQuantity_Increase(t *testing.T) {
	svc, mock, events, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectItemLock(mock, "item-1", itemRow("item-1", "ord-1", "prod-1", 5, 500))
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectStockLock(mock, "prod-1", 15, 5, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available -").
		WithArgs(3, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectExec("UPDATE order_items SET quantity = .+ total_price = .+").
		WithArgs(8, int64(4000), pgxmock.AnyArg(), "item-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectLoadItems(mock, "ord-1", itemRow("item-1", "ord-1", "prod-1", 8, 500))
	expectTotalsUpdate(mock, "ord-1", 4000, 4000, domain.OrderStatusPending)
	mock.ExpectCommit()

	item, err := svc.UpdateItemQuantity(context.Background(), "item-1", 8)

	require.NoError(t, err)
	assert.Equal(t, 8, item.Quantity)
	assert.Equal(t, int64(4000), item.TotalPrice)
	assert.Equal(t, []string{"prod-1"}, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_UpdateItemQuantity_Decrease(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectItemLock(mock, "item-1", itemRow("item-1", "ord-1", "prod-1", 5, 500))
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectStockLock(mock, "prod-1", 15, 5, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available \\+ .+ quantity_reserved = quantity_reserved -").
		WithArgs(3, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectExec("UPDATE order_items SET quantity = .+ total_price = .+").
		WithArgs(2, int64(1000), pgxmock.AnyArg(), "item-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectLoadItems(mock, "ord-1", itemRow("item-1", "ord-1", "prod-1", 2, 500))
	expectTotalsUpdate(mock, "ord-1", 1000, 1000, domain.OrderStatusPending)
	mock.ExpectCommit()

	item, err := svc.UpdateItemQuantity(context.Background(), "item-1", 2)

	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_UpdateItemQuantity_SameQuantity(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectItemLock(mock, "item-1", itemRow("item-1", "ord-1", "prod-1", 5, 500))
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	mock.ExpectRollback()

	item, err := svc.UpdateItemQuantity(context.Background(), "item-1", 5)

	require.NoError(t, err)
	assert.Equal(t, 5, item.Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_RemoveItem(t *testing.T) {
	svc, mock, events, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectItemLock(mock, "item-1", itemRow("item-1", "ord-1", "prod-1", 5, 500))
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectStockLock(mock, "prod-1", 15, 5, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available \\+").
		WithArgs(5, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectExec("DELETE FROM order_items WHERE id").
		WithArgs("item-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	expectLoadItems(mock, "ord-1", pgxmock.NewRows(itemColumns))
	expectTotalsUpdate(mock, "ord-1", 0, 0, domain.OrderStatusPending)
	mock.ExpectCommit()

	err := svc.RemoveItem(context.Background(), "item-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"ord-1"}, events.orderChanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_Complete(t *testing.T) {
	svc, mock, events, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectLoadItems(mock, "ord-1", itemRow("item-1", "ord-1", "prod-1", 8, 500))
	expectStockLock(mock, "prod-1", 12, 8, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_reserved = quantity_reserved - .+ quantity_sold = quantity_sold \\+").
		WithArgs(8, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectExec("UPDATE orders SET status = .+ payment_status = .+ confirmed_at = .+").
		WithArgs(domain.OrderStatusCompleted, domain.PaymentStatusPaid,
			int64(4000), int64(0), int64(4000), pgxmock.AnyArg(), "ord-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO payments").
		WithArgs(pgxmock.AnyArg(), "ord-1", "cash", domain.PaymentStatusPaid,
			int64(4000), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	order, err := svc.Complete(context.Background(), "ord-1", PaymentInput{Method: "cash"})

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, domain.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, int64(4000), order.TotalAmount)
	assert.NotNil(t, order.ConfirmedAt)
	assert.Equal(t, []string{"ord-1"}, events.orderCompleted)
	assert.Equal(t, []string{"prod-1"}, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_Complete_WithTax(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	svc.taxRateBps = 825
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectLoadItems(mock, "ord-1", itemRow("item-1", "ord-1", "prod-1", 2, 1000))
	expectStockLock(mock, "prod-1", 10, 2, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_reserved = quantity_reserved -").
		WithArgs(2, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectExec("UPDATE orders SET status = .+").
		WithArgs(domain.OrderStatusCompleted, domain.PaymentStatusPaid,
			int64(2000), int64(165), int64(2165), pgxmock.AnyArg(), "ord-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO payments").
		WithArgs(pgxmock.AnyArg(), "ord-1", "card", domain.PaymentStatusPaid,
			int64(2165), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	order, err := svc.Complete(context.Background(), "ord-1", PaymentInput{Method: "card"})

	require.NoError(t, err)
	assert.Equal(t, int64(165), order.TaxAmount)
	assert.Equal(t, int64(2165), order.TotalAmount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_Complete_EmptyOrder(t *testing.T) {
	svc, mock, events, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectLoadItems(mock, "ord-1", pgxmock.NewRows(itemColumns))
	mock.ExpectRollback()

	_, err := svc.Complete(context.Background(), "ord-1", PaymentInput{Method: "cash"})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "EMPTY_ORDER", appErr.Code)
	assert.Empty(t, events.orderCompleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_Complete_MissingPaymentMethod(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	defer mock.Close()

	_, err := svc.Complete(context.Background(), "ord-1", PaymentInput{})

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_Complete_AlreadyCompleted(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusCompleted))
	mock.ExpectRollback()

	_, err := svc.Complete(context.Background(), "ord-1", PaymentInput{Method: "cash"})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INVALID_ORDER_STATE", appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_Cancel(t *testing.T) {
	svc, mock, events, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectLoadItems(mock, "ord-1", itemRow("item-1", "ord-1", "prod-1", 5, 500))
	expectStockLock(mock, "prod-1", 15, 5, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available \\+").
		WithArgs(5, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectExec("UPDATE orders SET status = .+ cancelled_at = .+").
		WithArgs(domain.OrderStatusCancelled, pgxmock.AnyArg(), "ord-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	order, err := svc.Cancel(context.Background(), "ord-1")

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.NotNil(t, order.CancelledAt)
	assert.Len(t, order.Items, 1)
	assert.Equal(t, []string{"ord-1"}, events.orderCancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_Cancel_EmptyOrder(t *testing.T) {
	svc, mock, events, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectOrderLock(mock, "ord-1", orderRow("ord-1", domain.OrderStatusPending))
	expectLoadItems(mock, "ord-1", pgxmock.NewRows(itemColumns))
	mock.ExpectExec("UPDATE orders SET status = .+ cancelled_at = .+").
		WithArgs(domain.OrderStatusCancelled, pgxmock.AnyArg(), "ord-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	order, err := svc.Cancel(context.Background(), "ord-1")

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, []string{"ord-1"}, events.orderCancelled)
	assert.Empty(t, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionService_Cancel_NotFound(t *testing.T) {
	svc, mock, _, _ := setupTransactionService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectQuery("SELECT .+ FROM orders WHERE id = .+ FOR UPDATE").
		WithArgs("ord-missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.Cancel(context.Background(), "ord-missing")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransactionService_DeleteOrder_RejectsPending(t *testing.T) {
	svc, mock, _, repo := setupTransactionService(t)
	defer mock.Close()

	repo.orders["ord-1"] = &domain.Order{ID: "ord-1", Status: domain.OrderStatusPending}

	err := svc.DeleteOrder(context.Background(), "ord-1")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "ORDER_PENDING", appErr.Code)
	assert.Empty(t, repo.deleted)
}

func TestTransactionService_DeleteOrder_Terminal(t *testing.T) {
	svc, mock, _, repo := setupTransactionService(t)
	defer mock.Close()

	repo.orders["ord-1"] = &domain.Order{ID: "ord-1", Status: domain.OrderStatusCancelled}

	err := svc.DeleteOrder(context.Background(), "ord-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"ord-1"}, repo.deleted)
}
