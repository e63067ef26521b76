package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeline/walkin/internal/domain"
	"github.com/storeline/walkin/internal/ledger"
	"github.com/storeline/walkin/internal/repository"
	"github.com/storeline/walkin/pkg/database"
	apperrors "github.com/storeline/walkin/pkg/errors"
)

type fakeStockRepo struct {
	entries map[string]*domain.StockEntry
}

func stockKey(productID, location string) string {
	return productID + "/" + location
}

func (f *fakeStockRepo) GetEntry(_ context.Context, productID, location string) (*domain.StockEntry, error) {
	e, ok := f.entries[stockKey(productID, location)]
	if !ok {
		return nil, apperrors.NotFound("stock entry", productID)
	}
	return e, nil
}

func (f *fakeStockRepo) ListByProduct(_ context.Context, productID string) ([]domain.StockEntry, error) {
	var out []domain.StockEntry
	for _, e := range f.entries {
		if e.ProductID == productID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStockRepo) ListLowStock(_ context.Context, _, _ int) ([]domain.StockEntry, int, error) {
	return nil, 0, nil
}

func (f *fakeStockRepo) ListMovements(_ context.Context, _ repository.MovementFilter) ([]domain.MovementRecord, int, error) {
	return nil, 0, nil
}

func setupStockService(t *testing.T) (*StockService, pgxmock.PgxPoolIface, *fakeEvents, *fakeStockRepo) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	events := &fakeEvents{}
	repo := &fakeStockRepo{entries: map[string]*domain.StockEntry{}}
	svc := NewStockService(mock, repo, ledger.New(ledger.NewRecorder(), log), events, log, domain.DefaultLocation)
	return svc, mock, events, repo
}

func expectStockLockAt(mock pgxmock.PgxPoolIface, productID, location string, available, reserved, sold, reorderLevel int) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "product_id", "location", "quantity_available", "quantity_reserved", "quantity_sold",
		"reorder_level", "reorder_quantity", "last_restocked_at", "created_at", "updated_at",
	}).AddRow("entry-1", productID, location, available, reserved, sold, reorderLevel, 0, nil, now, now)
	mock.ExpectQuery("SELECT .+ FROM stock_entries WHERE .+ FOR UPDATE").
		WithArgs(productID, location).
		WillReturnRows(rows)
}

func TestStockService_InitializeStock(t *testing.T) {
	svc, mock, events, _ := setupStockService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectExec("INSERT INTO stock_entries .+ ON CONFLICT").
		WithArgs(pgxmock.AnyArg(), "prod-1", "main_warehouse", 10, 20, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectStockLockAt(mock, "prod-1", "main_warehouse", 0, 0, 0, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available \\+").
		WithArgs(50, true, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectCommit()

	entry, err := svc.InitializeStock(context.Background(), InitializeStockInput{
		ProductID:       "prod-1",
		Location:        "main_warehouse",
		Quantity:        50,
		ReorderLevel:    10,
		ReorderQuantity: 20,
	})

	require.NoError(t, err)
	assert.Equal(t, 50, entry.Available)
	assert.Equal(t, 10, entry.ReorderLevel)
	assert.Equal(t, []string{"prod-1"}, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockService_InitializeStock_ZeroQuantity(t *testing.T) {
	svc, mock, events, repo := setupStockService(t)
	defer mock.Close()

	repo.entries[stockKey("prod-1", "main_warehouse")] = &domain.StockEntry{
		ID: "entry-1", ProductID: "prod-1", Location: "main_warehouse", ReorderLevel: 5,
	}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectExec("INSERT INTO stock_entries .+ ON CONFLICT").
		WithArgs(pgxmock.AnyArg(), "prod-1", "main_warehouse", 5, 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	entry, err := svc.InitializeStock(context.Background(), InitializeStockInput{
		ProductID:    "prod-1",
		Location:     "main_warehouse",
		ReorderLevel: 5,
	})

	require.NoError(t, err)
	assert.Equal(t, "entry-1", entry.ID)
	assert.Equal(t, []string{"prod-1"}, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockService_InitializeStock_NegativeQuantity(t *testing.T) {
	svc, mock, _, _ := setupStockService(t)
	defer mock.Close()

	_, err := svc.InitializeStock(context.Background(), InitializeStockInput{
		ProductID: "prod-1",
		Location:  "main_warehouse",
		Quantity:  -5,
	})

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockService_Adjust_Restock(t *testing.T) {
	svc, mock, events, _ := setupStockService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectStockLockAt(mock, "prod-1", "main_warehouse", 10, 0, 0, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available \\+").
		WithArgs(25, true, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectCommit()

	entry, err := svc.Adjust(context.Background(), AdjustStockInput{
		ProductID:    "prod-1",
		Location:     "main_warehouse",
		Delta:        25,
		MovementType: domain.MovementPurchase,
		Notes:        "weekly delivery",
	})

	require.NoError(t, err)
	assert.Equal(t, 35, entry.Available)
	assert.Equal(t, []string{"prod-1"}, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockService_Adjust_DamageBeyondAvailable(t *testing.T) {
	svc, mock, events, _ := setupStockService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectStockLockAt(mock, "prod-1", "main_warehouse", 4, 0, 0, 0)
	mock.ExpectRollback()

	_, err := svc.Adjust(context.Background(), AdjustStockInput{
		ProductID:    "prod-1",
		Location:     "main_warehouse",
		Delta:        -10,
		MovementType: domain.MovementDamage,
	})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)
	assert.Empty(t, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockService_Adjust_PublishesLowStock(t *testing.T) {
	svc, mock, events, _ := setupStockService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectStockLockAt(mock, "prod-1", "main_warehouse", 12, 0, 0, 10)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available \\+").
		WithArgs(-4, false, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectCommit()

	entry, err := svc.Adjust(context.Background(), AdjustStockInput{
		ProductID:    "prod-1",
		Location:     "main_warehouse",
		Delta:        -4,
		MovementType: domain.MovementAdjustment,
		Notes:        "cycle count",
	})

	require.NoError(t, err)
	assert.Equal(t, 8, entry.Available)
	assert.Equal(t, []string{"prod-1"}, events.stockUpdated)
	assert.Equal(t, []string{"prod-1"}, events.stockLow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockService_Transfer(t *testing.T) {
	svc, mock, events, repo := setupStockService(t)
	defer mock.Close()

	repo.entries[stockKey("prod-1", "main_warehouse")] = &domain.StockEntry{
		ID: "entry-1", ProductID: "prod-1", Location: "main_warehouse", Available: 20,
	}
	repo.entries[stockKey("prod-1", "front_store")] = &domain.StockEntry{
		ID: "entry-2", ProductID: "prod-1", Location: "front_store", Available: 10,
	}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectStockLockAt(mock, "prod-1", "main_warehouse", 30, 0, 0, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available -").
		WithArgs(10, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectStockLockAt(mock, "prod-1", "front_store", 0, 0, 0, 0)
	mock.ExpectExec("UPDATE stock_entries SET quantity_available = quantity_available \\+").
		WithArgs(10, "entry-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectMovementInsert(mock)
	mock.ExpectCommit()

	err := svc.Transfer(context.Background(), TransferStockInput{
		ProductID: "prod-1",
		From:      "main_warehouse",
		To:        "front_store",
		Quantity:  10,
		Notes:     "replenish shelf",
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"prod-1", "prod-1"}, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockService_Transfer_InsufficientSource(t *testing.T) {
	svc, mock, events, _ := setupStockService(t)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	expectStockLockAt(mock, "prod-1", "main_warehouse", 3, 0, 0, 0)
	mock.ExpectRollback()

	err := svc.Transfer(context.Background(), TransferStockInput{
		ProductID: "prod-1",
		From:      "main_warehouse",
		To:        "front_store",
		Quantity:  10,
	})

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)
	assert.Empty(t, events.stockUpdated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockService_GetStock_Delegates(t *testing.T) {
	svc, mock, _, repo := setupStockService(t)
	defer mock.Close()

	repo.entries[stockKey("prod-1", "main_warehouse")] = &domain.StockEntry{
		ID: "entry-1", ProductID: "prod-1", Location: "main_warehouse", Available: 7,
	}

	entry, err := svc.GetStock(context.Background(), "prod-1", "main_warehouse")

	require.NoError(t, err)
	assert.Equal(t, 7, entry.Available)
}
