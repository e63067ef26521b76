package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/storeline/walkin/internal/domain"
	"github.com/storeline/walkin/internal/ledger"
	"github.com/storeline/walkin/internal/repository"
	"github.com/storeline/walkin/pkg/database"
	apperrors "github.com/storeline/walkin/pkg/errors"
	"github.com/storeline/walkin/pkg/logger"
)

// InitializeStockInput seeds a stock entry for a product at a location.
type InitializeStockInput struct {
	ProductID       string
	Location        string
	Quantity        int
	ReorderLevel    int
	ReorderQuantity int
}

// AdjustStockInput describes a manual counter correction.
type AdjustStockInput struct {
	ProductID    string
	Location     string
	Delta        int
	MovementType string
	Notes        string
}

// TransferStockInput moves available units between locations.
type TransferStockInput struct {
	ProductID string
	From      string
	To        string
	Quantity  int
	Notes     string
}

// StockService exposes stock reads and the manual mutations that do not
// belong to an order: seeding, adjustments and transfers. Mutations run
// as single database transactions around the ledger, mirroring how the
// transaction service wraps its order operations.
type StockService struct {
	pool      database.DBTX
	stockRepo repository.StockRepository
	ledger    *ledger.Ledger
	events    StockEvents
	logger    *slog.Logger
	location  string
}

// NewStockService creates a stock service.
func NewStockService(
	pool database.DBTX,
	stockRepo repository.StockRepository,
	stockLedger *ledger.Ledger,
	events StockEvents,
	log *slog.Logger,
	defaultLocation string,
) *StockService {
	return &StockService{
		pool:      pool,
		stockRepo: stockRepo,
		ledger:    stockLedger,
		events:    events,
		logger:    log,
		location:  defaultLocation,
	}
}

// DefaultLocation returns the location used when a request omits one.
func (s *StockService) DefaultLocation() string {
	return s.location
}

// InitializeStock seeds a stock entry. Re-running it for an existing
// (product, location) pair updates the reorder settings and adds the
// quantity on top of whatever is already there; it never resets
// counters.
func (s *StockService) InitializeStock(ctx context.Context, input InitializeStockInput) (*domain.StockEntry, error) {
	if input.Quantity < 0 || input.ReorderLevel < 0 || input.ReorderQuantity < 0 {
		return nil, apperrors.InvalidInput("quantity and reorder settings must not be negative")
	}

	actor := logger.ActorFromContext(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin initialize stock transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	upsert := `
		INSERT INTO stock_entries (id, product_id, location, quantity_available, quantity_reserved, quantity_sold,
		                           reorder_level, reorder_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, $4, $5, $6, $6)
		ON CONFLICT (product_id, location)
		DO UPDATE SET reorder_level = $4, reorder_quantity = $5, updated_at = $6`
	if _, err := tx.Exec(ctx, upsert,
		uuid.New().String(), input.ProductID, input.Location,
		input.ReorderLevel, input.ReorderQuantity, now,
	); err != nil {
		return nil, fmt.Errorf("upsert stock entry: %w", err)
	}

	var entry *domain.StockEntry
	if input.Quantity > 0 {
		entry, err = s.ledger.Adjust(ctx, tx, input.ProductID, input.Location,
			input.Quantity, domain.MovementPurchase, actor, "initial stock")
		if err != nil {
			return nil, err
		}
		entry.ReorderLevel = input.ReorderLevel
		entry.ReorderQuantity = input.ReorderQuantity
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit initialize stock transaction: %w", err)
	}

	if entry == nil {
		entry, err = s.stockRepo.GetEntry(ctx, input.ProductID, input.Location)
		if err != nil {
			return nil, err
		}
	}

	s.publishStock(ctx, entry)

	s.logger.InfoContext(ctx, "stock initialized",
		slog.String("product_id", input.ProductID),
		slog.String("location", input.Location),
		slog.Int("quantity", input.Quantity),
	)

	return entry, nil
}

// Adjust applies a manual counter correction with an audited reason.
func (s *StockService) Adjust(ctx context.Context, input AdjustStockInput) (*domain.StockEntry, error) {
	actor := logger.ActorFromContext(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin adjust transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	entry, err := s.ledger.Adjust(ctx, tx, input.ProductID, input.Location,
		input.Delta, input.MovementType, actor, input.Notes)
	if err != nil {
		return nil, s.mapLedgerError(ctx, err, input.ProductID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit adjust transaction: %w", err)
	}

	s.publishStock(ctx, entry)

	s.logger.InfoContext(ctx, "stock adjusted",
		slog.String("product_id", input.ProductID),
		slog.String("location", input.Location),
		slog.Int("delta", input.Delta),
		slog.String("movement_type", input.MovementType),
	)

	return entry, nil
}

// Transfer moves available units between locations in one transaction.
func (s *StockService) Transfer(ctx context.Context, input TransferStockInput) error {
	actor := logger.ActorFromContext(ctx)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transfer transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.ledger.Transfer(ctx, tx, input.ProductID, input.From, input.To,
		input.Quantity, actor, input.Notes); err != nil {
		return s.mapLedgerError(ctx, err, input.ProductID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transfer transaction: %w", err)
	}

	for _, location := range []string{input.From, input.To} {
		entry, err := s.stockRepo.GetEntry(ctx, input.ProductID, location)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to load stock entry after transfer",
				slog.String("product_id", input.ProductID),
				slog.String("location", location),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.publishStock(ctx, entry)
	}

	s.logger.InfoContext(ctx, "stock transferred",
		slog.String("product_id", input.ProductID),
		slog.String("from", input.From),
		slog.String("to", input.To),
		slog.Int("quantity", input.Quantity),
	)

	return nil
}

// GetStock returns the entry for a (product, location) pair.
func (s *StockService) GetStock(ctx context.Context, productID, location string) (*domain.StockEntry, error) {
	return s.stockRepo.GetEntry(ctx, productID, location)
}

// ListByProduct returns every location's entry for one product.
func (s *StockService) ListByProduct(ctx context.Context, productID string) ([]domain.StockEntry, error) {
	return s.stockRepo.ListByProduct(ctx, productID)
}

// ListLowStock returns entries at or under their reorder level.
func (s *StockService) ListLowStock(ctx context.Context, page, perPage int) ([]domain.StockEntry, int, error) {
	return s.stockRepo.ListLowStock(ctx, page, perPage)
}

// ListMovements returns the audit trail matching the filter.
func (s *StockService) ListMovements(ctx context.Context, filter repository.MovementFilter) ([]domain.MovementRecord, int, error) {
	return s.stockRepo.ListMovements(ctx, filter)
}

func (s *StockService) publishStock(ctx context.Context, entry *domain.StockEntry) {
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

func (s *StockService) mapLedgerError(ctx context.Context, err error, productID string) error {
	var insufficientErr *domain.InsufficientStockError
	if errors.As(err, &insufficientErr) {
		return apperrors.Unprocessable("INSUFFICIENT_STOCK", insufficientErr.Error())
	}

	var inconsistencyErr *domain.LedgerInconsistencyError
	if errors.As(err, &inconsistencyErr) {
		s.logger.ErrorContext(ctx, "ledger inconsistency during stock mutation",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return apperrors.Internal(err)
	}

	return err
}
