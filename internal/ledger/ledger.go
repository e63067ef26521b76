package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/storeline/walkin/internal/domain"
	"github.com/storeline/walkin/pkg/database"
	"github.com/storeline/walkin/pkg/tracing"
)

const tracerName = "github.com/storeline/walkin/internal/ledger"

// Ref ties a movement record back to the order that caused it.
type Ref struct {
	Type string
	ID   string
}

// Ledger owns the available/reserved/sold counters for (product,
// location) pairs. Every operation locks the stock row, checks the
// invariant, applies the counter change, and appends exactly one
// movement record, all on the caller's transaction. Callers must run
// each operation inside a database transaction; nothing commits here.
type Ledger struct {
	recorder *Recorder
	logger   *slog.Logger
}

// New creates a stock ledger.
func New(recorder *Recorder, logger *slog.Logger) *Ledger {
	return &Ledger{recorder: recorder, logger: logger}
}

const lockEntryQuery = `
	SELECT id, product_id, location, quantity_available, quantity_reserved, quantity_sold,
	       reorder_level, reorder_quantity, last_restocked_at, created_at, updated_at
	FROM stock_entries
	WHERE product_id = $1 AND location = $2
	FOR UPDATE`

// lockEntry reads the stock row under a row lock so concurrent
// operations on the same (product, location) serialize.
func (l *Ledger) lockEntry(ctx context.Context, q database.Querier, productID, location string) (*domain.StockEntry, error) {
	var e domain.StockEntry
	err := q.QueryRow(ctx, lockEntryQuery, productID, location).Scan(
		&e.ID, &e.ProductID, &e.Location, &e.Available, &e.Reserved, &e.Sold,
		&e.ReorderLevel, &e.ReorderQuantity, &e.LastRestockedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock stock entry: %w", err)
	}
	return &e, nil
}

// Reserve moves qty units from available to reserved. Fails with
// InsufficientStockError when available is short, leaving the row
// untouched.
func (l *Ledger) Reserve(ctx context.Context, q database.Querier, productID, location string, qty int, actor string, ref *Ref) (*domain.StockEntry, error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "ledger.Reserve")
	defer span.End()

	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	entry, err := l.lockEntry(ctx, q, productID, location)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &domain.InsufficientStockError{Available: 0}
	}
	if entry.Available < qty {
		return nil, &domain.InsufficientStockError{Available: entry.Available}
	}

	query := `
		UPDATE stock_entries
		SET quantity_available = quantity_available - $1,
		    quantity_reserved = quantity_reserved + $1,
		    updated_at = NOW()
		WHERE id = $2`

	if _, err := q.Exec(ctx, query, qty, entry.ID); err != nil {
		return nil, fmt.Errorf("reserve stock: %w", err)
	}
	entry.Available -= qty
	entry.Reserved += qty

	if err := l.record(ctx, q, entry, domain.MovementSale, -qty, actor, ref, "stock reserved"); err != nil {
		return nil, err
	}

	return entry, nil
}

// Release returns qty units from reserved to available. Finding fewer
// reserved units than requested is a ledger inconsistency: a prior
// invariant was violated, so the transaction must abort.
func (l *Ledger) Release(ctx context.Context, q database.Querier, productID, location string, qty int, actor string, ref *Ref) (*domain.StockEntry, error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "ledger.Release")
	defer span.End()

	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	entry, err := l.lockEntry(ctx, q, productID, location)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Reserved < qty {
		return nil, l.inconsistency(ctx, entry, productID, location, qty)
	}

	query := `
		UPDATE stock_entries
		SET quantity_available = quantity_available + $1,
		    quantity_reserved = quantity_reserved - $1,
		    updated_at = NOW()
		WHERE id = $2`

	if _, err := q.Exec(ctx, query, qty, entry.ID); err != nil {
		return nil, fmt.Errorf("release stock: %w", err)
	}
	entry.Available += qty
	entry.Reserved -= qty

	if err := l.record(ctx, q, entry, domain.MovementReturn, qty, actor, ref, "reservation released"); err != nil {
		return nil, err
	}

	return entry, nil
}

// Fulfill converts qty reserved units into sold units. Available is
// untouched; sold only ever grows. Shares Release's failure mode.
func (l *Ledger) Fulfill(ctx context.Context, q database.Querier, productID, location string, qty int, actor string, ref *Ref) (*domain.StockEntry, error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "ledger.Fulfill")
	defer span.End()

	if qty <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	entry, err := l.lockEntry(ctx, q, productID, location)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Reserved < qty {
		return nil, l.inconsistency(ctx, entry, productID, location, qty)
	}

	query := `
		UPDATE stock_entries
		SET quantity_reserved = quantity_reserved - $1,
		    quantity_sold = quantity_sold + $1,
		    updated_at = NOW()
		WHERE id = $2`

	if _, err := q.Exec(ctx, query, qty, entry.ID); err != nil {
		return nil, fmt.Errorf("fulfill stock: %w", err)
	}
	entry.Reserved -= qty
	entry.Sold += qty

	if err := l.record(ctx, q, entry, domain.MovementSale, -qty, actor, ref, "sale completed"); err != nil {
		return nil, err
	}

	return entry, nil
}

// Adjust adds delta directly to available, outside the reservation
// flow. A positive delta on a missing row creates the entry; a
// negative delta that would go below zero fails with
// InsufficientStockError. Inbound movements stamp lastRestockedAt.
func (l *Ledger) Adjust(ctx context.Context, q database.Querier, productID, location string, delta int, movementType, actor, notes string) (*domain.StockEntry, error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "ledger.Adjust")
	defer span.End()

	if delta == 0 {
		return nil, domain.ErrInvalidQuantity
	}
	if !domain.IsValidMovementType(movementType) || movementType == domain.MovementTransfer {
		return nil, fmt.Errorf("invalid adjustment movement type %q", movementType)
	}

	entry, err := l.lockEntry(ctx, q, productID, location)
	if err != nil {
		return nil, err
	}

	inbound := delta > 0

	if entry == nil {
		if !inbound {
			return nil, &domain.InsufficientStockError{Available: 0}
		}
		entry, err = l.createEntry(ctx, q, productID, location, delta)
		if err != nil {
			return nil, err
		}
	} else {
		if entry.Available+delta < 0 {
			return nil, &domain.InsufficientStockError{Available: entry.Available}
		}

		query := `
			UPDATE stock_entries
			SET quantity_available = quantity_available + $1,
			    last_restocked_at = CASE WHEN $2 THEN NOW() ELSE last_restocked_at END,
			    updated_at = NOW()
			WHERE id = $3`

		if _, err := q.Exec(ctx, query, delta, inbound, entry.ID); err != nil {
			return nil, fmt.Errorf("adjust stock: %w", err)
		}
		entry.Available += delta
		if inbound {
			now := time.Now().UTC()
			entry.LastRestockedAt = &now
		}
	}

	if err := l.record(ctx, q, entry, movementType, delta, actor, nil, notes); err != nil {
		return nil, err
	}

	return entry, nil
}

// Transfer moves qty available units from one location to another,
// creating the destination entry when needed. The single movement
// record is direction-neutral and carries both locations.
func (l *Ledger) Transfer(ctx context.Context, q database.Querier, productID, from, to string, qty int, actor, notes string) error {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "ledger.Transfer")
	defer span.End()

	if qty <= 0 {
		return domain.ErrInvalidQuantity
	}
	if from == to {
		return fmt.Errorf("transfer source and destination are the same location %q", from)
	}

	src, err := l.lockEntry(ctx, q, productID, from)
	if err != nil {
		return err
	}
	if src == nil || src.Available < qty {
		available := 0
		if src != nil {
			available = src.Available
		}
		return &domain.InsufficientStockError{Available: available}
	}

	decrement := `
		UPDATE stock_entries
		SET quantity_available = quantity_available - $1, updated_at = NOW()
		WHERE id = $2`
	if _, err := q.Exec(ctx, decrement, qty, src.ID); err != nil {
		return fmt.Errorf("transfer out: %w", err)
	}

	dst, err := l.lockEntry(ctx, q, productID, to)
	if err != nil {
		return err
	}
	if dst == nil {
		if _, err := l.createEntry(ctx, q, productID, to, qty); err != nil {
			return err
		}
	} else {
		increment := `
			UPDATE stock_entries
			SET quantity_available = quantity_available + $1, updated_at = NOW()
			WHERE id = $2`
		if _, err := q.Exec(ctx, increment, qty, dst.ID); err != nil {
			return fmt.Errorf("transfer in: %w", err)
		}
	}

	rec := &domain.MovementRecord{
		ProductID:    productID,
		MovementType: domain.MovementTransfer,
		Quantity:     qty,
		LocationFrom: &from,
		LocationTo:   &to,
		PerformedBy:  actor,
		Notes:        notes,
	}
	if _, err := l.recorder.Append(ctx, q, rec); err != nil {
		return err
	}

	return nil
}

func (l *Ledger) createEntry(ctx context.Context, q database.Querier, productID, location string, available int) (*domain.StockEntry, error) {
	now := time.Now().UTC()
	entry := &domain.StockEntry{
		ID:              uuid.New().String(),
		ProductID:       productID,
		Location:        location,
		Available:       available,
		LastRestockedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	query := `
		INSERT INTO stock_entries
			(id, product_id, location, quantity_available, quantity_reserved, quantity_sold,
			 reorder_level, reorder_quantity, last_restocked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, 0, 0, 0, $5, $6, $7)`

	if _, err := q.Exec(ctx, query, entry.ID, productID, location, available, now, now, now); err != nil {
		return nil, fmt.Errorf("create stock entry: %w", err)
	}
	return entry, nil
}

func (l *Ledger) record(ctx context.Context, q database.Querier, entry *domain.StockEntry, movementType string, qty int, actor string, ref *Ref, notes string) error {
	rec := &domain.MovementRecord{
		ProductID:    entry.ProductID,
		MovementType: movementType,
		Quantity:     qty,
		PerformedBy:  actor,
		Notes:        notes,
	}
	if ref != nil {
		rec.ReferenceType = &ref.Type
		rec.ReferenceID = &ref.ID
	}

	if _, err := l.recorder.Append(ctx, q, rec); err != nil {
		return err
	}
	return nil
}

func (l *Ledger) inconsistency(ctx context.Context, entry *domain.StockEntry, productID, location string, requested int) error {
	reserved := 0
	if entry != nil {
		reserved = entry.Reserved
	}
	err := &domain.LedgerInconsistencyError{
		ProductID: productID,
		Location:  location,
		Reserved:  reserved,
		Requested: requested,
	}
	l.logger.ErrorContext(ctx, "ledger inconsistency detected",
		slog.String("product_id", productID),
		slog.String("location", location),
		slog.Int("reserved", reserved),
		slog.Int("requested", requested),
	)
	return err
}
