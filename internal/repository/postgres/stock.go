package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/storeline/walkin/internal/domain"
	"github.com/storeline/walkin/internal/repository"
	"github.com/storeline/walkin/pkg/database"
	apperrors "github.com/storeline/walkin/pkg/errors"
)

// StockRepository implements repository.StockRepository using PostgreSQL.
type StockRepository struct {
	pool database.DBTX
}

// NewStockRepository creates a PostgreSQL-backed stock repository.
func NewStockRepository(pool database.DBTX) *StockRepository {
	return &StockRepository{pool: pool}
}

const entryColumns = `id, product_id, location, quantity_available, quantity_reserved, quantity_sold,
	reorder_level, reorder_quantity, last_restocked_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*domain.StockEntry, error) {
	var e domain.StockEntry
	err := row.Scan(
		&e.ID, &e.ProductID, &e.Location, &e.Available, &e.Reserved, &e.Sold,
		&e.ReorderLevel, &e.ReorderQuantity, &e.LastRestockedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntry returns the stock entry for a (product, location) pair.
func (r *StockRepository) GetEntry(ctx context.Context, productID, location string) (*domain.StockEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM stock_entries WHERE product_id = $1 AND location = $2`, entryColumns)

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, productID, location))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("get stock entry: %w", err)
	}
	return entry, nil
}

// ListByProduct returns every location's entry for one product.
func (r *StockRepository) ListByProduct(ctx context.Context, productID string) ([]domain.StockEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM stock_entries WHERE product_id = $1 ORDER BY location`, entryColumns)

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("list stock entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.StockEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock entries: %w", err)
	}

	return entries, nil
}

// ListLowStock returns entries whose available count is at or under
// their reorder level, most depleted first.
func (r *StockRepository) ListLowStock(ctx context.Context, page, perPage int) ([]domain.StockEntry, int, error) {
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM stock_entries
		WHERE reorder_level > 0 AND quantity_available <= reorder_level
		ORDER BY quantity_available ASC
		LIMIT $1 OFFSET $2`, entryColumns)

	rows, err := r.pool.Query(ctx, query, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var totalCount int
	entries := make([]domain.StockEntry, 0)
	for rows.Next() {
		var e domain.StockEntry
		if err := rows.Scan(
			&e.ID, &e.ProductID, &e.Location, &e.Available, &e.Reserved, &e.Sold,
			&e.ReorderLevel, &e.ReorderQuantity, &e.LastRestockedAt, &e.CreatedAt, &e.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan low stock row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate low stock rows: %w", err)
	}

	return entries, totalCount, nil
}

// ListMovements returns audit records matching the filter, newest first.
func (r *StockRepository) ListMovements(ctx context.Context, filter repository.MovementFilter) ([]domain.MovementRecord, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.ProductID != nil {
		conditions = append(conditions, fmt.Sprintf("product_id = $%d", argIndex))
		args = append(args, *filter.ProductID)
		argIndex++
	}
	if filter.MovementType != nil {
		conditions = append(conditions, fmt.Sprintf("movement_type = $%d", argIndex))
		args = append(args, *filter.MovementType)
		argIndex++
	}
	if filter.ReferenceID != nil {
		conditions = append(conditions, fmt.Sprintf("reference_id = $%d", argIndex))
		args = append(args, *filter.ReferenceID)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
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
		SELECT id, product_id, variant_id, movement_type, quantity,
		       location_from, location_to, reference_type, reference_id,
		       performed_by, notes, created_at,
		       count(*) OVER() AS total_count
		FROM movement_records
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1,
	)

	args = append(args, perPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var totalCount int
	records := make([]domain.MovementRecord, 0)
	for rows.Next() {
		var m domain.MovementRecord
		if err := rows.Scan(
			&m.ID, &m.ProductID, &m.VariantID, &m.MovementType, &m.Quantity,
			&m.LocationFrom, &m.LocationTo, &m.ReferenceType, &m.ReferenceID,
			&m.PerformedBy, &m.Notes, &m.CreatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan movement row: %w", err)
		}
		records = append(records, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate movement rows: %w", err)
	}

	return records, totalCount, nil
}
