package repository

import (
	"context"

	"github.com/storeline/walkin/internal/domain"
)

// MovementFilter defines filter criteria for listing movement records.
type MovementFilter struct {
	ProductID    *string
	MovementType *string
	ReferenceID  *string
	Page         int
	PerPage      int
}

// OrderFilter defines filter criteria for listing orders.
type OrderFilter struct {
	Status        *string
	CustomerPhone *string
	Page          int
	PerPage       int
}

// StockRepository covers the read paths over stock entries and their
// audit trail. Counter mutations go through the ledger, never here.
type StockRepository interface {
	// GetEntry returns the stock entry for a (product, location) pair.
	GetEntry(ctx context.Context, productID, location string) (*domain.StockEntry, error)

	// ListByProduct returns every location's entry for one product.
	ListByProduct(ctx context.Context, productID string) ([]domain.StockEntry, error)

	// ListLowStock returns entries at or under their reorder level.
	ListLowStock(ctx context.Context, page, perPage int) ([]domain.StockEntry, int, error)

	// ListMovements returns audit records matching the filter, newest first.
	ListMovements(ctx context.Context, filter MovementFilter) ([]domain.MovementRecord, int, error)
}

// OrderRepository covers order creation and read paths. Item and
// status mutations run inside the transaction service's own database
// transaction and are not part of this interface.
type OrderRepository interface {
	// Create inserts a new pending order with no items.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID returns an order with its items. Soft-deleted orders are
	// not found.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// GetItem returns one order item by ID.
	GetItem(ctx context.Context, itemID string) (*domain.OrderItem, error)

	// List returns orders matching the filter with the total count.
	List(ctx context.Context, filter OrderFilter) ([]domain.Order, int, error)

	// SoftDelete tombstones an order, hiding it from reads while
	// keeping the row for audit.
	SoftDelete(ctx context.Context, id string) error
}
