package domain

import (
	"errors"
	"fmt"
)

// InsufficientStockError is returned when a reserve or negative adjust
// asks for more than is currently free. Available carries the count at
// the moment of the failed attempt so callers can surface it verbatim.
type InsufficientStockError struct {
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock. Available: %d", e.Available)
}

// LedgerInconsistencyError is returned when release or fulfill finds
// fewer reserved units than expected. It signals a prior invariant
// violation and must abort the enclosing transaction.
type LedgerInconsistencyError struct {
	ProductID string
	Location  string
	Reserved  int
	Requested int
}

func (e *LedgerInconsistencyError) Error() string {
	return fmt.Sprintf("ledger inconsistency for product %s at %s: reserved %d, requested %d",
		e.ProductID, e.Location, e.Reserved, e.Requested)
}

var (
	// ErrOrderNotPending is returned when a mutation targets an order
	// that has already completed or been cancelled.
	ErrOrderNotPending = errors.New("order is not pending")

	// ErrEmptyOrder is returned when completing an order with no items.
	ErrEmptyOrder = errors.New("Cannot complete an order with no items")

	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)
