package domain

import "time"

// DefaultLocation is the location key used when a caller does not name one.
const DefaultLocation = "main_warehouse"

// StockEntry holds the three counters for one (product, location) pair.
// Available and Reserved never go below zero; Sold only grows.
type StockEntry struct {
	ID              string     `json:"id"`
	ProductID       string     `json:"product_id"`
	Location        string     `json:"location"`
	Available       int        `json:"quantity_available"`
	Reserved        int        `json:"quantity_reserved"`
	Sold            int        `json:"quantity_sold"`
	ReorderLevel    int        `json:"reorder_level"`
	ReorderQuantity int        `json:"reorder_quantity"`
	LastRestockedAt *time.Time `json:"last_restocked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// OnHand returns the total units physically present: sellable plus held.
func (s *StockEntry) OnHand() int {
	return s.Available + s.Reserved
}

// BelowReorderLevel reports whether available stock has fallen to or
// under the advisory reorder threshold.
func (s *StockEntry) BelowReorderLevel() bool {
	return s.ReorderLevel > 0 && s.Available <= s.ReorderLevel
}

// Movement types.
const (
	MovementPurchase   = "purchase"
	MovementSale       = "sale"
	MovementReturn     = "return"
	MovementAdjustment = "adjustment"
	MovementDamage     = "damage"
	MovementTransfer   = "transfer"
)

// ValidMovementTypes returns the set of recognized movement types.
func ValidMovementTypes() []string {
	return []string{
		MovementPurchase,
		MovementSale,
		MovementReturn,
		MovementAdjustment,
		MovementDamage,
		MovementTransfer,
	}
}

// IsValidMovementType checks whether the given type is recognized.
func IsValidMovementType(movementType string) bool {
	for _, t := range ValidMovementTypes() {
		if t == movementType {
			return true
		}
	}
	return false
}

// MovementRecord is one immutable audit row per counter change.
// Quantity is a signed delta: positive inbound, negative outbound.
// Transfers are direction-neutral and carry both locations instead.
type MovementRecord struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	VariantID     *string   `json:"variant_id,omitempty"`
	MovementType  string    `json:"movement_type"`
	Quantity      int       `json:"quantity"`
	LocationFrom  *string   `json:"location_from,omitempty"`
	LocationTo    *string   `json:"location_to,omitempty"`
	ReferenceType *string   `json:"reference_type,omitempty"`
	ReferenceID   *string   `json:"reference_id,omitempty"`
	PerformedBy   string    `json:"performed_by"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Reference types for movement records.
const (
	ReferenceOrder = "order"
)
