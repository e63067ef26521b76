package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Order statuses. Completed and cancelled are terminal.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// OrderTypeWalkIn marks orders created and finished at the counter.
const OrderTypeWalkIn = "walk_in"

// Payment statuses.
const (
	PaymentStatusUnpaid = "unpaid"
	PaymentStatusPaid   = "paid"
)

// Order is a walk-in transaction. All money fields are minor units
// (cents); TotalAmount is derived from the items and recomputed on
// every mutation, never trusted from the row alone.
type Order struct {
	ID             string      `json:"id"`
	OrderNumber    string      `json:"order_number"`
	OrderType      string      `json:"order_type"`
	Status         string      `json:"status"`
	PaymentStatus  string      `json:"payment_status"`
	CustomerName   string      `json:"customer_name,omitempty"`
	CustomerPhone  string      `json:"customer_phone,omitempty"`
	CustomerEmail  string      `json:"customer_email,omitempty"`
	Items          []OrderItem `json:"items"`
	Subtotal       int64       `json:"subtotal"`
	TaxAmount      int64       `json:"tax_amount"`
	DiscountAmount int64       `json:"discount_amount"`
	TotalAmount    int64       `json:"total_amount"`
	Notes          string      `json:"notes,omitempty"`
	ConfirmedAt    *time.Time  `json:"confirmed_at,omitempty"`
	CancelledAt    *time.Time  `json:"cancelled_at,omitempty"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// OrderItem is one line of a walk-in order. UnitPrice is captured when
// the item is added and insulated from later catalog changes.
type OrderItem struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Quantity    int       `json:"quantity"`
	UnitPrice   int64     `json:"unit_price"`
	TotalPrice  int64     `json:"total_price"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Payment records the settlement of a completed order. Exactly one row
// per order, written when the order completes.
type Payment struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	PaymentMethod string    `json:"payment_method"`
	PaymentStatus string    `json:"payment_status"`
	Amount        int64     `json:"amount"`
	PaidAt        time.Time `json:"paid_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// AllowedTransitions defines the order state machine.
func AllowedTransitions() map[string][]string {
	return map[string][]string{
		OrderStatusPending:   {OrderStatusCompleted, OrderStatusCancelled},
		OrderStatusCompleted: {},
		OrderStatusCancelled: {},
	}
}

// CanTransitionTo checks whether the order may move to target.
func (o *Order) CanTransitionTo(target string) bool {
	allowed, ok := AllowedTransitions()[o.Status]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// IsPending reports whether the order still accepts item mutations.
func (o *Order) IsPending() bool {
	return o.Status == OrderStatusPending
}

// RecomputeTotals rederives subtotal and total from the items with the
// given tax rate in basis points. Discount is kept as-is.
func (o *Order) RecomputeTotals(taxRateBasisPoints int64) {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.TotalPrice
	}
	o.Subtotal = subtotal
	o.TaxAmount = subtotal * taxRateBasisPoints / 10000
	o.TotalAmount = o.Subtotal + o.TaxAmount - o.DiscountAmount
}

// NewOrderNumber generates a human-readable order number of the form
// WI-20260901-a3f29c.
func NewOrderNumber(now time.Time) string {
	suffix := make([]byte, 3)
	_, _ = rand.Read(suffix)
	return "WI-" + now.Format("20060102") + "-" + hex.EncodeToString(suffix)
}
