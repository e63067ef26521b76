package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storeline/walkin/internal/domain"
	pkgkafka "github.com/storeline/walkin/pkg/kafka"
)

// Kafka topics owned by the walk-in service.
const (
	TopicOrderChanged   = "walkin.order.changed"
	TopicOrderCompleted = "walkin.order.completed"
	TopicOrderCancelled = "walkin.order.cancelled"
	TopicStockUpdated   = "walkin.stock.updated"
	TopicStockLow       = "walkin.stock.low"
)

// Aggregate names used in event envelopes.
const (
	AggregateOrder = "order"
	AggregateStock = "stock_entry"
)

// SourceWalkinService identifies this service in event envelopes.
const SourceWalkinService = "walkin-service"

// OrderChangedData is the payload for order.changed, order.completed
// and order.cancelled events. Downstream caches and projections react
// to it instead of the service clearing their keys directly.
type OrderChangedData struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	TotalAmount int64  `json:"total_amount"`
	ItemCount   int    `json:"item_count"`
}

// StockUpdatedData is the payload for stock.updated events.
type StockUpdatedData struct {
	ProductID string `json:"product_id"`
	Location  string `json:"location"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Sold      int    `json:"sold"`
}

// StockLowData is the payload for stock.low events.
type StockLowData struct {
	ProductID    string `json:"product_id"`
	Location     string `json:"location"`
	Available    int    `json:"available"`
	ReorderLevel int    `json:"reorder_level"`
	ReorderQty   int    `json:"reorder_quantity"`
}

// Producer publishes walk-in domain events to Kafka. Publishing
// happens after the database transaction commits; failures are logged
// by callers and never roll back committed state.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates an event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

func (p *Producer) publishOrder(ctx context.Context, topic string, order *domain.Order) error {
	data := OrderChangedData{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		ItemCount:   len(order.Items),
	}

	evt, err := pkgkafka.NewEvent(topic, AggregateOrder, order.ID, SourceWalkinService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published order event",
		slog.String("topic", topic),
		slog.String("order_id", order.ID),
		slog.String("status", order.Status),
	)

	return nil
}

// PublishOrderChanged publishes order.changed after any item mutation
// on a pending order.
func (p *Producer) PublishOrderChanged(ctx context.Context, order *domain.Order) error {
	return p.publishOrder(ctx, TopicOrderChanged, order)
}

// PublishOrderCompleted publishes order.completed.
func (p *Producer) PublishOrderCompleted(ctx context.Context, order *domain.Order) error {
	return p.publishOrder(ctx, TopicOrderCompleted, order)
}

// PublishOrderCancelled publishes order.cancelled.
func (p *Producer) PublishOrderCancelled(ctx context.Context, order *domain.Order) error {
	return p.publishOrder(ctx, TopicOrderCancelled, order)
}

// PublishStockUpdated publishes stock.updated with the entry's
// counters after a ledger mutation commits.
func (p *Producer) PublishStockUpdated(ctx context.Context, entry *domain.StockEntry) error {
	data := StockUpdatedData{
		ProductID: entry.ProductID,
		Location:  entry.Location,
		Available: entry.Available,
		Reserved:  entry.Reserved,
		Sold:      entry.Sold,
	}

	evt, err := pkgkafka.NewEvent(TopicStockUpdated, AggregateStock, entry.ProductID, SourceWalkinService, data)
	if err != nil {
		return fmt.Errorf("create stock.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicStockUpdated, evt); err != nil {
		return fmt.Errorf("publish stock.updated event: %w", err)
	}

	return nil
}

// PublishStockLow publishes stock.low when available falls to or under
// the reorder level.
func (p *Producer) PublishStockLow(ctx context.Context, entry *domain.StockEntry) error {
	data := StockLowData{
		ProductID:    entry.ProductID,
		Location:     entry.Location,
		Available:    entry.Available,
		ReorderLevel: entry.ReorderLevel,
		ReorderQty:   entry.ReorderQuantity,
	}

	evt, err := pkgkafka.NewEvent(TopicStockLow, AggregateStock, entry.ProductID, SourceWalkinService, data)
	if err != nil {
		return fmt.Errorf("create stock.low event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicStockLow, evt); err != nil {
		return fmt.Errorf("publish stock.low event: %w", err)
	}

	p.logger.InfoContext(ctx, "published stock.low event",
		slog.String("product_id", entry.ProductID),
		slog.String("location", entry.Location),
		slog.Int("available", entry.Available),
	)

	return nil
}
