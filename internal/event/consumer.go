package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/storeline/walkin/pkg/kafka"
)

// TopicProductUpdated is consumed from the catalog service; a product
// change invalidates the cached snapshot.
const TopicProductUpdated = "catalog.product.updated"

// CatalogCache is the part of the catalog client the consumer needs.
type CatalogCache interface {
	Invalidate(ctx context.Context, productID string) error
}

// ProductUpdatedData is the expected payload of a product.updated event.
type ProductUpdatedData struct {
	ProductID string `json:"product_id"`
}

// Consumer processes incoming Kafka events for the walk-in service.
type Consumer struct {
	cache  CatalogCache
	logger *slog.Logger
}

// NewConsumer creates an event consumer.
func NewConsumer(cache CatalogCache, logger *slog.Logger) *Consumer {
	return &Consumer{cache: cache, logger: logger}
}

// HandleProductUpdated drops the cached catalog snapshot so the next
// price lookup sees the fresh product.
func (c *Consumer) HandleProductUpdated(ctx context.Context, event *pkgkafka.Event) error {
	var data ProductUpdatedData
	if err := event.DecodePayload(&data); err != nil {
		return fmt.Errorf("unmarshal product.updated payload: %w", err)
	}

	if data.ProductID == "" {
		c.logger.WarnContext(ctx, "product.updated event without product_id, skipping",
			slog.String("event_id", event.ID),
		)
		return nil
	}

	if err := c.cache.Invalidate(ctx, data.ProductID); err != nil {
		return fmt.Errorf("invalidate catalog cache for product %s: %w", data.ProductID, err)
	}

	c.logger.DebugContext(ctx, "catalog cache invalidated",
		slog.String("product_id", data.ProductID),
	)

	return nil
}
