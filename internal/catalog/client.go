package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storeline/walkin/pkg/httpclient"
)

// Product is the catalog snapshot the engine needs: prices in minor
// units and a status gate. The engine never writes to the catalog.
type Product struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BasePrice int64  `json:"base_price"`
	SalePrice int64  `json:"sale_price"`
	Status    string `json:"status"`
}

// StatusActive is the only status that allows selling a product.
const StatusActive = "active"

// EffectivePrice returns the price to charge: the sale price when one
// is set and strictly lower than the base price, else the base price.
func (p *Product) EffectivePrice() int64 {
	if p.SalePrice > 0 && p.SalePrice < p.BasePrice {
		return p.SalePrice
	}
	return p.BasePrice
}

// Client looks up products from the catalog service, caching
// snapshots in Redis and shedding load with a circuit breaker. Cache
// entries are invalidated when product.updated events arrive.
type Client struct {
	http     *httpclient.CircuitBreakerClient
	redis    *redis.Client
	baseURL  string
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewClient creates a catalog client.
func NewClient(http *httpclient.CircuitBreakerClient, redisClient *redis.Client, baseURL string, cacheTTL time.Duration, logger *slog.Logger) *Client {
	return &Client{
		http:     http,
		redis:    redisClient,
		baseURL:  baseURL,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func cacheKey(productID string) string {
	return "walkin:catalog:product:" + productID
}

// GetProduct returns the catalog snapshot for a product, preferring
// the Redis cache. A cache read failure falls through to the catalog
// service; a cache write failure is logged and ignored.
func (c *Client) GetProduct(ctx context.Context, productID string) (*Product, error) {
	if cached, err := c.redis.Get(ctx, cacheKey(productID)).Bytes(); err == nil {
		var p Product
		if json.Unmarshal(cached, &p) == nil {
			return &p, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.WarnContext(ctx, "catalog cache read failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	p, err := c.fetch(ctx, productID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := c.redis.Set(ctx, cacheKey(productID), data, c.cacheTTL).Err(); err != nil {
			c.logger.WarnContext(ctx, "catalog cache write failed",
				slog.String("product_id", productID),
				slog.String("error", err.Error()),
			)
		}
	}

	return p, nil
}

func (c *Client) fetch(ctx context.Context, productID string) (*Product, error) {
	url := fmt.Sprintf("%s/api/v1/products/%s", c.baseURL, productID)

	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup for product %s: %w", productID, err)
	}

	if resp.StatusCode != 200 {
		return nil, httpclient.ParseResponseError(resp, "catalog")
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope struct {
		Data Product `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode catalog response for product %s: %w", productID, err)
	}

	return &envelope.Data, nil
}

// Invalidate drops the cached snapshot for a product. Called by the
// product.updated event consumer.
func (c *Client) Invalidate(ctx context.Context, productID string) error {
	if err := c.redis.Del(ctx, cacheKey(productID)).Err(); err != nil {
		return fmt.Errorf("invalidate catalog cache for product %s: %w", productID, err)
	}
	return nil
}
