package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/storeline/walkin/internal/service"
	"github.com/storeline/walkin/pkg/health"
	"github.com/storeline/walkin/pkg/middleware"
)

// ContentTypeJSON rejects mutating requests whose body is not JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			ct := r.Header.Get("Content-Type")
			if ct != "" && ct != "application/json" && ct != "application/json; charset=utf-8" {
				http.Error(w, `{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`,
					http.StatusUnsupportedMediaType)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates a chi router with all walk-in service routes registered.
func NewRouter(
	transactionService *service.TransactionService,
	stockService *service.StockService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("walkin"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	transactionHandler := NewTransactionHandler(transactionService, logger)
	stockHandler := NewStockHandler(stockService, logger)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", transactionHandler.CreateOrder)
		r.Get("/", transactionHandler.ListOrders)
		r.Get("/{orderId}", transactionHandler.GetOrder)
		r.Delete("/{orderId}", transactionHandler.DeleteOrder)

		// Line items
		r.Post("/{orderId}/items", transactionHandler.AddItem)
		r.Put("/{orderId}/items/{itemId}", transactionHandler.UpdateItem)
		r.Delete("/{orderId}/items/{itemId}", transactionHandler.RemoveItem)

		// Lifecycle transitions
		r.Post("/{orderId}/complete", transactionHandler.CompleteOrder)
		r.Post("/{orderId}/cancel", transactionHandler.CancelOrder)
	})

	r.Route("/api/v1/stock", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", stockHandler.InitializeStock)
		r.Post("/adjust", stockHandler.AdjustStock)
		r.Post("/transfer", stockHandler.TransferStock)

		r.Get("/low-stock", stockHandler.ListLowStock)
		r.Get("/movements", stockHandler.ListMovements)
		r.Get("/{productId}", stockHandler.GetStock)
	})

	return r
}
