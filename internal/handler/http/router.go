package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aurelia-commerce/fulfillment/internal/service"
	"github.com/aurelia-commerce/fulfillment/pkg/health"
	"github.com/aurelia-commerce/fulfillment/pkg/middleware"
)

// NewRouter creates a chi router with all fulfillment service routes registered.
func NewRouter(
	orderService *service.OrderService,
	inventoryService *service.InventoryService,
	refundService *service.RefundService,
	couponService *service.CouponService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("fulfillment"))
	r.Use(middleware.Tracing("fulfillment"))
	r.Use(middleware.Actor())
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	orderHandler := NewOrderHandler(orderService, logger)
	inventoryHandler := NewInventoryHandler(inventoryService, logger)
	refundHandler := NewRefundHandler(refundService, logger)
	couponHandler := NewCouponHandler(couponService, logger)

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", orderHandler.PlaceOrder)
		r.Get("/", orderHandler.ListOrders)
		r.Get("/{id}", orderHandler.GetOrder)
		r.Delete("/{id}", orderHandler.DeleteOrder)
		r.Put("/{id}/status", orderHandler.TransitionStatus)
		r.Get("/{id}/history", orderHandler.ListStatusHistory)
		r.Put("/{id}/taxes", orderHandler.SaveTax)
		r.Delete("/{id}/items/{itemId}", orderHandler.DeleteItem)
	})

	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", inventoryHandler.CreateInventory)
		r.Get("/{variantId}/warehouses/{warehouseId}", inventoryHandler.GetBalance)
	})

	r.Route("/api/v1/movements", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", inventoryHandler.RecordMovement)
		r.Get("/", inventoryHandler.ListMovements)
		r.Delete("/{id}", inventoryHandler.DeleteMovement)
		r.Post("/transfers", inventoryHandler.Transfer)
	})

	r.Route("/api/v1/warehouses", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", inventoryHandler.CreateWarehouse)
		r.Get("/", inventoryHandler.ListWarehouses)
	})

	r.Route("/api/v1/refunds", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", refundHandler.RequestRefund)
		r.Get("/", refundHandler.ListRefunds)
		r.Get("/{id}", refundHandler.GetRefund)
		r.Post("/{id}/approve", refundHandler.Approve)
		r.Post("/{id}/complete", refundHandler.Complete)
		r.Post("/{id}/reject", refundHandler.Reject)
		r.Post("/{id}/cancel", refundHandler.Cancel)
		r.Delete("/{id}/items/{itemId}", refundHandler.RemoveItem)
	})

	r.Route("/api/v1/coupons", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", couponHandler.CreateCoupon)
		r.Post("/validate", couponHandler.ValidateCoupon)
	})

	return r
}
