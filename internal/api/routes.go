package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RegisterRoutes registers all HTTP routes on the Fiber app.
func RegisterRoutes(app *fiber.App, nc *nats.Conn, st HealthChecker, handler *WikifolioHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"nats":  "ok",
			"store": "ok",
		}
		status := "ok"
		code := fiber.StatusOK

		if nc == nil || !nc.IsConnected() {
			checks["nats"] = "disconnected"
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		} else if err := nc.FlushTimeout(1 * time.Second); err != nil {
			checks["nats"] = err.Error()
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		if st == nil {
			checks["store"] = "not configured"
		} else {
			healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := st.HealthCheck(healthCtx); err != nil {
				checks["store"] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
			}
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	})

	// API routes
	mountV1(app.Group("/api/v1"), handler)
}

func mountV1(v1 fiber.Router, h *WikifolioHandler) {
	v1.Get("/search", h.Search)

	wf := v1.Group("/wikifolios/:id")
	wf.Get("", h.GetWikifolio)
	wf.Get("/price", h.GetPrice)
	wf.Get("/portfolio", h.GetPortfolio)
	wf.Get("/trades", h.GetTrades)
	wf.Get("/orders", h.ListOrders)
	wf.Post("/orders", h.PlaceOrder)
	wf.Delete("/orders/:orderId", h.CancelOrder)
}
