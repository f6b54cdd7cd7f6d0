package api

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/wikifolio-adapter/internal/service"
	"github.com/Checker-Finance/wikifolio-adapter/internal/wikifolio"
	"github.com/Checker-Finance/wikifolio-adapter/pkg/model"
)

// WikifolioService defines the operations used by the handler.
type WikifolioService interface {
	Wikifolio(ctx context.Context, identifier string, detailed bool) (wikifolio.WikifolioData, error)
	Price(ctx context.Context, identifier string, refresh bool) (*model.PriceEvent, error)
	Portfolio(ctx context.Context, identifier string) (*wikifolio.Portfolio, error)
	Trades(ctx context.Context, identifier string, params wikifolio.TradesParams) (*wikifolio.TradePage, error)
	Search(ctx context.Context, params wikifolio.SearchParams) ([]wikifolio.WikifolioData, error)
	ListOrders(ctx context.Context, identifier string, params wikifolio.OrdersParams) ([]service.OrderView, error)
	PlaceOrder(ctx context.Context, cmd service.PlaceOrderCommand) (*model.OrderEvent, error)
	CancelOrder(ctx context.Context, cmd service.CancelOrderCommand) (*wikifolio.RemoveResult, error)
}

// WikifolioHandler handles HTTP API requests for wikifolio operations.
type WikifolioHandler struct {
	logger  *zap.Logger
	service WikifolioService
}

// NewWikifolioHandler creates a new WikifolioHandler.
func NewWikifolioHandler(logger *zap.Logger, svc WikifolioService) *WikifolioHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WikifolioHandler{logger: logger, service: svc}
}

// GetWikifolio returns a wikifolio's data; ?details=true also scrapes its page.
func (h *WikifolioHandler) GetWikifolio(c *fiber.Ctx) error {
	data, err := h.service.Wikifolio(c.Context(), c.Params("id"), c.QueryBool("details", false))
	if err != nil {
		return h.fail(c, "api.get_wikifolio.failed", err)
	}
	return c.JSON(data)
}

// GetPrice returns the certificate quote; ?refresh=false may serve a cached quote.
func (h *WikifolioHandler) GetPrice(c *fiber.Ctx) error {
	price, err := h.service.Price(c.Context(), c.Params("id"), c.QueryBool("refresh", true))
	if err != nil {
		return h.fail(c, "api.get_price.failed", err)
	}
	return c.JSON(price)
}

// GetPortfolio returns the current holdings.
func (h *WikifolioHandler) GetPortfolio(c *fiber.Ctx) error {
	portfolio, err := h.service.Portfolio(c.Context(), c.Params("id"))
	if err != nil {
		return h.fail(c, "api.get_portfolio.failed", err)
	}
	return c.JSON(portfolio)
}

// GetTrades returns a page of trade history.
func (h *WikifolioHandler) GetTrades(c *fiber.Ctx) error {
	page, err := h.service.Trades(c.Context(), c.Params("id"), wikifolio.TradesParams{
		Page:     c.QueryInt("page", 0),
		PageSize: c.QueryInt("pageSize", 0),
	})
	if err != nil {
		return h.fail(c, "api.get_trades.failed", err)
	}
	return c.JSON(page)
}

// ListOrders returns the open orders with their legs.
func (h *WikifolioHandler) ListOrders(c *fiber.Ctx) error {
	orders, err := h.service.ListOrders(c.Context(), c.Params("id"), wikifolio.OrdersParams{
		Page:     c.QueryInt("page", 0),
		PageSize: c.QueryInt("pageSize", 0),
	})
	if err != nil {
		return h.fail(c, "api.list_orders.failed", err)
	}
	return c.JSON(fiber.Map{"orders": orders})
}

// PlaceOrder places an order on the wikifolio in the path.
func (h *WikifolioHandler) PlaceOrder(c *fiber.Ctx) error {
	var cmd service.PlaceOrderCommand
	if err := c.BodyParser(&cmd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	cmd.Wikifolio = c.Params("id")

	evt, err := h.service.PlaceOrder(c.Context(), cmd)
	if err != nil {
		return h.fail(c, "api.place_order.failed", err)
	}
	return c.Status(fiber.StatusCreated).JSON(evt)
}

// CancelOrder removes an open order.
func (h *WikifolioHandler) CancelOrder(c *fiber.Ctx) error {
	result, err := h.service.CancelOrder(c.Context(), service.CancelOrderCommand{
		Wikifolio: c.Params("id"),
		OrderID:   c.Params("orderId"),
	})
	if err != nil {
		if result != nil {
			h.logger.Warn("api.cancel_order.refused", zap.String("order_id", c.Params("orderId")), zap.Error(err))
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error(), "result": result})
		}
		return h.fail(c, "api.cancel_order.failed", err)
	}
	return c.JSON(result)
}

// Search runs a wikifolio search from query parameters.
func (h *WikifolioHandler) Search(c *fiber.Ctx) error {
	params := wikifolio.SearchParams{
		Query:        c.Query("q"),
		SortBy:       c.Query("sortBy"),
		SortOrder:    c.Query("sortOrder"),
		StartValue:   c.QueryInt("startValue", 0),
		Super:        queryFlag(c, "super"),
		Investable:   queryFlag(c, "investable"),
		RealMoney:    queryFlag(c, "realMoney"),
		LanguageOnly: queryFlag(c, "languageOnly"),
	}
	if tags := c.Query("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				params.Tags = append(params.Tags, t)
			}
		}
	}

	results, err := h.service.Search(c.Context(), params)
	if err != nil {
		return h.fail(c, "api.search.failed", err)
	}
	return c.JSON(fiber.Map{"results": results})
}

func (h *WikifolioHandler) fail(c *fiber.Ctx, event string, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		h.logger.Error(event, zap.String("path", c.Path()), zap.Error(err))
	} else {
		h.logger.Warn(event, zap.String("path", c.Path()), zap.Error(err))
	}
	return writeError(c, err)
}

// queryFlag reads an optional boolean; absent or unparsable means unset.
func queryFlag(c *fiber.Ctx, key string) *bool {
	switch strings.ToLower(c.Query(key)) {
	case "true", "1":
		v := true
		return &v
	case "false", "0":
		v := false
		return &v
	}
	return nil
}
