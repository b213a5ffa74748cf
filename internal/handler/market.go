package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/market"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/middleware"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
)

type MarketHandler struct {
	protocol *service.Protocol
	svc      *service.MarketService
}

func NewMarketHandler(p *service.Protocol, svc *service.MarketService) *MarketHandler {
	return &MarketHandler{protocol: p, svc: svc}
}

// Create handles POST /api/markets
func (h *MarketHandler) Create(c fiber.Ctx) error {
	var req CreateMarketRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	m, err := h.protocol.CreateMarket(c.Context(), req.ClaimID, req.InitialLiquidity, req.DurationHours)
	if err != nil {
		return writeError(c, err, "Failed to create market")
	}
	yes, no := market.Prices(m.YesStake, m.NoStake)
	return c.Status(fiber.StatusCreated).JSON(service.MarketView{
		PredictionMarket: m,
		YesPrice:         yes,
		NoPrice:          no,
		Status:           market.FilterOpen,
	})
}

// List handles GET /api/markets?status=open|closed|resolved
func (h *MarketHandler) List(c fiber.Ctx) error {
	filter := strings.ToLower(fiber.Query[string](c, "status"))
	switch filter {
	case "", market.FilterOpen, market.FilterClosed, market.FilterResolved:
	default:
		return badRequest(c, "status must be one of: open, closed, resolved")
	}
	markets := h.svc.List(filter)
	return c.JSON(fiber.Map{
		"markets": markets,
		"total":   len(markets),
	})
}

// Get handles GET /api/markets/:marketId
func (h *MarketHandler) Get(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("marketId", c.Params("marketId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	v, hit, err := h.svc.Get(c.Context(), id)
	if err != nil {
		return writeError(c, err, "Failed to lookup market")
	}
	cacheHeader(c, hit)
	return c.JSON(v)
}

// Bet handles POST /api/markets/:marketId/bets
func (h *MarketHandler) Bet(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("marketId", c.Params("marketId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	var req BetRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	side, _ := model.ParseSide(req.Side)

	res, err := h.protocol.PlaceBet(c.Context(), id, strings.TrimSpace(req.Account), side, req.Amount)
	if err != nil {
		return writeError(c, err, "Failed to place bet")
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// Settle handles POST /api/markets/:marketId/settle. The outcome is taken
// from the claim's final status.
func (h *MarketHandler) Settle(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("marketId", c.Params("marketId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	m, err := h.protocol.SettleFromClaim(c.Context(), id)
	if err != nil {
		return writeError(c, err, "Failed to settle market")
	}
	return c.JSON(m)
}

// Redeem handles POST /api/markets/:marketId/redeem
func (h *MarketHandler) Redeem(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("marketId", c.Params("marketId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	var req RedeemRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	r, err := h.protocol.Redeem(c.Context(), id, strings.TrimSpace(req.Account))
	if err != nil {
		return writeError(c, err, "Failed to redeem position")
	}
	return c.JSON(r)
}
