package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/middleware"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
)

type AccountHandler struct {
	protocol *service.Protocol
	svc      *service.AccountService
	markets  *service.MarketService
}

func NewAccountHandler(p *service.Protocol, svc *service.AccountService, markets *service.MarketService) *AccountHandler {
	return &AccountHandler{protocol: p, svc: svc, markets: markets}
}

// OptIn handles POST /api/accounts
func (h *AccountHandler) OptIn(c fiber.Ctx) error {
	var req OptInRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	acct, err := h.protocol.OptIn(c.Context(), strings.TrimSpace(req.Address))
	if err != nil {
		return writeError(c, err, "Failed to opt in")
	}
	return c.Status(fiber.StatusCreated).JSON(acct)
}

// Get handles GET /api/accounts/:address
func (h *AccountHandler) Get(c fiber.Ctx) error {
	address, msg := middleware.ValidateAddress(c.Params("address"))
	if msg != "" {
		return badRequest(c, msg)
	}
	profile, hit, err := h.svc.Lookup(c.Context(), address)
	if err != nil {
		return writeError(c, err, "Failed to lookup account")
	}
	cacheHeader(c, hit)
	return c.JSON(profile)
}

// Positions handles GET /api/accounts/:address/positions
func (h *AccountHandler) Positions(c fiber.Ctx) error {
	address, msg := middleware.ValidateAddress(c.Params("address"))
	if msg != "" {
		return badRequest(c, msg)
	}
	positions := h.markets.Positions(address)
	return c.JSON(fiber.Map{
		"positions": positions,
		"count":     len(positions),
	})
}
