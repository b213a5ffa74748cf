package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/middleware"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
)

// AdminHandler serves the operator routes. It is mounted behind
// middleware.RequireAdmin.
type AdminHandler struct {
	protocol *service.Protocol
}

func NewAdminHandler(p *service.Protocol) *AdminHandler {
	return &AdminHandler{protocol: p}
}

// Mint handles POST /api/admin/mint
func (h *AdminHandler) Mint(c fiber.Ctx) error {
	var req MintRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	acct, err := h.protocol.Mint(c.Context(), req.Address, req.Amount)
	if err != nil {
		return writeError(c, err, "Failed to mint reputation")
	}
	return c.JSON(acct)
}

// CancelRound handles POST /api/admin/rounds/:claimId/cancel
func (h *AdminHandler) CancelRound(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("claimId", c.Params("claimId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	res, err := h.protocol.Cancel(c.Context(), id)
	if err != nil {
		return writeError(c, err, "Failed to cancel validation round")
	}
	return c.JSON(res)
}

// UpdateParams handles PUT /api/admin/params. Open rounds keep the
// parameters they were opened with.
func (h *AdminHandler) UpdateParams(c fiber.Ctx) error {
	var params model.Params
	if err := c.Bind().JSON(&params); err != nil {
		return invalidBody(c)
	}
	if err := h.protocol.UpdateParams(c.Context(), params); err != nil {
		return writeError(c, err, "Failed to update parameters")
	}
	return c.JSON(h.protocol.Pool.Params())
}
