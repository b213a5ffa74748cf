package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/middleware"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
)

type ValidationHandler struct {
	protocol *service.Protocol
	svc      *service.ClaimService
}

func NewValidationHandler(p *service.Protocol, svc *service.ClaimService) *ValidationHandler {
	return &ValidationHandler{protocol: p, svc: svc}
}

// OpenRound handles POST /api/claims/:claimId/round
func (h *ValidationHandler) OpenRound(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("claimId", c.Params("claimId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	r, err := h.protocol.OpenRound(c.Context(), id)
	if err != nil {
		return writeError(c, err, "Failed to open validation round")
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

// Round handles GET /api/claims/:claimId/round
func (h *ValidationHandler) Round(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("claimId", c.Params("claimId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	r, err := h.protocol.Pool.Round(id)
	if err != nil {
		return writeError(c, err, "Failed to lookup validation round")
	}
	votes, err := h.protocol.Pool.Votes(id)
	if err != nil {
		return writeError(c, err, "Failed to lookup votes")
	}
	return c.JSON(fiber.Map{
		"round": r,
		"votes": votes,
		"tally": service.ComputeTally(r, votes),
		"open":  r.Open(h.protocol.Now()),
	})
}

// Vote handles POST /api/claims/:claimId/votes
func (h *ValidationHandler) Vote(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("claimId", c.Params("claimId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	var req VoteRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	voteType, _ := model.ParseVoteType(req.VoteType)

	v, err := h.protocol.CastVote(c.Context(), id, strings.TrimSpace(req.Voter), voteType, req.Stake)
	if err != nil {
		return writeError(c, err, "Failed to cast vote")
	}
	return c.Status(fiber.StatusCreated).JSON(v)
}

// Resolve handles POST /api/claims/:claimId/resolve
func (h *ValidationHandler) Resolve(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("claimId", c.Params("claimId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	res, err := h.protocol.Resolve(c.Context(), id)
	if err != nil {
		return writeError(c, err, "Failed to resolve validation round")
	}
	return c.JSON(fiber.Map{
		"resolution":    res,
		"displayStatus": model.DisplayStatus(res.ClaimStatus),
	})
}

// Pending handles GET /api/validations/pending?address=
func (h *ValidationHandler) Pending(c fiber.Ctx) error {
	address := fiber.Query[string](c, "address")
	if address != "" {
		var msg string
		if address, msg = middleware.ValidateAddress(address); msg != "" {
			return badRequest(c, msg)
		}
	}
	pending := h.svc.Pending(address)
	return c.JSON(fiber.Map{
		"pending": pending,
		"count":   len(pending),
	})
}

// Params handles GET /api/params
func (h *ValidationHandler) Params(c fiber.Ctx) error {
	return c.JSON(struct {
		model.Params
		Markets model.MarketLimits `json:"marketLimits"`
	}{h.protocol.Pool.Params(), h.protocol.Markets.Limits()})
}
