package handler

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/middleware"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
)

type ClaimHandler struct {
	protocol *service.Protocol
	svc      *service.ClaimService
}

func NewClaimHandler(p *service.Protocol, svc *service.ClaimService) *ClaimHandler {
	return &ClaimHandler{protocol: p, svc: svc}
}

// Submit handles POST /api/claims
func (h *ClaimHandler) Submit(c fiber.Ctx) error {
	var req SubmitClaimRequest
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if req.Submitter == "" {
		req.Submitter = strings.TrimSpace(c.Get(middleware.AccountHeader))
	}

	claim, err := h.protocol.SubmitClaim(c.Context(), service.ClaimInput{
		Title:        req.Title,
		Content:      req.Content,
		Category:     model.Category(req.Category),
		EvidenceURLs: req.EvidenceURLs,
		Submitter:    req.Submitter,
	})
	if err != nil {
		return writeError(c, err, "Failed to submit claim")
	}
	Metrics.ClaimsTotal.WithLabelValues(req.Category).Inc()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"claimId":       claim.ID,
		"contentRef":    claim.ContentRef,
		"status":        claim.Status,
		"displayStatus": model.DisplayStatus(claim.Status),
		"votingEndsAt":  claim.VotingEndsAt,
	})
}

// List handles GET /api/claims?category=&status=&sort=&limit=&offset=
func (h *ClaimHandler) List(c fiber.Ctx) error {
	f, msg := middleware.ValidateClaimFilter(
		fiber.Query[string](c, "category"),
		fiber.Query[string](c, "status"),
		fiber.Query[string](c, "sort"),
		fiber.Query[string](c, "limit"),
		fiber.Query[string](c, "offset"),
	)
	if msg != "" {
		return badRequest(c, msg)
	}

	claims, total, err := h.svc.List(c.Context(), f)
	if err != nil {
		return writeError(c, err, "Failed to list claims")
	}
	if claims == nil {
		claims = []model.Claim{}
	}
	return c.JSON(fiber.Map{
		"claims": claims,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

// Get handles GET /api/claims/:claimId
func (h *ClaimHandler) Get(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("claimId", c.Params("claimId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	view, hit, err := h.svc.Get(c.Context(), id)
	if err != nil {
		return writeError(c, err, "Failed to lookup claim")
	}
	cacheHeader(c, hit)
	return c.JSON(view)
}

// Content handles GET /api/claims/:claimId/content
func (h *ClaimHandler) Content(c fiber.Ctx) error {
	id, msg := middleware.ValidateID("claimId", c.Params("claimId"))
	if msg != "" {
		return badRequest(c, msg)
	}
	doc, err := h.protocol.ClaimContent(c.Context(), id)
	if err != nil {
		return writeError(c, err, "Failed to load claim content")
	}
	return c.JSON(doc)
}
