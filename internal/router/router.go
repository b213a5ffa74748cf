package router

import (
	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/handler"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/middleware"
)

// Handlers holds all handler instances needed by the router.
type Handlers struct {
	Health     *handler.HealthHandler
	Claim      *handler.ClaimHandler
	Validation *handler.ValidationHandler
	Market     *handler.MarketHandler
	Account    *handler.AccountHandler
	Admin      *handler.AdminHandler
	Stats      *handler.StatsHandler
}

// Options configures the middleware stack.
type Options struct {
	CORSOrigins string
	AdminToken  string
	Gatherer    prometheus.Gatherer
}

// Setup configures the middleware stack and all API routes on the given Fiber app.
func Setup(app *fiber.App, h *Handlers, opts Options) {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(middleware.NewRequestLogger())
	app.Use(middleware.NewCORS(opts.CORSOrigins))
	app.Use(handler.MetricsMiddleware())

	// Health checks and metrics (before API group, no limits)
	app.Get("/health/live", h.Health.Live)
	app.Get("/health/ready", h.Health.Ready)
	if opts.Gatherer != nil {
		app.Get("/metrics", handler.MetricsHandler(opts.Gatherer))
	}

	reads := middleware.NewReadRateLimiter().Handler()
	claims := middleware.NewClaimSubmitRateLimiter().Handler()
	votes := middleware.NewVoteRateLimiter().Handler()
	bets := middleware.NewBetRateLimiter().Handler()
	optIns := middleware.NewClaimSubmitRateLimiter().Handler()

	// API routes
	api := app.Group("/api")

	// Account routes
	api.Post("/accounts", optIns, h.Account.OptIn)
	api.Get("/accounts/:address", reads, h.Account.Get)
	api.Get("/accounts/:address/positions", reads, h.Account.Positions)

	// Claim routes
	api.Post("/claims", claims, h.Claim.Submit)
	api.Get("/claims", reads, h.Claim.List)
	api.Get("/claims/:claimId", reads, h.Claim.Get)
	api.Get("/claims/:claimId/content", reads, h.Claim.Content)

	// Validation routes
	api.Post("/claims/:claimId/round", votes, h.Validation.OpenRound)
	api.Get("/claims/:claimId/round", reads, h.Validation.Round)
	api.Post("/claims/:claimId/votes", votes, h.Validation.Vote)
	api.Post("/claims/:claimId/resolve", votes, h.Validation.Resolve)
	api.Get("/validations/pending", reads, h.Validation.Pending)
	api.Get("/params", reads, h.Validation.Params)

	// Market routes
	api.Post("/markets", bets, h.Market.Create)
	api.Get("/markets", reads, h.Market.List)
	api.Get("/markets/:marketId", reads, h.Market.Get)
	api.Post("/markets/:marketId/bets", bets, h.Market.Bet)
	api.Post("/markets/:marketId/settle", bets, h.Market.Settle)
	api.Post("/markets/:marketId/redeem", bets, h.Market.Redeem)

	// Stats routes
	api.Get("/stats", reads, h.Stats.GetStats)

	// Admin routes
	admin := api.Group("/admin",
		middleware.NewAdminRateLimiter().Handler(),
		middleware.RequireAdmin(opts.AdminToken))
	admin.Post("/mint", h.Admin.Mint)
	admin.Post("/rounds/:claimId/cancel", h.Admin.CancelRound)
	admin.Put("/params", h.Admin.UpdateParams)
}
