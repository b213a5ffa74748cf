package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/config"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/handler"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/middleware"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/repository"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/router"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and background workers",
	Long: `Replays the journal, then serves the HTTP API, the event stream and
the Prometheus endpoint while the expiry and projection workers run.

Stops gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "HTTP port (overrides config)")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	middleware.InitLogger(cfg.LogLevel, "defacto")
	log := middleware.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close(log)

	bus := service.NewEventBus(256)
	p := service.NewProtocol(b.submit, b.blobs, settingsFrom(cfg),
		service.WithEvents(bus),
		service.WithLogger(log))

	if _, err := p.Replay(ctx, b.journal); err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handler.InitMetrics(reg, b.pool)

	cache := service.NewCacheService(cfg.RedisURL, log)
	defer func() { _ = cache.Close() }()
	log.Info().Str("backend", cache.Backend()).Msg("read cache ready")

	// Without a database the read paths fall back to live state.
	var (
		store       service.ProjectionStore
		lister      service.ClaimLister
		counter     service.SubmitterCounter
		statter     service.ProjectionStatter
		auditCursor int
	)
	if b.pool != nil {
		proj := repository.NewProjection(b.pool)
		store, lister, counter = proj, proj.Claims, proj.Claims
		statter = repository.NewStatsRepo(b.pool)
		if auditCursor, err = proj.AuditCount(ctx); err != nil {
			return fmt.Errorf("read audit cursor: %w", err)
		}
	}
	projector := service.NewProjectionWorker(p, store, cache, cfg.Workers.ProjectionInterval, log)
	projector.ResumeAudit(auditCursor)
	projector.OnFlush(handler.ObserveFlush)
	expiry := service.NewExpiryWorker(p, cfg.Workers.ExpiryInterval, log)

	claims := service.NewClaimService(p, cache, lister)
	markets := service.NewMarketService(p, cache)

	app := fiber.New(fiber.Config{
		AppName:      "DeFacto API",
		ServerHeader: "DeFacto",
		BodyLimit:    64 * 1024,
	})
	router.Setup(app, &router.Handlers{
		Health:     handler.NewHealthHandler(b.pool, cache.Client(), b.pinger, Version),
		Claim:      handler.NewClaimHandler(p, claims),
		Validation: handler.NewValidationHandler(p, claims),
		Market:     handler.NewMarketHandler(p, markets),
		Account:    handler.NewAccountHandler(p, service.NewAccountService(p, cache, counter), markets),
		Admin:      handler.NewAdminHandler(p),
		Stats:      handler.NewStatsHandler(service.NewStatsService(p, statter)),
	}, router.Options{
		CORSOrigins: cfg.CORSOrigins,
		AdminToken:  cfg.Protocol.AdminToken,
		Gatherer:    reg,
	})
	if cfg.Protocol.AdminToken == "" {
		log.Warn().Msg("admin_token not set, admin routes are disabled")
	}

	var stream *http.Server
	if cfg.StreamPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", handler.NewStreamHub(bus, cfg.CORSOrigins, cfg.IPSalt, log))
		stream = &http.Server{
			Addr:              ":" + cfg.StreamPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { projector.Start(gctx); return nil })
	g.Go(func() error { expiry.Start(gctx); return nil })
	g.Go(func() error { handler.CountEvents(gctx, bus); return nil })

	g.Go(func() error {
		log.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Environment).
			Str("version", Version).
			Msg("DeFacto API starting")
		return app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true})
	})
	if stream != nil {
		g.Go(func() error {
			log.Info().Str("port", cfg.StreamPort).Msg("event stream starting")
			if err := stream.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("event stream: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		if stream != nil {
			if err := stream.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("stream shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}
