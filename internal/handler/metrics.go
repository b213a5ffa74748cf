package handler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/service"
)

// Metrics holds all Prometheus collectors for the DeFacto backend.
var Metrics = struct {
	ClaimsTotal             *prometheus.CounterVec
	VotesTotal              *prometheus.CounterVec
	BetsTotal               *prometheus.CounterVec
	ResolutionsTotal        *prometheus.CounterVec
	SubmissionFailures      prometheus.Counter
	RequestDuration         *prometheus.HistogramVec
	DBPoolActive            prometheus.GaugeFunc
	DBPoolIdle              prometheus.GaugeFunc
	RequestsInFlight        prometheus.Gauge
	CacheHits               prometheus.Counter
	CacheMisses             prometheus.Counter
	ProjectionFlushDuration prometheus.Histogram
	StreamSubscribers       prometheus.Gauge
}{}

// InitMetrics registers all Prometheus metrics on reg. Call once at startup.
func InitMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	Metrics.ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defacto_claims_submitted_total",
			Help: "Total claims submitted, by category.",
		},
		[]string{"category"},
	)

	Metrics.VotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defacto_votes_total",
			Help: "Total votes cast, by vote type.",
		},
		[]string{"vote_type"},
	)

	Metrics.BetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defacto_bets_total",
			Help: "Total bets placed, by side.",
		},
		[]string{"side"},
	)

	Metrics.ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "defacto_resolutions_total",
			Help: "Total validation rounds resolved, by verdict.",
		},
		[]string{"verdict"},
	)

	Metrics.SubmissionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "defacto_ledger_submission_failures_total",
			Help: "Operations rejected because the journal did not confirm them.",
		},
	)

	Metrics.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "defacto_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by endpoint and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	Metrics.RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "defacto_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	)

	Metrics.CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "defacto_cache_hits_total",
			Help: "Total read cache hits.",
		},
	)

	Metrics.CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "defacto_cache_misses_total",
			Help: "Total read cache misses.",
		},
	)

	Metrics.ProjectionFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "defacto_projection_flush_duration_seconds",
			Help:    "Duration of projection table flushes.",
			Buckets: prometheus.DefBuckets,
		},
	)

	Metrics.StreamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "defacto_stream_subscribers",
			Help: "Number of connected event stream clients.",
		},
	)

	// DB pool gauges read live stats from pgxpool
	if pool != nil {
		Metrics.DBPoolActive = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "defacto_db_connection_pool_active",
				Help: "Number of active database connections.",
			},
			func() float64 {
				return float64(pool.Stat().AcquiredConns())
			},
		)

		Metrics.DBPoolIdle = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "defacto_db_connection_pool_idle",
				Help: "Number of idle database connections.",
			},
			func() float64 {
				return float64(pool.Stat().IdleConns())
			},
		)

		reg.MustRegister(Metrics.DBPoolActive)
		reg.MustRegister(Metrics.DBPoolIdle)
	}

	reg.MustRegister(
		Metrics.ClaimsTotal,
		Metrics.VotesTotal,
		Metrics.BetsTotal,
		Metrics.ResolutionsTotal,
		Metrics.SubmissionFailures,
		Metrics.RequestDuration,
		Metrics.RequestsInFlight,
		Metrics.CacheHits,
		Metrics.CacheMisses,
		Metrics.ProjectionFlushDuration,
		Metrics.StreamSubscribers,
	)
}

// ObserveFlush records one projection flush.
func ObserveFlush(d time.Duration) {
	Metrics.ProjectionFlushDuration.Observe(d.Seconds())
}

// CountEvents counts votes, bets and resolutions from the event bus until ctx
// is cancelled. It sees rounds resolved by the expiry worker as well as
// through the API.
func CountEvents(ctx context.Context, bus *service.EventBus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch data := ev.Data.(type) {
			case model.Vote:
				Metrics.VotesTotal.WithLabelValues(string(data.VoteType)).Inc()
			case model.BetResult:
				Metrics.BetsTotal.WithLabelValues(string(data.Side)).Inc()
			case model.Resolution:
				Metrics.ResolutionsTotal.WithLabelValues(string(data.Verdict)).Inc()
			}
		}
	}
}

// MetricsMiddleware records request duration and in-flight count for Prometheus.
func MetricsMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		// Don't instrument the /metrics endpoint itself
		if c.Path() == "/metrics" {
			return c.Next()
		}

		// Copy path and method into owned strings BEFORE c.Next(); Fiber
		// returns slices backed by the fasthttp buffer which can be reused
		// or overwritten by handlers (especially fasthttpadaptor).
		path := string([]byte(c.Path()))
		method := string([]byte(c.Method()))
		endpoint := sanitizeEndpoint(path)

		Metrics.RequestsInFlight.Inc()
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())

		Metrics.RequestDuration.WithLabelValues(endpoint, method, status).Observe(duration)
		Metrics.RequestsInFlight.Dec()

		return err
	}
}

// sanitizeEndpoint normalizes paths to avoid cardinality explosion.
func sanitizeEndpoint(path string) string {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		switch parts[i-1] {
		case "claims", "rounds":
			parts[i] = ":claimId"
		case "markets":
			parts[i] = ":marketId"
		case "accounts":
			parts[i] = ":address"
		}
	}
	return strings.Join(parts, "/")
}

// MetricsHandler serves the Prometheus /metrics endpoint via Fiber.
func MetricsHandler(gatherer prometheus.Gatherer) fiber.Handler {
	httpHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return func(c fiber.Ctx) error {
		httpHandler(c.RequestCtx())
		return nil
	}
}
