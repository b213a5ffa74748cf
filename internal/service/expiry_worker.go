package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// ExpiryWorker is a periodic background job that resolves rounds whose
// voting window has ended and settles markets whose claim has become final.
type ExpiryWorker struct {
	protocol *Protocol
	interval time.Duration
	stopCh   chan struct{}
	log      zerolog.Logger
}

// TickResult counts what one tick did.
type TickResult struct {
	Resolved int
	Settled  int
	Failed   int
}

// NewExpiryWorker creates a worker that ticks every interval.
func NewExpiryWorker(p *Protocol, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExpiryWorker{
		protocol: p,
		interval: interval,
		stopCh:   make(chan struct{}),
		log:      log.With().Str("component", "expiry-worker").Logger(),
	}
}

// Start runs one tick immediately, then every interval.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("starting")

	w.Tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Tick(ctx)
		case <-ctx.Done():
			w.log.Info().Msg("stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.log.Info().Msg("stopping (stop signal)")
			return
		}
	}
}

// Stop signals the worker to stop.
func (w *ExpiryWorker) Stop() {
	close(w.stopCh)
}

// Tick resolves every due round, then settles every settleable market.
// Rounds resolve first so a market on a just-resolved claim settles in the
// same tick.
func (w *ExpiryWorker) Tick(ctx context.Context) TickResult {
	start := time.Now()
	var res TickResult

	for _, claimID := range w.protocol.Pool.DueRounds(w.protocol.Now()) {
		if ctx.Err() != nil {
			return res
		}
		r, err := w.protocol.Resolve(ctx, claimID)
		switch {
		case err == nil:
			res.Resolved++
			w.log.Info().
				Uint64("claim_id", claimID).
				Str("verdict", string(r.Verdict)).
				Str("claim_status", string(r.ClaimStatus)).
				Msg("round resolved")
		case errors.Is(err, model.ErrAlreadyResolved), errors.Is(err, model.ErrTooEarly):
			// Raced with a manual resolve.
		default:
			res.Failed++
			w.log.Error().Err(err).Uint64("claim_id", claimID).Msg("resolve failed")
		}
	}

	settleable := w.protocol.Markets.Settleable()
	ids := make([]uint64, 0, len(settleable))
	for id := range settleable {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if ctx.Err() != nil {
			return res
		}
		if _, err := w.protocol.Settle(ctx, id, settleable[id]); err != nil {
			if errors.Is(err, model.ErrAlreadySettled) {
				continue
			}
			res.Failed++
			w.log.Error().Err(err).Uint64("market_id", id).Msg("settle failed")
			continue
		}
		res.Settled++
	}

	if res.Resolved+res.Settled+res.Failed > 0 {
		w.log.Info().
			Int("resolved", res.Resolved).
			Int("settled", res.Settled).
			Int("failed", res.Failed).
			Dur("duration", time.Since(start)).
			Msg("tick complete")
	}
	return res
}
