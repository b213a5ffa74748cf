package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

type MarketRepo struct {
	pool *pgxpool.Pool
}

func NewMarketRepo(pool *pgxpool.Pool) *MarketRepo {
	return &MarketRepo{pool: pool}
}

// UpsertBatch writes the given market snapshots in one round trip.
func (r *MarketRepo) UpsertBatch(ctx context.Context, markets []model.PredictionMarket) error {
	if len(markets) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(`
			INSERT INTO markets (market_id, claim_id, yes_stake, no_stake, initial_liquidity,
			                     volume, created_at, expires_at, resolved, outcome, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
			ON CONFLICT (market_id) DO UPDATE SET
				yes_stake  = EXCLUDED.yes_stake,
				no_stake   = EXCLUDED.no_stake,
				volume     = EXCLUDED.volume,
				resolved   = EXCLUDED.resolved,
				outcome    = EXCLUDED.outcome,
				updated_at = NOW()`,
			int64(m.ID), int64(m.ClaimID), m.YesStake, m.NoStake, m.InitialLiquidity,
			m.Volume, m.CreatedAt, m.ExpiresAt, m.Resolved, m.Outcome)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}
