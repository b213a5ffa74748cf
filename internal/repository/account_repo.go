package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

// UpsertBatch writes the given account snapshots in one round trip.
func (r *AccountRepo) UpsertBatch(ctx context.Context, accounts []model.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range accounts {
		batch.Queue(`
			INSERT INTO accounts (address, reputation_balance, staked_amount, total_validations,
			                      correct_validations, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (address) DO UPDATE SET
				reputation_balance  = EXCLUDED.reputation_balance,
				staked_amount       = EXCLUDED.staked_amount,
				total_validations   = EXCLUDED.total_validations,
				correct_validations = EXCLUDED.correct_validations,
				updated_at          = NOW()`,
			a.Address, a.ReputationBalance, a.StakedAmount, a.TotalValidations,
			a.CorrectValidations, a.CreatedAt)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}
