package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// AppendBatch stores entries keyed by their position in the in-memory log,
// starting at first. Rows already present are skipped.
func (r *AuditRepo) AppendBatch(ctx context.Context, first int, entries []model.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, e := range entries {
		batch.Queue(`
			INSERT INTO audit_events (position, claim_id, voter, amount, direction, ts)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (position) DO NOTHING`,
			int64(first+i), int64(e.ClaimID), e.Voter, e.Amount, string(e.Direction), e.Timestamp)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// Count returns the number of stored audit entries.
func (r *AuditRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n)
	return n, err
}
