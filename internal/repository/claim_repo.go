package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

type ClaimRepo struct {
	pool *pgxpool.Pool
}

func NewClaimRepo(pool *pgxpool.Pool) *ClaimRepo {
	return &ClaimRepo{pool: pool}
}

const claimColumns = `claim_id, content_ref, category, status, submitter, submitted_at,
	voting_ends_at, yes_stake_total, no_stake_total, updated_at`

func scanClaim(row pgx.Row) (model.Claim, error) {
	var (
		c                model.Claim
		id               int64
		category, status string
	)
	err := row.Scan(&id, &c.ContentRef, &category, &status, &c.Submitter, &c.SubmittedAt,
		&c.VotingEndsAt, &c.YesStakeTotal, &c.NoStakeTotal, &c.UpdatedAt)
	if err != nil {
		return model.Claim{}, err
	}
	c.ID = uint64(id)
	c.Category = model.Category(category)
	c.Status = model.Status(status)
	return c, nil
}

// UpsertBatch writes the given claim snapshots in one round trip. Older
// snapshots never overwrite newer rows.
func (r *ClaimRepo) UpsertBatch(ctx context.Context, claims []model.Claim) error {
	if len(claims) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range claims {
		batch.Queue(`
			INSERT INTO claims_view (`+claimColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (claim_id) DO UPDATE SET
				status          = EXCLUDED.status,
				voting_ends_at  = EXCLUDED.voting_ends_at,
				yes_stake_total = EXCLUDED.yes_stake_total,
				no_stake_total  = EXCLUDED.no_stake_total,
				updated_at      = EXCLUDED.updated_at
			WHERE claims_view.updated_at <= EXCLUDED.updated_at`,
			int64(c.ID), c.ContentRef, string(c.Category), string(c.Status), c.Submitter,
			c.SubmittedAt, c.VotingEndsAt, c.YesStakeTotal, c.NoStakeTotal, c.UpdatedAt)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// List returns one page of claims matching f and the total match count.
func (r *ClaimRepo) List(ctx context.Context, f model.ClaimFilter) ([]model.Claim, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Category != "" {
		args = append(args, string(f.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM claims_view`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := "submitted_at DESC, claim_id DESC"
	switch f.Sort {
	case model.SortOldest:
		order = "submitted_at ASC, claim_id ASC"
	case model.SortMostStake:
		order = "(yes_stake_total + no_stake_total) DESC, claim_id DESC"
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM claims_view%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		claimColumns, cond, order, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		claims = append(claims, c)
	}
	return claims, total, rows.Err()
}

// CountBySubmitter returns how many claims an address has submitted.
func (r *ClaimRepo) CountBySubmitter(ctx context.Context, address string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM claims_view WHERE submitter = $1`, address).Scan(&n)
	return n, err
}
