package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// Projection groups the repos the projection worker writes to.
type Projection struct {
	Claims   *ClaimRepo
	Accounts *AccountRepo
	Markets  *MarketRepo
	Audit    *AuditRepo
}

func NewProjection(pool *pgxpool.Pool) *Projection {
	return &Projection{
		Claims:   NewClaimRepo(pool),
		Accounts: NewAccountRepo(pool),
		Markets:  NewMarketRepo(pool),
		Audit:    NewAuditRepo(pool),
	}
}

func (p *Projection) UpsertClaims(ctx context.Context, claims []model.Claim) error {
	return p.Claims.UpsertBatch(ctx, claims)
}

func (p *Projection) UpsertAccounts(ctx context.Context, accounts []model.Account) error {
	return p.Accounts.UpsertBatch(ctx, accounts)
}

func (p *Projection) UpsertMarkets(ctx context.Context, markets []model.PredictionMarket) error {
	return p.Markets.UpsertBatch(ctx, markets)
}

func (p *Projection) AppendAudit(ctx context.Context, first int, entries []model.AuditEntry) error {
	return p.Audit.AppendBatch(ctx, first, entries)
}

// AuditCount is where the audit cursor resumes after a restart.
func (p *Projection) AuditCount(ctx context.Context) (int, error) {
	return p.Audit.Count(ctx)
}
