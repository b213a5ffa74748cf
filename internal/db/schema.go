package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema holds the read projection and the journal table. Statements are
// idempotent so Migrate can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS journal_ops (
		seq        BIGSERIAL PRIMARY KEY,
		op_id      UUID NOT NULL UNIQUE,
		kind       TEXT NOT NULL,
		at         TIMESTAMPTZ NOT NULL,
		actor      TEXT NOT NULL DEFAULT '',
		claim_id   BIGINT NOT NULL DEFAULT 0,
		market_id  BIGINT NOT NULL DEFAULT 0,
		payload    JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE TABLE IF NOT EXISTS claims_view (
		claim_id        BIGINT PRIMARY KEY,
		content_ref     TEXT NOT NULL,
		category        TEXT NOT NULL,
		status          TEXT NOT NULL,
		submitter       TEXT NOT NULL DEFAULT '',
		submitted_at    TIMESTAMPTZ NOT NULL,
		voting_ends_at  TIMESTAMPTZ NOT NULL,
		yes_stake_total BIGINT NOT NULL DEFAULT 0,
		no_stake_total  BIGINT NOT NULL DEFAULT 0,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_view_category ON claims_view (category)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_view_status ON claims_view (status)`,
	`CREATE INDEX IF NOT EXISTS idx_claims_view_submitter ON claims_view (submitter)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		address             TEXT PRIMARY KEY,
		reputation_balance  BIGINT NOT NULL,
		staked_amount       BIGINT NOT NULL DEFAULT 0,
		total_validations   BIGINT NOT NULL DEFAULT 0,
		correct_validations BIGINT NOT NULL DEFAULT 0,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS markets (
		market_id         BIGINT PRIMARY KEY,
		claim_id          BIGINT NOT NULL UNIQUE,
		yes_stake         DOUBLE PRECISION NOT NULL,
		no_stake          DOUBLE PRECISION NOT NULL,
		initial_liquidity DOUBLE PRECISION NOT NULL,
		volume            DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at        TIMESTAMPTZ NOT NULL,
		expires_at        TIMESTAMPTZ NOT NULL,
		resolved          BOOLEAN NOT NULL DEFAULT false,
		outcome           BOOLEAN,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id        BIGSERIAL PRIMARY KEY,
		position  BIGINT NOT NULL UNIQUE,
		claim_id  BIGINT NOT NULL,
		voter     TEXT NOT NULL,
		amount    BIGINT NOT NULL,
		direction TEXT NOT NULL,
		ts        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_voter ON audit_events (voter)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_claim ON audit_events (claim_id)`,
}

// Migrate creates the projection and journal tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
