package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ProjectionStats aggregates the projection tables.
type ProjectionStats struct {
	Claims         int            `json:"claims"`
	Accounts       int            `json:"accounts"`
	Markets        int            `json:"markets"`
	AuditEntries   int            `json:"auditEntries"`
	JournalOps     int            `json:"journalOps"`
	MarketVolume   float64        `json:"marketVolume"`
	ClaimsByStatus map[string]int `json:"claimsByStatus"`
}

type StatsRepo struct {
	pool *pgxpool.Pool
}

func NewStatsRepo(pool *pgxpool.Pool) *StatsRepo {
	return &StatsRepo{pool: pool}
}

// GetStats returns aggregate statistics from all tables.
func (r *StatsRepo) GetStats(ctx context.Context) (*ProjectionStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM claims_view) AS claims,
			(SELECT COUNT(*) FROM accounts) AS accounts,
			(SELECT COUNT(*) FROM markets) AS markets,
			(SELECT COUNT(*) FROM audit_events) AS audit_entries,
			(SELECT COUNT(*) FROM journal_ops) AS journal_ops,
			(SELECT COALESCE(SUM(volume), 0) FROM markets) AS market_volume`

	var stats ProjectionStats
	err := r.pool.QueryRow(ctx, query).Scan(
		&stats.Claims, &stats.Accounts, &stats.Markets, &stats.AuditEntries, &stats.JournalOps,
		&stats.MarketVolume,
	)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM claims_view GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats.ClaimsByStatus = make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ClaimsByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &stats, nil
}
