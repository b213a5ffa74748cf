package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresJournal records operations in the journal_ops table. op_id is
// unique, so a retried submission returns the original sequence.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

func (j *PostgresJournal) Submit(ctx context.Context, op Operation) (Receipt, error) {
	payload := op.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	var seq int64
	err := j.pool.QueryRow(ctx, `
		INSERT INTO journal_ops (op_id, kind, at, actor, claim_id, market_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (op_id) DO NOTHING
		RETURNING seq`,
		op.ID, string(op.Kind), op.At, op.Actor, int64(op.ClaimID), int64(op.MarketID), payload,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		err = j.pool.QueryRow(ctx, `SELECT seq FROM journal_ops WHERE op_id = $1`, op.ID).Scan(&seq)
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("insert journal op %s: %w", op.ID, err)
	}
	return Receipt{Seq: uint64(seq), TxID: op.ID.String()}, nil
}

func (j *PostgresJournal) Scan(ctx context.Context, after uint64, fn func(Operation) error) error {
	rows, err := j.pool.Query(ctx, `
		SELECT seq, op_id, kind, at, actor, claim_id, market_id, payload
		FROM journal_ops
		WHERE seq > $1
		ORDER BY seq`, int64(after))
	if err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			op                     Operation
			seq, claimID, marketID int64
			kind                   string
		)
		if err := rows.Scan(&seq, &op.ID, &kind, &op.At, &op.Actor, &claimID, &marketID, &op.Payload); err != nil {
			return fmt.Errorf("scan journal row: %w", err)
		}
		op.Seq = uint64(seq)
		op.Kind = Kind(kind)
		op.ClaimID = uint64(claimID)
		op.MarketID = uint64(marketID)
		op.At = op.At.UTC()
		if err := fn(op); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Ping checks the table is reachable.
func (j *PostgresJournal) Ping(ctx context.Context) error {
	return j.pool.Ping(ctx)
}
