// Package ledger records every state-changing protocol operation in an
// append-only journal. A mutation is only applied after its operation has
// been confirmed by a Submitter; the journal is replayed to rebuild state.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind names a journaled command.
type Kind string

const (
	KindOptIn        Kind = "account.opt_in"
	KindMint         Kind = "account.mint"
	KindSubmitClaim  Kind = "claim.submit"
	KindOpenRound    Kind = "round.open"
	KindCastVote     Kind = "round.vote"
	KindResolveRound Kind = "round.resolve"
	KindCancelRound  Kind = "round.cancel"
	KindUpdateParams Kind = "round.params"
	KindCreateMarket Kind = "market.create"
	KindPlaceBet     Kind = "market.bet"
	KindSettle       Kind = "market.settle"
	KindRedeem       Kind = "market.redeem"
)

// Operation is one journaled command. ID doubles as the idempotency key:
// submitting the same ID twice records it once.
type Operation struct {
	ID       uuid.UUID       `json:"id"`
	Seq      uint64          `json:"seq,omitempty"`
	Kind     Kind            `json:"kind"`
	At       time.Time       `json:"at"`
	Actor    string          `json:"actor,omitempty"`
	ClaimID  uint64          `json:"claimId,omitempty"`
	MarketID uint64          `json:"marketId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewOperation builds an operation with a fresh ID and the encoded payload.
func NewOperation(kind Kind, at time.Time, payload any) (Operation, error) {
	op := Operation{ID: uuid.New(), Kind: kind, At: at.UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Operation{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		op.Payload = b
	}
	return op, nil
}

// Decode unmarshals the payload into v.
func (op Operation) Decode(v any) error {
	if len(op.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(op.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", op.Kind, err)
	}
	return nil
}

// Receipt confirms a recorded operation.
type Receipt struct {
	Seq  uint64 `json:"seq"`
	TxID string `json:"txId"`
}

// Submitter durably records operations. Seq values are strictly increasing.
type Submitter interface {
	Submit(ctx context.Context, op Operation) (Receipt, error)
}

// Reader iterates recorded operations in sequence order starting after seq.
type Reader interface {
	Scan(ctx context.Context, after uint64, fn func(Operation) error) error
}

// Journal is a Submitter that can also be replayed.
type Journal interface {
	Submitter
	Reader
}

type discard struct{}

func (discard) Submit(_ context.Context, op Operation) (Receipt, error) {
	return Receipt{TxID: op.ID.String()}, nil
}

// Discard accepts every operation without recording it. Used while replaying.
var Discard Submitter = discard{}
