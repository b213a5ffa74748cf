package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/market"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/registry"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/reputation"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/validation"
)

// ReplayStats summarizes a journal replay.
type ReplayStats struct {
	Applied  int           `json:"applied"`
	Diverged int           `json:"diverged"`
	LastSeq  uint64        `json:"lastSeq"`
	Duration time.Duration `json:"duration"`
}

// errDiverged marks an operation whose re-execution produced a different
// result than when it was recorded.
var errDiverged = errors.New("replay diverged")

// Replay rebuilds state by re-executing every journaled operation at its
// recorded time. Nothing is re-recorded and no events are published. An
// operation rejected by the current rules is logged and counted, not fatal.
// Rounds reopen with the supply and parameters recorded when they opened.
func (p *Protocol) Replay(ctx context.Context, reader ledger.Reader) (ReplayStats, error) {
	start := time.Now()
	var stats ReplayStats

	p.journal.setReplaying(true)
	defer func() {
		p.clock.unpin()
		p.journal.setReplaying(false)
	}()

	err := reader.Scan(ctx, 0, func(op ledger.Operation) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.clock.pin(op.At)
		stats.LastSeq = op.Seq

		err := p.apply(ctx, op)
		switch {
		case err == nil:
			stats.Applied++
		case errors.Is(err, errDiverged) || model.KindOf(err) != model.KindInternal:
			stats.Diverged++
			p.log.Warn().Err(err).
				Uint64("seq", op.Seq).
				Str("kind", string(op.Kind)).
				Str("op_id", op.ID.String()).
				Msg("replay: operation diverged")
		default:
			return fmt.Errorf("replay op %d (%s): %w", op.Seq, op.Kind, err)
		}
		return nil
	})
	stats.Duration = time.Since(start)
	if err != nil {
		return stats, err
	}

	p.markAll()
	p.log.Info().
		Int("applied", stats.Applied).
		Int("diverged", stats.Diverged).
		Uint64("last_seq", stats.LastSeq).
		Dur("duration", stats.Duration).
		Msg("journal replayed")
	return stats, nil
}

func (p *Protocol) apply(ctx context.Context, op ledger.Operation) error {
	switch op.Kind {
	case ledger.KindOptIn:
		var pl reputation.OptInPayload
		if err := op.Decode(&pl); err != nil {
			return err
		}
		if pl.Grant != p.settings.InitialGrant {
			return fmt.Errorf("%w: opt-in grant %d recorded, %d configured", errDiverged, pl.Grant, p.settings.InitialGrant)
		}
		_, err := p.Accounts.OptIn(ctx, op.Actor)
		return err

	case ledger.KindMint:
		var pl reputation.MintPayload
		if err := op.Decode(&pl); err != nil {
			return err
		}
		_, err := p.Accounts.Mint(ctx, op.Actor, pl.Amount)
		return err

	case ledger.KindSubmitClaim:
		var pl registry.SubmitPayload
		if err := op.Decode(&pl); err != nil {
			return err
		}
		id, err := p.Claims.Submit(ctx, pl.ContentRef, pl.Category, op.Actor)
		if err != nil {
			return err
		}
		if id != op.ClaimID {
			return fmt.Errorf("%w: claim recorded as %d, replayed as %d", errDiverged, op.ClaimID, id)
		}
		return nil

	case ledger.KindOpenRound:
		var pl validation.OpenPayload
		if err := op.Decode(&pl); err != nil {
			return err
		}
		supply, params := p.Accounts.TotalSupply(), p.Pool.Params()
		if _, err := p.Pool.RestoreRound(ctx, op.ClaimID, pl); err != nil {
			return err
		}
		if supply != pl.SupplyAtOpen {
			return fmt.Errorf("%w: round %d opened with supply %d recorded, %d at replay", errDiverged, op.ClaimID, pl.SupplyAtOpen, supply)
		}
		if params != pl.Params {
			return fmt.Errorf("%w: round %d opened with params %+v recorded, %+v at replay", errDiverged, op.ClaimID, pl.Params, params)
		}
		return nil

	case ledger.KindCastVote:
		var pl validation.VotePayload
		if err := op.Decode(&pl); err != nil {
			return err
		}
		_, err := p.Pool.CastVote(ctx, op.ClaimID, op.Actor, pl.VoteType, pl.Stake)
		return err

	case ledger.KindResolveRound:
		_, err := p.Pool.Resolve(ctx, op.ClaimID)
		return err

	case ledger.KindCancelRound:
		_, err := p.Pool.Cancel(ctx, op.ClaimID)
		return err

	case ledger.KindUpdateParams:
		var params model.Params
		if err := op.Decode(&params); err != nil {
			return err
		}
		return p.Pool.UpdateParams(ctx, params)

	case ledger.KindCreateMarket:
		var pl market.CreatePayload
		if err := op.Decode(&pl); err != nil {
			return err
		}
		id, err := p.Markets.CreateMarket(ctx, op.ClaimID, pl.InitialLiquidity, pl.DurationHours)
		if err != nil {
			return err
		}
		if id != op.MarketID {
			return fmt.Errorf("%w: market recorded as %d, replayed as %d", errDiverged, op.MarketID, id)
		}
		return nil

	case ledger.KindPlaceBet:
		var pl market.BetPayload
		if err := op.Decode(&pl); err != nil {
			return err
		}
		_, err := p.Markets.PlaceBet(ctx, op.MarketID, op.Actor, pl.Side, pl.Amount)
		return err

	case ledger.KindSettle:
		var pl market.SettlePayload
		if err := op.Decode(&pl); err != nil {
			return err
		}
		return p.Markets.Settle(ctx, op.MarketID, pl.Outcome)

	case ledger.KindRedeem:
		_, err := p.Markets.Redeem(ctx, op.MarketID, op.Actor)
		return err
	}
	return fmt.Errorf("%w: unknown operation kind %q", errDiverged, op.Kind)
}

func (p *Protocol) markAll() {
	for _, a := range p.Accounts.Accounts() {
		p.changes.MarkAccount(a.Address)
	}
	claims, _ := p.Claims.List(model.ClaimFilter{})
	for _, c := range claims {
		p.changes.MarkClaim(c.ID)
	}
	for _, m := range p.Markets.List("") {
		p.changes.MarkMarket(m.ID)
	}
	p.changes.MarkAudit()
}
