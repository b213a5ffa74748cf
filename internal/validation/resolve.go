package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/registry"
)

// effect is one voter's settlement in a resolution plan.
type effect struct {
	vote      model.Vote
	counted   bool // increments TotalValidations
	direction model.AuditDirection
	amount    int64 // reward, or requested slash
}

// plan is the full outcome of resolving a round, computed before anything
// is journaled or applied.
type plan struct {
	res     model.Resolution
	effects []effect
}

// quorumMet reports whether enough validators and enough stake took part.
// Stake is compared against QuorumPercent of the supply at round open.
func quorumMet(r model.ValidationRound) bool {
	if r.VoterCount < r.Params.MinValidators {
		return false
	}
	return r.ParticipatingStake()*100 >= r.Params.QuorumPercent*r.SupplyAtOpen
}

func computePlan(r model.ValidationRound, votes []model.Vote) plan {
	pl := plan{res: model.Resolution{
		ClaimID:     r.ClaimID,
		Verdict:     model.VerdictUndecided,
		ClaimStatus: model.StatusDisputed,
	}}
	releaseAll := func() {
		for _, v := range votes {
			pl.effects = append(pl.effects, effect{vote: v})
		}
	}

	if !quorumMet(r) {
		releaseAll()
		return pl
	}
	pl.res.QuorumMet = true

	decisive := r.VerifyStake + r.DisputeStake
	if decisive == 0 {
		releaseAll()
		return pl
	}

	winning, winStake := model.VoteVerify, r.VerifyStake
	if r.DisputeStake > r.VerifyStake {
		winning, winStake = model.VoteDispute, r.DisputeStake
	}
	pl.res.WinningSide = winning
	pl.res.WinningRatio = float64(winStake) / float64(decisive)

	if winStake*100 < r.Params.ConsensusThreshold*decisive {
		releaseAll()
		return pl
	}

	pl.res.ConsensusReached = true
	if winning == model.VoteVerify {
		pl.res.Verdict = model.VerdictVerified
		pl.res.ClaimStatus = model.StatusVerified
	} else {
		pl.res.Verdict = model.VerdictDisputed
		pl.res.ClaimStatus = model.StatusDebunked
	}

	for _, v := range votes {
		e := effect{vote: v, counted: true}
		switch {
		case v.VoteType == model.VoteAbstain:
			e.direction = model.DirectionNeutral
		case v.VoteType == winning:
			e.direction = model.DirectionReward
			e.amount = r.Params.RewardAmount
		default:
			e.direction = model.DirectionSlash
			e.amount = v.StakeAmount * r.Params.SlashPercent / 100
		}
		pl.effects = append(pl.effects, e)
	}
	return pl
}

// Resolve settles a round whose voting window has ended. The whole outcome is
// journaled as one operation and applied under the round lock, so a failed
// submission leaves nothing applied and a second call fails with
// ErrAlreadyResolved.
func (p *Pool) Resolve(ctx context.Context, claimID uint64) (model.Resolution, error) {
	r, err := p.lookup(claimID)
	if err != nil {
		return model.Resolution{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Resolved {
		return model.Resolution{}, model.ErrAlreadyResolved.With("round for claim %d already resolved", claimID)
	}
	now := p.now()
	if now.Before(r.EndTime) {
		return model.Resolution{}, model.ErrTooEarly.With("round for claim %d ends at %s", claimID, r.EndTime.Format(time.RFC3339))
	}

	pl := computePlan(r.ValidationRound, r.votes)

	op, err := ledger.NewOperation(ledger.KindResolveRound, now, nil)
	if err != nil {
		return model.Resolution{}, err
	}
	op.ClaimID = claimID
	if _, err := ledger.Submit(ctx, p.journal, op); err != nil {
		return model.Resolution{}, err
	}

	applyErr := p.apply(r, &pl, now)
	r.ConsensusReached = pl.res.ConsensusReached
	r.FinalVerdict = pl.res.Verdict
	r.Resolved = true
	return pl.res, applyErr
}

// apply performs a journaled plan. Release precedes slash for each voter so
// a slash never exceeds the stake it was computed from.
func (p *Pool) apply(r *round, pl *plan, now time.Time) error {
	var errs []error
	for _, e := range pl.effects {
		v := e.vote
		if err := p.ledger.ReleaseStake(v.Voter, v.StakeAmount); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", v.Voter, err))
		}
		if !e.counted {
			continue
		}
		if err := p.ledger.RecordValidation(v.Voter); err != nil {
			errs = append(errs, fmt.Errorf("record validation %s: %w", v.Voter, err))
		}
		entry := model.AuditEntry{ClaimID: r.ClaimID, Voter: v.Voter, Direction: e.direction, Timestamp: now}
		switch e.direction {
		case model.DirectionReward:
			if err := p.ledger.Reward(v.Voter, e.amount); err != nil {
				errs = append(errs, fmt.Errorf("reward %s: %w", v.Voter, err))
			}
			entry.Amount = e.amount
		case model.DirectionSlash:
			taken, err := p.ledger.Slash(v.Voter, e.amount)
			if err != nil {
				errs = append(errs, fmt.Errorf("slash %s: %w", v.Voter, err))
			}
			entry.Amount = taken
		}
		pl.res.Audit = append(pl.res.Audit, entry)
	}

	if err := p.claims.Transition(r.ClaimID, pl.res.ClaimStatus, registry.AuthorityValidation); err != nil {
		errs = append(errs, err)
	}
	if p.audit != nil {
		p.audit.Append(pl.res.Audit...)
	}
	return errors.Join(errs...)
}

// Cancel ends an unresolved round without a verdict: every stake is returned,
// no validation is counted and the claim is marked DISPUTED.
func (p *Pool) Cancel(ctx context.Context, claimID uint64) (model.Resolution, error) {
	r, err := p.lookup(claimID)
	if err != nil {
		return model.Resolution{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Resolved {
		return model.Resolution{}, model.ErrAlreadyResolved.With("round for claim %d already resolved", claimID)
	}

	now := p.now()
	op, err := ledger.NewOperation(ledger.KindCancelRound, now, nil)
	if err != nil {
		return model.Resolution{}, err
	}
	op.ClaimID = claimID
	if _, err := ledger.Submit(ctx, p.journal, op); err != nil {
		return model.Resolution{}, err
	}

	pl := plan{res: model.Resolution{
		ClaimID:     claimID,
		Verdict:     model.VerdictUndecided,
		ClaimStatus: model.StatusDisputed,
	}}
	for _, v := range r.votes {
		pl.effects = append(pl.effects, effect{vote: v})
	}
	applyErr := p.apply(r, &pl, now)
	r.Cancelled = true
	r.Resolved = true
	r.FinalVerdict = model.VerdictUndecided
	return pl.res, applyErr
}
