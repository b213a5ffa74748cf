// Package validation runs stake-weighted voting rounds on claims.
//
// Rounds live in an arena keyed by claim id. Each round has its own lock, so
// votes on different claims never contend; the arena lock is only held to
// look a round up or insert a new one.
package validation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/registry"
)

// Ledger is the reputation surface the pool stakes, rewards and slashes on.
type Ledger interface {
	Stake(address string, amount int64, claimID uint64) error
	ReleaseStake(address string, amount int64) error
	Reward(address string, amount int64) error
	Slash(address string, amount int64) (int64, error)
	RecordValidation(address string) error
	TotalSupply() int64
}

// Claims is the registry surface the pool drives.
type Claims interface {
	Get(id uint64) (model.Claim, error)
	Transition(id uint64, to model.Status, authorizedBy string) error
	SetStakeTotals(id uint64, yes, no int64) error
}

// AuditSink receives reward and slash records.
type AuditSink interface {
	Append(entries ...model.AuditEntry)
}

// Journal payloads.
type (
	OpenPayload struct {
		DurationSeconds int64        `json:"durationSeconds"`
		SupplyAtOpen    int64        `json:"supplyAtOpen"`
		Params          model.Params `json:"params"`
	}
	VotePayload struct {
		VoteType model.VoteType `json:"voteType"`
		Stake    int64          `json:"stake"`
	}
)

type round struct {
	mu sync.Mutex
	model.ValidationRound
	votes []model.Vote
	voted map[string]struct{}
}

// Pool owns every validation round.
type Pool struct {
	mu     sync.RWMutex
	rounds map[uint64]*round

	// openMu serializes round creation with its journal write.
	openMu sync.Mutex

	paramsMu sync.RWMutex
	params   model.Params

	ledger  Ledger
	claims  Claims
	audit   AuditSink
	journal ledger.Submitter
	now     func() time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// WithParams overrides the default protocol parameters.
func WithParams(params model.Params) Option {
	return func(p *Pool) { p.params = params }
}

func NewPool(l Ledger, claims Claims, audit AuditSink, journal ledger.Submitter, opts ...Option) *Pool {
	p := &Pool{
		rounds:  make(map[uint64]*round),
		params:  model.DefaultParams(),
		ledger:  l,
		claims:  claims,
		audit:   audit,
		journal: journal,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pool) lookup(claimID uint64) (*round, error) {
	p.mu.RLock()
	r, ok := p.rounds[claimID]
	p.mu.RUnlock()
	if !ok {
		return nil, model.ErrRoundNotFound.With("no validation round for claim %d", claimID)
	}
	return r, nil
}

// Params returns the parameters applied to newly opened rounds.
func (p *Pool) Params() model.Params {
	p.paramsMu.RLock()
	defer p.paramsMu.RUnlock()
	return p.params
}

// UpdateParams replaces the parameters for future rounds. Open rounds keep
// the values they were opened with.
func (p *Pool) UpdateParams(ctx context.Context, params model.Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	op, err := ledger.NewOperation(ledger.KindUpdateParams, p.now(), params)
	if err != nil {
		return err
	}

	p.paramsMu.Lock()
	defer p.paramsMu.Unlock()
	if _, err := ledger.Submit(ctx, p.journal, op); err != nil {
		return err
	}
	p.params = params
	return nil
}

// OpenRound starts voting on a PENDING or VALIDATING claim. The total supply
// and parameters are snapshotted before the round is journaled and the
// snapshot is recorded with it.
func (p *Pool) OpenRound(ctx context.Context, claimID uint64, duration time.Duration) (model.ValidationRound, error) {
	return p.open(ctx, claimID, duration, nil)
}

// RestoreRound reopens a journaled round with the supply and parameters it
// was recorded with instead of the current ones.
func (p *Pool) RestoreRound(ctx context.Context, claimID uint64, rec OpenPayload) (model.ValidationRound, error) {
	return p.open(ctx, claimID, time.Duration(rec.DurationSeconds)*time.Second, &rec)
}

func (p *Pool) open(ctx context.Context, claimID uint64, duration time.Duration, rec *OpenPayload) (model.ValidationRound, error) {
	if duration <= 0 {
		return model.ValidationRound{}, model.ErrInvalidDuration.With("round duration must be positive")
	}

	p.openMu.Lock()
	defer p.openMu.Unlock()

	claim, err := p.claims.Get(claimID)
	if err != nil {
		return model.ValidationRound{}, err
	}
	if existing, err := p.lookup(claimID); err == nil {
		existing.mu.Lock()
		resolved := existing.Resolved
		existing.mu.Unlock()
		if !resolved {
			return model.ValidationRound{}, model.ErrAlreadyOpen.With("claim %d already has an open round", claimID)
		}
	}
	if claim.Status != model.StatusPending && claim.Status != model.StatusValidating {
		return model.ValidationRound{}, model.ErrClaimNotVotable.With("claim %d is %s", claimID, claim.Status)
	}

	snap := OpenPayload{
		DurationSeconds: int64(duration / time.Second),
		SupplyAtOpen:    p.ledger.TotalSupply(),
		Params:          p.Params(),
	}
	if rec != nil {
		snap.SupplyAtOpen = rec.SupplyAtOpen
		snap.Params = rec.Params
	}

	now := p.now()
	op, err := ledger.NewOperation(ledger.KindOpenRound, now, snap)
	if err != nil {
		return model.ValidationRound{}, err
	}
	op.ClaimID = claimID
	if _, err := ledger.Submit(ctx, p.journal, op); err != nil {
		return model.ValidationRound{}, err
	}

	if claim.Status == model.StatusPending {
		if err := p.claims.Transition(claimID, model.StatusValidating, registry.AuthorityValidation); err != nil {
			return model.ValidationRound{}, err
		}
	}

	r := &round{
		ValidationRound: model.ValidationRound{
			ClaimID:      claimID,
			StartTime:    now,
			EndTime:      now.Add(duration),
			FinalVerdict: model.VerdictUndecided,
			SupplyAtOpen: snap.SupplyAtOpen,
			Params:       snap.Params,
		},
		voted: make(map[string]struct{}),
	}
	p.mu.Lock()
	p.rounds[claimID] = r
	p.mu.Unlock()
	return r.ValidationRound, nil
}

// CastVote stakes on one side of an open round. The uniqueness check, the
// stake and the round totals update form one unit under the round lock.
func (p *Pool) CastVote(ctx context.Context, claimID uint64, voter string, voteType model.VoteType, stake int64) (model.Vote, error) {
	if _, ok := model.ParseVoteType(string(voteType)); !ok {
		return model.Vote{}, model.ErrInvalidVoteType.With("invalid vote type %q", voteType)
	}
	r, err := p.lookup(claimID)
	if err != nil {
		return model.Vote{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := p.now()
	if !r.Open(now) {
		return model.Vote{}, model.ErrRoundClosed.With("round for claim %d is closed", claimID)
	}
	if _, dup := r.voted[voter]; dup {
		return model.Vote{}, model.ErrAlreadyVoted.With("%s already voted on claim %d", voter, claimID)
	}
	if stake < r.Params.MinStake {
		return model.Vote{}, model.ErrStakeBelowMinimum.With("stake %d below minimum %d", stake, r.Params.MinStake)
	}
	if r.Params.MaxStake > 0 && stake > r.Params.MaxStake {
		return model.Vote{}, model.ErrStakeAboveMaximum.With("stake %d above maximum %d", stake, r.Params.MaxStake)
	}
	if err := p.ledger.Stake(voter, stake, claimID); err != nil {
		return model.Vote{}, err
	}

	op, err := ledger.NewOperation(ledger.KindCastVote, now, VotePayload{VoteType: voteType, Stake: stake})
	if err == nil {
		op.ClaimID = claimID
		op.Actor = voter
		_, err = ledger.Submit(ctx, p.journal, op)
	}
	if err != nil {
		if relErr := p.ledger.ReleaseStake(voter, stake); relErr != nil {
			return model.Vote{}, errors.Join(err, relErr)
		}
		return model.Vote{}, err
	}

	v := model.Vote{ClaimID: claimID, Voter: voter, VoteType: voteType, StakeAmount: stake, Timestamp: now}
	r.votes = append(r.votes, v)
	r.voted[voter] = struct{}{}
	switch voteType {
	case model.VoteVerify:
		r.VerifyStake += stake
	case model.VoteDispute:
		r.DisputeStake += stake
	case model.VoteAbstain:
		r.AbstainStake += stake
	}
	r.VoterCount++

	if err := p.claims.SetStakeTotals(claimID, r.VerifyStake, r.DisputeStake); err != nil {
		return v, err
	}
	return v, nil
}

// Round returns a snapshot of the claim's round.
func (p *Pool) Round(claimID uint64) (model.ValidationRound, error) {
	r, err := p.lookup(claimID)
	if err != nil {
		return model.ValidationRound{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ValidationRound, nil
}

// Votes returns the round's votes in the order they were cast.
func (p *Pool) Votes(claimID uint64) ([]model.Vote, error) {
	r, err := p.lookup(claimID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Vote, len(r.votes))
	copy(out, r.votes)
	return out, nil
}

// HasVoted reports whether voter has a vote on claimID.
func (p *Pool) HasVoted(claimID uint64, voter string) bool {
	r, err := p.lookup(claimID)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.voted[voter]
	return ok
}

// VotesBy returns every vote cast by voter across rounds.
func (p *Pool) VotesBy(voter string) []model.Vote {
	var out []model.Vote
	for _, r := range p.all() {
		r.mu.Lock()
		if _, ok := r.voted[voter]; ok {
			for _, v := range r.votes {
				if v.Voter == voter {
					out = append(out, v)
				}
			}
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimID < out[j].ClaimID })
	return out
}

func (p *Pool) all() []*round {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*round, 0, len(p.rounds))
	for _, r := range p.rounds {
		out = append(out, r)
	}
	return out
}

// OpenRounds returns unresolved rounds still accepting votes at now, ending
// soonest first.
func (p *Pool) OpenRounds(now time.Time) []model.ValidationRound {
	var out []model.ValidationRound
	for _, r := range p.all() {
		r.mu.Lock()
		if r.Open(now) {
			out = append(out, r.ValidationRound)
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EndTime.Equal(out[j].EndTime) {
			return out[i].EndTime.Before(out[j].EndTime)
		}
		return out[i].ClaimID < out[j].ClaimID
	})
	return out
}

// DueRounds returns claim ids whose rounds ended and await resolution.
func (p *Pool) DueRounds(now time.Time) []uint64 {
	var out []uint64
	for _, r := range p.all() {
		r.mu.Lock()
		if !r.Resolved && !now.Before(r.EndTime) {
			out = append(out, r.ClaimID)
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
