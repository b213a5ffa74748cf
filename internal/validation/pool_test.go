package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/registry"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/reputation"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// switchable fails submissions while failing is set.
type switchable struct {
	failing atomic.Bool
	next    *ledger.MemoryJournal
}

func (s *switchable) Submit(ctx context.Context, op ledger.Operation) (ledger.Receipt, error) {
	if s.failing.Load() {
		return ledger.Receipt{}, errors.New("ledger node unreachable")
	}
	return s.next.Submit(ctx, op)
}

type fixture struct {
	clock   *clock
	journal *switchable
	ledger  *reputation.Ledger
	reg     *registry.Registry
	audit   *reputation.AuditLog
	pool    *Pool
}

// scenarioParams lowers quorum and minimum stake so the three-voter
// scenarios with 100-unit grants are decisive.
func scenarioParams() model.Params {
	p := model.DefaultParams()
	p.MinStake = 5
	p.QuorumPercent = 5
	return p
}

func newFixture(t *testing.T, params model.Params, voters ...string) *fixture {
	t.Helper()
	f := &fixture{
		clock:   &clock{t: time.Unix(1700000000, 0).UTC()},
		journal: &switchable{next: ledger.NewMemoryJournal()},
		audit:   reputation.NewAuditLog(),
	}
	f.ledger = reputation.NewLedger(f.journal, reputation.WithClock(f.clock.Now))
	f.reg = registry.New(f.journal, registry.WithClock(f.clock.Now))
	f.pool = NewPool(f.ledger, f.reg, f.audit, f.journal, WithClock(f.clock.Now), WithParams(params))

	ctx := context.Background()
	for _, v := range voters {
		_, err := f.ledger.OptIn(ctx, v)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) openClaim(t *testing.T) uint64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.reg.Submit(ctx, "bafy-claim", model.CategoryTechnology, "submitter")
	require.NoError(t, err)
	_, err = f.pool.OpenRound(ctx, id, time.Hour)
	require.NoError(t, err)
	return id
}

func (f *fixture) account(t *testing.T, addr string) model.Account {
	t.Helper()
	a, err := f.ledger.Get(addr)
	require.NoError(t, err)
	return a
}

func TestOpenRound(t *testing.T) {
	f := newFixture(t, scenarioParams(), "a", "b")
	ctx := context.Background()
	id := f.openClaim(t)

	c, _ := f.reg.Get(id)
	assert.Equal(t, model.StatusValidating, c.Status)

	r, err := f.pool.Round(id)
	require.NoError(t, err)
	assert.Equal(t, int64(200), r.SupplyAtOpen)
	assert.Equal(t, f.clock.Now().Add(time.Hour), r.EndTime)
	assert.Equal(t, model.VerdictUndecided, r.FinalVerdict)

	_, err = f.pool.OpenRound(ctx, id, time.Hour)
	assert.ErrorIs(t, err, model.ErrAlreadyOpen)

	_, err = f.pool.OpenRound(ctx, 99, time.Hour)
	assert.ErrorIs(t, err, model.ErrClaimNotFound)
}

func TestOpenRound_TerminalClaimRejected(t *testing.T) {
	f := newFixture(t, scenarioParams())
	ctx := context.Background()
	id := f.openClaim(t)
	f.clock.Advance(time.Hour)
	_, err := f.pool.Resolve(ctx, id)
	require.NoError(t, err)

	_, err = f.pool.OpenRound(ctx, id, time.Hour)
	assert.ErrorIs(t, err, model.ErrClaimNotVotable)
}

func TestCastVote_Errors(t *testing.T) {
	f := newFixture(t, scenarioParams(), "a", "b")
	ctx := context.Background()
	id := f.openClaim(t)

	_, err := f.pool.CastVote(ctx, 99, "a", model.VoteVerify, 10)
	assert.ErrorIs(t, err, model.ErrRoundNotFound)

	_, err = f.pool.CastVote(ctx, id, "a", model.VoteType("MAYBE"), 10)
	assert.ErrorIs(t, err, model.ErrInvalidVoteType)

	_, err = f.pool.CastVote(ctx, id, "a", model.VoteVerify, 4)
	assert.ErrorIs(t, err, model.ErrStakeBelowMinimum)
	assert.Equal(t, model.KindInsufficientResource, model.KindOf(err))

	_, err = f.pool.CastVote(ctx, id, "nobody", model.VoteVerify, 10)
	assert.ErrorIs(t, err, model.ErrNotOptedIn, "ledger failures propagate unchanged")

	_, err = f.pool.CastVote(ctx, id, "a", model.VoteVerify, 101)
	assert.ErrorIs(t, err, model.ErrStakeAboveMaximum)

	f.clock.Advance(time.Hour)
	_, err = f.pool.CastVote(ctx, id, "b", model.VoteVerify, 10)
	assert.ErrorIs(t, err, model.ErrRoundClosed)

	r, _ := f.pool.Round(id)
	assert.Zero(t, r.VoterCount)
	assert.Zero(t, r.ParticipatingStake())
}

func TestCastVote_InsufficientBalance(t *testing.T) {
	params := scenarioParams()
	params.MaxStake = 0
	f := newFixture(t, params, "a")
	id := f.openClaim(t)

	_, err := f.pool.CastVote(context.Background(), id, "a", model.VoteVerify, 150)
	assert.ErrorIs(t, err, model.ErrInsufficientAvailableBalance)
	assert.Equal(t, int64(0), f.account(t, "a").StakedAmount)
}

// Scenario A: 10 VERIFY, 10 VERIFY, 5 DISPUTE with a 60% threshold verifies
// the claim, rewards both verifiers and slashes the disputer.
func TestResolve_ConsensusVerified(t *testing.T) {
	f := newFixture(t, scenarioParams(), "v1", "v2", "d1")
	ctx := context.Background()
	id := f.openClaim(t)

	for _, v := range []struct {
		voter string
		typ   model.VoteType
		stake int64
	}{{"v1", model.VoteVerify, 10}, {"v2", model.VoteVerify, 10}, {"d1", model.VoteDispute, 5}} {
		_, err := f.pool.CastVote(ctx, id, v.voter, v.typ, v.stake)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10), f.account(t, "v1").StakedAmount)

	f.clock.Advance(time.Hour)
	res, err := f.pool.Resolve(ctx, id)
	require.NoError(t, err)

	assert.True(t, res.QuorumMet)
	assert.True(t, res.ConsensusReached)
	assert.Equal(t, model.VerdictVerified, res.Verdict)
	assert.Equal(t, model.VoteVerify, res.WinningSide)
	assert.InDelta(t, 0.8, res.WinningRatio, 1e-9)

	c, _ := f.reg.Get(id)
	assert.Equal(t, model.StatusVerified, c.Status)

	v1 := f.account(t, "v1")
	assert.Equal(t, int64(110), v1.ReputationBalance)
	assert.Equal(t, int64(0), v1.StakedAmount)
	assert.Equal(t, int64(1), v1.CorrectValidations)
	assert.Equal(t, int64(1), v1.TotalValidations)

	d1 := f.account(t, "d1")
	assert.Equal(t, int64(100), d1.ReputationBalance, "10% of a 5 stake floors to 0")
	assert.Equal(t, int64(0), d1.StakedAmount)
	assert.Equal(t, int64(0), d1.CorrectValidations)
	assert.Equal(t, int64(1), d1.TotalValidations)
	assert.Equal(t, int64(0), d1.AccuracyRate())

	entries := f.audit.ForClaim(id)
	require.Len(t, entries, 3)
	assert.Equal(t, model.DirectionReward, entries[0].Direction)
	assert.Equal(t, model.DirectionSlash, entries[2].Direction)

	r, _ := f.pool.Round(id)
	assert.True(t, r.Resolved)
	assert.True(t, r.ConsensusReached)
	assert.Equal(t, model.VerdictVerified, r.FinalVerdict)
}

func TestResolve_SlashApplied(t *testing.T) {
	f := newFixture(t, scenarioParams(), "v1", "v2", "d1")
	ctx := context.Background()
	id := f.openClaim(t)

	_, _ = f.pool.CastVote(ctx, id, "v1", model.VoteDispute, 50)
	_, _ = f.pool.CastVote(ctx, id, "v2", model.VoteDispute, 50)
	_, err := f.pool.CastVote(ctx, id, "d1", model.VoteVerify, 30)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.pool.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDisputed, res.Verdict)

	c, _ := f.reg.Get(id)
	assert.Equal(t, model.StatusDebunked, c.Status)
	assert.Equal(t, int64(97), f.account(t, "d1").ReputationBalance)
	assert.Equal(t, int64(110), f.account(t, "v1").ReputationBalance)
	assert.Equal(t, int64(300+20-3), f.ledger.TotalSupply())
}

// Scenario B: 10 VERIFY against 9 DISPUTE is below the threshold, so the
// claim is DISPUTED and stakes come back untouched.
func TestResolve_NoConsensus(t *testing.T) {
	params := scenarioParams()
	params.MinValidators = 2
	f := newFixture(t, params, "v1", "d1")
	ctx := context.Background()
	id := f.openClaim(t)

	_, err := f.pool.CastVote(ctx, id, "v1", model.VoteVerify, 10)
	require.NoError(t, err)
	_, err = f.pool.CastVote(ctx, id, "d1", model.VoteDispute, 9)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	res, err := f.pool.Resolve(ctx, id)
	require.NoError(t, err)

	assert.True(t, res.QuorumMet)
	assert.False(t, res.ConsensusReached)
	assert.Equal(t, model.VerdictUndecided, res.Verdict)
	assert.InDelta(t, 0.526, res.WinningRatio, 0.001)

	c, _ := f.reg.Get(id)
	assert.Equal(t, model.StatusDisputed, c.Status)
	for _, addr := range []string{"v1", "d1"} {
		a := f.account(t, addr)
		assert.Equal(t, int64(100), a.ReputationBalance)
		assert.Equal(t, int64(0), a.StakedAmount)
		assert.Equal(t, int64(0), a.TotalValidations)
	}
	assert.Empty(t, f.audit.ForClaim(id))
}

func TestResolve_QuorumNotMet(t *testing.T) {
	tests := []struct {
		name   string
		params func(p *model.Params)
	}{
		{"too few validators", func(p *model.Params) { p.MinValidators = 3 }},
		{"too little stake", func(p *model.Params) { p.MinValidators = 1; p.QuorumPercent = 30 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := scenarioParams()
			tt.params(&params)
			f := newFixture(t, params, "v1", "v2")
			ctx := context.Background()
			id := f.openClaim(t)

			_, _ = f.pool.CastVote(ctx, id, "v1", model.VoteVerify, 20)
			_, _ = f.pool.CastVote(ctx, id, "v2", model.VoteVerify, 20)
			f.clock.Advance(time.Hour)

			res, err := f.pool.Resolve(ctx, id)
			require.NoError(t, err)
			assert.False(t, res.QuorumMet)
			assert.False(t, res.ConsensusReached)
			assert.Equal(t, model.VerdictUndecided, res.Verdict)

			c, _ := f.reg.Get(id)
			assert.Equal(t, model.StatusDisputed, c.Status)
			assert.Equal(t, int64(0), f.account(t, "v1").StakedAmount)
			assert.Equal(t, int64(100), f.account(t, "v1").ReputationBalance)
		})
	}
}

func TestResolve_AbstainersReleasedAndCounted(t *testing.T) {
	f := newFixture(t, scenarioParams(), "v1", "v2", "a1")
	ctx := context.Background()
	id := f.openClaim(t)

	_, _ = f.pool.CastVote(ctx, id, "v1", model.VoteVerify, 10)
	_, _ = f.pool.CastVote(ctx, id, "v2", model.VoteVerify, 10)
	_, _ = f.pool.CastVote(ctx, id, "a1", model.VoteAbstain, 40)
	f.clock.Advance(time.Hour)

	res, err := f.pool.Resolve(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.WinningRatio, 1e-9)

	a1 := f.account(t, "a1")
	assert.Equal(t, int64(100), a1.ReputationBalance)
	assert.Equal(t, int64(0), a1.StakedAmount)
	assert.Equal(t, int64(1), a1.TotalValidations)
	assert.Equal(t, int64(0), a1.CorrectValidations)
}

func TestResolve_Idempotent(t *testing.T) {
	f := newFixture(t, scenarioParams(), "v1", "v2", "d1")
	ctx := context.Background()
	id := f.openClaim(t)
	_, _ = f.pool.CastVote(ctx, id, "v1", model.VoteVerify, 10)
	_, _ = f.pool.CastVote(ctx, id, "v2", model.VoteVerify, 10)
	_, _ = f.pool.CastVote(ctx, id, "d1", model.VoteDispute, 50)

	_, err := f.pool.Resolve(ctx, id)
	assert.ErrorIs(t, err, model.ErrTooEarly)

	f.clock.Advance(time.Hour)
	_, err = f.pool.Resolve(ctx, id)
	require.NoError(t, err)
	before := f.ledger.Accounts()
	supply := f.ledger.TotalSupply()

	_, err = f.pool.Resolve(ctx, id)
	assert.ErrorIs(t, err, model.ErrAlreadyResolved)
	assert.Equal(t, before, f.ledger.Accounts())
	assert.Equal(t, supply, f.ledger.TotalSupply())
	assert.Len(t, f.audit.ForClaim(id), 3)
}

func TestResolve_SubmissionFailureAppliesNothing(t *testing.T) {
	f := newFixture(t, scenarioParams(), "v1", "v2", "d1")
	ctx := context.Background()
	id := f.openClaim(t)
	_, _ = f.pool.CastVote(ctx, id, "v1", model.VoteVerify, 10)
	_, _ = f.pool.CastVote(ctx, id, "v2", model.VoteVerify, 10)
	_, _ = f.pool.CastVote(ctx, id, "d1", model.VoteDispute, 50)
	f.clock.Advance(time.Hour)

	f.journal.failing.Store(true)
	_, err := f.pool.Resolve(ctx, id)
	require.Error(t, err)
	assert.Equal(t, model.KindSubmissionFailed, model.KindOf(err))

	r, _ := f.pool.Round(id)
	assert.False(t, r.Resolved)
	assert.Equal(t, int64(10), f.account(t, "v1").StakedAmount)
	c, _ := f.reg.Get(id)
	assert.Equal(t, model.StatusValidating, c.Status)

	f.journal.failing.Store(false)
	res, err := f.pool.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictDisputed, res.Verdict)
	assert.Equal(t, int64(110), f.account(t, "d1").ReputationBalance)
	assert.Equal(t, int64(99), f.account(t, "v1").ReputationBalance)
}

func TestCastVote_SubmissionFailureReleasesStake(t *testing.T) {
	f := newFixture(t, scenarioParams(), "v1")
	ctx := context.Background()
	id := f.openClaim(t)

	f.journal.failing.Store(true)
	_, err := f.pool.CastVote(ctx, id, "v1", model.VoteVerify, 10)
	assert.ErrorIs(t, err, model.ErrSubmissionFailed)
	assert.Equal(t, int64(0), f.account(t, "v1").StakedAmount)
	assert.False(t, f.pool.HasVoted(id, "v1"))

	f.journal.failing.Store(false)
	_, err = f.pool.CastVote(ctx, id, "v1", model.VoteVerify, 10)
	assert.NoError(t, err, "retrying the whole operation succeeds")
}

// Scenario D: a second vote fails with ErrAlreadyVoted and leaves the totals
// unchanged.
func TestCastVote_AlreadyVoted(t *testing.T) {
	f := newFixture(t, scenarioParams(), "v1")
	ctx := context.Background()
	id := f.openClaim(t)

	_, err := f.pool.CastVote(ctx, id, "v1", model.VoteVerify, 10)
	require.NoError(t, err)
	before, _ := f.pool.Round(id)

	_, err = f.pool.CastVote(ctx, id, "v1", model.VoteDispute, 20)
	assert.ErrorIs(t, err, model.ErrAlreadyVoted)
	assert.Equal(t, model.KindStateConflict, model.KindOf(err))

	after, _ := f.pool.Round(id)
	assert.Equal(t, before, after)
	assert.Equal(t, int64(10), f.account(t, "v1").StakedAmount)
}

func TestCastVote_ConcurrentAtMostOneVote(t *testing.T) {
	voters := make([]string, 20)
	for i := range voters {
		voters[i] = fmt.Sprintf("voter-%02d", i)
	}
	f := newFixture(t, scenarioParams(), voters...)
	ctx := context.Background()
	id := f.openClaim(t)

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for _, v := range voters {
		for attempt := 0; attempt < 5; attempt++ {
			wg.Add(1)
			go func(voter string, attempt int) {
				defer wg.Done()
				typ := model.VoteVerify
				if attempt%2 == 1 {
					typ = model.VoteDispute
				}
				if _, err := f.pool.CastVote(ctx, id, voter, typ, 10); err == nil {
					accepted.Add(1)
				}
			}(v, attempt)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(len(voters)), accepted.Load())

	votes, err := f.pool.Votes(id)
	require.NoError(t, err)
	seen := make(map[string]int)
	var sum int64
	for _, v := range votes {
		seen[v.Voter]++
		sum += v.StakeAmount
	}
	for _, v := range voters {
		assert.Equal(t, 1, seen[v], "voter %s", v)
		assert.Equal(t, int64(10), f.account(t, v).StakedAmount)
	}

	r, _ := f.pool.Round(id)
	assert.Equal(t, sum, r.ParticipatingStake(), "round totals reconcile with the votes")
	assert.Equal(t, len(voters), r.VoterCount)

	c, _ := f.reg.Get(id)
	assert.Equal(t, r.VerifyStake, c.YesStakeTotal)
	assert.Equal(t, r.DisputeStake, c.NoStakeTotal)
}

func TestCastVote_RacingResolve(t *testing.T) {
	voters := make([]string, 40)
	for i := range voters {
		voters[i] = fmt.Sprintf("voter-%02d", i)
	}
	f := newFixture(t, scenarioParams(), voters...)
	ctx := context.Background()
	id := f.openClaim(t)
	f.clock.Advance(time.Hour - time.Second)

	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := make(map[string]bool)
	for i, v := range voters {
		wg.Add(1)
		go func(voter string, i int) {
			defer wg.Done()
			<-start
			typ := model.VoteVerify
			if i%4 == 0 {
				typ = model.VoteDispute
			}
			_, err := f.pool.CastVote(ctx, id, voter, typ, 10)
			if err != nil {
				assert.ErrorIs(t, err, model.ErrRoundClosed)
				return
			}
			mu.Lock()
			accepted[voter] = true
			mu.Unlock()
		}(v, i)
	}

	var res model.Resolution
	var resErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		f.clock.Advance(time.Second)
		res, resErr = f.pool.Resolve(ctx, id)
	}()
	close(start)
	wg.Wait()
	require.NoError(t, resErr)

	votes, err := f.pool.Votes(id)
	require.NoError(t, err)
	assert.Len(t, votes, len(accepted), "every accepted vote is part of the resolved round")
	for _, v := range votes {
		assert.True(t, accepted[v.Voter], "vote by %s was reported rejected", v.Voter)
	}
	for _, e := range res.Audit {
		assert.True(t, accepted[e.Voter], "audit entry for rejected voter %s", e.Voter)
	}
	if res.ConsensusReached {
		assert.Len(t, res.Audit, len(accepted))
	}
	for _, v := range voters {
		assert.Zero(t, f.account(t, v).StakedAmount, "voter %s", v)
	}

	_, err = f.pool.CastVote(ctx, id, "late", model.VoteVerify, 10)
	assert.ErrorIs(t, err, model.ErrRoundClosed)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, scenarioParams(), "v1", "v2")
	ctx := context.Background()
	id := f.openClaim(t)
	_, _ = f.pool.CastVote(ctx, id, "v1", model.VoteVerify, 10)
	_, _ = f.pool.CastVote(ctx, id, "v2", model.VoteDispute, 20)

	res, err := f.pool.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictUndecided, res.Verdict)

	r, _ := f.pool.Round(id)
	assert.True(t, r.Cancelled)
	assert.True(t, r.Resolved)

	c, _ := f.reg.Get(id)
	assert.Equal(t, model.StatusDisputed, c.Status)
	assert.Equal(t, int64(0), f.account(t, "v2").StakedAmount)
	assert.Equal(t, int64(0), f.account(t, "v2").TotalValidations)

	_, err = f.pool.Cancel(ctx, id)
	assert.ErrorIs(t, err, model.ErrAlreadyResolved)
}

func TestUpdateParams_AppliesToNewRoundsOnly(t *testing.T) {
	f := newFixture(t, scenarioParams(), "v1")
	ctx := context.Background()
	first := f.openClaim(t)

	next := scenarioParams()
	next.MinStake = 50
	require.NoError(t, f.pool.UpdateParams(ctx, next))

	_, err := f.pool.CastVote(ctx, first, "v1", model.VoteVerify, 10)
	assert.NoError(t, err, "open round keeps its snapshot")

	second := f.openClaim(t)
	_, err = f.pool.CastVote(ctx, second, "v1", model.VoteVerify, 10)
	assert.ErrorIs(t, err, model.ErrStakeBelowMinimum)

	bad := scenarioParams()
	bad.ConsensusThreshold = 120
	assert.ErrorIs(t, f.pool.UpdateParams(ctx, bad), model.ErrInvalidParams)
}

func TestDueAndOpenRounds(t *testing.T) {
	f := newFixture(t, scenarioParams())
	a := f.openClaim(t)
	f.clock.Advance(30 * time.Minute)
	b := f.openClaim(t)

	assert.Len(t, f.pool.OpenRounds(f.clock.Now()), 2)
	assert.Empty(t, f.pool.DueRounds(f.clock.Now()))

	f.clock.Advance(30 * time.Minute)
	assert.Equal(t, []uint64{a}, f.pool.DueRounds(f.clock.Now()))
	open := f.pool.OpenRounds(f.clock.Now())
	require.Len(t, open, 1)
	assert.Equal(t, b, open[0].ClaimID)
}
