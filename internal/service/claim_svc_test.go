package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

func TestClaimService_GetCachesView(t *testing.T) {
	f := newFixture(t, "a")
	ctx := context.Background()
	c := f.submit(t)
	_, err := f.p.CastVote(ctx, c.ID, "a", model.VoteVerify, 20)
	require.NoError(t, err)
	m, err := f.p.CreateMarket(ctx, c.ID, 200, 6)
	require.NoError(t, err)

	cache := NewCacheService("", zerolog.Nop())
	svc := NewClaimService(f.p, cache, nil)

	v, hit, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "UNVERIFIED", v.DisplayStatus)
	assert.Equal(t, "Light travels at roughly 300,000 km/s", v.Title)
	require.NotNil(t, v.Round)
	assert.Equal(t, 1, v.Round.VoterCount)
	require.NotNil(t, v.Tally)
	assert.Equal(t, model.VoteVerify, v.Tally.Leading)
	require.NotNil(t, v.MarketID)
	assert.Equal(t, m.ID, *v.MarketID)

	cached, hit, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, v.Title, cached.Title)
	assert.Equal(t, v.Round.VoterCount, cached.Round.VoterCount)

	require.NoError(t, cache.InvalidateClaim(ctx, c.ID))
	_, hit, err = svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestClaimService_GetNotFound(t *testing.T) {
	f := newFixture(t)
	svc := NewClaimService(f.p, nil, nil)
	_, _, err := svc.Get(context.Background(), 42)
	assert.ErrorIs(t, err, model.ErrClaimNotFound)
}

func TestClaimService_ListFromRegistry(t *testing.T) {
	f := newFixture(t)
	for range 3 {
		f.submit(t)
	}
	svc := NewClaimService(f.p, nil, nil)

	claims, total, err := svc.List(context.Background(), model.ClaimFilter{Limit: 2, Sort: model.SortNewest})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, claims, 2)
	assert.Equal(t, uint64(3), claims[0].ID)
}

type stubLister struct {
	got model.ClaimFilter
}

func (s *stubLister) List(_ context.Context, f model.ClaimFilter) ([]model.Claim, int, error) {
	s.got = f
	return []model.Claim{{ID: 9}}, 1, nil
}

func TestClaimService_ListPrefersProjection(t *testing.T) {
	f := newFixture(t)
	lister := &stubLister{}
	svc := NewClaimService(f.p, nil, lister)

	claims, total, err := svc.List(context.Background(), model.ClaimFilter{Category: model.CategoryHealth})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, uint64(9), claims[0].ID)
	assert.Equal(t, model.CategoryHealth, lister.got.Category)
}

func TestClaimService_Pending(t *testing.T) {
	f := newFixture(t, "a", "b")
	ctx := context.Background()
	first := f.submit(t)
	f.clock.Advance(10 * time.Minute)
	second := f.submit(t)

	_, err := f.p.CastVote(ctx, first.ID, "a", model.VoteDispute, 10)
	require.NoError(t, err)

	svc := NewClaimService(f.p, nil, nil)
	pending := svc.Pending("a")
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ClaimID, "soonest ending first")
	assert.Equal(t, int64(50*60), pending[0].TimeRemaining)
	assert.False(t, pending[0].UserCanVote, "already voted")
	assert.True(t, pending[1].UserCanVote)
	assert.Equal(t, second.ID, pending[1].ClaimID)

	anon := svc.Pending("")
	assert.False(t, anon[1].UserCanVote)

	f.clock.Advance(time.Hour)
	assert.Empty(t, svc.Pending("a"))
}
