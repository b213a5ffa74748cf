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

func TestExpiryWorker_TickResolvesAndSettles(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	ctx := context.Background()
	c := f.submit(t)

	for voter, stake := range map[string]int64{"a": 40, "b": 30, "c": 20} {
		_, err := f.p.CastVote(ctx, c.ID, voter, model.VoteDispute, stake)
		require.NoError(t, err)
	}
	m, err := f.p.CreateMarket(ctx, c.ID, 100, 4)
	require.NoError(t, err)

	w := NewExpiryWorker(f.p, time.Minute, zerolog.Nop())

	res := w.Tick(ctx)
	assert.Equal(t, TickResult{}, res, "nothing is due before the window ends")

	f.clock.Advance(time.Hour)
	res = w.Tick(ctx)
	assert.Equal(t, 1, res.Resolved)
	assert.Equal(t, 1, res.Settled)
	assert.Zero(t, res.Failed)

	claim, _ := f.p.Claims.Get(c.ID)
	assert.Equal(t, model.StatusDebunked, claim.Status)

	got, _ := f.p.Markets.Get(m.ID)
	require.True(t, got.Resolved)
	assert.False(t, *got.Outcome)

	assert.Equal(t, TickResult{}, w.Tick(ctx), "second tick has nothing left")
}

func TestExpiryWorker_StopAndCancel(t *testing.T) {
	f := newFixture(t)

	w := NewExpiryWorker(f.p, 10*time.Millisecond, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w = NewExpiryWorker(f.p, 10*time.Millisecond, zerolog.Nop())
	done = make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
