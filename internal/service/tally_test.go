package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

func vote(vt model.VoteType, stake int64) model.Vote {
	return model.Vote{VoteType: vt, StakeAmount: stake}
}

func TestComputeTally(t *testing.T) {
	round := model.ValidationRound{
		ClaimID:      7,
		SupplyAtOpen: 1000,
		Params:       model.Params{QuorumPercent: 30},
	}

	tests := []struct {
		name          string
		votes         []model.Vote
		wantLeading   model.VoteType
		wantDecisive  float64
		wantQuorum    float64
		wantVerifyPct float64
	}{
		{
			name:          "no votes",
			votes:         nil,
			wantLeading:   "",
			wantDecisive:  0,
			wantQuorum:    0,
			wantVerifyPct: 0,
		},
		{
			name:          "verify majority",
			votes:         []model.Vote{vote(model.VoteVerify, 60), vote(model.VoteDispute, 30), vote(model.VoteAbstain, 10)},
			wantLeading:   model.VoteVerify,
			wantDecisive:  66.67,
			wantQuorum:    33.33,
			wantVerifyPct: 60,
		},
		{
			name:          "abstain leads but does not count as decisive",
			votes:         []model.Vote{vote(model.VoteAbstain, 200), vote(model.VoteDispute, 50)},
			wantLeading:   model.VoteAbstain,
			wantDecisive:  100,
			wantQuorum:    83.33,
			wantVerifyPct: 0,
		},
		{
			name:          "quorum progress caps at 100",
			votes:         []model.Vote{vote(model.VoteVerify, 400)},
			wantLeading:   model.VoteVerify,
			wantDecisive:  100,
			wantQuorum:    100,
			wantVerifyPct: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTally(round, tt.votes)
			assert.Equal(t, uint64(7), got.ClaimID)
			assert.Equal(t, tt.wantLeading, got.Leading)
			assert.InDelta(t, tt.wantDecisive, got.DecisiveRatio, 0.001)
			assert.InDelta(t, tt.wantQuorum, got.QuorumProgress, 0.001)
			assert.Len(t, got.Shares, 3)
			assert.Equal(t, model.VoteVerify, got.Shares[0].VoteType)
			assert.InDelta(t, tt.wantVerifyPct, got.Shares[0].Share, 0.001)
		})
	}
}

func TestComputeTally_ZeroQuorumIsComplete(t *testing.T) {
	round := model.ValidationRound{SupplyAtOpen: 500, Params: model.Params{QuorumPercent: 0}}
	got := ComputeTally(round, nil)
	assert.Equal(t, float64(100), got.QuorumProgress)
}
