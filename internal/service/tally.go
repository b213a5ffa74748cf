package service

import (
	"math"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// TypeShare is the stake behind one vote type.
type TypeShare struct {
	VoteType model.VoteType `json:"voteType"`
	Stake    int64          `json:"stake"`
	Voters   int            `json:"voters"`
	Share    float64        `json:"share"`
}

// Tally breaks a round down by vote type.
type Tally struct {
	ClaimID        uint64         `json:"claimId"`
	TotalStake     int64          `json:"totalStake"`
	Shares         []TypeShare    `json:"shares"`
	Leading        model.VoteType `json:"leading,omitempty"`
	DecisiveRatio  float64        `json:"decisiveRatio"`
	QuorumProgress float64        `json:"quorumProgress"`
}

// ComputeTally computes per-type stake shares. The algorithm:
//
//	For each vote type T:
//	  T_share = (stake on T) / (stake on ALL types) * 100
//	decisive_ratio = max(verify, dispute) / (verify + dispute) * 100
//	quorum_progress = participating / (quorum% of supply at open) * 100, capped at 100
func ComputeTally(round model.ValidationRound, votes []model.Vote) Tally {
	t := Tally{ClaimID: round.ClaimID}

	byType := map[model.VoteType]*TypeShare{
		model.VoteVerify:  {VoteType: model.VoteVerify},
		model.VoteDispute: {VoteType: model.VoteDispute},
		model.VoteAbstain: {VoteType: model.VoteAbstain},
	}
	for _, v := range votes {
		s, ok := byType[v.VoteType]
		if !ok {
			continue
		}
		s.Stake += v.StakeAmount
		s.Voters++
		t.TotalStake += v.StakeAmount
	}

	var best float64
	for _, vt := range []model.VoteType{model.VoteVerify, model.VoteDispute, model.VoteAbstain} {
		s := byType[vt]
		if t.TotalStake > 0 {
			s.Share = round2(float64(s.Stake) / float64(t.TotalStake) * 100)
		}
		if s.Stake > 0 && s.Share > best {
			best = s.Share
			t.Leading = vt
		}
		t.Shares = append(t.Shares, *s)
	}

	verify, dispute := byType[model.VoteVerify].Stake, byType[model.VoteDispute].Stake
	if decisive := verify + dispute; decisive > 0 {
		t.DecisiveRatio = round2(float64(max(verify, dispute)) / float64(decisive) * 100)
	}

	required := float64(round.Params.QuorumPercent) * float64(round.SupplyAtOpen) / 100
	switch {
	case required <= 0:
		t.QuorumProgress = 100
	default:
		t.QuorumProgress = round2(math.Min(float64(t.TotalStake)/required*100, 100))
	}
	return t
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
