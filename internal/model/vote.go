package model

import "time"

// VoteType is a validator's position on a claim.
type VoteType string

const (
	VoteVerify  VoteType = "VERIFY"
	VoteDispute VoteType = "DISPUTE"
	VoteAbstain VoteType = "ABSTAIN"
)

// ParseVoteType returns the vote type named by s, or false if unknown.
func ParseVoteType(s string) (VoteType, bool) {
	switch vt := VoteType(s); vt {
	case VoteVerify, VoteDispute, VoteAbstain:
		return vt, true
	}
	return "", false
}

// Verdict is the outcome recorded on a resolved round.
type Verdict string

const (
	VerdictUndecided Verdict = "UNDECIDED"
	VerdictVerified  Verdict = "VERIFIED"
	VerdictDisputed  Verdict = "DISPUTED"
)

// Vote is a single staked position. Unique per (ClaimID, Voter).
type Vote struct {
	ClaimID     uint64    `json:"claimId"`
	Voter       string    `json:"voter"`
	VoteType    VoteType  `json:"voteType"`
	StakeAmount int64     `json:"stakeAmount"`
	Timestamp   time.Time `json:"timestamp"`
}

// Params are the protocol parameters that govern a validation round.
// A round keeps the values in force when it was opened.
type Params struct {
	MinStake           int64 `json:"minStake" yaml:"min_stake" mapstructure:"min_stake"`
	MaxStake           int64 `json:"maxStake" yaml:"max_stake" mapstructure:"max_stake"`
	MinValidators      int   `json:"minValidators" yaml:"min_validators" mapstructure:"min_validators"`
	QuorumPercent      int64 `json:"quorumPercentage" yaml:"quorum_percentage" mapstructure:"quorum_percentage"`
	ConsensusThreshold int64 `json:"consensusThreshold" yaml:"consensus_threshold" mapstructure:"consensus_threshold"`
	RewardAmount       int64 `json:"rewardAmount" yaml:"reward_amount" mapstructure:"reward_amount"`
	SlashPercent       int64 `json:"slashPercentage" yaml:"slash_percentage" mapstructure:"slash_percentage"`
}

// DefaultParams returns the deployed protocol defaults.
func DefaultParams() Params {
	return Params{
		MinStake:           10,
		MaxStake:           100,
		MinValidators:      3,
		QuorumPercent:      30,
		ConsensusThreshold: 60,
		RewardAmount:       10,
		SlashPercent:       10,
	}
}

// Validate checks parameter consistency.
func (p Params) Validate() error {
	switch {
	case p.MinStake <= 0:
		return ErrInvalidParams.With("minStake must be positive")
	case p.MaxStake > 0 && p.MaxStake < p.MinStake:
		return ErrInvalidParams.With("maxStake must be at least minStake")
	case p.MinValidators < 1:
		return ErrInvalidParams.With("minValidators must be at least 1")
	case p.QuorumPercent < 0 || p.QuorumPercent > 100:
		return ErrInvalidParams.With("quorumPercentage must be within 0-100")
	case p.ConsensusThreshold < 50 || p.ConsensusThreshold > 100:
		return ErrInvalidParams.With("consensusThreshold must be within 50-100")
	case p.RewardAmount < 0:
		return ErrInvalidParams.With("rewardAmount must not be negative")
	case p.SlashPercent < 0 || p.SlashPercent > 100:
		return ErrInvalidParams.With("slashPercentage must be within 0-100")
	}
	return nil
}

// ValidationRound is the per-claim voting state.
type ValidationRound struct {
	ClaimID          uint64    `json:"claimId"`
	StartTime        time.Time `json:"startTime"`
	EndTime          time.Time `json:"endTime"`
	VerifyStake      int64     `json:"verifyStake"`
	DisputeStake     int64     `json:"disputeStake"`
	AbstainStake     int64     `json:"abstainStake"`
	VoterCount       int       `json:"voterCount"`
	Resolved         bool      `json:"resolved"`
	ConsensusReached bool      `json:"consensusReached"`
	FinalVerdict     Verdict   `json:"finalVerdict"`
	Cancelled        bool      `json:"cancelled"`
	SupplyAtOpen     int64     `json:"supplyAtOpen"`
	Params           Params    `json:"params"`
}

// ParticipatingStake is the sum of all per-type totals.
func (r ValidationRound) ParticipatingStake() int64 {
	return r.VerifyStake + r.DisputeStake + r.AbstainStake
}

// Open reports whether votes are still accepted at now.
func (r ValidationRound) Open(now time.Time) bool {
	return !r.Resolved && now.Before(r.EndTime)
}

// Resolution summarizes the effect of resolving a round.
type Resolution struct {
	ClaimID          uint64       `json:"claimId"`
	QuorumMet        bool         `json:"quorumMet"`
	ConsensusReached bool         `json:"consensusReached"`
	Verdict          Verdict      `json:"finalVerdict"`
	ClaimStatus      Status       `json:"claimStatus"`
	WinningSide      VoteType     `json:"winningSide,omitempty"`
	WinningRatio     float64      `json:"winningRatio"`
	Audit            []AuditEntry `json:"audit,omitempty"`
}
