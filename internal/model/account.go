package model

import "time"

// Account is a validator's non-transferable reputation record.
type Account struct {
	Address            string    `json:"address"`
	ReputationBalance  int64     `json:"reputationBalance"`
	StakedAmount       int64     `json:"stakedAmount"`
	TotalValidations   int64     `json:"totalValidations"`
	CorrectValidations int64     `json:"correctValidations"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Available is the balance not currently locked in stakes.
func (a Account) Available() int64 {
	return a.ReputationBalance - a.StakedAmount
}

// AccuracyRate is 100 for accounts that never validated, otherwise the
// floored percentage of correct validations.
func (a Account) AccuracyRate() int64 {
	if a.TotalValidations == 0 {
		return 100
	}
	return a.CorrectValidations * 100 / a.TotalValidations
}

// AuditDirection tags an audit log entry.
type AuditDirection string

const (
	DirectionReward  AuditDirection = "REWARD"
	DirectionSlash   AuditDirection = "SLASH"
	DirectionNeutral AuditDirection = "NEUTRAL"
)

// AuditEntry is one append-only reward/slash record written at resolution.
// NEUTRAL entries record abstainers of a consensus round so accuracy can be
// recomputed from the log alone.
type AuditEntry struct {
	ClaimID   uint64         `json:"claimId"`
	Voter     string         `json:"voter"`
	Amount    int64          `json:"amount"`
	Direction AuditDirection `json:"direction"`
	Timestamp time.Time      `json:"timestamp"`
}
