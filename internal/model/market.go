package model

import "time"

// Side is a prediction market position.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ParseSide returns the side named by s, or false if unknown.
func ParseSide(s string) (Side, bool) {
	switch sd := Side(s); sd {
	case SideYes, SideNo:
		return sd, true
	}
	return "", false
}

// Wins reports whether the side pays out under outcome.
func (s Side) Wins(outcome bool) bool {
	return (s == SideYes) == outcome
}

// MarketLimits bound market creation and trading.
type MarketLimits struct {
	MinLiquidity       float64 `json:"minLiquidity" yaml:"min_liquidity" mapstructure:"min_liquidity"`
	MaxLiquidity       float64 `json:"maxLiquidity" yaml:"max_liquidity" mapstructure:"max_liquidity"`
	MinBet             float64 `json:"minBet" yaml:"min_bet" mapstructure:"min_bet"`
	MaxBet             float64 `json:"maxBet" yaml:"max_bet" mapstructure:"max_bet"`
	MinDurationHours   int     `json:"minDurationHours" yaml:"min_duration_hours" mapstructure:"min_duration_hours"`
	MaxDurationHours   int     `json:"maxDurationHours" yaml:"max_duration_hours" mapstructure:"max_duration_hours"`
	DefaultDurationHrs int     `json:"defaultDurationHours" yaml:"default_duration_hours" mapstructure:"default_duration_hours"`
}

// DefaultMarketLimits returns the deployed market bounds.
func DefaultMarketLimits() MarketLimits {
	return MarketLimits{
		MinLiquidity:       100,
		MaxLiquidity:       10000,
		MinBet:             10,
		MaxBet:             1000,
		MinDurationHours:   1,
		MaxDurationHours:   168,
		DefaultDurationHrs: 24,
	}
}

// PredictionMarket is a constant-product AMM bound to one claim.
type PredictionMarket struct {
	ID               uint64    `json:"id"`
	ClaimID          uint64    `json:"claimId"`
	YesStake         float64   `json:"yesStake"`
	NoStake          float64   `json:"noStake"`
	InitialLiquidity float64   `json:"initialLiquidity"`
	Volume           float64   `json:"volume"`
	YesShares        float64   `json:"yesShares"`
	NoShares         float64   `json:"noShares"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	Resolved         bool      `json:"resolved"`
	Outcome          *bool     `json:"outcome"`
}

// Open reports whether bets are accepted at now.
func (m PredictionMarket) Open(now time.Time) bool {
	return !m.Resolved && !now.After(m.ExpiresAt)
}

// LockedLiquidity is everything paid into the market: seed plus bets.
func (m PredictionMarket) LockedLiquidity() float64 {
	return m.InitialLiquidity + m.Volume
}

// Position is an account's holding on one side of a market.
type Position struct {
	MarketID       uint64  `json:"marketId"`
	Account        string  `json:"account"`
	Side           Side    `json:"side"`
	Shares         float64 `json:"shares"`
	AmountInvested float64 `json:"amountInvested"`
	Redeemed       bool    `json:"redeemed"`
	Payout         float64 `json:"payout,omitempty"`
}

// BetResult is returned by a successful trade.
type BetResult struct {
	MarketID        uint64  `json:"marketId"`
	Side            Side    `json:"side"`
	Amount          float64 `json:"amount"`
	SharesBought    float64 `json:"sharesBought"`
	AvgPrice        float64 `json:"avgPrice"`
	PotentialPayout float64 `json:"potentialPayout"`
	YesPrice        float64 `json:"yesPrice"`
	NoPrice         float64 `json:"noPrice"`
}

// Redemption is the payout of a settled position.
type Redemption struct {
	MarketID uint64  `json:"marketId"`
	Account  string  `json:"account"`
	Side     Side    `json:"side"`
	Shares   float64 `json:"shares"`
	Payout   float64 `json:"payout"`
}
