package handler

type OptInRequest struct {
	Address string `json:"address" validate:"required,address"`
}

type SubmitClaimRequest struct {
	Title        string   `json:"title" validate:"required,min=10,max=200"`
	Content      string   `json:"content" validate:"required,min=50,max=5000"`
	Category     string   `json:"category" validate:"required,category"`
	EvidenceURLs []string `json:"evidenceUrls" validate:"max=10,dive,url"`
	Submitter    string   `json:"submitter" validate:"omitempty,address"`
}

type VoteRequest struct {
	Voter    string `json:"voter" validate:"required,address"`
	VoteType string `json:"voteType" validate:"required,oneof=VERIFY DISPUTE ABSTAIN"`
	Stake    int64  `json:"stake" validate:"required,gt=0"`
}

type CreateMarketRequest struct {
	ClaimID          uint64  `json:"claimId" validate:"required"`
	InitialLiquidity float64 `json:"initialLiquidity" validate:"required,gt=0"`
	DurationHours    int     `json:"durationHours" validate:"gte=0"`
}

type BetRequest struct {
	Account string  `json:"account" validate:"required,address"`
	Side    string  `json:"side" validate:"required,oneof=YES NO"`
	Amount  float64 `json:"amount" validate:"required,gt=0"`
}

type RedeemRequest struct {
	Account string `json:"account" validate:"required,address"`
}

type MintRequest struct {
	Address string `json:"address" validate:"required,address"`
	Amount  int64  `json:"amount" validate:"required,gt=0"`
}
