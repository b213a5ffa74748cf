package model

import "time"

// Status is the canonical claim lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusValidating Status = "VALIDATING"
	StatusVerified   Status = "VERIFIED"
	StatusDisputed   Status = "DISPUTED"
	StatusDebunked   Status = "DEBUNKED"
)

// transitions is the monotone status table; terminal states have no entry.
var transitions = map[Status][]Status{
	StatusPending:    {StatusValidating},
	StatusValidating: {StatusVerified, StatusDisputed, StatusDebunked},
}

// ParseStatus returns the status named by s, or false if unknown.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusPending, StatusValidating, StatusVerified, StatusDisputed, StatusDebunked:
		return st, true
	}
	return "", false
}

// CanTransition reports whether from -> to is allowed.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusDisputed || s == StatusDebunked
}

// MarketOutcome is the settlement outcome implied by a terminal status.
// VERIFIED settles YES; DEBUNKED and DISPUTED settle NO.
func (s Status) MarketOutcome() (outcome bool, ok bool) {
	switch s {
	case StatusVerified:
		return true, true
	case StatusDebunked, StatusDisputed:
		return false, true
	}
	return false, false
}

// DisplayStatus maps the canonical status onto the public vocabulary used by
// API consumers (UNVERIFIED, VERIFIED, FALSE, DISPUTED).
func DisplayStatus(s Status) string {
	switch s {
	case StatusVerified:
		return "VERIFIED"
	case StatusDebunked:
		return "FALSE"
	case StatusDisputed:
		return "DISPUTED"
	default:
		return "UNVERIFIED"
	}
}

// Category is one of the fixed claim topics.
type Category string

const (
	CategoryNews       Category = "news"
	CategoryScience    Category = "science"
	CategoryPolitics   Category = "politics"
	CategoryHealth     Category = "health"
	CategoryTechnology Category = "technology"
)

// Categories lists the accepted categories in display order.
var Categories = []Category{
	CategoryNews, CategoryScience, CategoryPolitics, CategoryHealth, CategoryTechnology,
}

// ValidCategory reports whether c is in the fixed set.
func ValidCategory(c Category) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// Claim is a factual assertion under review.
type Claim struct {
	ID            uint64    `json:"id"`
	ContentRef    string    `json:"contentRef"`
	Category      Category  `json:"category"`
	Status        Status    `json:"status"`
	Submitter     string    `json:"submitter,omitempty"`
	SubmittedAt   time.Time `json:"submittedAt"`
	VotingEndsAt  time.Time `json:"votingEndsAt"`
	YesStakeTotal int64     `json:"yesStakeTotal"`
	NoStakeTotal  int64     `json:"noStakeTotal"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// ClaimContent is the document stored in the content store for a claim.
type ClaimContent struct {
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	Category     Category `json:"category"`
	EvidenceURLs []string `json:"evidence_urls"`
}

// Sort orders for claim listings.
const (
	SortNewest    = "newest"
	SortOldest    = "oldest"
	SortMostStake = "most_stake"
)

// ClaimFilter narrows a claim listing.
type ClaimFilter struct {
	Category Category
	Status   Status
	Sort     string
	Limit    int
	Offset   int
}
