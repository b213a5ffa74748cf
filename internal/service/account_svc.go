package service

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// recentAuditLimit caps the audit history returned with a profile.
const recentAuditLimit = 20

// SubmitterCounter counts claims by submitter in the projection tables.
type SubmitterCounter interface {
	CountBySubmitter(ctx context.Context, address string) (int, error)
}

// PositionView is a market position with its current mark-to-market value.
type PositionView struct {
	model.Position
	Value float64 `json:"value"`
}

// Profile is the API representation of an account.
type Profile struct {
	model.Account
	Available       int64              `json:"availableBalance"`
	AccuracyRate    int64              `json:"accuracyRate"`
	Standing        float64            `json:"standing"`
	AccountAge      int                `json:"accountAge"`
	ClaimsSubmitted int                `json:"claimsSubmitted"`
	ActiveVotes     int                `json:"activeVotes"`
	Positions       []PositionView     `json:"positions"`
	RecentAudit     []model.AuditEntry `json:"recentAudit"`
}

type AccountService struct {
	protocol *Protocol
	standing *StandingService
	cache    *CacheService
	counter  SubmitterCounter
}

// NewAccountService creates an account read service. cache and counter may
// be nil.
func NewAccountService(p *Protocol, cache *CacheService, counter SubmitterCounter) *AccountService {
	return &AccountService{
		protocol: p,
		standing: NewStandingService(p.Now),
		cache:    cache,
		counter:  counter,
	}
}

// Lookup returns the profile of address and whether it came from the cache.
func (s *AccountService) Lookup(ctx context.Context, address string) (*Profile, bool, error) {
	if s.cache != nil {
		if data, err := s.cache.GetAccount(ctx, address); err == nil && data != nil {
			var p Profile
			if json.Unmarshal(data, &p) == nil {
				return &p, true, nil
			}
		}
	}

	a, err := s.protocol.Accounts.Get(address)
	if err != nil {
		return nil, false, err
	}

	p := &Profile{
		Account:      a,
		Available:    a.Available(),
		AccuracyRate: a.AccuracyRate(),
		Standing:     math.Round(s.standing.ComputeStanding(a)*1000) / 1000,
		AccountAge:   int(math.Floor(s.protocol.Now().Sub(a.CreatedAt).Hours() / 24)),
		Positions:    []PositionView{},
		RecentAudit:  []model.AuditEntry{},
	}

	p.ClaimsSubmitted, err = s.claimsSubmitted(ctx, address)
	if err != nil {
		return nil, false, err
	}

	for _, v := range s.protocol.Pool.VotesBy(address) {
		if r, err := s.protocol.Pool.Round(v.ClaimID); err == nil && !r.Resolved {
			p.ActiveVotes++
		}
	}

	p.Positions = append(p.Positions, NewMarketService(s.protocol, nil).Positions(address)...)

	audit := s.protocol.Audit.ForVoter(address)
	sort.SliceStable(audit, func(i, j int) bool { return audit[i].Timestamp.After(audit[j].Timestamp) })
	if len(audit) > recentAuditLimit {
		audit = audit[:recentAuditLimit]
	}
	p.RecentAudit = append(p.RecentAudit, audit...)

	if s.cache != nil {
		if err := s.cache.SetAccount(ctx, address, p); err != nil {
			s.protocol.log.Warn().Err(err).Msg("cache set failed")
		}
	}
	return p, false, nil
}

func (s *AccountService) claimsSubmitted(ctx context.Context, address string) (int, error) {
	if s.counter != nil {
		return s.counter.CountBySubmitter(ctx, address)
	}
	claims, _ := s.protocol.Claims.List(model.ClaimFilter{})
	n := 0
	for _, c := range claims {
		if c.Submitter == address {
			n++
		}
	}
	return n, nil
}
