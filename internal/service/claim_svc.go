package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// ClaimLister lists claims from the projection tables.
type ClaimLister interface {
	List(ctx context.Context, f model.ClaimFilter) ([]model.Claim, int, error)
}

// ClaimView is the API representation of a claim.
type ClaimView struct {
	model.Claim
	DisplayStatus string                 `json:"displayStatus"`
	Title         string                 `json:"title,omitempty"`
	Content       string                 `json:"content,omitempty"`
	EvidenceURLs  []string               `json:"evidenceUrls,omitempty"`
	Round         *model.ValidationRound `json:"round,omitempty"`
	Tally         *Tally                 `json:"tally,omitempty"`
	MarketID      *uint64                `json:"marketId,omitempty"`
}

// PendingClaim is a claim whose round still accepts votes.
type PendingClaim struct {
	ClaimID       uint64         `json:"claimId"`
	Category      model.Category `json:"category"`
	EndTime       time.Time      `json:"endTime"`
	TimeRemaining int64          `json:"timeRemaining"`
	VoterCount    int            `json:"voterCount"`
	TotalStake    int64          `json:"totalStake"`
	UserCanVote   bool           `json:"userCanVote"`
}

type ClaimService struct {
	protocol *Protocol
	cache    *CacheService
	lister   ClaimLister
	group    singleflight.Group
}

// NewClaimService creates a claim read service. cache and lister may be nil;
// without a lister, listings are served from the in-memory registry.
func NewClaimService(p *Protocol, cache *CacheService, lister ClaimLister) *ClaimService {
	return &ClaimService{protocol: p, cache: cache, lister: lister}
}

// Get returns the claim view and whether it came from the cache.
func (s *ClaimService) Get(ctx context.Context, id uint64) (ClaimView, bool, error) {
	if s.cache != nil {
		if data, err := s.cache.GetClaim(ctx, id); err == nil && data != nil {
			var v ClaimView
			if json.Unmarshal(data, &v) == nil {
				return v, true, nil
			}
		}
	}

	res, err, _ := s.group.Do(strconv.FormatUint(id, 10), func() (any, error) {
		v, err := s.build(ctx, id)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetClaim(ctx, id, v); err != nil {
				s.protocol.log.Warn().Err(err).Uint64("claim_id", id).Msg("cache set failed")
			}
		}
		return v, nil
	})
	if err != nil {
		return ClaimView{}, false, err
	}
	return res.(ClaimView), false, nil
}

func (s *ClaimService) build(ctx context.Context, id uint64) (ClaimView, error) {
	claim, err := s.protocol.Claims.Get(id)
	if err != nil {
		return ClaimView{}, err
	}
	v := ClaimView{Claim: claim, DisplayStatus: model.DisplayStatus(claim.Status)}

	doc, err := s.protocol.ClaimContent(ctx, id)
	switch {
	case err == nil:
		v.Title, v.Content, v.EvidenceURLs = doc.Title, doc.Content, doc.EvidenceURLs
	case errors.Is(err, model.ErrContentNotFound):
		s.protocol.log.Warn().Uint64("claim_id", id).Msg("claim content missing from store")
	default:
		return ClaimView{}, err
	}

	if r, err := s.protocol.Pool.Round(id); err == nil {
		v.Round = &r
		votes, _ := s.protocol.Pool.Votes(id)
		t := ComputeTally(r, votes)
		v.Tally = &t
	}
	if m, err := s.protocol.Markets.ForClaim(id); err == nil {
		mid := m.ID
		v.MarketID = &mid
	}
	return v, nil
}

// List returns one page of claims and the total matching count.
func (s *ClaimService) List(ctx context.Context, f model.ClaimFilter) ([]model.Claim, int, error) {
	if s.lister != nil {
		return s.lister.List(ctx, f)
	}
	claims, total := s.protocol.Claims.List(f)
	return claims, total, nil
}

// Pending lists every open round. When address is set, UserCanVote reports
// whether that account could still cast a minimum stake vote on it.
func (s *ClaimService) Pending(address string) []PendingClaim {
	now := s.protocol.Now()
	rounds := s.protocol.Pool.OpenRounds(now)

	var acct *model.Account
	if address != "" {
		if a, err := s.protocol.Accounts.Get(address); err == nil {
			acct = &a
		}
	}

	out := make([]PendingClaim, 0, len(rounds))
	for _, r := range rounds {
		claim, err := s.protocol.Claims.Get(r.ClaimID)
		if err != nil {
			continue
		}
		pc := PendingClaim{
			ClaimID:       r.ClaimID,
			Category:      claim.Category,
			EndTime:       r.EndTime,
			TimeRemaining: int64(r.EndTime.Sub(now).Seconds()),
			VoterCount:    r.VoterCount,
			TotalStake:    r.ParticipatingStake(),
		}
		if acct != nil {
			pc.UserCanVote = !s.protocol.Pool.HasVoted(r.ClaimID, address) &&
				acct.Available() >= r.Params.MinStake
		}
		out = append(out, pc)
	}
	return out
}
