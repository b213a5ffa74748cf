package service

import (
	"context"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/market"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/repository"
)

// ProjectionStatter reads aggregate counts from the projection tables.
type ProjectionStatter interface {
	GetStats(ctx context.Context) (*repository.ProjectionStats, error)
}

// Stats is the platform summary served by /stats.
type Stats struct {
	TotalClaims    int                         `json:"totalClaims"`
	ClaimsByStatus map[model.Status]int        `json:"claimsByStatus"`
	OpenRounds     int                         `json:"openRounds"`
	Accounts       int                         `json:"accounts"`
	TotalSupply    int64                       `json:"totalSupply"`
	AuditEntries   int                         `json:"auditEntries"`
	Markets        int                         `json:"markets"`
	OpenMarkets    int                         `json:"openMarkets"`
	MarketVolume   float64                     `json:"marketVolume"`
	Params         model.Params                `json:"params"`
	Projection     *repository.ProjectionStats `json:"projection,omitempty"`
}

type StatsService struct {
	protocol *Protocol
	store    ProjectionStatter
}

// NewStatsService creates a stats service. store may be nil.
func NewStatsService(p *Protocol, store ProjectionStatter) *StatsService {
	return &StatsService{protocol: p, store: store}
}

// GetStats summarizes live protocol state and, when available, the
// projection tables so lag between the two is visible.
func (s *StatsService) GetStats(ctx context.Context) (*Stats, error) {
	p := s.protocol
	st := &Stats{
		ClaimsByStatus: p.Claims.Count(),
		OpenRounds:     len(p.Pool.OpenRounds(p.Now())),
		Accounts:       p.Accounts.Count(),
		TotalSupply:    p.Accounts.TotalSupply(),
		AuditEntries:   p.Audit.Len(),
		OpenMarkets:    len(p.Markets.List(market.FilterOpen)),
		Params:         p.Pool.Params(),
	}
	for _, n := range st.ClaimsByStatus {
		st.TotalClaims += n
	}
	for _, m := range p.Markets.List("") {
		st.Markets++
		st.MarketVolume += m.Volume
	}

	if s.store != nil {
		proj, err := s.store.GetStats(ctx)
		if err != nil {
			return nil, err
		}
		st.Projection = proj
	}
	return st, nil
}
