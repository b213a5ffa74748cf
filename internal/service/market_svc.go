package service

import (
	"context"
	"encoding/json"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/market"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// MarketView is a market with its current implied prices.
type MarketView struct {
	model.PredictionMarket
	YesPrice float64 `json:"yesPrice"`
	NoPrice  float64 `json:"noPrice"`
	Status   string  `json:"status"`
}

type MarketService struct {
	protocol *Protocol
	cache    *CacheService
}

// NewMarketService creates a market read service. cache may be nil.
func NewMarketService(p *Protocol, cache *CacheService) *MarketService {
	return &MarketService{protocol: p, cache: cache}
}

func (s *MarketService) view(m model.PredictionMarket) MarketView {
	yes, no := market.Prices(m.YesStake, m.NoStake)
	v := MarketView{PredictionMarket: m, YesPrice: yes, NoPrice: no}
	switch {
	case m.Resolved:
		v.Status = market.FilterResolved
	case m.Open(s.protocol.Now()):
		v.Status = market.FilterOpen
	default:
		v.Status = market.FilterClosed
	}
	return v
}

// Get returns the market view and whether it came from the cache.
func (s *MarketService) Get(ctx context.Context, id uint64) (MarketView, bool, error) {
	if s.cache != nil {
		if data, err := s.cache.GetMarket(ctx, id); err == nil && data != nil {
			var v MarketView
			if json.Unmarshal(data, &v) == nil {
				return v, true, nil
			}
		}
	}

	m, err := s.protocol.Markets.Get(id)
	if err != nil {
		return MarketView{}, false, err
	}
	v := s.view(m)
	if s.cache != nil {
		if err := s.cache.SetMarket(ctx, id, v); err != nil {
			s.protocol.log.Warn().Err(err).Uint64("market_id", id).Msg("cache set failed")
		}
	}
	return v, false, nil
}

// List returns markets matching filter (open, closed, resolved or "" for all).
func (s *MarketService) List(filter string) []MarketView {
	markets := s.protocol.Markets.List(filter)
	out := make([]MarketView, 0, len(markets))
	for _, m := range markets {
		out = append(out, s.view(m))
	}
	return out
}

// Positions returns every position of account with its current value.
func (s *MarketService) Positions(account string) []PositionView {
	positions := s.protocol.Markets.Positions(account)
	out := make([]PositionView, 0, len(positions))
	for _, pos := range positions {
		m, err := s.protocol.Markets.Get(pos.MarketID)
		if err != nil {
			continue
		}
		out = append(out, PositionView{Position: pos, Value: market.Value(m, pos)})
	}
	return out
}
