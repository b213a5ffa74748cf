// Package market implements constant-product YES/NO prediction markets bound
// to claims.
package market

import (
	"math"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// Price bounds keep an open market from ever quoting certainty.
const (
	MinPrice = 0.01
	MaxPrice = 0.99
)

func clamp(p float64) float64 {
	return math.Min(math.Max(p, MinPrice), MaxPrice)
}

// Prices returns the clamped YES and NO prices for the given stake totals.
func Prices(yesStake, noStake float64) (yes, no float64) {
	total := yesStake + noStake
	if total <= 0 {
		return 0.5, 0.5
	}
	p := yesStake / total
	return clamp(p), clamp(1 - p)
}

// Trade applies amount to the chosen side under the invariant
// same * opposite = k and returns the new totals and the shares bought.
func Trade(same, opposite, amount float64) (newSame, newOpposite, shares float64, err error) {
	if same <= 0 || opposite <= 0 {
		return 0, 0, 0, model.ErrDegenerateMarket
	}
	k := same * opposite
	newSame = same + amount
	if newSame <= 0 {
		return 0, 0, 0, model.ErrDegenerateMarket
	}
	newOpposite = k / newSame
	if newOpposite <= 0 || math.IsNaN(newOpposite) || math.IsInf(newSame, 0) {
		return 0, 0, 0, model.ErrDegenerateMarket
	}
	shares = opposite - newOpposite
	return newSame, newOpposite, shares, nil
}
