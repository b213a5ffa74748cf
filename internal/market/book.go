package market

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// Claims is the registry surface markets read claim status from.
type Claims interface {
	Get(id uint64) (model.Claim, error)
}

// Journal payloads.
type (
	CreatePayload struct {
		InitialLiquidity float64 `json:"initialLiquidity"`
		DurationHours    int     `json:"durationHours"`
	}
	BetPayload struct {
		Side   model.Side `json:"side"`
		Amount float64    `json:"amount"`
	}
	SettlePayload struct {
		Outcome bool `json:"outcome"`
	}
)

// Listing filters for List.
const (
	FilterOpen     = "open"
	FilterClosed   = "closed"
	FilterResolved = "resolved"
)

type positionKey struct {
	account string
	side    model.Side
}

type market struct {
	mu sync.Mutex
	model.PredictionMarket
	positions map[positionKey]*model.Position
}

// Book holds every market. Each market is guarded by its own lock; the book
// lock covers id assignment and lookup.
type Book struct {
	mu      sync.RWMutex
	markets map[uint64]*market
	byClaim map[uint64]uint64
	nextID  uint64

	createMu sync.Mutex

	limits  model.MarketLimits
	claims  Claims
	journal ledger.Submitter
	now     func() time.Time
}

// Option configures a Book.
type Option func(*Book)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// WithLimits overrides the default market bounds.
func WithLimits(l model.MarketLimits) Option {
	return func(b *Book) { b.limits = l }
}

func NewBook(claims Claims, journal ledger.Submitter, opts ...Option) *Book {
	b := &Book{
		markets: make(map[uint64]*market),
		byClaim: make(map[uint64]uint64),
		limits:  model.DefaultMarketLimits(),
		claims:  claims,
		journal: journal,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Limits returns the configured bounds.
func (b *Book) Limits() model.MarketLimits {
	return b.limits
}

func (b *Book) lookup(id uint64) (*market, error) {
	b.mu.RLock()
	m, ok := b.markets[id]
	b.mu.RUnlock()
	if !ok {
		return nil, model.ErrMarketNotFound.With("market %d not found", id)
	}
	return m, nil
}

// CreateMarket opens the single market for claimID, seeding both sides with
// half the initial liquidity. durationHours of 0 uses the default.
func (b *Book) CreateMarket(ctx context.Context, claimID uint64, initialLiquidity float64, durationHours int) (uint64, error) {
	if durationHours == 0 {
		durationHours = b.limits.DefaultDurationHrs
	}

	b.createMu.Lock()
	defer b.createMu.Unlock()

	if _, err := b.claims.Get(claimID); err != nil {
		return 0, err
	}
	b.mu.RLock()
	_, exists := b.byClaim[claimID]
	id := b.nextID + 1
	b.mu.RUnlock()
	if exists {
		return 0, model.ErrMarketAlreadyExists.With("claim %d already has a market", claimID)
	}
	if !finite(initialLiquidity) || initialLiquidity < b.limits.MinLiquidity || initialLiquidity > b.limits.MaxLiquidity {
		return 0, model.ErrInvalidLiquidity.With("initial liquidity must be within %.0f-%.0f",
			b.limits.MinLiquidity, b.limits.MaxLiquidity)
	}
	if durationHours < b.limits.MinDurationHours || durationHours > b.limits.MaxDurationHours {
		return 0, model.ErrInvalidDuration.With("duration must be within %d-%d hours",
			b.limits.MinDurationHours, b.limits.MaxDurationHours)
	}

	now := b.now()
	op, err := ledger.NewOperation(ledger.KindCreateMarket, now, CreatePayload{
		InitialLiquidity: initialLiquidity,
		DurationHours:    durationHours,
	})
	if err != nil {
		return 0, err
	}
	op.ClaimID = claimID
	op.MarketID = id
	if _, err := ledger.Submit(ctx, b.journal, op); err != nil {
		return 0, err
	}

	half := initialLiquidity / 2
	m := &market{
		PredictionMarket: model.PredictionMarket{
			ID:               id,
			ClaimID:          claimID,
			YesStake:         half,
			NoStake:          half,
			InitialLiquidity: initialLiquidity,
			CreatedAt:        now,
			ExpiresAt:        now.Add(time.Duration(durationHours) * time.Hour),
		},
		positions: make(map[positionKey]*model.Position),
	}
	b.mu.Lock()
	b.markets[id] = m
	b.byClaim[claimID] = id
	b.nextID = id
	b.mu.Unlock()
	return id, nil
}

// PlaceBet buys shares of side with amount.
func (b *Book) PlaceBet(ctx context.Context, marketID uint64, account string, side model.Side, amount float64) (model.BetResult, error) {
	if _, ok := model.ParseSide(string(side)); !ok {
		return model.BetResult{}, model.ErrInvalidSide
	}
	if account == "" {
		return model.BetResult{}, model.ErrInvalidAddress
	}
	m, err := b.lookup(marketID)
	if err != nil {
		return model.BetResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := b.now()
	if !m.Open(now) {
		return model.BetResult{}, model.ErrMarketClosed.With("market %d is closed", marketID)
	}
	if !finite(amount) || amount < b.limits.MinBet || amount > b.limits.MaxBet {
		return model.BetResult{}, model.ErrInvalidAmount.With("bet must be within %.0f-%.0f", b.limits.MinBet, b.limits.MaxBet)
	}

	same, opposite := m.YesStake, m.NoStake
	if side == model.SideNo {
		same, opposite = opposite, same
	}
	newSame, newOpposite, shares, err := Trade(same, opposite, amount)
	if err != nil {
		return model.BetResult{}, err
	}

	op, err := ledger.NewOperation(ledger.KindPlaceBet, now, BetPayload{Side: side, Amount: amount})
	if err != nil {
		return model.BetResult{}, err
	}
	op.MarketID = marketID
	op.ClaimID = m.ClaimID
	op.Actor = account
	if _, err := ledger.Submit(ctx, b.journal, op); err != nil {
		return model.BetResult{}, err
	}

	if side == model.SideYes {
		m.YesStake, m.NoStake = newSame, newOpposite
		m.YesShares += shares
	} else {
		m.NoStake, m.YesStake = newSame, newOpposite
		m.NoShares += shares
	}
	m.Volume += amount

	key := positionKey{account: account, side: side}
	pos, ok := m.positions[key]
	if !ok {
		pos = &model.Position{MarketID: marketID, Account: account, Side: side}
		m.positions[key] = pos
	}
	pos.Shares += shares
	pos.AmountInvested += amount

	yes, no := Prices(m.YesStake, m.NoStake)
	return model.BetResult{
		MarketID:        marketID,
		Side:            side,
		Amount:          amount,
		SharesBought:    shares,
		AvgPrice:        amount / shares,
		PotentialPayout: shares,
		YesPrice:        yes,
		NoPrice:         no,
	}, nil
}

// Settle records the outcome once the claim is terminal. The outcome must
// agree with the claim: VERIFIED settles true, DEBUNKED and DISPUTED false.
// Payouts are computed lazily by Redeem.
func (b *Book) Settle(ctx context.Context, marketID uint64, outcome bool) error {
	m, err := b.lookup(marketID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Resolved {
		return model.ErrAlreadySettled.With("market %d already settled", marketID)
	}
	claim, err := b.claims.Get(m.ClaimID)
	if err != nil {
		return err
	}
	expected, ok := claim.Status.MarketOutcome()
	if !ok {
		return model.ErrNotSettleable.With("claim %d is %s", claim.ID, claim.Status)
	}
	if outcome != expected {
		return model.ErrOutcomeMismatch.With("claim %d is %s", claim.ID, claim.Status)
	}

	op, err := ledger.NewOperation(ledger.KindSettle, b.now(), SettlePayload{Outcome: outcome})
	if err != nil {
		return err
	}
	op.MarketID = marketID
	op.ClaimID = m.ClaimID
	if _, err := ledger.Submit(ctx, b.journal, op); err != nil {
		return err
	}

	m.Resolved = true
	m.Outcome = &outcome
	return nil
}

// Redeem pays out account's winning position pro rata from the locked
// liquidity. Each position redeems once.
func (b *Book) Redeem(ctx context.Context, marketID uint64, account string) (model.Redemption, error) {
	m, err := b.lookup(marketID)
	if err != nil {
		return model.Redemption{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Resolved || m.Outcome == nil {
		return model.Redemption{}, model.ErrNotSettled.With("market %d is not settled", marketID)
	}

	side := model.SideNo
	winningShares := m.NoShares
	if *m.Outcome {
		side = model.SideYes
		winningShares = m.YesShares
	}
	pos, ok := m.positions[positionKey{account: account, side: side}]
	if !ok || pos.Shares <= 0 {
		return model.Redemption{}, model.ErrNothingToRedeem.With("%s holds no %s shares in market %d", account, side, marketID)
	}
	if pos.Redeemed {
		return model.Redemption{}, model.ErrNothingToRedeem.With("%s already redeemed market %d", account, marketID)
	}

	payout := proRata(m.LockedLiquidity(), pos.Shares, winningShares)

	op, err := ledger.NewOperation(ledger.KindRedeem, b.now(), nil)
	if err != nil {
		return model.Redemption{}, err
	}
	op.MarketID = marketID
	op.ClaimID = m.ClaimID
	op.Actor = account
	if _, err := ledger.Submit(ctx, b.journal, op); err != nil {
		return model.Redemption{}, err
	}

	pos.Redeemed = true
	pos.Payout = payout
	return model.Redemption{
		MarketID: marketID,
		Account:  account,
		Side:     side,
		Shares:   pos.Shares,
		Payout:   payout,
	}, nil
}

// proRata is pool * shares / totalShares, rounded to six places.
func proRata(pool, shares, totalShares float64) float64 {
	if totalShares <= 0 {
		return 0
	}
	v := decimal.NewFromFloat(pool).
		Mul(decimal.NewFromFloat(shares)).
		Div(decimal.NewFromFloat(totalShares)).
		Round(6)
	f, _ := v.Float64()
	return f
}

// Value is the mark-to-market value of a position at current prices.
func Value(m model.PredictionMarket, pos model.Position) float64 {
	if m.Resolved && m.Outcome != nil {
		if pos.Side.Wins(*m.Outcome) && !pos.Redeemed {
			return proRata(m.LockedLiquidity(), pos.Shares, winningShares(m))
		}
		return 0
	}
	yes, no := Prices(m.YesStake, m.NoStake)
	price := yes
	if pos.Side == model.SideNo {
		price = no
	}
	f, _ := decimal.NewFromFloat(pos.Shares).Mul(decimal.NewFromFloat(price)).Round(6).Float64()
	return f
}

func winningShares(m model.PredictionMarket) float64 {
	if m.Outcome != nil && *m.Outcome {
		return m.YesShares
	}
	return m.NoShares
}

// Get returns a snapshot of the market.
func (b *Book) Get(id uint64) (model.PredictionMarket, error) {
	m, err := b.lookup(id)
	if err != nil {
		return model.PredictionMarket{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(), nil
}

func (m *market) snapshot() model.PredictionMarket {
	out := m.PredictionMarket
	if m.Outcome != nil {
		o := *m.Outcome
		out.Outcome = &o
	}
	return out
}

// ForClaim returns the market bound to claimID.
func (b *Book) ForClaim(claimID uint64) (model.PredictionMarket, error) {
	b.mu.RLock()
	id, ok := b.byClaim[claimID]
	b.mu.RUnlock()
	if !ok {
		return model.PredictionMarket{}, model.ErrMarketNotFound.With("no market for claim %d", claimID)
	}
	return b.Get(id)
}

func (b *Book) all() []*market {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*market, 0, len(b.markets))
	for _, m := range b.markets {
		out = append(out, m)
	}
	return out
}

// List returns markets matching filter ("", open, closed, resolved), newest
// first.
func (b *Book) List(filter string) []model.PredictionMarket {
	now := b.now()
	var out []model.PredictionMarket
	for _, m := range b.all() {
		m.mu.Lock()
		snap := m.snapshot()
		m.mu.Unlock()
		switch filter {
		case FilterOpen:
			if !snap.Open(now) {
				continue
			}
		case FilterClosed:
			if snap.Resolved || snap.Open(now) {
				continue
			}
		case FilterResolved:
			if !snap.Resolved {
				continue
			}
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Positions returns every position held by account, by market.
func (b *Book) Positions(account string) []model.Position {
	var out []model.Position
	for _, m := range b.all() {
		m.mu.Lock()
		for key, pos := range m.positions {
			if key.account == account {
				out = append(out, *pos)
			}
		}
		m.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// Settleable returns unresolved markets whose claim has reached a terminal
// status, with the outcome each must settle to.
func (b *Book) Settleable() map[uint64]bool {
	out := make(map[uint64]bool)
	for _, m := range b.all() {
		m.mu.Lock()
		resolved, claimID, id := m.Resolved, m.ClaimID, m.ID
		m.mu.Unlock()
		if resolved {
			continue
		}
		claim, err := b.claims.Get(claimID)
		if err != nil {
			continue
		}
		if outcome, ok := claim.Status.MarketOutcome(); ok {
			out[id] = outcome
		}
	}
	return out
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
