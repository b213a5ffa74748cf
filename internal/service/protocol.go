package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/blobstore"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/market"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/registry"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/reputation"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/validation"
)

// Settings are the protocol constants a Protocol is built with.
type Settings struct {
	InitialGrant   int64
	VotingDuration time.Duration
	AutoOpenRounds bool
	Params         model.Params
	Limits         model.MarketLimits
}

func DefaultSettings() Settings {
	return Settings{
		InitialGrant:   reputation.DefaultInitialGrant,
		VotingDuration: registry.DefaultVotingDuration,
		AutoOpenRounds: true,
		Params:         model.DefaultParams(),
		Limits:         model.DefaultMarketLimits(),
	}
}

// Clock is the protocol time source. Replay pins it to each journaled
// operation's timestamp.
type Clock struct {
	mu     sync.RWMutex
	base   func() time.Time
	pinned time.Time
}

func NewClock(base func() time.Time) *Clock {
	if base == nil {
		base = time.Now
	}
	return &Clock{base: base}
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.pinned.IsZero() {
		return c.pinned
	}
	return c.base()
}

func (c *Clock) pin(t time.Time) {
	c.mu.Lock()
	c.pinned = t
	c.mu.Unlock()
}

func (c *Clock) unpin() { c.pin(time.Time{}) }

// switchJournal routes submissions to the live journal, or drops them while
// replaying operations that are already recorded.
type switchJournal struct {
	mu        sync.RWMutex
	live      ledger.Submitter
	replaying bool
}

func (s *switchJournal) Submit(ctx context.Context, op ledger.Operation) (ledger.Receipt, error) {
	s.mu.RLock()
	replaying, live := s.replaying, s.live
	s.mu.RUnlock()
	if replaying {
		return ledger.Discard.Submit(ctx, op)
	}
	return live.Submit(ctx, op)
}

func (s *switchJournal) setReplaying(v bool) {
	s.mu.Lock()
	s.replaying = v
	s.mu.Unlock()
}

// Protocol composes the ledger, registry, validation pool and market book
// behind one journal, content store and event bus.
type Protocol struct {
	Accounts *reputation.Ledger
	Audit    *reputation.AuditLog
	Claims   *registry.Registry
	Pool     *validation.Pool
	Markets  *market.Book

	settings Settings
	blobs    blobstore.Store
	journal  *switchJournal
	clock    *Clock
	events   *EventBus
	changes  *ChangeSet
	log      zerolog.Logger
}

type Option func(*Protocol)

func WithClock(now func() time.Time) Option {
	return func(p *Protocol) { p.clock = NewClock(now) }
}

func WithEvents(bus *EventBus) Option {
	return func(p *Protocol) { p.events = bus }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Protocol) { p.log = log.With().Str("component", "protocol").Logger() }
}

func NewProtocol(journal ledger.Submitter, blobs blobstore.Store, settings Settings, opts ...Option) *Protocol {
	p := &Protocol{
		settings: settings,
		blobs:    blobs,
		journal:  &switchJournal{live: journal},
		clock:    NewClock(time.Now),
		changes:  NewChangeSet(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	now := p.clock.Now
	p.Audit = reputation.NewAuditLog()
	p.Accounts = reputation.NewLedger(p.journal,
		reputation.WithInitialGrant(settings.InitialGrant),
		reputation.WithClock(now))
	p.Claims = registry.New(p.journal,
		registry.WithVotingDuration(settings.VotingDuration),
		registry.WithClock(now))
	p.Pool = validation.NewPool(p.Accounts, p.Claims, p.Audit, p.journal,
		validation.WithParams(settings.Params),
		validation.WithClock(now))
	p.Markets = market.NewBook(p.Claims, p.journal,
		market.WithLimits(settings.Limits),
		market.WithClock(now))
	return p
}

func (p *Protocol) Settings() Settings { return p.settings }
func (p *Protocol) Now() time.Time { return p.clock.Now() }
func (p *Protocol) Changes() *ChangeSet { return p.changes }
func (p *Protocol) Events() *EventBus { return p.events }
func (p *Protocol) Blobs() blobstore.Store { return p.blobs }
func (p *Protocol) Logger() *zerolog.Logger { return &p.log }

func (p *Protocol) OptIn(ctx context.Context, address string) (model.Account, error) {
	if _, err := p.Accounts.OptIn(ctx, address); err != nil {
		return model.Account{}, err
	}
	p.changes.MarkAccount(address)
	return p.Accounts.Get(address)
}

// Mint is the admin top-up of an existing account.
func (p *Protocol) Mint(ctx context.Context, address string, amount int64) (model.Account, error) {
	if _, err := p.Accounts.Mint(ctx, address, amount); err != nil {
		return model.Account{}, err
	}
	p.changes.MarkAccount(address)
	p.log.Warn().Str("address", address).Int64("amount", amount).Msg("reputation minted")
	return p.Accounts.Get(address)
}

// ClaimInput is a new claim document with its submitter.
type ClaimInput struct {
	Title        string
	Content      string
	Category     model.Category
	EvidenceURLs []string
	Submitter    string
}

// SubmitClaim stores the claim document, registers the claim and, when
// configured, opens its validation round straight away.
func (p *Protocol) SubmitClaim(ctx context.Context, in ClaimInput) (model.Claim, error) {
	if !model.ValidCategory(in.Category) {
		return model.Claim{}, model.ErrInvalidCategory.With("invalid category %q", in.Category)
	}
	doc := model.ClaimContent{
		Title:        strings.TrimSpace(in.Title),
		Content:      strings.TrimSpace(in.Content),
		Category:     in.Category,
		EvidenceURLs: in.EvidenceURLs,
	}
	if doc.EvidenceURLs == nil {
		doc.EvidenceURLs = []string{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return model.Claim{}, fmt.Errorf("encode claim content: %w", err)
	}
	ref, err := p.blobs.Put(ctx, data)
	if err != nil {
		return model.Claim{}, fmt.Errorf("store claim content: %w", err)
	}

	id, err := p.Claims.Submit(ctx, ref, in.Category, in.Submitter)
	if err != nil {
		return model.Claim{}, err
	}
	p.changes.MarkClaim(id)

	if p.settings.AutoOpenRounds {
		if _, err := p.Pool.OpenRound(ctx, id, p.settings.VotingDuration); err != nil {
			p.log.Warn().Err(err).Uint64("claim_id", id).Msg("auto-open round failed")
		}
	}

	claim, err := p.Claims.Get(id)
	if err != nil {
		return model.Claim{}, err
	}
	p.events.Publish(EventClaimSubmitted, claim)
	return claim, nil
}

// ClaimContent loads the stored document of a claim.
func (p *Protocol) ClaimContent(ctx context.Context, claimID uint64) (model.ClaimContent, error) {
	claim, err := p.Claims.Get(claimID)
	if err != nil {
		return model.ClaimContent{}, err
	}
	data, err := p.blobs.Get(ctx, claim.ContentRef)
	if err != nil {
		return model.ClaimContent{}, err
	}
	var doc model.ClaimContent
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.ClaimContent{}, fmt.Errorf("decode claim %d content: %w", claimID, err)
	}
	return doc, nil
}

// OpenRound opens a round lasting the configured voting duration.
func (p *Protocol) OpenRound(ctx context.Context, claimID uint64) (model.ValidationRound, error) {
	r, err := p.Pool.OpenRound(ctx, claimID, p.settings.VotingDuration)
	if err != nil {
		return model.ValidationRound{}, err
	}
	p.changes.MarkClaim(claimID)
	return r, nil
}

func (p *Protocol) CastVote(ctx context.Context, claimID uint64, voter string, voteType model.VoteType, stake int64) (model.Vote, error) {
	v, err := p.Pool.CastVote(ctx, claimID, voter, voteType, stake)
	if err != nil {
		return model.Vote{}, err
	}
	p.changes.MarkClaim(claimID)
	p.changes.MarkAccount(voter)
	p.events.Publish(EventVoteCast, v)
	return v, nil
}

func (p *Protocol) Resolve(ctx context.Context, claimID uint64) (model.Resolution, error) {
	res, err := p.Pool.Resolve(ctx, claimID)
	if res.ClaimID == 0 {
		return model.Resolution{}, err
	}
	// A resolution returned with an error is recorded but partially applied.
	p.markRound(claimID)
	p.events.Publish(EventRoundResolved, res)
	if err != nil {
		p.log.Error().Err(err).Uint64("claim_id", claimID).Msg("round resolved with partial effects")
	}
	return res, err
}

// Cancel is the admin emergency stop of a round.
func (p *Protocol) Cancel(ctx context.Context, claimID uint64) (model.Resolution, error) {
	res, err := p.Pool.Cancel(ctx, claimID)
	if res.ClaimID == 0 {
		return model.Resolution{}, err
	}
	p.markRound(claimID)
	p.log.Warn().Err(err).Uint64("claim_id", claimID).Msg("validation round cancelled")
	p.events.Publish(EventRoundResolved, res)
	return res, err
}

func (p *Protocol) UpdateParams(ctx context.Context, params model.Params) error {
	if err := p.Pool.UpdateParams(ctx, params); err != nil {
		return err
	}
	p.log.Info().Interface("params", params).Msg("protocol parameters updated")
	return nil
}

func (p *Protocol) markRound(claimID uint64) {
	p.changes.MarkClaim(claimID)
	votes, err := p.Pool.Votes(claimID)
	if err != nil {
		return
	}
	for _, v := range votes {
		p.changes.MarkAccount(v.Voter)
	}
}

func (p *Protocol) CreateMarket(ctx context.Context, claimID uint64, initialLiquidity float64, durationHours int) (model.PredictionMarket, error) {
	id, err := p.Markets.CreateMarket(ctx, claimID, initialLiquidity, durationHours)
	if err != nil {
		return model.PredictionMarket{}, err
	}
	m, err := p.Markets.Get(id)
	if err != nil {
		return model.PredictionMarket{}, err
	}
	p.changes.MarkMarket(id)
	p.events.Publish(EventMarketCreated, m)
	return m, nil
}

func (p *Protocol) PlaceBet(ctx context.Context, marketID uint64, account string, side model.Side, amount float64) (model.BetResult, error) {
	if strings.TrimSpace(account) == "" {
		return model.BetResult{}, model.ErrInvalidAddress
	}
	res, err := p.Markets.PlaceBet(ctx, marketID, account, side, amount)
	if err != nil {
		return model.BetResult{}, err
	}
	p.changes.MarkMarket(marketID)
	p.events.Publish(EventBetPlaced, res)
	return res, nil
}

func (p *Protocol) Settle(ctx context.Context, marketID uint64, outcome bool) (model.PredictionMarket, error) {
	if err := p.Markets.Settle(ctx, marketID, outcome); err != nil {
		return model.PredictionMarket{}, err
	}
	m, err := p.Markets.Get(marketID)
	if err != nil {
		return model.PredictionMarket{}, err
	}
	p.changes.MarkMarket(marketID)
	p.events.Publish(EventMarketSettled, m)
	return m, nil
}

// SettleFromClaim settles a market to the outcome implied by its claim's
// terminal status.
func (p *Protocol) SettleFromClaim(ctx context.Context, marketID uint64) (model.PredictionMarket, error) {
	m, err := p.Markets.Get(marketID)
	if err != nil {
		return model.PredictionMarket{}, err
	}
	claim, err := p.Claims.Get(m.ClaimID)
	if err != nil {
		return model.PredictionMarket{}, err
	}
	outcome, ok := claim.Status.MarketOutcome()
	if !ok {
		return model.PredictionMarket{}, model.ErrNotSettleable.With("claim %d is %s", claim.ID, claim.Status)
	}
	return p.Settle(ctx, marketID, outcome)
}

func (p *Protocol) Redeem(ctx context.Context, marketID uint64, account string) (model.Redemption, error) {
	r, err := p.Markets.Redeem(ctx, marketID, account)
	if err != nil {
		return model.Redemption{}, err
	}
	p.changes.MarkMarket(marketID)
	return r, nil
}
