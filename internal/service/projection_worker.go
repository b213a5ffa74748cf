package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// ChangeSet collects the ids touched since the last projection flush.
type ChangeSet struct {
	mu       sync.Mutex
	claims   map[uint64]struct{}
	accounts map[string]struct{}
	markets  map[uint64]struct{}
	audit    bool
}

// Changes is a drained ChangeSet.
type Changes struct {
	Claims   []uint64
	Accounts []string
	Markets  []uint64
	Audit    bool
}

func (c Changes) Empty() bool {
	return len(c.Claims) == 0 && len(c.Accounts) == 0 && len(c.Markets) == 0 && !c.Audit
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		claims:   make(map[uint64]struct{}),
		accounts: make(map[string]struct{}),
		markets:  make(map[uint64]struct{}),
	}
}

// MarkClaim also flags the audit log, which only grows when rounds resolve.
func (s *ChangeSet) MarkClaim(id uint64) {
	s.mu.Lock()
	s.claims[id] = struct{}{}
	s.audit = true
	s.mu.Unlock()
}

func (s *ChangeSet) MarkAccount(address string) {
	s.mu.Lock()
	s.accounts[address] = struct{}{}
	s.mu.Unlock()
}

func (s *ChangeSet) MarkMarket(id uint64) {
	s.mu.Lock()
	s.markets[id] = struct{}{}
	s.mu.Unlock()
}

func (s *ChangeSet) MarkAudit() {
	s.mu.Lock()
	s.audit = true
	s.mu.Unlock()
}

// Drain swaps out the pending sets.
func (s *ChangeSet) Drain() Changes {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Changes
	for id := range s.claims {
		out.Claims = append(out.Claims, id)
	}
	for a := range s.accounts {
		out.Accounts = append(out.Accounts, a)
	}
	for id := range s.markets {
		out.Markets = append(out.Markets, id)
	}
	out.Audit = s.audit
	s.claims = make(map[uint64]struct{})
	s.accounts = make(map[string]struct{})
	s.markets = make(map[uint64]struct{})
	s.audit = false
	return out
}

// Requeue puts back changes whose flush failed.
func (s *ChangeSet) Requeue(c Changes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range c.Claims {
		s.claims[id] = struct{}{}
	}
	for _, a := range c.Accounts {
		s.accounts[a] = struct{}{}
	}
	for _, id := range c.Markets {
		s.markets[id] = struct{}{}
	}
	s.audit = s.audit || c.Audit
}

// ProjectionStore is the read-model sink.
type ProjectionStore interface {
	UpsertClaims(ctx context.Context, claims []model.Claim) error
	UpsertAccounts(ctx context.Context, accounts []model.Account) error
	UpsertMarkets(ctx context.Context, markets []model.PredictionMarket) error
	AppendAudit(ctx context.Context, first int, entries []model.AuditEntry) error
}

type nopStore struct{}

func (nopStore) UpsertClaims(context.Context, []model.Claim) error { return nil }
func (nopStore) UpsertAccounts(context.Context, []model.Account) error { return nil }
func (nopStore) UpsertMarkets(context.Context, []model.PredictionMarket) error { return nil }
func (nopStore) AppendAudit(context.Context, int, []model.AuditEntry) error { return nil }

// CacheInvalidator drops cached reads for changed records.
type CacheInvalidator interface {
	InvalidateClaim(ctx context.Context, id uint64) error
	InvalidateMarket(ctx context.Context, id uint64) error
	InvalidateAccount(ctx context.Context, address string) error
}

// ProjectionWorker batches state changes and writes them to the projection
// tables. If 50 votes hit claim X in one window, it is written once.
type ProjectionWorker struct {
	protocol *Protocol
	store    ProjectionStore
	cache    CacheInvalidator
	interval time.Duration
	log      zerolog.Logger

	auditCursor int
	observe     func(time.Duration)
}

// NewProjectionWorker creates a projection worker. cache may be nil. A nil
// store only invalidates the cache.
func NewProjectionWorker(p *Protocol, store ProjectionStore, cache CacheInvalidator, interval time.Duration, log zerolog.Logger) *ProjectionWorker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if store == nil {
		store = nopStore{}
	}
	return &ProjectionWorker{
		protocol: p,
		store:    store,
		cache:    cache,
		interval: interval,
		log:      log.With().Str("component", "projection-worker").Logger(),
	}
}

// ResumeAudit sets how many audit entries are already stored.
func (w *ProjectionWorker) ResumeAudit(n int) { w.auditCursor = n }

// OnFlush registers a callback receiving each flush duration.
func (w *ProjectionWorker) OnFlush(fn func(time.Duration)) { w.observe = fn }

// Start flushes on every tick until ctx is cancelled, then flushes once more.
func (w *ProjectionWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("starting")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Flush(ctx)
		case <-ctx.Done():
			// Final flush before exit
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.Flush(flushCtx)
			cancel()
			w.log.Info().Msg("stopping (context cancelled)")
			return
		}
	}
}

// Flush drains the change set and writes current snapshots. Failed batches
// are requeued for the next tick.
func (w *ProjectionWorker) Flush(ctx context.Context) {
	changes := w.protocol.changes.Drain()
	if changes.Empty() {
		return
	}
	start := time.Now()

	var failed Changes
	claims := make([]model.Claim, 0, len(changes.Claims))
	for _, id := range changes.Claims {
		if c, err := w.protocol.Claims.Get(id); err == nil {
			claims = append(claims, c)
		}
	}
	if err := w.store.UpsertClaims(ctx, claims); err != nil {
		w.log.Error().Err(err).Int("count", len(claims)).Msg("upsert claims failed")
		failed.Claims = changes.Claims
	}

	accounts := make([]model.Account, 0, len(changes.Accounts))
	for _, addr := range changes.Accounts {
		if a, err := w.protocol.Accounts.Get(addr); err == nil {
			accounts = append(accounts, a)
		}
	}
	if err := w.store.UpsertAccounts(ctx, accounts); err != nil {
		w.log.Error().Err(err).Int("count", len(accounts)).Msg("upsert accounts failed")
		failed.Accounts = changes.Accounts
	}

	markets := make([]model.PredictionMarket, 0, len(changes.Markets))
	for _, id := range changes.Markets {
		if m, err := w.protocol.Markets.Get(id); err == nil {
			markets = append(markets, m)
		}
	}
	if err := w.store.UpsertMarkets(ctx, markets); err != nil {
		w.log.Error().Err(err).Int("count", len(markets)).Msg("upsert markets failed")
		failed.Markets = changes.Markets
	}

	if changes.Audit {
		entries, next := w.protocol.Audit.Since(w.auditCursor)
		if err := w.store.AppendAudit(ctx, w.auditCursor, entries); err != nil {
			w.log.Error().Err(err).Int("count", len(entries)).Msg("append audit failed")
			failed.Audit = true
		} else {
			w.auditCursor = next
		}
	}

	if !failed.Empty() {
		w.protocol.changes.Requeue(failed)
	}
	w.invalidate(ctx, changes)

	elapsed := time.Since(start)
	if w.observe != nil {
		w.observe(elapsed)
	}
	w.log.Debug().
		Int("claims", len(claims)).
		Int("accounts", len(accounts)).
		Int("markets", len(markets)).
		Dur("duration", elapsed).
		Msg("batch complete")
}

// invalidate removes cache entries so next read gets fresh data.
func (w *ProjectionWorker) invalidate(ctx context.Context, changes Changes) {
	if w.cache == nil {
		return
	}
	for _, id := range changes.Claims {
		if err := w.cache.InvalidateClaim(ctx, id); err != nil {
			w.log.Warn().Err(err).Uint64("claim_id", id).Msg("cache invalidate failed")
		}
	}
	for _, id := range changes.Markets {
		if err := w.cache.InvalidateMarket(ctx, id); err != nil {
			w.log.Warn().Err(err).Uint64("market_id", id).Msg("cache invalidate failed")
		}
	}
	for _, addr := range changes.Accounts {
		if err := w.cache.InvalidateAccount(ctx, addr); err != nil {
			w.log.Warn().Err(err).Msg("cache invalidate failed")
		}
	}
}
