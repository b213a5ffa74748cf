// Package registry owns claim records and enforces the claim lifecycle.
package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/ledger"
	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// DefaultVotingDuration is the voting window set on submission.
const DefaultVotingDuration = 24 * time.Hour

// Principals allowed to move a claim between states.
const (
	AuthorityValidation = "validation-pool"
	AuthorityAdmin      = "admin"
)

type record struct {
	mu sync.Mutex
	model.Claim
}

// Registry stores claims under per-claim locks. The map lock covers id
// assignment and lookup only.
type Registry struct {
	mu     sync.RWMutex
	claims map[uint64]*record
	nextID uint64

	// submitMu serializes id assignment with its journal write so ids are
	// replayed in the order they were handed out.
	submitMu sync.Mutex

	votingDuration time.Duration
	authorized     map[string]bool
	journal        ledger.Submitter
	now            func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithVotingDuration overrides the voting window.
func WithVotingDuration(d time.Duration) Option {
	return func(r *Registry) { r.votingDuration = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithAuthority adds a principal allowed to transition claims.
func WithAuthority(name string) Option {
	return func(r *Registry) { r.authorized[name] = true }
}

func New(journal ledger.Submitter, opts ...Option) *Registry {
	r := &Registry{
		claims:         make(map[uint64]*record),
		votingDuration: DefaultVotingDuration,
		authorized:     map[string]bool{AuthorityValidation: true, AuthorityAdmin: true},
		journal:        journal,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type SubmitPayload struct {
	ContentRef string         `json:"contentRef"`
	Category   model.Category `json:"category"`
}

// Submit registers a claim as PENDING with the next sequence id.
func (r *Registry) Submit(ctx context.Context, contentRef string, category model.Category, submitter string) (uint64, error) {
	contentRef = strings.TrimSpace(contentRef)
	if contentRef == "" {
		return 0, model.ErrInvalidContentRef
	}
	if !model.ValidCategory(category) {
		return 0, model.ErrInvalidCategory.With("invalid category %q", category)
	}

	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	r.mu.RLock()
	id := r.nextID + 1
	r.mu.RUnlock()

	now := r.now()
	op, err := ledger.NewOperation(ledger.KindSubmitClaim, now, SubmitPayload{ContentRef: contentRef, Category: category})
	if err != nil {
		return 0, err
	}
	op.ClaimID = id
	op.Actor = submitter
	if _, err := ledger.Submit(ctx, r.journal, op); err != nil {
		return 0, err
	}

	rec := &record{Claim: model.Claim{
		ID:           id,
		ContentRef:   contentRef,
		Category:     category,
		Status:       model.StatusPending,
		Submitter:    submitter,
		SubmittedAt:  now,
		VotingEndsAt: now.Add(r.votingDuration),
		UpdatedAt:    now,
	}}
	r.mu.Lock()
	r.claims[id] = rec
	r.nextID = id
	r.mu.Unlock()
	return id, nil
}

func (r *Registry) lookup(id uint64) (*record, error) {
	r.mu.RLock()
	rec, ok := r.claims[id]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ErrClaimNotFound.With("claim %d not found", id)
	}
	return rec, nil
}

// Transition moves a claim along the status table. It is not journaled on
// its own; callers record the operation that caused it.
func (r *Registry) Transition(id uint64, to model.Status, authorizedBy string) error {
	if !r.authorized[authorizedBy] {
		return model.ErrUnauthorized.With("%q may not transition claims", authorizedBy)
	}
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.Status.CanTransition(to) {
		return model.ErrIllegalTransition.With("claim %d: %s -> %s", id, rec.Status, to)
	}
	rec.Status = to
	rec.UpdatedAt = r.now()
	return nil
}

// SetStakeTotals mirrors the round's verify and dispute totals onto the claim.
func (r *Registry) SetStakeTotals(id uint64, yes, no int64) error {
	rec, err := r.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	rec.YesStakeTotal = yes
	rec.NoStakeTotal = no
	rec.UpdatedAt = r.now()
	rec.mu.Unlock()
	return nil
}

// Get returns a snapshot of the claim.
func (r *Registry) Get(id uint64) (model.Claim, error) {
	rec, err := r.lookup(id)
	if err != nil {
		return model.Claim{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.Claim, nil
}

// List filters and pages claims held in memory. The total before paging is
// returned alongside the page.
func (r *Registry) List(f model.ClaimFilter) ([]model.Claim, int) {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.claims))
	for _, rec := range r.claims {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	var out []model.Claim
	for _, rec := range recs {
		rec.mu.Lock()
		c := rec.Claim
		rec.mu.Unlock()
		if f.Category != "" && c.Category != f.Category {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, c)
	}

	switch f.Sort {
	case model.SortOldest:
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	case model.SortMostStake:
		sort.Slice(out, func(i, j int) bool {
			si := out[i].YesStakeTotal + out[i].NoStakeTotal
			sj := out[j].YesStakeTotal + out[j].NoStakeTotal
			if si != sj {
				return si > sj
			}
			return out[i].ID > out[j].ID
		})
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}

	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, total
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, total
}

// Count returns the number of claims per status.
func (r *Registry) Count() map[model.Status]int {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.claims))
	for _, rec := range r.claims {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	counts := make(map[model.Status]int)
	for _, rec := range recs {
		rec.mu.Lock()
		counts[rec.Status]++
		rec.mu.Unlock()
	}
	return counts
}
