package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// RetryConfig bounds how long a submission may take.
type RetryConfig struct {
	Attempts       int
	Interval       time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryConfig mirrors the database connect retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:       5,
		Interval:       200 * time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	}
}

// Retrying wraps a Submitter with a per-attempt timeout and bounded retries.
// Every attempt reuses the operation ID, so a submission that succeeded but
// whose confirmation was lost is not recorded twice.
type Retrying struct {
	next Submitter
	cfg  RetryConfig
	log  zerolog.Logger

	// OnFailure is called once per operation that exhausted its attempts.
	OnFailure func(op Operation, err error)
}

func NewRetrying(next Submitter, cfg RetryConfig, log zerolog.Logger) *Retrying {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Retrying{next: next, cfg: cfg, log: log.With().Str("component", "journal").Logger()}
}

func (r *Retrying) Submit(ctx context.Context, op Operation) (Receipt, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		receipt, err := r.attempt(ctx, op)
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		r.log.Warn().
			Err(err).
			Str("op", op.ID.String()).
			Str("kind", string(op.Kind)).
			Int("attempt", attempt).
			Int("max_attempts", r.cfg.Attempts).
			Msg("submission attempt failed")

		if ctx.Err() != nil {
			break
		}
		if attempt < r.cfg.Attempts {
			select {
			case <-time.After(r.cfg.Interval):
			case <-ctx.Done():
			}
		}
	}

	if r.OnFailure != nil {
		r.OnFailure(op, lastErr)
	}
	return Receipt{}, model.ErrSubmissionFailed.Wrap(lastErr)
}

func (r *Retrying) attempt(ctx context.Context, op Operation) (Receipt, error) {
	if r.cfg.AttemptTimeout <= 0 {
		return r.next.Submit(ctx, op)
	}
	actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()
	return r.next.Submit(actx, op)
}

// Submit sends op through s and normalizes any failure to ErrSubmissionFailed.
func Submit(ctx context.Context, s Submitter, op Operation) (Receipt, error) {
	receipt, err := s.Submit(ctx, op)
	if err != nil {
		if errors.Is(err, model.ErrSubmissionFailed) {
			return Receipt{}, err
		}
		return Receipt{}, model.ErrSubmissionFailed.Wrap(err)
	}
	return receipt, nil
}
