package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can tell a retryable condition from
// a permanent rejection.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindNotFound
	KindInvalidInput
	KindStateConflict
	KindInsufficientResource
	KindSubmissionFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindInvalidInput:
		return "InvalidInput"
	case KindStateConflict:
		return "StateConflict"
	case KindInsufficientResource:
		return "InsufficientResource"
	case KindSubmissionFailed:
		return "SubmissionFailed"
	default:
		return "Internal"
	}
}

// Error is the typed failure returned by every core operation.
// Two errors match under errors.Is when their codes are equal, so a sentinel
// can be enriched with detail via With and still be matched.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of e carrying a more specific message.
func (e *Error) With(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func newError(kind ErrorKind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// KindOf reports the kind of err, or KindInternal for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Reputation ledger.
var (
	ErrNotOptedIn                   = newError(KindNotFound, "NOT_OPTED_IN", "account has not opted in")
	ErrInsufficientAvailableBalance = newError(KindInsufficientResource, "INSUFFICIENT_AVAILABLE_BALANCE", "stake exceeds available balance")
	ErrOverRelease                  = newError(KindStateConflict, "OVER_RELEASE", "release exceeds staked amount")
	ErrInvalidAmount                = newError(KindInvalidInput, "INVALID_AMOUNT", "amount out of bounds")
	ErrInvalidAddress               = newError(KindInvalidInput, "INVALID_ADDRESS", "invalid account address")
)

// Claim registry.
var (
	ErrClaimNotFound     = newError(KindNotFound, "CLAIM_NOT_FOUND", "claim not found")
	ErrInvalidCategory   = newError(KindInvalidInput, "INVALID_CATEGORY", "invalid category")
	ErrIllegalTransition = newError(KindStateConflict, "ILLEGAL_TRANSITION", "illegal status transition")
	ErrUnauthorized      = newError(KindInvalidInput, "UNAUTHORIZED", "caller is not authorized")
	ErrInvalidContentRef = newError(KindInvalidInput, "INVALID_CONTENT_REF", "content reference is required")
)

// Validation pool.
var (
	ErrAlreadyOpen       = newError(KindStateConflict, "ALREADY_OPEN", "validation round already open")
	ErrRoundNotFound     = newError(KindNotFound, "ROUND_NOT_FOUND", "validation round not found")
	ErrRoundClosed       = newError(KindStateConflict, "ROUND_CLOSED", "validation round is closed")
	ErrAlreadyVoted      = newError(KindStateConflict, "ALREADY_VOTED", "voter already voted on this claim")
	ErrStakeBelowMinimum = newError(KindInsufficientResource, "STAKE_BELOW_MINIMUM", "stake below minimum")
	ErrStakeAboveMaximum = newError(KindInvalidInput, "STAKE_ABOVE_MAXIMUM", "stake above maximum")
	ErrInvalidVoteType   = newError(KindInvalidInput, "INVALID_VOTE_TYPE", "invalid vote type")
	ErrTooEarly          = newError(KindStateConflict, "TOO_EARLY", "voting period has not ended")
	ErrAlreadyResolved   = newError(KindStateConflict, "ALREADY_RESOLVED", "round already resolved")
	ErrClaimNotVotable   = newError(KindStateConflict, "CLAIM_NOT_VOTABLE", "claim is not pending or validating")
	ErrInvalidParams     = newError(KindInvalidInput, "INVALID_PARAMS", "invalid protocol parameters")
)

// Prediction market.
var (
	ErrMarketNotFound      = newError(KindNotFound, "MARKET_NOT_FOUND", "market not found")
	ErrMarketAlreadyExists = newError(KindStateConflict, "MARKET_ALREADY_EXISTS", "market already exists for claim")
	ErrInvalidLiquidity    = newError(KindInvalidInput, "INVALID_LIQUIDITY", "initial liquidity out of bounds")
	ErrInvalidDuration     = newError(KindInvalidInput, "INVALID_DURATION", "market duration out of bounds")
	ErrInvalidSide         = newError(KindInvalidInput, "INVALID_SIDE", "side must be YES or NO")
	ErrMarketClosed        = newError(KindStateConflict, "MARKET_CLOSED", "market is closed")
	ErrDegenerateMarket    = newError(KindStateConflict, "DEGENERATE_MARKET", "trade would empty a side of the market")
	ErrNotSettleable       = newError(KindStateConflict, "NOT_SETTLEABLE", "claim has not reached a terminal status")
	ErrOutcomeMismatch     = newError(KindInvalidInput, "OUTCOME_MISMATCH", "outcome does not match claim status")
	ErrAlreadySettled      = newError(KindStateConflict, "ALREADY_SETTLED", "market already settled")
	ErrNotSettled          = newError(KindStateConflict, "NOT_SETTLED", "market not settled")
	ErrNothingToRedeem     = newError(KindStateConflict, "NOTHING_TO_REDEEM", "no redeemable position")
)

// Durability layer.
var (
	ErrSubmissionFailed = newError(KindSubmissionFailed, "SUBMISSION_FAILED", "ledger submission was not confirmed")
	ErrContentNotFound  = newError(KindNotFound, "CONTENT_NOT_FOUND", "content not found")
	ErrForbidden        = newError(KindInvalidInput, "FORBIDDEN", "admin token required")
)
