package vault

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the vault matches exactly one of
// these with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrStateConflict    = errors.New("state conflict")
	ErrSlippageExceeded = errors.New("slippage exceeded")
	ErrTransferFailure  = errors.New("transfer failure")
)

var (
	ErrZeroAmount           = fmt.Errorf("%w: zero amount", ErrInvalidInput)
	ErrZeroAddress          = fmt.Errorf("%w: zero address", ErrInvalidInput)
	ErrUnsupportedAsset     = fmt.Errorf("%w: unsupported asset", ErrInvalidInput)
	ErrZeroShares           = fmt.Errorf("%w: deposit mints zero shares", ErrInvalidInput)
	ErrZeroAssets           = fmt.Errorf("%w: shares redeem for zero assets", ErrInvalidInput)
	ErrRequestNotFound      = fmt.Errorf("%w: withdrawal request not found", ErrInvalidInput)
	ErrFeeTooHigh           = fmt.Errorf("%w: fee exceeds 500 bps", ErrInvalidInput)
	ErrFeeRecipientRequired = fmt.Errorf("%w: deposit and withdrawal fees need a fee recipient", ErrInvalidInput)
	ErrTimelockTooLong      = fmt.Errorf("%w: timelock exceeds 7 days", ErrInvalidInput)
	ErrUnknownAdapter       = fmt.Errorf("%w: unknown exchange adapter", ErrInvalidInput)
	ErrAmountAboveCap       = fmt.Errorf("%w: amount above idle conversion cap", ErrInvalidInput)
	ErrInsufficientIdle     = fmt.Errorf("%w: amount above idle balance", ErrInvalidInput)
	ErrMinOutBelowTolerance = fmt.Errorf("%w: minimum output below slippage tolerance", ErrInvalidInput)
	ErrInvalidPolicy        = fmt.Errorf("%w: invalid idle conversion policy", ErrInvalidInput)
	ErrLastAdmin            = fmt.Errorf("%w: cannot revoke the last admin", ErrInvalidInput)

	ErrNotRequestOwner   = fmt.Errorf("%w: caller is not the request owner", ErrUnauthorized)
	ErrMissingCapability = fmt.Errorf("%w: caller lacks capability", ErrUnauthorized)

	ErrRequestFinalized      = fmt.Errorf("%w: withdrawal request already finalized", ErrStateConflict)
	ErrTimelockActive        = fmt.Errorf("%w: withdrawal timelock not elapsed", ErrStateConflict)
	ErrHalted                = fmt.Errorf("%w: vault is halted", ErrStateConflict)
	ErrNotHalted             = fmt.Errorf("%w: vault is not halted", ErrStateConflict)
	ErrReentrantCall         = fmt.Errorf("%w: reentrant call", ErrStateConflict)
	ErrIntervalNotElapsed    = fmt.Errorf("%w: idle conversion interval not elapsed", ErrStateConflict)
	ErrReserveExceedsCustody = fmt.Errorf("%w: pending reserve exceeds custody", ErrStateConflict)
	ErrQuoteUnavailable      = fmt.Errorf("%w: exchange adapter cannot quote", ErrStateConflict)

	ErrOutputBelowMinimum = fmt.Errorf("%w: output below minimum", ErrSlippageExceeded)

	ErrPullFailed       = fmt.Errorf("%w: could not pull deposit", ErrTransferFailure)
	ErrPayoutFailed     = fmt.Errorf("%w: could not pay out", ErrTransferFailure)
	ErrSwapFailed       = fmt.Errorf("%w: exchange adapter failed", ErrTransferFailure)
	ErrShareLedger      = fmt.Errorf("%w: share ledger rejected mint or burn", ErrTransferFailure)
	ErrBalanceDecreased = fmt.Errorf("%w: output balance decreased during swap", ErrTransferFailure)
	ErrJournal          = fmt.Errorf("%w: journal rejected commit", ErrTransferFailure)
)

// Kind classifies a failure for logs, metrics and transport mapping.
type Kind string

const (
	KindNone             Kind = ""
	KindInvalidInput     Kind = "invalid_input"
	KindUnauthorized     Kind = "unauthorized"
	KindStateConflict    Kind = "state_conflict"
	KindSlippageExceeded Kind = "slippage_exceeded"
	KindTransferFailure  Kind = "transfer_failure"
	KindInternal         Kind = "internal"
)

// KindOf returns the kind of err, KindInternal for errors from outside the
// taxonomy and KindNone for nil.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrStateConflict):
		return KindStateConflict
	case errors.Is(err, ErrSlippageExceeded):
		return KindSlippageExceeded
	case errors.Is(err, ErrTransferFailure):
		return KindTransferFailure
	default:
		return KindInternal
	}
}

// wrap attaches cause to a taxonomy sentinel so both match errors.Is.
func wrap(sentinel, cause error) error {
	return fmt.Errorf("%w: %w", sentinel, cause)
}
