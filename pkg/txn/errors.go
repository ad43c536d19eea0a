package txn

import (
	"errors"
)

var (
	// ErrInvalidRequest indicates a caller error. It's never retried.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNonceConflict indicates the ledger rejected the nonce. It's recovered by reconciling the allocator.
	ErrNonceConflict = errors.New("nonce conflict")

	// ErrFeeCapExceeded indicates the required bid is above the configured cap.
	ErrFeeCapExceeded = errors.New("fee cap exceeded")

	// ErrUnderpriced indicates the ledger rejected the bid as too low.
	ErrUnderpriced = errors.New("transaction underpriced")

	// ErrBroadcastFailure indicates the transaction couldn't be sent after all retries.
	ErrBroadcastFailure = errors.New("broadcast failure")

	// ErrTimeout indicates the deadline elapsed before the transaction was included.
	ErrTimeout = errors.New("timeout")

	// ErrSignerUnavailable indicates the external signer couldn't sign. It's never retried.
	ErrSignerUnavailable = errors.New("signer unavailable")
)

// Reason is the reason code attached to a terminal record.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInvalidRequest    Reason = "invalid_request"
	ReasonNonceConflict     Reason = "nonce_conflict"
	ReasonNonceGap          Reason = "nonce_gap"
	ReasonFeeCapExceeded    Reason = "fee_cap_exceeded"
	ReasonBroadcastFailure  Reason = "broadcast_failure"
	ReasonTimeout           Reason = "timeout"
	ReasonSignerUnavailable Reason = "signer_unavailable"
	ReasonReverted          Reason = "reverted"
	ReasonDropped           Reason = "dropped"
	ReasonReplaced          Reason = "replaced"
	ReasonCancelled         Reason = "cancelled"
	ReasonInternal          Reason = "internal"
)

// ReasonFromError maps an error to the reason code of the taxonomy it belongs to.
func ReasonFromError(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrInvalidRequest):
		return ReasonInvalidRequest
	case errors.Is(err, ErrFeeCapExceeded):
		return ReasonFeeCapExceeded
	case errors.Is(err, ErrSignerUnavailable):
		return ReasonSignerUnavailable
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrNonceConflict):
		return ReasonNonceConflict
	case errors.Is(err, ErrBroadcastFailure), errors.Is(err, ErrUnderpriced):
		return ReasonBroadcastFailure
	default:
		return ReasonInternal
	}
}
