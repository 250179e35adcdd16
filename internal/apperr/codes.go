// Package apperr provides machine-readable error codes shared by the engine
// and the HTTP surface.
package apperr

import "net/http"

// Code is a stable, machine-readable error code. Clients and audits key off it.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Input errors
	CodeValidation Code = "VALIDATION_ERROR"

	// Ledger errors
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// Replay protection
	CodeDuplicateNonce      Code = "DUPLICATE_NONCE"
	CodeDuplicateCommitment Code = "DUPLICATE_COMMITMENT"
	CodeDuplicateDeposit    Code = "DUPLICATE_DEPOSIT"

	// Commitment lifecycle
	CodeCommitmentExpired Code = "COMMITMENT_EXPIRED"
	CodeFairnessViolation Code = "FAIRNESS_VIOLATION"
	CodeNotFound          Code = "NOT_FOUND"

	// Gates
	CodeCapabilityLocked Code = "CAPABILITY_LOCKED"
	CodeReferralLimit    Code = "REFERRAL_LIMIT"
	CodeOperationPaused  Code = "OPERATION_PAUSED"

	// Jackpot
	CodeRoundNotOpen  Code = "ROUND_NOT_OPEN"
	CodeRoundCapacity Code = "ROUND_CAPACITY_EXCEEDED"

	// Internal retry signal, never surfaced to callers
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"

	// Generic failures
	CodeBusy     Code = "BUSY"
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeInsufficientBalance:
		return http.StatusBadRequest
	case CodeDuplicateNonce, CodeDuplicateCommitment, CodeDuplicateDeposit,
		CodeRoundNotOpen, CodeRoundCapacity, CodeReferralLimit:
		return http.StatusConflict
	case CodeCommitmentExpired:
		return http.StatusGone
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCapabilityLocked:
		return http.StatusForbidden
	case CodeOperationPaused, CodeBusy, CodeConcurrencyConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
