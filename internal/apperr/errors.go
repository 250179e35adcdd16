package apperr

import (
	"errors"
	"fmt"
)

// Error is a domain error carrying a Code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two domain errors by code so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// Sentinels for errors.Is checks. Messages are empty so any error with the
// same code matches.
var (
	ErrValidation          = &Error{Code: CodeValidation}
	ErrInsufficientBalance = &Error{Code: CodeInsufficientBalance}
	ErrDuplicateNonce      = &Error{Code: CodeDuplicateNonce}
	ErrDuplicateDeposit    = &Error{Code: CodeDuplicateDeposit}
	ErrCommitmentExpired   = &Error{Code: CodeCommitmentExpired}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrCapabilityLocked    = &Error{Code: CodeCapabilityLocked}
	ErrRoundNotOpen        = &Error{Code: CodeRoundNotOpen}
	ErrRoundCapacity       = &Error{Code: CodeRoundCapacity}
	ErrConcurrencyConflict = &Error{Code: CodeConcurrencyConflict}
	ErrPaused              = &Error{Code: CodeOperationPaused}
)

// CodeOf extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if the error has the specified code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Public returns the code and a client-safe message. Unknown errors collapse
// to INTERNAL so storage details never leak.
func Public(err error) (Code, string) {
	var e *Error
	if errors.As(err, &e) {
		if e.Code == CodeConcurrencyConflict {
			return CodeBusy, "please retry"
		}
		if e.Code == CodeInternal || e.Code == CodeUnknown {
			return CodeInternal, "an unexpected error occurred"
		}
		return e.Code, e.Message
	}
	return CodeInternal, "an unexpected error occurred"
}
