package domain

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an error for the transport layer. Every error raised by
// the core carries exactly one kind.
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindBadRequest         Kind = "bad_request"
	KindConflict           Kind = "conflict"
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindInsufficientShares Kind = "insufficient_shares"
	KindSystem             Kind = "system_error"
)

// Error is a typed business error. Sentinels below are compared with
// errors.Is; details are attached by wrapping with fmt.Errorf("%w: ...").
type Error struct {
	Kind      Kind
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// Sentinel errors for domain-level error handling.
// The handler layer maps their kinds to HTTP status codes.
var (
	ErrAccountAlreadyExists = newError(KindConflict, "account_already_exists")
	ErrAccountNotFound      = newError(KindNotFound, "account_not_found")

	ErrOrderNotFound       = newError(KindNotFound, "order_not_found")
	ErrOrderNotCancellable = newError(KindConflict, "order_not_cancellable")
	ErrOrderNotModifiable  = newError(KindBadRequest, "order_not_modifiable")
	ErrOrderNotOwned       = newError(KindForbidden, "order_not_owned")
	ErrOrderNotActive      = newError(KindConflict, "order_not_active")

	ErrInvalidQuantity = newError(KindBadRequest, "invalid_quantity")
	ErrInvalidPrice    = newError(KindBadRequest, "invalid_price")

	ErrInsufficientFunds  = newError(KindInsufficientFunds, "insufficient_funds")
	ErrInsufficientShares = newError(KindInsufficientShares, "insufficient_shares")

	ErrStockNotFound      = newError(KindNotFound, "stock_not_found")
	ErrStockAlreadyExists = newError(KindConflict, "stock_already_exists")
	ErrStockNotTradable   = newError(KindConflict, "stock_not_tradable")
	ErrStockNotPending    = newError(KindConflict, "stock_not_pending")
	ErrStockNotListed     = newError(KindConflict, "stock_not_listed")

	ErrPhaseDisallows         = newError(KindConflict, "phase_disallows_operation")
	ErrInvalidTransition      = newError(KindConflict, "invalid_phase_transition")
	ErrTransitionInProgress   = newError(KindConflict, "session_transition_in_progress")
	ErrSessionAutoMode        = newError(KindConflict, "session_in_auto_mode")
	ErrSessionManualMode      = newError(KindConflict, "session_in_manual_mode")
	ErrCapabilityNotPermitted = newError(KindForbidden, "capability_not_permitted")

	ErrNothingToUndo = newError(KindNotFound, "nothing_to_undo")
	ErrUndoStale     = &Error{Kind: KindConflict, Code: "undo_stale", Retryable: true}

	ErrDistributionExceedsIssued = newError(KindBadRequest, "distribution_exceeds_issued")
	ErrAllocationNotFound        = newError(KindNotFound, "allocation_not_found")

	ErrWebhookNotFound = newError(KindNotFound, "webhook_not_found")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SystemError wraps an unexpected infrastructure failure. The wrapped error
// records a stack trace that StackTrace can render for logs; the message
// returned to callers stays generic.
func SystemError(err error) error {
	return &Error{Kind: KindSystem, Code: "internal_error", Err: pkgerrors.WithStack(err)}
}

// KindOf reports the kind of err. Errors that are neither *Error nor
// *ValidationError are treated as system errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return KindValidation
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindSystem
}

// CodeOf returns the machine-readable code of the outermost *Error in err.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	if KindOf(err) == KindValidation {
		return string(KindValidation)
	}
	return "internal_error"
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Retryable
}

// StackTrace renders err with the stack recorded by SystemError, if any.
func StackTrace(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Err != nil {
		return fmt.Sprintf("%+v", de.Err)
	}
	return fmt.Sprintf("%+v", err)
}
