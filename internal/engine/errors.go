package engine

import (
	"errors"
	"fmt"
)

// Error represents a failure surfaced by a Session Engine operation.
//
// Engine errors carry a stable code so the surrounding chat layer can
// pick a user-facing response without string matching:
//   - NotFound: catalog lookup failure, user can correct their input
//   - EmptyCart: checkout attempted with no active lines
//   - NoReferentAvailable: pronoun used with no prior item context
//   - Overloaded: dispatch pool saturated, caller retries later
//   - CheckoutFailed: storage failure during promotion after retry
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// SessionID identifies the affected session.
	SessionID string

	// Ref is the item reference that failed to resolve (NotFound only).
	Ref string

	// Err is the underlying cause, if any.
	Err error
}

// Code categorizes engine errors.
type Code string

const (
	// CodeNotFound indicates a catalog lookup failed.
	CodeNotFound Code = "NOT_FOUND"

	// CodeEmptyCart indicates checkout was attempted on an empty cart.
	CodeEmptyCart Code = "EMPTY_CART"

	// CodeNoReferent indicates pronoun resolution with no prior context.
	CodeNoReferent Code = "NO_REFERENT_AVAILABLE"

	// CodeOverloaded indicates the dispatch pool is saturated.
	CodeOverloaded Code = "OVERLOADED"

	// CodeCheckoutFailed indicates promotion failed after a retry.
	CodeCheckoutFailed Code = "CHECKOUT_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.SessionID != "" && e.Ref != "" {
		return fmt.Sprintf("%s: %s (session=%s, ref=%q)", e.Code, e.Message, e.SessionID, e.Ref)
	}
	if e.SessionID != "" {
		return fmt.Sprintf("%s: %s (session=%s)", e.Code, e.Message, e.SessionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error is a catalog lookup failure.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsEmptyCart returns true if the error is an empty-cart checkout failure.
func IsEmptyCart(err error) bool {
	return hasCode(err, CodeEmptyCart)
}

// IsNoReferent returns true if the error is a missing-referent failure.
func IsNoReferent(err error) bool {
	return hasCode(err, CodeNoReferent)
}

// IsOverloaded returns true if the error is a dispatch saturation failure.
func IsOverloaded(err error) bool {
	return hasCode(err, CodeOverloaded)
}

// IsCheckoutFailed returns true if the error is a failed promotion.
func IsCheckoutFailed(err error) bool {
	return hasCode(err, CodeCheckoutFailed)
}

func hasCode(err error, code Code) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// NewNotFoundError creates an Error for a failed catalog lookup.
func NewNotFoundError(sessionID, ref string, cause error) *Error {
	return &Error{
		Code:      CodeNotFound,
		Message:   "item not found in catalog",
		SessionID: sessionID,
		Ref:       ref,
		Err:       cause,
	}
}

// NewEmptyCartError creates an Error for a checkout on an empty cart.
func NewEmptyCartError(sessionID string, cause error) *Error {
	return &Error{
		Code:      CodeEmptyCart,
		Message:   "cart has no active lines",
		SessionID: sessionID,
		Err:       cause,
	}
}

// NewNoReferentError creates an Error for pronoun resolution without context.
func NewNoReferentError(sessionID string) *Error {
	return &Error{
		Code:      CodeNoReferent,
		Message:   "no prior item to resolve reference against",
		SessionID: sessionID,
	}
}

// NewOverloadedError creates an Error for dispatch pool saturation.
func NewOverloadedError(cause error) *Error {
	return &Error{
		Code:    CodeOverloaded,
		Message: "all dispatch slots busy, retry later",
		Err:     cause,
	}
}

// NewCheckoutFailedError creates an Error for a promotion that failed
// after its retry. The checkout id remains valid as an idempotency key,
// so the caller can safely retry without risking a duplicate order.
func NewCheckoutFailedError(sessionID, checkoutID string, cause error) *Error {
	return &Error{
		Code:      CodeCheckoutFailed,
		Message:   fmt.Sprintf("checkout %s did not complete", checkoutID),
		SessionID: sessionID,
		Err:       cause,
	}
}
