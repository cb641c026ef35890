// Package apperror defines the error kinds shared by the authentication and
// payment verification flows, together with their user-facing messages.
package apperror

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidSession covers unknown, revoked, expired and malformed session tokens.
	ErrInvalidSession = errors.New("invalid session")
	// ErrChallengeExpired is returned for unknown, consumed or expired temporary tokens.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrInvalidCode is returned when a submitted verification code does not match.
	ErrInvalidCode = errors.New("invalid code")
	// ErrVerificationUnavailable means an external collaborator could not be reached.
	// It is the only kind callers should retry automatically.
	ErrVerificationUnavailable = errors.New("verification unavailable")
	// ErrPaymentNotFound is returned for references unknown to the caller.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrEnrollmentConflict is returned when confirming without a pending enrollment.
	ErrEnrollmentConflict = errors.New("enrollment conflict")

	// ErrValidation wraps request validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrAccountExists is returned when registering an email that is already taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrDuplicateReference is returned when a payment reference was already submitted.
	ErrDuplicateReference = errors.New("duplicate payment reference")
)

type kind struct {
	err     error
	code    string
	status  int
	message string
}

var kinds = []kind{
	{ErrInvalidCredentials, "invalid_credentials", http.StatusUnauthorized, "Invalid email or password"},
	{ErrInvalidSession, "invalid_session", http.StatusUnauthorized, "Your session has ended, please sign in again"},
	{ErrChallengeExpired, "challenge_expired", http.StatusGone, "Verification expired, please sign in again"},
	{ErrInvalidCode, "invalid_code", http.StatusUnprocessableEntity, "Invalid verification code"},
	{ErrVerificationUnavailable, "verification_unavailable", http.StatusServiceUnavailable, "Verification is temporarily unavailable, try again shortly"},
	{ErrPaymentNotFound, "payment_not_found", http.StatusNotFound, "Payment not found"},
	{ErrEnrollmentConflict, "enrollment_conflict", http.StatusConflict, "No two-factor setup is in progress"},
	{ErrValidation, "validation_failed", http.StatusBadRequest, "Some fields are invalid"},
	{ErrAccountExists, "account_exists", http.StatusConflict, "An account with this email already exists"},
	{ErrDuplicateReference, "duplicate_reference", http.StatusConflict, "This payment reference was already used"},
}

const (
	unknownCode    = "internal"
	unknownMessage = "Something went wrong, please try again"
)

func lookup(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return kind{}, false
}

// Message returns a short human-readable message for err. Errors outside the
// taxonomy get a generic message so internals never reach the caller.
func Message(err error) string {
	if k, ok := lookup(err); ok {
		return k.message
	}
	return unknownMessage
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	if k, ok := lookup(err); ok {
		return k.code
	}
	return unknownCode
}

// Status returns the HTTP status that represents err.
func Status(err error) int {
	if k, ok := lookup(err); ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// FromCode maps a code produced by Code back to its sentinel. Unknown codes
// return nil.
func FromCode(code string) error {
	for _, k := range kinds {
		if k.code == code {
			return k.err
		}
	}
	return nil
}

// Retryable reports whether the caller may retry automatically.
func Retryable(err error) bool {
	return errors.Is(err, ErrVerificationUnavailable)
}
