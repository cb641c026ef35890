package identity

import (
	"errors"
	"time"
)

// Role is the authorization role of an account.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Method is a second-factor delivery method.
type Method string

const (
	MethodEmail         Method = "2FA_EMAIL"
	MethodAuthenticator Method = "2FA_AUTHENTICATOR"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m == MethodEmail || m == MethodAuthenticator
}

// ErrInconsistentTwoFactor is returned for enrollment states whose method and
// enabled flag disagree.
var ErrInconsistentTwoFactor = errors.New("inconsistent two-factor state")

// TwoFactor is the enrollment state of an account. Method and Enabled only
// ever change together.
type TwoFactor struct {
	Enabled bool
	Method  Method
	// Secret is the shared TOTP secret for the authenticator method.
	Secret string
}

// TwoFactorDisabled returns the state of an account without 2FA.
func TwoFactorDisabled() TwoFactor { return TwoFactor{} }

// TwoFactorEnabled builds an enabled state for method.
func TwoFactorEnabled(method Method, secret string) (TwoFactor, error) {
	tf := TwoFactor{Enabled: true, Method: method, Secret: secret}
	return tf, tf.Validate()
}

// Validate rejects states that would break the (method, enabled) pairing.
func (t TwoFactor) Validate() error {
	switch {
	case !t.Enabled && (t.Method != "" || t.Secret != ""):
		return ErrInconsistentTwoFactor
	case t.Enabled && !t.Method.Valid():
		return ErrInconsistentTwoFactor
	case t.Enabled && t.Method == MethodAuthenticator && t.Secret == "":
		return ErrInconsistentTwoFactor
	case t.Enabled && t.Method == MethodEmail && t.Secret != "":
		return ErrInconsistentTwoFactor
	}
	return nil
}

// Account is a registered wallet owner as seen by the authentication core.
type Account struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Role         Role
	Balance      int64
	TwoFactor    TwoFactor
	PasswordHash []byte
	CreatedAt    time.Time
}

// Registration is the sign-up request.
type Registration struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"firstName" validate:"required,min=2"`
	LastName  string `json:"lastName" validate:"required,min=2"`
}
