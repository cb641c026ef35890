package twofactor

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/payease/payease/internal/identity"
)

const codeLength = 6

// Verifier checks a submitted code against the enrolled secret of a method.
// For the email method the secret is the digest of the dispatched code.
type Verifier interface {
	Check(method identity.Method, secret, code string) bool
}

// CodeVerifier checks TOTP codes and emailed one-time codes.
type CodeVerifier struct {
	now func() time.Time
}

// NewCodeVerifier returns a verifier using the wall clock.
func NewCodeVerifier() *CodeVerifier {
	return &CodeVerifier{now: time.Now}
}

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Check reports whether code is valid for method and secret.
func (v *CodeVerifier) Check(method identity.Method, secret, code string) bool {
	if !wellFormed(code) || secret == "" {
		return false
	}
	switch method {
	case identity.MethodAuthenticator:
		ok, err := totp.ValidateCustom(code, secret, v.now().UTC(), totpOpts)
		return err == nil && ok
	case identity.MethodEmail:
		return subtle.ConstantTimeCompare([]byte(digest(code)), []byte(secret)) == 1
	default:
		return false
	}
}

func wellFormed(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func digest(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// newCode returns a random six digit one-time code.
func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func newTempToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
