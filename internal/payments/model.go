package payments

import (
	"errors"
	"time"
)

// Status is the verification state of a payment.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusVerifying Status = "verifying"
	StatusSettled   Status = "settled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// ErrNotFound is returned by repositories for unknown references.
var ErrNotFound = errors.New("payment not found")

// Details is what a caller submits.
type Details struct {
	Reference   string `json:"reference" validate:"omitempty,max=64"`
	Amount      int64  `json:"amount" validate:"gt=0"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	Method      string `json:"method" validate:"required,oneof=wallet card mobile_money"`
	Description string `json:"description" validate:"max=140"`
}

// Payment is a verification request keyed by its reference.
type Payment struct {
	Reference     string     `json:"reference"`
	AccountID     string     `json:"account_id"`
	Amount        int64      `json:"amount"`
	Currency      string     `json:"currency"`
	Method        string     `json:"method"`
	Description   string     `json:"description,omitempty"`
	Status        Status     `json:"status"`
	SettledAmount int64      `json:"settled_amount,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	BalanceAfter  *int64     `json:"balance_after,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

// Resolution is the terminal state written by the winning verifier.
type Resolution struct {
	Status        Status
	SettledAmount int64
	FailureReason string
	BalanceAfter  *int64
	ResolvedAt    time.Time
}

// Outcome is the answer to a Verify call.
type Outcome struct {
	Reference  string     `json:"reference"`
	Status     Status     `json:"status"`
	Amount     int64      `json:"amount"`
	Currency   string     `json:"currency"`
	Reason     string     `json:"reason,omitempty"`
	Balance    *int64     `json:"balance,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func outcomeOf(p Payment) Outcome {
	o := Outcome{
		Reference:  p.Reference,
		Status:     p.Status,
		Amount:     p.Amount,
		Currency:   p.Currency,
		Reason:     p.FailureReason,
		Balance:    p.BalanceAfter,
		ResolvedAt: p.ResolvedAt,
	}
	if p.Status == StatusSettled {
		o.Amount = p.SettledAmount
	}
	return o
}
