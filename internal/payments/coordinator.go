// Package payments reconciles submitted payments against the execution
// service and finalizes them exactly once.
package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/payease/payease/internal/apperror"
	"github.com/payease/payease/internal/identity"
	"github.com/payease/payease/internal/ledger"
	"github.com/payease/payease/internal/logging"
	"github.com/payease/payease/internal/notification"
	"github.com/payease/payease/internal/validation"
)

const defaultCurrency = "XAF"

// Wallets debits settled payments.
type Wallets interface {
	Settle(ctx context.Context, ownerID, reference string, amount int64) (int64, error)
}

// Recipients resolves who a payment notice is addressed to.
type Recipients interface {
	FindByID(ctx context.Context, id string) (identity.Account, error)
}

// Config tunes the coordinator.
type Config struct {
	Timeout             time.Duration
	LowBalanceThreshold int64
}

// Coordinator owns the submitted -> verifying -> settled|failed machine.
type Coordinator struct {
	repo     Repository
	executor Executor
	wallets  Wallets
	notices  *notification.Dispatcher
	people   Recipients
	cfg      Config
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecipients adds the account email and first name to payment notices.
func WithRecipients(r Recipients) Option {
	return func(c *Coordinator) { c.people = r }
}

// NewCoordinator builds a payment coordinator.
func NewCoordinator(cfg Config, repo Repository, executor Executor, wallets Wallets, notices *notification.Dispatcher, logger *slog.Logger, opts ...Option) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &Coordinator{
		repo:     repo,
		executor: executor,
		wallets:  wallets,
		notices:  notices,
		cfg:      cfg,
		logger:   logging.Component(logger, "payments"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit records a payment and hands it to the execution service. It does not
// wait for settlement.
func (c *Coordinator) Submit(ctx context.Context, accountID string, d Details) (string, error) {
	d.Reference = strings.TrimSpace(d.Reference)
	d.Currency = strings.ToUpper(strings.TrimSpace(d.Currency))
	if err := validation.Struct(d); err != nil {
		return "", err
	}
	if d.Reference == "" {
		d.Reference = "PAY-" + uuid.NewString()
	}
	if d.Currency == "" {
		d.Currency = defaultCurrency
	}

	now := c.now().UTC()
	p := Payment{
		Reference:   d.Reference,
		AccountID:   accountID,
		Amount:      d.Amount,
		Currency:    d.Currency,
		Method:      d.Method,
		Description: d.Description,
		Status:      StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.repo.Create(ctx, p); err != nil {
		if errors.Is(err, apperror.ErrDuplicateReference) {
			return "", err
		}
		return "", unavailable("payment store", err)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	err := c.executor.Execute(execCtx, Request{
		Reference:   p.Reference,
		AccountID:   accountID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Method:      p.Method,
		Description: p.Description,
	})
	cancel()
	if err != nil {
		if derr := c.repo.Discard(context.WithoutCancel(ctx), p.Reference); derr != nil {
			c.logger.Error("discarding unexecuted payment", slog.String("reference", p.Reference), slog.Any("error", derr))
		}
		return "", unavailable("payment execution", err)
	}

	c.logger.Info("payment submitted",
		slog.String("reference", p.Reference),
		slog.String("account_id", accountID),
		slog.Int64("amount", p.Amount),
	)
	return p.Reference, nil
}

// Get returns the stored state of a payment without contacting the execution
// service.
func (c *Coordinator) Get(ctx context.Context, accountID, reference string) (Payment, error) {
	p, err := c.repo.Get(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Payment{}, apperror.ErrPaymentNotFound
		}
		return Payment{}, unavailable("payment store", err)
	}
	if p.AccountID != accountID {
		return Payment{}, apperror.ErrPaymentNotFound
	}
	return p, nil
}

// Verify reconciles reference with the execution service. Terminal payments
// return their stored outcome without any external call or side effect.
func (c *Coordinator) Verify(ctx context.Context, accountID, reference string) (Outcome, error) {
	p, err := c.Get(ctx, accountID, reference)
	if err != nil {
		return Outcome{}, err
	}
	if p.Status.Terminal() {
		return outcomeOf(p), nil
	}

	// the flight is detached from the caller that started it; every caller
	// still stops waiting when its own context ends
	ch := c.group.DoChan(reference, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		return c.reconcile(flightCtx, p)
	})
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		return res.Val.(Outcome), nil
	}
}

func (c *Coordinator) reconcile(ctx context.Context, p Payment) (Outcome, error) {
	if p.Status == StatusSubmitted {
		if err := c.repo.MarkVerifying(ctx, p.Reference); err != nil {
			return Outcome{}, unavailable("payment store", err)
		}
		p.Status = StatusVerifying
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	result, err := c.executor.Query(queryCtx, p.Reference)
	cancel()
	if err != nil {
		c.logger.Warn("payment execution unreachable", slog.String("reference", p.Reference), slog.Any("error", err))
		return Outcome{}, unavailable("payment execution", err)
	}

	res := Resolution{ResolvedAt: c.now().UTC()}
	switch result.State {
	case ResultPending:
		return outcomeOf(p), nil
	case ResultFailed:
		res.Status = StatusFailed
		res.FailureReason = result.Reason
	case ResultSettled:
		// the ledger posting is keyed by reference, so a racing verifier
		// cannot debit twice
		settleCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		balance, err := c.wallets.Settle(settleCtx, p.AccountID, p.Reference, result.Amount)
		cancel()
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			res.Status = StatusFailed
			res.FailureReason = "insufficient funds"
		case err != nil:
			return Outcome{}, unavailable("wallet", err)
		default:
			res.Status = StatusSettled
			res.SettledAmount = result.Amount
			res.BalanceAfter = &balance
		}
	default:
		return Outcome{}, unavailable("payment execution", fmt.Errorf("unexpected state %q", result.State))
	}

	resolved, won, err := c.repo.Resolve(ctx, p.Reference, res)
	if err != nil {
		return Outcome{}, unavailable("payment store", err)
	}
	if won {
		c.announce(ctx, resolved)
	}
	return outcomeOf(resolved), nil
}

// announce sends the notices of a terminal transition. Only the caller that
// performed the transition calls it.
func (c *Coordinator) announce(ctx context.Context, p Payment) {
	c.logger.Info("payment resolved",
		slog.String("reference", p.Reference),
		slog.String("status", string(p.Status)),
	)

	to := c.recipient(ctx, p.AccountID)
	payload := withFields(to, map[string]string{
		"reference":   p.Reference,
		"amount":      strconv.FormatInt(p.Amount, 10),
		"currency":    p.Currency,
		"method":      p.Method,
		"description": p.Description,
		"date":        p.ResolvedAt.Format(time.RFC3339),
	})

	if p.Status == StatusFailed {
		payload["reason"] = p.FailureReason
		c.notices.Send(ctx, notification.Message{AccountID: p.AccountID, Kind: notification.KindPaymentFailure, Payload: payload})
		return
	}

	payload["amount"] = strconv.FormatInt(p.SettledAmount, 10)
	if p.BalanceAfter != nil {
		payload["new_balance"] = strconv.FormatInt(*p.BalanceAfter, 10)
	}
	c.notices.Send(ctx, notification.Message{AccountID: p.AccountID, Kind: notification.KindPaymentSuccess, Payload: payload})

	if p.BalanceAfter != nil && *p.BalanceAfter < c.cfg.LowBalanceThreshold {
		c.notices.Send(ctx, notification.Message{
			AccountID: p.AccountID,
			Kind:      notification.KindLowBalance,
			Payload: withFields(to, map[string]string{
				"reference": p.Reference,
				"balance":   strconv.FormatInt(*p.BalanceAfter, 10),
				"threshold": strconv.FormatInt(c.cfg.LowBalanceThreshold, 10),
				"currency":  p.Currency,
			}),
		})
	}
}

func withFields(base, fields map[string]string) map[string]string {
	out := maps.Clone(base)
	maps.Copy(out, fields)
	return out
}

// recipient starts a notice payload with the account's address. A failed
// lookup only drops the address.
func (c *Coordinator) recipient(ctx context.Context, accountID string) map[string]string {
	payload := make(map[string]string, 2)
	if c.people == nil {
		return payload
	}
	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	account, err := c.people.FindByID(lookupCtx, accountID)
	if err != nil {
		c.logger.Warn("resolving notice recipient", slog.String("account_id", accountID), slog.Any("error", err))
		return payload
	}
	payload["email"] = account.Email
	payload["firstName"] = account.FirstName
	return payload
}

func unavailable(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", apperror.ErrVerificationUnavailable, what, err)
}
